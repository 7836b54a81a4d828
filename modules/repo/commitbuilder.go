// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/objstore"
)

// CommitBuilder stages a new or rewritten commit. Write() persists the commit, indexes it,
// and — when rewriting — records the rewrite mapping so descendants get
// rebased by the next RebaseDescendants pass.
type CommitBuilder struct {
	mut       *MutableRepo
	data      objstore.CommitData
	signer    objstore.Signer
	rewriteOf *objstore.Commit
}

// NewCommit starts a builder for a brand-new commit.
func (m *MutableRepo) NewCommit(parents []ids.CommitId, tree merge.Merge[ids.TreeId]) *CommitBuilder {
	return &CommitBuilder{
		mut: m,
		data: objstore.CommitData{
			Parents:  append([]ids.CommitId(nil), parents...),
			RootTree: tree,
		},
	}
}

// RewriteCommit starts a builder seeded from old; Write() will produce a
// successor whose predecessors list old and whose change id is old's
// unless the caller sets a new one.
func (m *MutableRepo) RewriteCommit(old *objstore.Commit) *CommitBuilder {
	return &CommitBuilder{
		mut: m,
		data: objstore.CommitData{
			Parents:     append([]ids.CommitId(nil), old.Parents...),
			RootTree:    old.RootTree,
			ChangeId:    old.ChangeId,
			Author:      old.Author,
			Committer:   old.Committer,
			Description: old.Description,
		},
		rewriteOf: old,
	}
}

func (b *CommitBuilder) SetParents(parents []ids.CommitId) *CommitBuilder {
	b.data.Parents = append([]ids.CommitId(nil), parents...)
	return b
}

func (b *CommitBuilder) SetTree(tree merge.Merge[ids.TreeId]) *CommitBuilder {
	b.data.RootTree = tree
	return b
}

func (b *CommitBuilder) SetDescription(description string) *CommitBuilder {
	b.data.Description = description
	return b
}

func (b *CommitBuilder) SetAuthor(sig objstore.Signature) *CommitBuilder {
	b.data.Author = sig
	return b
}

func (b *CommitBuilder) SetCommitter(sig objstore.Signature) *CommitBuilder {
	b.data.Committer = sig
	return b
}

// SetChangeId overrides the change id; on a rewrite this breaks the
// predecessor's change-id chain deliberately.
func (b *CommitBuilder) SetChangeId(id ids.ChangeId) *CommitBuilder {
	b.data.ChangeId = id
	return b
}

func (b *CommitBuilder) SetSigner(s objstore.Signer) *CommitBuilder {
	b.signer = s
	return b
}

// Write persists the staged commit and records its effects on the
// transaction. Nothing is written if the rewritten commit is immutable.
func (b *CommitBuilder) Write(ctx context.Context) (*objstore.Commit, error) {
	m := b.mut
	if b.rewriteOf != nil {
		if err := m.checkMutable(b.rewriteOf.Hash); err != nil {
			return nil, err
		}
		b.data.Predecessors = []ids.CommitId{b.rewriteOf.Hash}
		if b.data.ChangeId.Equal(ids.ChangeId{}) {
			b.data.ChangeId = b.rewriteOf.ChangeId
		}
	} else if b.data.ChangeId.Equal(ids.ChangeId{}) {
		b.data.ChangeId = m.newChangeId(&b.data)
	}
	if b.data.Committer == (objstore.Signature{}) {
		b.data.Committer = b.data.Author
	}
	commit, err := m.backend.WriteCommit(ctx, &b.data, b.signer)
	if err != nil {
		return nil, err
	}
	if err := m.indexCommitWithAncestors(ctx, commit.Hash); err != nil {
		return nil, err
	}
	if len(b.data.Predecessors) > 0 {
		m.predecessors[commit.Hash] = append([]ids.CommitId(nil), b.data.Predecessors...)
	}
	if b.rewriteOf != nil {
		m.recordRewrite(b.rewriteOf.Hash, commit.Hash)
	} else {
		m.view.AddHead(m.index, commit.Hash)
	}
	return commit, nil
}
