// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"os"
	"os/user"
	"time"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/mergedtree"
	"github.com/latticevcs/core/modules/opstore"
	"github.com/latticevcs/core/modules/pathindex"
	"github.com/latticevcs/core/modules/vcslog"
)

// opTimestampEnv is the debug-only operation-timestamp override, the one
// environment variable the core consults, used for
// reproducible test outputs. Value is RFC 3339.
const opTimestampEnv = "LATTICE_OP_TIMESTAMP"

func opTimestamp() time.Time {
	if v := os.Getenv(opTimestampEnv); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// Transaction buffers mutations against one parent operation and, on
// Commit, runs the publish protocol. Dropping a
// transaction without committing requires no cleanup: nothing was linked.
type Transaction struct {
	base        *ReadonlyRepo
	mut         *MutableRepo
	description string

	// extraParents widens the new operation's parent list beyond the
	// base operation; set when merging concurrent operation heads.
	extraParents []ids.OperationId
}

// MutableRepo exposes the transaction's private mutation buffer.
func (tx *Transaction) MutableRepo() *MutableRepo { return tx.mut }

// Commit publishes the transaction: segments, view and operation are
// written parents-first and the head-op pointer is advanced last.
func (tx *Transaction) Commit(ctx context.Context) (*ReadonlyRepo, error) {
	l := tx.base.loader
	m := tx.mut

	if err := m.extendPathIndex(ctx); err != nil {
		return nil, err
	}

	seg, err := m.index.Save(l.segStore)
	if err != nil {
		return nil, err
	}
	var pathSeg *pathindex.Segment
	if m.pathIdx != nil {
		if pathSeg, err = m.pathIdx.Save(l.pathStore); err != nil {
			return nil, err
		}
	}

	viewId, err := l.opStore.SaveView(m.view.Encode())
	if err != nil {
		return nil, err
	}

	parents := []ids.OperationId{tx.base.op.Id}
	parents = append(parents, tx.extraParents...)
	op := &opstore.Operation{
		Parents:            parents,
		ViewId:             viewId,
		Description:        tx.description,
		Tags:               operationTags(),
		Timestamp:          opTimestamp(),
		CommitPredecessors: m.predecessors,
	}
	opId, err := l.opStore.SaveOperation(op)
	if err != nil {
		return nil, err
	}

	link := &opLink{ChangedPathStart: tx.base.pathStart}
	if seg != nil {
		link.CommitSegmentId = seg.Id
	}
	if pathSeg != nil {
		link.ChangedPathSegments = []string{pathSeg.Id}
	}
	if err := l.writeOpLink(opId, link); err != nil {
		return nil, err
	}

	oldHeads := append([]ids.OperationId{tx.base.op.Id}, tx.extraParents...)
	if err := l.advanceOpHead(oldHeads, opId); err != nil {
		return nil, err
	}
	vcslog.Operation(opId.String()).WithField("view_id", viewId.String()).Debug("published operation")

	return l.materialize(op, m.view, seg, pathSeg, tx.base.pathStart, m.pathIdx != nil)
}

// extendPathIndex records each newly indexed commit's changed paths,
// diffing the no-resolve merge of its parents' trees against its own
// tree.
func (m *MutableRepo) extendPathIndex(ctx context.Context) error {
	if m.pathIdx == nil {
		return nil
	}
	for _, id := range m.indexedCommits {
		if m.pathIdx.HasId(id) {
			continue
		}
		c, err := m.backend.GetCommit(ctx, id)
		if err != nil {
			return err
		}
		parentTree, err := m.mergedParentTree(ctx, c.Parents)
		if err != nil {
			return err
		}
		paths, err := pathindex.ChangedPaths(ctx, parentTree, mergedtree.New(m.backend, c.RootTree))
		if err != nil {
			return err
		}
		m.pathIdx.Add(id, paths)
	}
	return nil
}

func operationTags() map[string]string {
	tags := map[string]string{}
	if host, err := os.Hostname(); err == nil {
		tags["hostname"] = host
	}
	if u, err := user.Current(); err == nil {
		tags["username"] = u.Username
	}
	return tags
}
