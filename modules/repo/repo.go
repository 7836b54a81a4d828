// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"github.com/latticevcs/core/modules/commitindex"
	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/objstore"
	"github.com/latticevcs/core/modules/opstore"
	"github.com/latticevcs/core/modules/pathindex"
	"github.com/latticevcs/core/modules/view"
)

// ReadonlyRepo is an immutable snapshot of the repository at one
// operation: its view, commit index and stores. It is cheap to share
// across threads; all mutation goes through a Transaction.
type ReadonlyRepo struct {
	loader  *Loader
	backend objstore.Backend
	opStore *opstore.Store
	op      *opstore.Operation
	view    *view.View

	index        *commitindex.Index
	indexSegment *commitindex.Segment

	pathEnabled bool
	pathIdx     *pathindex.Index
	pathSegment *pathindex.Segment
	pathStart   uint32
}

func (r *ReadonlyRepo) Backend() objstore.Backend     { return r.backend }
func (r *ReadonlyRepo) OpStore() *opstore.Store       { return r.opStore }
func (r *ReadonlyRepo) Operation() *opstore.Operation { return r.op }
func (r *ReadonlyRepo) View() *view.View              { return r.view }
func (r *ReadonlyRepo) Index() *commitindex.Index     { return r.index }

// PathIndex returns the changed-path index snapshot, or nil when the
// repository was loaded with the feature disabled.
func (r *ReadonlyRepo) PathIndex() *pathindex.Index { return r.pathIdx }

// DanglingCommitHeads returns index heads (commits that are nobody's
// parent within the index) that are not visible in the current view and
// not ancestors of anything visible. They are what an object-store sweep
// would treat as unreferenced once the operations citing them are gone.
func (r *ReadonlyRepo) DanglingCommitHeads() []ids.CommitId {
	visible := map[string]bool{}
	queue := append([]ids.CommitId(nil), r.view.Heads...)
	for _, t := range r.view.WorkspaceWC {
		for _, a := range t.Adds {
			if a.Present {
				queue = append(queue, a.Id)
			}
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id.IsZero() || visible[id.String()] {
			continue
		}
		visible[id.String()] = true
		if parents, ok := r.index.Parents(id); ok {
			queue = append(queue, parents...)
		}
	}
	var dangling []ids.CommitId
	for _, h := range r.index.AllHeadsForGC() {
		if !visible[h.String()] {
			dangling = append(dangling, h)
		}
	}
	return dangling
}

// Resolver returns an operation-reference resolver anchored at this
// snapshot's operation as '@'.
func (r *ReadonlyRepo) Resolver() *opstore.Resolver {
	return opstore.NewResolver(r.opStore, r.op.Id)
}

// StartTransaction clones the view and wraps the index for private
// mutation.
func (r *ReadonlyRepo) StartTransaction(description string) *Transaction {
	return &Transaction{
		base:        r,
		mut:         newMutableRepo(r),
		description: description,
	}
}
