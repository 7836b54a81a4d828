// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package opstore

import (
	"github.com/latticevcs/core/modules/ids"
)

// WalkAncestors returns the topological ancestors of heads (heads
// included), parents before children is not guaranteed; callers that need
// a specific order should sort by the returned depth map or rely on the
// DAG structure directly. Ordering here is "each operation appears after
// every operation that can reach it has been visited" is NOT promised;
// what IS promised is completeness: every operation reachable from heads
// is present exactly once.
func (s *Store) WalkAncestors(heads []ids.OperationId) ([]*Operation, error) {
	seen := map[string]bool{}
	var out []*Operation
	queue := append([]ids.OperationId{}, heads...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id.Equal(ids.ZeroOperationId) || seen[id.String()] {
			continue
		}
		seen[id.String()] = true
		op, err := s.LoadOperation(id)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
		queue = append(queue, op.Parents...)
	}
	return out, nil
}

// WalkAncestorsRange returns ancestors of heads excluding ancestors of
// roots.
func (s *Store) WalkAncestorsRange(heads, roots []ids.OperationId) ([]*Operation, error) {
	excluded, err := s.WalkAncestors(roots)
	if err != nil {
		return nil, err
	}
	excludeSet := map[string]bool{}
	for _, op := range excluded {
		excludeSet[op.Id.String()] = true
	}
	all, err := s.WalkAncestors(heads)
	if err != nil {
		return nil, err
	}
	out := make([]*Operation, 0, len(all))
	for _, op := range all {
		if !excludeSet[op.Id.String()] {
			out = append(out, op)
		}
	}
	return out, nil
}

// ReparentRange rewrites each operation in oldHeads..=newHeads to replace
// any parent that equals the old range's boundary (any id in oldBoundary)
// with newBase, preserving view ids; used for undo and `op restore`
// semantics. It returns the new leaf operation ids in the
// same relative order as oldHeads, and persists the rewritten chain.
func (s *Store) ReparentRange(oldBoundary []ids.OperationId, oldHeads []ids.OperationId, newBase ids.OperationId) ([]ids.OperationId, error) {
	boundary := map[string]bool{}
	for _, id := range oldBoundary {
		boundary[id.String()] = true
	}

	ops, err := s.WalkAncestorsRange(oldHeads, oldBoundary)
	if err != nil {
		return nil, err
	}
	// Process in an order where every parent is rewritten before its
	// children are reached; WalkAncestors is head-to-root, so reverse it.
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}

	rewritten := map[string]ids.OperationId{}
	for _, op := range ops {
		newParents := make([]ids.OperationId, len(op.Parents))
		for i, p := range op.Parents {
			if boundary[p.String()] {
				newParents[i] = newBase
				continue
			}
			if np, ok := rewritten[p.String()]; ok {
				newParents[i] = np
				continue
			}
			newParents[i] = p
		}
		newOp := &Operation{
			Parents:            newParents,
			ViewId:             op.ViewId,
			Description:        op.Description,
			Tags:               op.Tags,
			Timestamp:          op.Timestamp,
			CommitPredecessors: op.CommitPredecessors,
		}
		newId, err := s.SaveOperation(newOp)
		if err != nil {
			return nil, err
		}
		rewritten[op.Id.String()] = newId
	}

	out := make([]ids.OperationId, len(oldHeads))
	for i, h := range oldHeads {
		if boundary[h.String()] {
			out[i] = newBase
			continue
		}
		nh, ok := rewritten[h.String()]
		if !ok {
			return nil, &ErrResolution{Reason: "reparent_range: head " + h.String() + " not in old range"}
		}
		out[i] = nh
	}
	return out, nil
}

// PredecessorEdge is one step of walk_predecessors: commitId was produced
// by rewriting predecessorIds, as recorded by operation opID.
type PredecessorEdge struct {
	CommitId       ids.CommitId
	PredecessorIds []ids.CommitId
	OperationId    ids.OperationId
}

// CommitPredecessorsFallback resolves a legacy commit's predecessors when
// no operation in the log recorded them. The operation-level record is
// always consulted first; this fallback reads the commit object's own
// predecessors field for operations that predate the record.
type CommitPredecessorsFallback func(commitId ids.CommitId) ([]ids.CommitId, bool)

// WalkPredecessors scans backward through heads' ancestor operations for
// edges touching any commit in commitIds, preferring
// operation.CommitPredecessors and falling back to fallback for
// operations that recorded none for a given commit.
func (s *Store) WalkPredecessors(heads []ids.OperationId, commitIds []ids.CommitId, fallback CommitPredecessorsFallback) ([]PredecessorEdge, error) {
	want := map[string]bool{}
	for _, c := range commitIds {
		want[c.String()] = true
	}
	ops, err := s.WalkAncestors(heads)
	if err != nil {
		return nil, err
	}
	var out []PredecessorEdge
	for _, op := range ops {
		for commitId := range want {
			c := ids.NewCommitId(commitId)
			if preds, ok := op.CommitPredecessors[c]; ok {
				out = append(out, PredecessorEdge{CommitId: c, PredecessorIds: preds, OperationId: op.Id})
				continue
			}
			if fallback != nil {
				if preds, ok := fallback(c); ok {
					out = append(out, PredecessorEdge{CommitId: c, PredecessorIds: preds, OperationId: op.Id})
				}
			}
		}
	}
	return out, nil
}
