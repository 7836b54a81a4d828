// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package view implements RefTarget/RemoteRef, their 3-way
// merge rules, and the View aggregate (heads, workspace wc pointers,
// bookmarks, tags, git refs) that a transaction reads and writes.
package view

import (
	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
)

// OptionCommitId is Option<CommitId>: Present false means "no ref",
// matching modules/mergedtree's optValue shape for the same reason:
// absence needs to participate in merge cancellation like any other
// term.
type OptionCommitId struct {
	Present bool
	Id      ids.CommitId
}

func Absent() OptionCommitId                      { return OptionCommitId{} }
func Present(id ids.CommitId) OptionCommitId       { return OptionCommitId{Present: true, Id: id} }

func optionEqual(a, b OptionCommitId) bool {
	if a.Present != b.Present {
		return false
	}
	return !a.Present || a.Id.Equal(b.Id)
}

// RefTarget is Merge<Option<CommitId>>: the value a local
// bookmark, tag, git ref, or per-workspace wc-commit pointer holds.
type RefTarget = merge.Merge[OptionCommitId]

func AbsentTarget() RefTarget       { return merge.Resolved(Absent()) }
func ResolvedTarget(id ids.CommitId) RefTarget { return merge.Resolved(Present(id)) }

// MergeRefTargets 3-way merges self and other against base, applying the
// "same simplification rules as for trees": build the
// self-base+other sequence, then cancel equal add/remove pairs and
// collapse equal adds.
func MergeRefTargets(self, base, other RefTarget) RefTarget {
	s := merge.Simplify(merge.Flatten3(self, base, other), optionEqual)
	if v, ok := merge.TrivialResolve(s, optionEqual); ok {
		return merge.Resolved(v)
	}
	return s
}

// RemoteRefState distinguishes a remote bookmark/tag that has never
// been fetched before (New) from one already being tracked (Tracked).
type RemoteRefState int

const (
	StateNew RemoteRefState = iota
	StateTracked
)

// RemoteRef is a remote bookmark or remote tag: a RefTarget plus tracking
// state.
type RemoteRef struct {
	Target RefTarget
	State  RemoteRefState
}

// MergeRemoteRefState merges tracking state: any side Tracked wins.
// Since Tracked dominates unconditionally, the base value never changes
// the outcome.
func MergeRemoteRefState(self, other RemoteRefState) RemoteRefState {
	if self == StateTracked || other == StateTracked {
		return StateTracked
	}
	return StateNew
}

// MergeRemoteRefs 3-way merges both the target and the tracking state.
func MergeRemoteRefs(self, base, other RemoteRef) RemoteRef {
	return RemoteRef{
		Target: MergeRefTargets(self.Target, base.Target, other.Target),
		State:  MergeRemoteRefState(self.State, other.State),
	}
}
