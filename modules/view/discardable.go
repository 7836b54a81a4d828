// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package view

// DiscardableParams captures the facts the workspace-commit abandonment
// rule needs; callers (modules/repo, which has access to the
// commit, its tree, and the index) compute these rather than this
// package reaching into objstore/mergedtree itself.
type DiscardableParams struct {
	HasDescription        bool
	SingleParent          bool
	TreeEqualsMergedParent bool
	ReferencedByBookmark   bool
	IsWCOfAnotherWorkspace bool
	IsVisibleHeadWithDescendants bool
}

// IsDiscardable reports whether a commit may be silently abandoned when
// the workspace pointer moves off it: no description; only one parent or
// a tree equal to the merged parent-tree; not referenced by any local
// bookmark; not the wc of another workspace; not a visible head with
// descendants.
func IsDiscardable(p DiscardableParams) bool {
	if p.HasDescription {
		return false
	}
	if !p.SingleParent && !p.TreeEqualsMergedParent {
		return false
	}
	if p.ReferencedByBookmark {
		return false
	}
	if p.IsWCOfAnotherWorkspace {
		return false
	}
	if p.IsVisibleHeadWithDescendants {
		return false
	}
	return true
}
