// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pathindex

import (
	"context"
	"sort"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/mergedtree"
	"github.com/latticevcs/core/modules/objstore"
)

// ParentMergeTree builds the no-resolve merge tree the indexer diffs a
// commit's own tree against: for a single parent it is just that parent's
// tree, and for a merge commit it is the N-way Merge[TreeId] with every
// parent as an Add and the empty tree repeated (len(parents)-1) times as
// Removes. ChangedPaths trivially resolves each path of that merge before
// comparing it with the commit's value.
func ParentMergeTree(store objstore.Backend, parentTreeIds []ids.TreeId) *mergedtree.MergedTree {
	if len(parentTreeIds) == 0 {
		return mergedtree.Resolved(store, store.EmptyTreeId())
	}
	if len(parentTreeIds) == 1 {
		return mergedtree.Resolved(store, parentTreeIds[0])
	}
	removes := make([]ids.TreeId, len(parentTreeIds)-1)
	for i := range removes {
		removes[i] = store.EmptyTreeId()
	}
	return mergedtree.New(store, merge.Merge[ids.TreeId]{Adds: parentTreeIds, Removes: removes})
}

// ChangedPaths computes the sorted, deduplicated set of paths that differ
// between parentTree (see ParentMergeTree) and commitTree, the protocol
// the indexing protocol requires: every indexed commit's entry is
// the changed-path set of its own snapshot against its no-resolve parent
// merge, so that file-value resolution happens before comparison and
// trivially-resolvable conflicts don't appear as changes (mirroring
// modules/mergedtree.DiffStream's sideEqual behavior).
func ChangedPaths(ctx context.Context, parentTree, commitTree *mergedtree.MergedTree) ([]string, error) {
	diffs, err := parentTree.DiffStream(ctx, commitTree, mergedtree.AllMatcher{})
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(diffs))
	for i, d := range diffs {
		paths[i] = d.Path
	}
	sort.Strings(paths)
	return paths, nil
}
