// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package mergedtree implements an N-way tree with per-path
// conflict values, built on modules/objstore's single resolved Tree and
// modules/merge's Merge[T]. A MergedTree is a Merge[TreeId]; reading it
// materializes the per-path values lazily, the way modules/merkletrie
// walks two noder trees in lockstep without fully expanding either side
// up front.
package mergedtree

import (
	"context"
	"fmt"
	"sort"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/objstore"
)

// MergedTree is an ordered odd-length sequence of TreeIds interpreted as
// add - remove + add - ... + add.
type MergedTree struct {
	Store objstore.Backend
	Ids   merge.Merge[ids.TreeId]
}

// New wraps an existing Merge[TreeId].
func New(store objstore.Backend, m merge.Merge[ids.TreeId]) *MergedTree {
	return &MergedTree{Store: store, Ids: m}
}

// Resolved wraps a single, conflict-free tree id.
func Resolved(store objstore.Backend, id ids.TreeId) *MergedTree {
	return New(store, merge.Resolved(id))
}

// IsResolved reports whether the tree has no unresolved paths at the root.
// A resolved MergedTree may still contain KindConflict entries recorded by
// an earlier snapshot; this only reflects the top-level Merge arity.
func (t *MergedTree) IsResolved() bool { return t.Ids.IsResolved() }

// optValue is Option<TreeValue>: Present is false for "absent" (deleted
// or never existed at this path), so that file deletion and file
// addition are represented uniformly inside a merge.
type optValue struct {
	Present bool
	Value   objstore.TreeValue
}

func present(v objstore.TreeValue) optValue { return optValue{Present: true, Value: v} }

func optEqual(a, b optValue) bool {
	if a.Present != b.Present {
		return false
	}
	if !a.Present {
		return true
	}
	return a.Value.Equal(b.Value)
}

// treeAt resolves one TreeId to its *objstore.Tree, contextualized by path
// for backends that use it for copy tracking.
func treeAt(ctx context.Context, store objstore.Backend, path string, id ids.TreeId) (*objstore.Tree, error) {
	if id.Equal(store.EmptyTreeId()) {
		return &objstore.Tree{Hash: id}, nil
	}
	return store.GetTree(ctx, path, id)
}

// entryAt looks up name inside the tree at id, returning an absent value
// if id is the empty tree or the name isn't present.
func entryAt(ctx context.Context, store objstore.Backend, path, name string, id ids.TreeId) (optValue, error) {
	tr, err := treeAt(ctx, store, path, id)
	if err != nil {
		return optValue{}, err
	}
	e, ok := tr.ByName(name)
	if !ok {
		return optValue{}, nil
	}
	return present(e.Value), nil
}

// PathValue descends component by component. If any term is a non-tree
// while another term is a tree, the non-tree side contributes absent at
// deeper path components; file-vs-directory conflicts propagate this way.
func (t *MergedTree) PathValue(ctx context.Context, path []string) (merge.Merge[optValue], error) {
	cur, err := merge.MapErr(t.Ids, func(id ids.TreeId) (optValue, error) {
		return present(objstore.NewTreeValue(id)), nil
	})
	if err != nil {
		return merge.Merge[optValue]{}, err
	}
	for depth, component := range path {
		next, err := merge.MapErr(cur, func(v optValue) (optValue, error) {
			if !v.Present || !v.Value.IsTree() {
				// Non-tree (or absent) sides contribute absent below them.
				return optValue{}, nil
			}
			return entryAt(ctx, t.Store, joinPath(path[:depth+1]), component, v.Value.Tree)
		})
		if err != nil {
			return merge.Merge[optValue]{}, fmt.Errorf("mergedtree: path_value %q: %w", joinPath(path), err)
		}
		cur = next
	}
	return cur, nil
}

func joinPath(components []string) string {
	out := ""
	for i, c := range components {
		if i > 0 {
			out += "/"
		}
		out += c
	}
	return out
}

// sameChangeDefault is the default same-change policy: two
// byte-identical adds resolve even if they descend from different bases.
func sameChangeDefault(a, b optValue) bool { return optEqual(a, b) }

// TrivialResolve applies trivial conflict resolution to a single path's
// merge.
func TrivialResolve(m merge.Merge[optValue]) (optValue, bool) {
	return merge.TrivialResolve(m, sameChangeDefault)
}

// positionedTree is the tree loaded for one term of a merge; the entry
// names of several positionedTrees are unioned to drive both diff and
// recursive merge without requiring identical entry ordering across sides.
type positionedTree struct {
	tree *objstore.Tree
}

func loadPositions(ctx context.Context, store objstore.Backend, path string, ids []ids.TreeId) ([]positionedTree, error) {
	out := make([]positionedTree, len(ids))
	for i, id := range ids {
		tr, err := treeAt(ctx, store, path, id)
		if err != nil {
			return nil, err
		}
		out[i] = positionedTree{tree: tr}
	}
	return out, nil
}

// unionNames returns the sorted union of entry names across all positions.
func unionNames(positions []positionedTree) []string {
	seen := map[string]struct{}{}
	for _, p := range positions {
		for _, e := range p.tree.Entries {
			seen[e.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func valueAt(positions []positionedTree, idx int, name string) optValue {
	e, ok := positions[idx].tree.ByName(name)
	if !ok {
		return optValue{}
	}
	return present(e.Value)
}
