// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"sort"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/mergedtree"
	"github.com/latticevcs/core/modules/objstore"
	"github.com/latticevcs/core/modules/vcslog"
)

// RebaseOptions tunes the descendant-rebase pass.
type RebaseOptions struct {
	// AbandonEmpty abandons a rebased commit instead of keeping it when
	// the result is discardable.
	AbandonEmpty bool
}

// RebaseDescendants processes the rewrites and abandonments this
// transaction recorded. Descendants of a
// single-target rewrite or an abandonment are rewritten in topological
// order; descendants of a divergent rewrite are left alone. It returns
// the number of commits rebased or abandoned by the pass.
func (m *MutableRepo) RebaseDescendants(ctx context.Context, opts RebaseOptions) (int, error) {
	return m.rebasePass(ctx, opts, false)
}

// ReparentDescendants only substitutes parents and keeps each descendant's
// tree bit-identical, used after operations that should not touch content.
func (m *MutableRepo) ReparentDescendants(ctx context.Context) (int, error) {
	return m.rebasePass(ctx, RebaseOptions{}, true)
}

// substitution maps a replaced commit to what descendants should use in
// its place: the rewrite target, or an abandoned commit's parents.
type substitution map[string][]ids.CommitId

func (m *MutableRepo) buildSubstitutions() substitution {
	subs := substitution{}
	for old, news := range m.rewritten {
		if len(news) == 1 {
			subs[old] = news
		}
		// Divergent rewrites (len > 1) leave descendants untouched.
	}
	for old, parents := range m.abandoned {
		subs[old] = indexableParents(parents)
	}
	return subs
}

// resolveParents substitutes rewritten ids and expands abandoned ids into
// their parents, chasing chains, deduplicating while preserving order.
func resolveParents(parents []ids.CommitId, subs substitution) []ids.CommitId {
	var out []ids.CommitId
	seen := map[string]bool{}
	var expand func(id ids.CommitId)
	expand = func(id ids.CommitId) {
		if repl, ok := subs[id.String()]; ok {
			for _, r := range repl {
				expand(r)
			}
			return
		}
		if seen[id.String()] {
			return
		}
		seen[id.String()] = true
		out = append(out, id)
	}
	for _, p := range parents {
		expand(p)
	}
	// An empty result (every parent abandoned down to nothing) leaves the
	// commit a root commit.
	return out
}

func parentsEqual(a, b []ids.CommitId) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func (m *MutableRepo) rebasePass(ctx context.Context, opts RebaseOptions, reparentOnly bool) (int, error) {
	subs := m.buildSubstitutions()
	if len(subs) == 0 {
		return 0, nil
	}

	descendants, err := m.pendingDescendants(subs)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range descendants {
		old, err := m.backend.GetCommit(ctx, id)
		if err != nil {
			return count, err
		}
		newParents := resolveParents(old.Parents, subs)
		if parentsEqual(newParents, old.Parents) {
			continue
		}

		if reparentOnly {
			rebased, err := m.writeRebased(ctx, old, newParents, old.RootTree)
			if err != nil {
				return count, err
			}
			subs[id.String()] = []ids.CommitId{rebased.Hash}
			count++
			continue
		}

		newTree, err := m.rebasedTree(ctx, old, newParents)
		if err != nil {
			return count, err
		}

		if opts.AbandonEmpty {
			discard, err := m.rebasedIsDiscardable(ctx, old, newParents, newTree)
			if err != nil {
				return count, err
			}
			if discard {
				vcslog.Commit(id.String()).Debug("abandoning empty rebased commit")
				subs[id.String()] = newParents
				m.abandoned[id.String()] = newParents
				m.view.ReplaceHead(m.index, id, newParents)
				m.retargetRefs(id, newParents)
				count++
				continue
			}
		}

		rebased, err := m.writeRebased(ctx, old, newParents, newTree.Ids)
		if err != nil {
			return count, err
		}
		subs[id.String()] = []ids.CommitId{rebased.Hash}
		count++
	}

	// The pass consumed the recorded rewrites; clearing them makes a
	// second call a no-op rather than a replay.
	m.rewritten = map[string][]ids.CommitId{}
	m.abandoned = map[string][]ids.CommitId{}
	return count, nil
}

// pendingDescendants returns every visible commit that descends from a
// substituted commit, in topological (generation-ascending) order,
// excluding the substituted commits themselves.
func (m *MutableRepo) pendingDescendants(subs substitution) ([]ids.CommitId, error) {
	// Walk every visible commit once, remembering child edges.
	children := map[string][]ids.CommitId{}
	visited := map[string]bool{}
	queue := append([]ids.CommitId(nil), m.view.Heads...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id.IsZero() || visited[id.String()] {
			continue
		}
		visited[id.String()] = true
		parents, ok := m.index.Parents(id)
		if !ok {
			continue
		}
		for _, p := range parents {
			children[p.String()] = append(children[p.String()], id)
			queue = append(queue, p)
		}
	}

	// BFS downward from the substituted commits.
	affected := map[string]bool{}
	var frontier []ids.CommitId
	for old := range subs {
		frontier = append(frontier, children[old]...)
	}
	var out []ids.CommitId
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		hex := id.String()
		if affected[hex] {
			continue
		}
		if _, replaced := subs[hex]; replaced {
			continue
		}
		affected[hex] = true
		out = append(out, id)
		frontier = append(frontier, children[hex]...)
	}
	sort.Slice(out, func(i, j int) bool {
		gi, _ := m.index.Generation(out[i])
		gj, _ := m.index.Generation(out[j])
		if gi != gj {
			return gi < gj
		}
		return out[i].Compare(out[j]) < 0
	})
	return out, nil
}

// rebasedTree computes merge(old.tree, old.parent_tree(),
// new_parent_tree()). On conflict the result carries the conflict.
func (m *MutableRepo) rebasedTree(ctx context.Context, old *objstore.Commit, newParents []ids.CommitId) (*mergedtree.MergedTree, error) {
	oldParentTree, err := m.mergedParentTree(ctx, old.Parents)
	if err != nil {
		return nil, err
	}
	newParentTree, err := m.mergedParentTree(ctx, newParents)
	if err != nil {
		return nil, err
	}
	return mergedtree.Merge(ctx, m.backend, mergedtree.New(m.backend, old.RootTree), oldParentTree, newParentTree)
}

func (m *MutableRepo) rebasedIsDiscardable(ctx context.Context, old *objstore.Commit, newParents []ids.CommitId, newTree *mergedtree.MergedTree) (bool, error) {
	if old.Description != "" {
		return false, nil
	}
	newParentTree, err := m.mergedParentTree(ctx, newParents)
	if err != nil {
		return false, err
	}
	return treesEquivalent(ctx, m.backend, newTree, newParentTree)
}

// writeRebased persists the rebased successor of old, indexes it, records
// the predecessor edge, and repoints heads and refs.
func (m *MutableRepo) writeRebased(ctx context.Context, old *objstore.Commit, newParents []ids.CommitId, tree merge.Merge[ids.TreeId]) (*objstore.Commit, error) {
	data := objstore.CommitData{
		Parents:      newParents,
		Predecessors: []ids.CommitId{old.Hash},
		RootTree:     tree,
		ChangeId:     old.ChangeId,
		Author:       old.Author,
		Committer:    old.Committer,
		Description:  old.Description,
	}
	rebased, err := m.backend.WriteCommit(ctx, &data, nil)
	if err != nil {
		return nil, err
	}
	if err := m.indexCommitWithAncestors(ctx, rebased.Hash); err != nil {
		return nil, err
	}
	m.predecessors[rebased.Hash] = []ids.CommitId{old.Hash}
	m.view.ReplaceHead(m.index, old.Hash, []ids.CommitId{rebased.Hash})
	m.retargetRefs(old.Hash, []ids.CommitId{rebased.Hash})
	return rebased, nil
}

// SimplifyParents is an opt-in cleanup pass: for every
// visible merge commit, drop any parent that is an ancestor of another
// parent, reparenting (tree untouched) when that leaves fewer parents.
func (m *MutableRepo) SimplifyParents(ctx context.Context) (int, error) {
	visited := map[string]bool{}
	queue := append([]ids.CommitId(nil), m.view.Heads...)
	count := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id.IsZero() || visited[id.String()] {
			continue
		}
		visited[id.String()] = true
		parents, ok := m.index.Parents(id)
		if !ok {
			continue
		}
		queue = append(queue, parents...)
		if len(parents) < 2 {
			continue
		}
		kept := simplifyParentSet(m, parents)
		if len(kept) == len(parents) {
			continue
		}
		old, err := m.backend.GetCommit(ctx, id)
		if err != nil {
			return count, err
		}
		rebased, err := m.writeRebased(ctx, old, kept, old.RootTree)
		if err != nil {
			return count, err
		}
		m.rewritten[id.String()] = []ids.CommitId{rebased.Hash}
		count++
	}
	if count > 0 {
		if _, err := m.ReparentDescendants(ctx); err != nil {
			return count, err
		}
	}
	return count, nil
}

func simplifyParentSet(m *MutableRepo, parents []ids.CommitId) []ids.CommitId {
	kept := parents[:0:0]
	for i, p := range parents {
		redundant := false
		for j, other := range parents {
			if i == j || p.Equal(other) {
				continue
			}
			if m.index.IsAncestor(p, other) {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, p)
		}
	}
	return kept
}
