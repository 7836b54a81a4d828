// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package mergedtree

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/objstore"
)

// Diff is one path's before/after value pair, each with its own arity:
// before is self's PathValue, after is other's.
type Diff struct {
	Before merge.Merge[optValue]
	After  merge.Merge[optValue]
}

// DiffEntry pairs a path with its Diff.
type DiffEntry struct {
	Path string
	Diff Diff
}

// VisitResult is the matcher's per-subtree verdict.
type VisitResult int

const (
	VisitAll VisitResult = iota
	VisitSome
	VisitNothing
)

// Matcher decides which subtrees the diff stream descends into.
type Matcher interface {
	Visit(path string) VisitResult
}

// AllMatcher visits every path.
type AllMatcher struct{}

func (AllMatcher) Visit(string) VisitResult { return VisitAll }

func sideKinds(m merge.Merge[optValue]) (anyPresent, allTrees bool) {
	return scanKinds(m.Adds, m.Removes)
}

func sideEqual(a, b merge.Merge[optValue]) bool {
	av, aok := merge.TrivialResolve(a, optEqual)
	bv, bok := merge.TrivialResolve(b, optEqual)
	if aok && bok {
		return optEqual(av, bv)
	}
	return false
}

// DiffStream walks self and other in lockstep, yielding (path, Diff) for
// every path whose value differs, skipping subtrees the matcher prunes.
// It is sequential and path-ordered; DiffStreamConcurrent overlaps
// subtree reads up to the store's configured concurrency hint.
func (t *MergedTree) DiffStream(ctx context.Context, other *MergedTree, matcher Matcher) ([]DiffEntry, error) {
	var out []DiffEntry
	if err := diffWalk(ctx, t.Store, "", t.Ids, other.Ids, matcher, func(e DiffEntry) { out = append(out, e) }); err != nil {
		return nil, err
	}
	return out, nil
}

func pathValueAt(ctx context.Context, store objstore.Backend, path string, m merge.Merge[ids.TreeId]) (merge.Merge[optValue], error) {
	return (&MergedTree{Store: store, Ids: m}).PathValue(ctx, splitPath(path))
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}

func diffWalk(ctx context.Context, store objstore.Backend, path string, selfIds, otherIds merge.Merge[ids.TreeId], matcher Matcher, emit func(DiffEntry)) error {
	if matcher.Visit(path) == VisitNothing {
		return nil
	}
	selfVal, err := pathValueAt(ctx, store, path, selfIds)
	if err != nil {
		return err
	}
	otherVal, err := pathValueAt(ctx, store, path, otherIds)
	if err != nil {
		return err
	}
	return diffValues(ctx, store, path, selfVal, otherVal, matcher, emit)
}

func diffValues(ctx context.Context, store objstore.Backend, path string, selfVal, otherVal merge.Merge[optValue], matcher Matcher, emit func(DiffEntry)) error {
	if sideEqual(selfVal, otherVal) {
		return nil
	}
	_, selfAllTrees := sideKinds(selfVal)
	_, otherAllTrees := sideKinds(otherVal)
	selfAny, _ := sideKinds(selfVal)
	otherAny, _ := sideKinds(otherVal)
	if selfAllTrees && otherAllTrees && (selfAny || otherAny) {
		names, err := childNamesOf(ctx, store, path, selfVal, otherVal)
		if err != nil {
			return err
		}
		for _, name := range names {
			childP := childPath(path, name)
			if matcher.Visit(childP) == VisitNothing {
				continue
			}
			selfChild := childValueDirect(ctx, store, path, selfVal, name)
			otherChild := childValueDirect(ctx, store, path, otherVal, name)
			if err := diffValues(ctx, store, childP, selfChild, otherChild, matcher, emit); err != nil {
				return err
			}
		}
		return nil
	}
	emit(DiffEntry{Path: path, Diff: Diff{Before: selfVal, After: otherVal}})
	return nil
}

// childNamesOf loads every position's Tree for the paths in selfVal and
// otherVal and returns the sorted union of entry names. The per-name child
// values are read separately afterwards by childValueDirect.
func childNamesOf(ctx context.Context, store objstore.Backend, path string, selfVal, otherVal merge.Merge[optValue]) ([]string, error) {
	positions, err := treesOf(ctx, store, path, selfVal, otherVal)
	if err != nil {
		return nil, err
	}
	return unionNames(positions), nil
}

func treesOf(ctx context.Context, store objstore.Backend, path string, vals ...merge.Merge[optValue]) ([]positionedTree, error) {
	var out []positionedTree
	for _, m := range vals {
		for _, v := range m.Adds {
			if v.Present && v.Value.IsTree() {
				tr, err := treeAt(ctx, store, path, v.Value.Tree)
				if err != nil {
					return nil, err
				}
				out = append(out, positionedTree{tree: tr})
			}
		}
		for _, v := range m.Removes {
			if v.Present && v.Value.IsTree() {
				tr, err := treeAt(ctx, store, path, v.Value.Tree)
				if err != nil {
					return nil, err
				}
				out = append(out, positionedTree{tree: tr})
			}
		}
	}
	return out, nil
}

// DiffStreamConcurrent is the bounded-concurrency variant: subtree reads
// for independent children are overlapped up to store.Concurrency(),
// using golang.org/x/sync/errgroup the way the teacher's remote transfer
// fan-out (pkg/serve/repo/push.go) bounds concurrent object reads.
// Results are still returned in path order.
func (t *MergedTree) DiffStreamConcurrent(ctx context.Context, other *MergedTree, matcher Matcher) ([]DiffEntry, error) {
	limit := t.Store.Concurrency()
	if limit < 1 {
		limit = 1
	}
	var entries []DiffEntry
	var mu sortedCollector
	if err := diffWalkConcurrent(ctx, t.Store, "", t.Ids, other.Ids, matcher, limit, &mu); err != nil {
		return nil, err
	}
	entries = mu.finish()
	return entries, nil
}

// sortedCollector accumulates (path, entry) pairs from concurrent
// goroutines and sorts by path once at the end, which is simpler and
// just as correct as maintaining strict emission order while fanned out.
type sortedCollector struct {
	mu      chanLock
	entries []DiffEntry
}

type chanLock chan struct{}

func (c *sortedCollector) lock() {
	if c.mu == nil {
		c.mu = make(chan struct{}, 1)
	}
	c.mu <- struct{}{}
}
func (c *sortedCollector) unlock() { <-c.mu }

func (c *sortedCollector) add(e DiffEntry) {
	c.lock()
	c.entries = append(c.entries, e)
	c.unlock()
}

func (c *sortedCollector) finish() []DiffEntry {
	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].Path < c.entries[j].Path })
	return c.entries
}

func diffWalkConcurrent(ctx context.Context, store objstore.Backend, path string, selfIds, otherIds merge.Merge[ids.TreeId], matcher Matcher, limit int, collector *sortedCollector) error {
	if matcher.Visit(path) == VisitNothing {
		return nil
	}
	selfVal, err := pathValueAt(ctx, store, path, selfIds)
	if err != nil {
		return err
	}
	otherVal, err := pathValueAt(ctx, store, path, otherIds)
	if err != nil {
		return err
	}
	return diffWalkConcurrentValues(ctx, store, path, selfVal, otherVal, matcher, limit, collector)
}

func diffWalkConcurrentValues(ctx context.Context, store objstore.Backend, path string, selfVal, otherVal merge.Merge[optValue], matcher Matcher, limit int, collector *sortedCollector) error {
	if sideEqual(selfVal, otherVal) {
		return nil
	}
	_, selfAllTrees := sideKinds(selfVal)
	_, otherAllTrees := sideKinds(otherVal)
	selfAny, _ := sideKinds(selfVal)
	otherAny, _ := sideKinds(otherVal)
	if !(selfAllTrees && otherAllTrees && (selfAny || otherAny)) {
		collector.add(DiffEntry{Path: path, Diff: Diff{Before: selfVal, After: otherVal}})
		return nil
	}
	names, err := childNamesOf(ctx, store, path, selfVal, otherVal)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, name := range names {
		name := name
		childP := childPath(path, name)
		if matcher.Visit(childP) == VisitNothing {
			continue
		}
		g.Go(func() error {
			selfChild := childValueDirect(ctx, store, path, selfVal, name)
			otherChild := childValueDirect(ctx, store, path, otherVal, name)
			return diffWalkConcurrentValues(gctx, store, childP, selfChild, otherChild, matcher, limit, collector)
		})
	}
	return g.Wait()
}

func childValueDirect(ctx context.Context, store objstore.Backend, parentPath string, m merge.Merge[optValue], name string) merge.Merge[optValue] {
	out := merge.Merge[optValue]{Adds: make([]optValue, len(m.Adds)), Removes: make([]optValue, len(m.Removes))}
	lookup := func(v optValue) optValue {
		if !v.Present || !v.Value.IsTree() {
			return optValue{}
		}
		tr, err := treeAt(ctx, store, parentPath, v.Value.Tree)
		if err != nil {
			return optValue{}
		}
		e, ok := tr.ByName(name)
		if !ok {
			return optValue{}
		}
		return present(e.Value)
	}
	for i, v := range m.Adds {
		out.Adds[i] = lookup(v)
	}
	for i, v := range m.Removes {
		out.Removes[i] = lookup(v)
	}
	return out
}

// DiffStreamFilesystem is the filesystem-safe ordering variant: an added
// file at path P is delayed until every deletion under P/ has been
// emitted, so that applying the stream to a real filesystem never tries
// to create a file where a directory it must first empty still exists.
func (t *MergedTree) DiffStreamFilesystem(ctx context.Context, other *MergedTree, matcher Matcher) ([]DiffEntry, error) {
	entries, err := t.DiffStream(ctx, other, matcher)
	if err != nil {
		return nil, err
	}
	return reorderForFilesystem(entries), nil
}

func isAddedFile(e DiffEntry) bool {
	beforeAbsent := !anyPresentMerge(e.Diff.Before)
	afterPresent := anyPresentMerge(e.Diff.After)
	return beforeAbsent && afterPresent
}

func anyPresentMerge(m merge.Merge[optValue]) bool {
	for _, v := range m.Adds {
		if v.Present {
			return true
		}
	}
	for _, v := range m.Removes {
		if v.Present {
			return true
		}
	}
	return false
}

// reorderForFilesystem moves each added-file entry to just after the last
// entry whose path is nested under it, preserving relative order
// otherwise.
func reorderForFilesystem(entries []DiffEntry) []DiffEntry {
	out := make([]DiffEntry, 0, len(entries))
	var pending []int
	for i, e := range entries {
		if isAddedFile(e) {
			pending = append(pending, i)
			continue
		}
		out = append(out, e)
	}
	// Re-insert each pending add, in stream order, at its original place or
	// right after the last entry nested under it, whichever comes later.
	for _, i := range pending {
		add := entries[i]
		insertAt := i
		for j, e := range out {
			if hasPrefix(e.Path, add.Path+"/") && j+1 > insertAt {
				insertAt = j + 1
			}
		}
		out = append(out[:insertAt], append([]DiffEntry{add}, out[insertAt:]...)...)
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// CopyRecord is an externally supplied rename observation: the
// diff/working-copy layer outside this package's scope detects copies;
// this adapter only rewrites the stream shape.
type CopyRecord struct {
	SourcePath string
	DestPath   string
}

// CopyAwareDiff consumes a plain diff stream and a set of copy records,
// collapsing a (delete SourcePath) + (add DestPath) pair into a single
// rename entry whose Path is DestPath and whose Diff.Before is the
// source's prior value.
func CopyAwareDiff(entries []DiffEntry, copies []CopyRecord) []DiffEntry {
	bySource := make(map[string]string, len(copies))
	for _, c := range copies {
		bySource[c.SourcePath] = c.DestPath
	}
	deletions := make(map[string]Diff)
	for _, e := range entries {
		if !anyPresentMerge(e.Diff.After) && anyPresentMerge(e.Diff.Before) {
			deletions[e.Path] = e.Diff
		}
	}
	out := make([]DiffEntry, 0, len(entries))
	consumedSources := map[string]bool{}
	for _, e := range entries {
		if dest, ok := bySource[e.Path]; ok {
			if !anyPresentMerge(e.Diff.After) && anyPresentMerge(e.Diff.Before) {
				consumedSources[e.Path] = true
				continue // merged into the destination's rename entry below
			}
			_ = dest
		}
		if isAddedFile(e) {
			if srcDiff, ok := findSourceFor(e.Path, bySource, deletions); ok {
				out = append(out, DiffEntry{Path: e.Path, Diff: Diff{Before: srcDiff.Before, After: e.Diff.After}})
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func findSourceFor(dest string, bySource map[string]string, deletions map[string]Diff) (Diff, bool) {
	for src, d := range bySource {
		if d == dest {
			if diff, ok := deletions[src]; ok {
				return diff, true
			}
		}
	}
	return Diff{}, false
}
