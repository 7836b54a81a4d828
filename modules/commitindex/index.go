// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package commitindex

import (
	"sort"
	"strings"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/latticevcs/core/modules/ids"
)

// PrefixResolution classifies a hex-prefix lookup.
type PrefixResolution int

const (
	NoMatch PrefixResolution = iota
	SingleMatch
	AmbiguousMatch
)

// entryRef is a (segment-or-pending, local position) pointer used while
// combining matches across the chain.
type entryRef struct {
	entry Entry
}

// allRefs collects every indexed entry: pending first (most recently
// appended), then each segment in the parent chain. Scope is small enough
// for this exercise that a linear scan per query is acceptable; each
// individual segment still keeps its own sorted lookup tables (segment.go)
// matching the on-disk layout.
func (ix *Index) allRefs() []entryRef {
	out := make([]entryRef, 0, len(ix.pending))
	for _, e := range ix.pending {
		out = append(out, entryRef{e})
	}
	for s := ix.parent; s != nil; s = s.Parent {
		for _, e := range s.Entries {
			out = append(out, entryRef{e})
		}
	}
	return out
}

// ResolveCommitIdPrefix finds the commit whose id hex begins with prefix.
func (ix *Index) ResolveCommitIdPrefix(prefix string) (PrefixResolution, ids.CommitId) {
	var found []ids.CommitId
	for _, e := range ix.pending {
		if strings.HasPrefix(e.CommitId.String(), prefix) {
			found = append(found, e.CommitId)
		}
	}
	for s := ix.parent; s != nil; s = s.Parent {
		for _, pos := range s.commitIdsWithPrefix(prefix) {
			found = append(found, s.Entries[pos].CommitId)
		}
	}
	return classify(found, func(a, b ids.CommitId) bool { return a.Equal(b) })
}

// ShortestUniqueCommitIdPrefixLen returns the minimum prefix length that
// uniquely identifies id among all indexed commits.
func (ix *Index) ShortestUniqueCommitIdPrefixLen(id ids.CommitId) int {
	refs := ix.allRefs()
	hexes := make([]string, 0, len(refs))
	for _, r := range refs {
		hexes = append(hexes, r.entry.CommitId.String())
	}
	sort.Strings(hexes)

	target := id.String()
	i := sort.SearchStrings(hexes, target)
	var lower, upper *ids.CommitId
	if i > 0 {
		l := ids.NewCommitId(hexes[i-1])
		lower = &l
	}
	if i+1 < len(hexes) {
		u := ids.NewCommitId(hexes[i+1])
		upper = &u
	}
	return ids.ShortestUniquePrefixLen(id, lower, upper)
}

// ResolveChangeIdPrefix finds commits whose change id hex begins with
// prefix. A change id can legitimately label more than one commit
// (divergent rewrites) — all such commits are returned
// together as long as they share the one change id that matched; a prefix
// matching more than one distinct change id is ambiguous.
func (ix *Index) ResolveChangeIdPrefix(prefix string) (PrefixResolution, []ids.CommitId) {
	distinct := map[string][]ids.CommitId{}
	for _, e := range ix.pending {
		cid := e.ChangeId.String()
		if strings.HasPrefix(cid, prefix) {
			distinct[cid] = append(distinct[cid], e.CommitId)
		}
	}
	for s := ix.parent; s != nil; s = s.Parent {
		for _, cid := range s.changeIdsWithPrefix(prefix) {
			for _, pos := range s.byChange[cid] {
				distinct[cid] = append(distinct[cid], s.Entries[pos].CommitId)
			}
		}
	}
	switch len(distinct) {
	case 0:
		return NoMatch, nil
	case 1:
		for _, commits := range distinct {
			return SingleMatch, commits
		}
	}
	return AmbiguousMatch, nil
}

func classify[T any](found []T, eq func(a, b T) bool) (PrefixResolution, T) {
	var zero T
	if len(found) == 0 {
		return NoMatch, zero
	}
	for _, f := range found[1:] {
		if !eq(f, found[0]) {
			return AmbiguousMatch, zero
		}
	}
	return SingleMatch, found[0]
}

// IsAncestor reports whether a is an ancestor of (or equal to) b, pruning
// the backward walk by generation number.
func (ix *Index) IsAncestor(a, b ids.CommitId) bool {
	if a.Equal(b) {
		return true
	}
	ag, ok := ix.Generation(a)
	if !ok {
		return false
	}
	bg, ok := ix.Generation(b)
	if !ok || ag > bg {
		return false
	}

	visited := map[string]bool{}
	h := binaryheap.NewWith(func(x, y any) int {
		gx, gy := x.(genCommit).generation, y.(genCommit).generation
		return int(gy) - int(gx) // max-heap: highest generation first
	})
	h.Push(genCommit{b, bg})
	visited[b.String()] = true
	for !h.Empty() {
		top, _ := h.Pop()
		cur := top.(genCommit)
		if cur.id.Equal(a) {
			return true
		}
		if cur.generation < ag {
			continue
		}
		parents, _ := ix.Parents(cur.id)
		for _, p := range parents {
			if visited[p.String()] {
				continue
			}
			visited[p.String()] = true
			pg, _ := ix.Generation(p)
			if pg < ag {
				continue
			}
			h.Push(genCommit{p, pg})
		}
	}
	return false
}

type genCommit struct {
	id         ids.CommitId
	generation uint32
}

// CommonAncestors returns the merge-base set of left and right: commits
// reachable (ancestor-or-self) from both sides, with any ancestor of
// another result removed.
func (ix *Index) CommonAncestors(left, right []ids.CommitId) []ids.CommitId {
	const inLeft, inRight = 1, 2
	paint := map[string]int{}
	h := binaryheap.NewWith(func(x, y any) int {
		gx, gy := x.(genCommit).generation, y.(genCommit).generation
		return int(gy) - int(gx)
	})
	seed := func(cs []ids.CommitId, bit int) {
		for _, c := range cs {
			g, ok := ix.Generation(c)
			if !ok {
				continue
			}
			if paint[c.String()]&bit == 0 {
				paint[c.String()] |= bit
				h.Push(genCommit{c, g})
			}
		}
	}
	seed(left, inLeft)
	seed(right, inRight)

	var common []ids.CommitId
	seenCommon := map[string]bool{}
	for !h.Empty() {
		top, _ := h.Pop()
		cur := top.(genCommit)
		mask := paint[cur.id.String()]
		if mask == inLeft|inRight && !seenCommon[cur.id.String()] {
			seenCommon[cur.id.String()] = true
			common = append(common, cur.id)
		}
		parents, _ := ix.Parents(cur.id)
		for _, p := range parents {
			pg, ok := ix.Generation(p)
			if !ok {
				continue
			}
			before := paint[p.String()]
			after := before | mask
			if after == before {
				continue
			}
			paint[p.String()] = after
			h.Push(genCommit{p, pg})
		}
	}
	return ix.Heads(common)
}

// Heads returns the subset of candidates that are not ancestors of any
// other candidate.
func (ix *Index) Heads(candidates []ids.CommitId) []ids.CommitId {
	var heads []ids.CommitId
	for i, c := range candidates {
		isAncestorOfOther := false
		for j, other := range candidates {
			if i == j || c.Equal(other) {
				continue
			}
			if ix.IsAncestor(c, other) {
				isAncestorOfOther = true
				break
			}
		}
		if !isAncestorOfOther {
			heads = append(heads, c)
		}
	}
	return heads
}

// AllHeadsForGC returns every indexed commit that is nobody's parent —
// the reachability roots a GC sweep starts from.
func (ix *Index) AllHeadsForGC() []ids.CommitId {
	refs := ix.allRefs()
	isParent := map[string]bool{}
	for _, r := range refs {
		for _, p := range r.entry.Parents {
			isParent[p.String()] = true
		}
	}
	var heads []ids.CommitId
	seen := map[string]bool{}
	for _, r := range refs {
		hex := r.entry.CommitId.String()
		if seen[hex] {
			continue
		}
		seen[hex] = true
		if !isParent[hex] {
			heads = append(heads, r.entry.CommitId)
		}
	}
	return heads
}
