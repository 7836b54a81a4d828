// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package view

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticevcs/core/modules/ids"
)

// fakeIndex answers ancestry from an explicit parent map, enough for
// heads-set maintenance without a real commit index.
type fakeIndex struct {
	parents map[string][]ids.CommitId
}

func (f *fakeIndex) IsAncestor(a, b ids.CommitId) bool {
	if a.Equal(b) {
		return true
	}
	queue := append([]ids.CommitId(nil), f.parents[b.String()]...)
	seen := map[string]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur.String()] {
			continue
		}
		seen[cur.String()] = true
		if cur.Equal(a) {
			return true
		}
		queue = append(queue, f.parents[cur.String()]...)
	}
	return false
}

func (f *fakeIndex) Heads(candidates []ids.CommitId) []ids.CommitId {
	var heads []ids.CommitId
	for i, c := range candidates {
		ancestor := false
		for j, other := range candidates {
			if i != j && !c.Equal(other) && f.IsAncestor(c, other) {
				ancestor = true
				break
			}
		}
		if !ancestor {
			heads = append(heads, c)
		}
	}
	return heads
}

func cid(hex string) ids.CommitId { return ids.NewCommitId(hex) }

func TestMergeRefTargetsDivergenceConflicts(t *testing.T) {
	a, c1, c2 := cid("aa"), cid("c1"), cid("c2")

	merged := MergeRefTargets(ResolvedTarget(c1), ResolvedTarget(a), ResolvedTarget(c2))
	require.Len(t, merged.Adds, 2)
	require.Len(t, merged.Removes, 1)
	require.True(t, merged.Adds[0].Id.Equal(c1))
	require.True(t, merged.Adds[1].Id.Equal(c2))
	require.True(t, merged.Removes[0].Id.Equal(a))
}

func TestMergeRefTargetsEqualAddsResolve(t *testing.T) {
	a, c := cid("aa"), cid("cc")
	merged := MergeRefTargets(ResolvedTarget(c), ResolvedTarget(a), ResolvedTarget(c))
	resolved, ok := merged.AsResolved()
	require.True(t, ok)
	require.True(t, resolved.Present)
	require.True(t, resolved.Id.Equal(c))
}

func TestMergeRefTargetsOneSideUnchangedTakesOther(t *testing.T) {
	a, c := cid("aa"), cid("cc")
	merged := MergeRefTargets(ResolvedTarget(a), ResolvedTarget(a), ResolvedTarget(c))
	resolved, ok := merged.AsResolved()
	require.True(t, ok)
	require.True(t, resolved.Id.Equal(c))

	// Deletion on one side, untouched on the other: the deletion wins.
	merged = MergeRefTargets(AbsentTarget(), ResolvedTarget(a), ResolvedTarget(a))
	resolved, ok = merged.AsResolved()
	require.True(t, ok)
	require.False(t, resolved.Present)
}

func TestMergeRemoteRefStateTrackedWins(t *testing.T) {
	require.Equal(t, StateTracked, MergeRemoteRefState(StateTracked, StateNew))
	require.Equal(t, StateTracked, MergeRemoteRefState(StateNew, StateTracked))
	require.Equal(t, StateNew, MergeRemoteRefState(StateNew, StateNew))
}

func TestAddHeadRemovesAncestors(t *testing.T) {
	a, b := cid("aa"), cid("bb")
	ix := &fakeIndex{parents: map[string][]ids.CommitId{b.String(): {a}}}

	v := New()
	v.AddHead(ix, a)
	require.Len(t, v.Heads, 1)
	v.AddHead(ix, b)
	require.Len(t, v.Heads, 1)
	require.True(t, v.Heads[0].Equal(b))
}

func TestReplaceHeadPrunesToAntichain(t *testing.T) {
	a, b, b2 := cid("aa"), cid("bb"), cid("b2")
	ix := &fakeIndex{parents: map[string][]ids.CommitId{
		b.String():  {a},
		b2.String(): {a},
	}}

	v := New()
	v.AddHead(ix, b)
	v.ReplaceHead(ix, b, []ids.CommitId{b2})
	require.Len(t, v.Heads, 1)
	require.True(t, v.Heads[0].Equal(b2))

	// Replacing a non-head leaves the heads set alone.
	v.ReplaceHead(ix, cid("99"), []ids.CommitId{a})
	require.Len(t, v.Heads, 1)
	require.True(t, v.Heads[0].Equal(b2))
}

func TestMergeViewsHeadsUnionAndDrop(t *testing.T) {
	a, b, c := cid("aa"), cid("bb"), cid("cc")
	ix := &fakeIndex{parents: map[string][]ids.CommitId{}}

	base := New()
	base.Heads = []ids.CommitId{a, b}
	self := New()
	self.Heads = []ids.CommitId{a, c} // dropped b, added c
	other := New()
	other.Heads = []ids.CommitId{a, b}

	merged := MergeViews(ix, self, base, other)
	got := map[string]bool{}
	for _, h := range merged.Heads {
		got[h.String()] = true
	}
	require.True(t, got[a.String()])
	require.True(t, got[c.String()])
	require.True(t, got[b.String()], "b survives: only one side dropped it")

	// Dropped by both sides means dropped in the merge.
	other2 := New()
	other2.Heads = []ids.CommitId{a}
	merged = MergeViews(ix, self, base, other2)
	for _, h := range merged.Heads {
		require.False(t, h.Equal(b))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a, c1, c2 := cid("aa"), cid("c1"), cid("c2")
	v := New()
	v.Heads = []ids.CommitId{c1, c2}
	v.WorkspaceWC["default"] = ResolvedTarget(c1)
	v.LocalBookmarks["main"] = MergeRefTargets(ResolvedTarget(c1), ResolvedTarget(a), ResolvedTarget(c2))
	v.Tags["v1.0"] = ResolvedTarget(a)
	v.GitRefs["refs/heads/main"] = ResolvedTarget(c1)
	v.GitHead = ResolvedTarget(c1)
	v.RemoteBookmarks[RemoteRefKey{Name: "main", Remote: "origin"}] = RemoteRef{
		Target: ResolvedTarget(c2),
		State:  StateTracked,
	}
	v.RemoteTags[RemoteRefKey{Name: "v1.0", Remote: "origin"}] = RemoteRef{
		Target: ResolvedTarget(a),
		State:  StateNew,
	}

	decoded, err := Decode(v.Encode())
	require.NoError(t, err)
	require.Equal(t, v.Heads, decoded.Heads)
	require.Equal(t, v.LocalBookmarks, decoded.LocalBookmarks)
	require.Equal(t, v.WorkspaceWC, decoded.WorkspaceWC)
	require.Equal(t, v.Tags, decoded.Tags)
	require.Equal(t, v.GitRefs, decoded.GitRefs)
	require.Equal(t, v.GitHead, decoded.GitHead)
	require.Equal(t, v.RemoteBookmarks, decoded.RemoteBookmarks)
	require.Equal(t, v.RemoteTags, decoded.RemoteTags)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	_, err := Decode([]byte{9, 9, 9, 9})
	require.Error(t, err)
}

func TestIsDiscardable(t *testing.T) {
	base := DiscardableParams{SingleParent: true, TreeEqualsMergedParent: true}
	require.True(t, IsDiscardable(base))

	p := base
	p.HasDescription = true
	require.False(t, IsDiscardable(p))

	p = base
	p.SingleParent = false
	p.TreeEqualsMergedParent = false
	require.False(t, IsDiscardable(p))

	p = base
	p.SingleParent = false
	require.True(t, IsDiscardable(p), "merge commit whose tree adds nothing is discardable")

	p = base
	p.ReferencedByBookmark = true
	require.False(t, IsDiscardable(p))

	p = base
	p.IsWCOfAnotherWorkspace = true
	require.False(t, IsDiscardable(p))

	p = base
	p.IsVisibleHeadWithDescendants = true
	require.False(t, IsDiscardable(p))
}
