// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package commitindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticevcs/core/modules/ids"
)

func mustAdd(t *testing.T, ix *Index, commit, change string, parents ...string) ids.CommitId {
	t.Helper()
	c := ids.NewCommitId(commit)
	ch := ids.NewChangeId(change)
	var ps []ids.CommitId
	for _, p := range parents {
		ps = append(ps, ids.NewCommitId(p))
	}
	require.NoError(t, ix.Add(c, ch, ps))
	return c
}

// linear chain: root -> a -> b -> c
func buildLinear(t *testing.T) *Index {
	ix := NewIndex(nil)
	mustAdd(t, ix, "00", "c0")
	mustAdd(t, ix, "11", "c1", "00")
	mustAdd(t, ix, "22", "c2", "11")
	mustAdd(t, ix, "33", "c3", "22")
	return ix
}

func TestAddComputesGeneration(t *testing.T) {
	ix := buildLinear(t)
	g, ok := ix.Generation(ids.NewCommitId("33"))
	require.True(t, ok)
	require.Equal(t, uint32(3), g)
}

func TestHasIdAndUnknown(t *testing.T) {
	ix := buildLinear(t)
	require.True(t, ix.HasId(ids.NewCommitId("11")))
	require.False(t, ix.HasId(ids.NewCommitId("ff")))
}

func TestIsAncestor(t *testing.T) {
	ix := buildLinear(t)
	require.True(t, ix.IsAncestor(ids.NewCommitId("00"), ids.NewCommitId("33")))
	require.True(t, ix.IsAncestor(ids.NewCommitId("33"), ids.NewCommitId("33")))
	require.False(t, ix.IsAncestor(ids.NewCommitId("33"), ids.NewCommitId("00")))
	require.False(t, ix.IsAncestor(ids.NewCommitId("ff"), ids.NewCommitId("33")))
}

func TestCommonAncestorsDiamond(t *testing.T) {
	ix := NewIndex(nil)
	mustAdd(t, ix, "00", "c0")
	mustAdd(t, ix, "a1", "ca", "00")
	mustAdd(t, ix, "b1", "cb", "00")
	mustAdd(t, ix, "a2", "ca", "a1")
	mustAdd(t, ix, "b2", "cb", "b1")

	common := ix.CommonAncestors([]ids.CommitId{ids.NewCommitId("a2")}, []ids.CommitId{ids.NewCommitId("b2")})
	require.Len(t, common, 1)
	require.True(t, common[0].Equal(ids.NewCommitId("00")))
}

func TestHeadsExcludesAncestors(t *testing.T) {
	ix := buildLinear(t)
	heads := ix.Heads([]ids.CommitId{ids.NewCommitId("00"), ids.NewCommitId("22"), ids.NewCommitId("33")})
	require.Len(t, heads, 1)
	require.True(t, heads[0].Equal(ids.NewCommitId("33")))
}

func TestAllHeadsForGC(t *testing.T) {
	ix := NewIndex(nil)
	mustAdd(t, ix, "00", "c0")
	mustAdd(t, ix, "a1", "ca", "00")
	mustAdd(t, ix, "b1", "cb", "00")

	heads := ix.AllHeadsForGC()
	require.Len(t, heads, 2)
}

func TestResolveCommitIdPrefix(t *testing.T) {
	ix := NewIndex(nil)
	mustAdd(t, ix, "aabbcc", "c0")
	mustAdd(t, ix, "aabbdd", "c1", "aabbcc")
	mustAdd(t, ix, "112233", "c2", "aabbdd")

	res, id := ix.ResolveCommitIdPrefix("1122")
	require.Equal(t, SingleMatch, res)
	require.True(t, id.Equal(ids.NewCommitId("112233")))

	res, _ = ix.ResolveCommitIdPrefix("aabb")
	require.Equal(t, AmbiguousMatch, res)

	res, _ = ix.ResolveCommitIdPrefix("ff")
	require.Equal(t, NoMatch, res)
}

func TestShortestUniqueCommitIdPrefixLen(t *testing.T) {
	ix := NewIndex(nil)
	mustAdd(t, ix, "aabbcc", "c0")
	mustAdd(t, ix, "aabbdd", "c1", "aabbcc")
	mustAdd(t, ix, "112233", "c2", "aabbdd")

	n := ix.ShortestUniqueCommitIdPrefixLen(ids.NewCommitId("aabbcc"))
	require.Equal(t, 5, n) // shares 4 leading hex digits (aabb) with "aabbdd"

	n = ix.ShortestUniqueCommitIdPrefixLen(ids.NewCommitId("112233"))
	require.Equal(t, 1, n) // no shared prefix with any neighbor
}

func TestResolveChangeIdPrefixDivergence(t *testing.T) {
	ix := NewIndex(nil)
	mustAdd(t, ix, "00", "c0")
	mustAdd(t, ix, "11", "cafe01", "00")
	mustAdd(t, ix, "22", "cafe01", "00") // divergent rewrite of the same change

	res, commits := ix.ResolveChangeIdPrefix("cafe")
	require.Equal(t, SingleMatch, res)
	require.Len(t, commits, 2)
}

func TestSaveThenLoadPreservesQueries(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)

	ix := buildLinear(t)
	seg, err := ix.Save(store)
	require.NoError(t, err)
	require.NotEmpty(t, seg.Id)

	loaded, err := store.Load(seg.Id)
	require.NoError(t, err)
	reopened := NewIndex(loaded)
	require.True(t, reopened.IsAncestor(ids.NewCommitId("00"), ids.NewCommitId("33")))
	g, ok := reopened.Generation(ids.NewCommitId("33"))
	require.True(t, ok)
	require.Equal(t, uint32(3), g)
}

func TestSquashPolicyMergesSmallSegmentIntoParent(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)

	base := NewIndex(nil)
	mustAdd(t, base, "00", "c0")
	mustAdd(t, base, "11", "c1", "00")
	mustAdd(t, base, "22", "c2", "11")
	mustAdd(t, base, "33", "c3", "22")
	baseSeg, err := base.Save(store)
	require.NoError(t, err)
	require.Equal(t, 4, baseSeg.LocalLen())

	// Three new commits are more than half of the 4-entry parent's size,
	// so Save must squash them into a single new segment rather than
	// chaining a tiny segment onto a much bigger one.
	next := NewIndex(baseSeg)
	mustAdd(t, next, "44", "c4", "33")
	mustAdd(t, next, "55", "c5", "44")
	mustAdd(t, next, "66", "c6", "55")
	nextSeg, err := next.Save(store)
	require.NoError(t, err)
	require.Nil(t, nextSeg.Parent)
	require.Equal(t, 7, nextSeg.LocalLen())
}
