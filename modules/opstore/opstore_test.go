// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package opstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticevcs/core/modules/ids"
)

func mustSave(t *testing.T, s *Store, parents []ids.OperationId, desc string) ids.OperationId {
	t.Helper()
	id, err := s.SaveOperation(&Operation{
		Parents:     parents,
		ViewId:      ids.NewViewId("aa"),
		Description: desc,
		Timestamp:   time.Unix(1000, 0),
	})
	require.NoError(t, err)
	return id
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "op_store"))
	require.NoError(t, err)
	return s
}

func TestSaveLoadOperationRoundTrip(t *testing.T) {
	s := openStore(t)
	c1 := ids.NewCommitId("11")
	c2 := ids.NewCommitId("22")
	id, err := s.SaveOperation(&Operation{
		Parents:            []ids.OperationId{ids.ZeroOperationId},
		ViewId:             ids.NewViewId("aa"),
		Description:        "initial commit",
		Timestamp:          time.Unix(1000, 0),
		CommitPredecessors: map[ids.CommitId][]ids.CommitId{c1: {c2}},
	})
	require.NoError(t, err)

	loaded, err := s.LoadOperation(id)
	require.NoError(t, err)
	require.Equal(t, "initial commit", loaded.Description)
	require.Equal(t, []ids.CommitId{c2}, loaded.CommitPredecessors[c1])
	require.True(t, loaded.Parents[0].Equal(ids.ZeroOperationId))
}

func TestLoadRootOperationIsZeroWithNoPersistence(t *testing.T) {
	s := openStore(t)
	op, err := s.LoadOperation(ids.ZeroOperationId)
	require.NoError(t, err)
	require.True(t, op.IsRoot())
}

func TestWalkAncestorsLinearChain(t *testing.T) {
	s := openStore(t)
	o1 := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "o1")
	o2 := mustSave(t, s, []ids.OperationId{o1}, "o2")
	o3 := mustSave(t, s, []ids.OperationId{o2}, "o3")

	ops, err := s.WalkAncestors([]ids.OperationId{o3})
	require.NoError(t, err)
	require.Len(t, ops, 3)

	seen := map[string]bool{}
	for _, op := range ops {
		seen[op.Id.String()] = true
	}
	require.True(t, seen[o1.String()])
	require.True(t, seen[o2.String()])
	require.True(t, seen[o3.String()])
}

func TestWalkAncestorsRangeExcludesRoots(t *testing.T) {
	s := openStore(t)
	o1 := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "o1")
	o2 := mustSave(t, s, []ids.OperationId{o1}, "o2")
	o3 := mustSave(t, s, []ids.OperationId{o2}, "o3")

	ops, err := s.WalkAncestorsRange([]ids.OperationId{o3}, []ids.OperationId{o1})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	for _, op := range ops {
		require.NotEqual(t, o1.String(), op.Id.String())
	}
}

func TestResolverHeadAndPrefix(t *testing.T) {
	s := openStore(t)
	o1 := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "o1")
	o2 := mustSave(t, s, []ids.OperationId{o1}, "o2")

	r := NewResolver(s, o2)
	got, err := r.Resolve("@")
	require.NoError(t, err)
	require.True(t, got.Equal(o2))

	got, err = r.Resolve(o1.String())
	require.NoError(t, err)
	require.True(t, got.Equal(o1))

	got, err = r.Resolve(o1.String()[:4])
	require.NoError(t, err)
	require.True(t, got.Equal(o1))
}

func TestResolverParentAndChildChains(t *testing.T) {
	s := openStore(t)
	o1 := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "o1")
	o2 := mustSave(t, s, []ids.OperationId{o1}, "o2")
	o3 := mustSave(t, s, []ids.OperationId{o2}, "o3")

	r := NewResolver(s, o3)
	got, err := r.Resolve(o2.String() + "-")
	require.NoError(t, err)
	require.True(t, got.Equal(o1))

	got, err = r.Resolve(o1.String() + "++")
	require.NoError(t, err)
	require.True(t, got.Equal(o3))
}

func TestResolverRootIsAlwaysResolvable(t *testing.T) {
	s := openStore(t)
	r := NewResolver(s, ids.ZeroOperationId)
	got, err := r.Resolve(ids.ZeroOperationId.String())
	require.NoError(t, err)
	require.True(t, got.Equal(ids.ZeroOperationId))
}

func TestResolverRejectsEmptyReference(t *testing.T) {
	s := openStore(t)
	// With two operations stored, an empty reference is still rejected as
	// a resolution error rather than matched against every id.
	mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "a")
	mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "b")

	r := NewResolver(s, ids.ZeroOperationId)
	_, err := r.Resolve("")
	require.Error(t, err)
	require.True(t, IsErrResolution(err))
}

func TestGCRemovesUnreachableOlderThanCutoff(t *testing.T) {
	s := openStore(t)
	o1 := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "o1")
	o2 := mustSave(t, s, []ids.OperationId{o1}, "o2")
	o3 := mustSave(t, s, []ids.OperationId{o2}, "o3")
	o4 := mustSave(t, s, []ids.OperationId{o3}, "o4")

	// Retain only o4; every ancestor is unreachable from it alone... but
	// o4's own ancestry includes o1..o3, so retain a head that does NOT
	// descend from them to exercise real deletion.
	orphanHead := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "orphan")

	require.NoError(t, s.GC([]ids.OperationId{orphanHead}, time.Now().Add(time.Hour)))

	_, err := s.LoadOperation(o1)
	require.True(t, IsErrNotFound(err))
	_, err = s.LoadOperation(o4)
	require.True(t, IsErrNotFound(err))
	_, err = s.LoadOperation(orphanHead)
	require.NoError(t, err)
}

func TestGCKeepsFilesNewerThanCutoff(t *testing.T) {
	s := openStore(t)
	o1 := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "o1")
	orphanHead := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "orphan")

	// A cutoff in the past means o1, though unreachable from orphanHead,
	// is newer than the cutoff and must survive.
	require.NoError(t, s.GC([]ids.OperationId{orphanHead}, time.Now().Add(-time.Hour)))

	_, err := s.LoadOperation(o1)
	require.NoError(t, err)
}

func TestReparentRangeRewritesParentLinks(t *testing.T) {
	s := openStore(t)
	o1 := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "o1")
	o2 := mustSave(t, s, []ids.OperationId{o1}, "o2")
	o3 := mustSave(t, s, []ids.OperationId{o2}, "o3")
	newBase := mustSave(t, s, []ids.OperationId{ids.ZeroOperationId}, "new-base")

	newHeads, err := s.ReparentRange([]ids.OperationId{o1}, []ids.OperationId{o3}, newBase)
	require.NoError(t, err)
	require.Len(t, newHeads, 1)

	rewrittenOp, err := s.LoadOperation(newHeads[0])
	require.NoError(t, err)
	require.Equal(t, "o3", rewrittenOp.Description)
}

func TestWalkPredecessorsPrefersOperationRecordOverFallback(t *testing.T) {
	s := openStore(t)
	c1 := ids.NewCommitId("aa")
	c2 := ids.NewCommitId("bb")
	o1, err := s.SaveOperation(&Operation{
		Parents:            []ids.OperationId{ids.ZeroOperationId},
		ViewId:             ids.NewViewId("aa"),
		Timestamp:          time.Unix(1000, 0),
		CommitPredecessors: map[ids.CommitId][]ids.CommitId{c1: {c2}},
	})
	require.NoError(t, err)

	fallbackCalled := false
	fallback := func(commitId ids.CommitId) ([]ids.CommitId, bool) {
		fallbackCalled = true
		return nil, false
	}

	edges, err := s.WalkPredecessors([]ids.OperationId{o1}, []ids.CommitId{c1}, fallback)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, []ids.CommitId{c2}, edges[0].PredecessorIds)
	require.False(t, fallbackCalled)
}
