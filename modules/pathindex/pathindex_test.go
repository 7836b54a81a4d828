// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pathindex

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/mergedtree"
	"github.com/latticevcs/core/modules/objstore"
	"github.com/latticevcs/core/modules/objstore/testbackend"
)

func writeFile(t *testing.T, ctx context.Context, store objstore.Backend, content string) ids.FileId {
	t.Helper()
	id, err := store.WriteFile(ctx, "f", bytes.NewBufferString(content))
	require.NoError(t, err)
	return id
}

func writeTree(t *testing.T, ctx context.Context, store objstore.Backend, entries ...objstore.TreeEntry) ids.TreeId {
	t.Helper()
	id, err := store.WriteTree(ctx, "", &objstore.Tree{Entries: entries})
	require.NoError(t, err)
	return id
}

func commit(n int) ids.CommitId {
	return ids.NewCommitId(fmt.Sprintf("%02x", n))
}

func TestChangedPathsSingleParent(t *testing.T) {
	ctx := context.Background()
	store := testbackend.New()
	fa := writeFile(t, ctx, store, "a\n")
	fb := writeFile(t, ctx, store, "b\n")
	fb2 := writeFile(t, ctx, store, "b2\n")

	parentTreeId := writeTree(t, ctx, store,
		objstore.TreeEntry{Name: "a.txt", Value: objstore.NewFileValue(fa, false, "")},
		objstore.TreeEntry{Name: "b.txt", Value: objstore.NewFileValue(fb, false, "")},
	)
	commitTreeId := writeTree(t, ctx, store,
		objstore.TreeEntry{Name: "a.txt", Value: objstore.NewFileValue(fa, false, "")},
		objstore.TreeEntry{Name: "b.txt", Value: objstore.NewFileValue(fb2, false, "")},
	)

	parentTree := ParentMergeTree(store, []ids.TreeId{parentTreeId})
	commitTree := mergedtree.Resolved(store, commitTreeId)

	paths, err := ChangedPaths(ctx, parentTree, commitTree)
	require.NoError(t, err)
	require.Equal(t, []string{"b.txt"}, paths)
}

func TestChangedPathsRootCommitAgainstEmptyTree(t *testing.T) {
	ctx := context.Background()
	store := testbackend.New()
	fa := writeFile(t, ctx, store, "a\n")
	commitTreeId := writeTree(t, ctx, store, objstore.TreeEntry{Name: "a.txt", Value: objstore.NewFileValue(fa, false, "")})

	parentTree := ParentMergeTree(store, nil)
	commitTree := mergedtree.Resolved(store, commitTreeId)

	paths, err := ChangedPaths(ctx, parentTree, commitTree)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, paths)
}

func TestChangedPathsMergeCommitUnionsBothParents(t *testing.T) {
	ctx := context.Background()
	store := testbackend.New()
	fBase := writeFile(t, ctx, store, "base\n")
	fLeft := writeFile(t, ctx, store, "left\n")
	fRight := writeFile(t, ctx, store, "right\n")

	leftTree := writeTree(t, ctx, store,
		objstore.TreeEntry{Name: "shared.txt", Value: objstore.NewFileValue(fBase, false, "")},
		objstore.TreeEntry{Name: "left.txt", Value: objstore.NewFileValue(fLeft, false, "")},
	)
	rightTree := writeTree(t, ctx, store,
		objstore.TreeEntry{Name: "shared.txt", Value: objstore.NewFileValue(fBase, false, "")},
		objstore.TreeEntry{Name: "right.txt", Value: objstore.NewFileValue(fRight, false, "")},
	)
	mergeTree := writeTree(t, ctx, store,
		objstore.TreeEntry{Name: "shared.txt", Value: objstore.NewFileValue(fBase, false, "")},
		objstore.TreeEntry{Name: "left.txt", Value: objstore.NewFileValue(fLeft, false, "")},
		objstore.TreeEntry{Name: "right.txt", Value: objstore.NewFileValue(fRight, false, "")},
	)

	parentTree := ParentMergeTree(store, []ids.TreeId{leftTree, rightTree})
	commitTree := mergedtree.Resolved(store, mergeTree)

	paths, err := ChangedPaths(ctx, parentTree, commitTree)
	require.NoError(t, err)
	// shared.txt is identical on every side of the no-resolve merge, so it
	// must not appear even though it differs from either parent alone.
	require.Equal(t, []string{"left.txt", "right.txt"}, paths)
}

func TestIndexAddAndQuery(t *testing.T) {
	ix := NewIndex(nil)
	c1, c2, c3 := commit(1), commit(2), commit(3)
	ix.Add(c1, []string{"a.txt", "b.txt"})
	ix.Add(c2, []string{"b.txt"})
	ix.Add(c3, []string{"c.txt"})

	paths, ok := ix.PathsForCommit(c2)
	require.True(t, ok)
	require.Equal(t, []string{"b.txt"}, paths)

	touching := ix.CommitsForPath("b.txt")
	require.ElementsMatch(t, []ids.CommitId{c1, c2}, touching)
}

func TestIndexSaveThenLoadPreservesQueries(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "changed_paths"))
	require.NoError(t, err)

	ix := NewIndex(nil)
	c1, c2 := commit(1), commit(2)
	ix.Add(c1, []string{"a.txt"})
	ix.Add(c2, []string{"a.txt", "z.txt"})
	seg, err := ix.Save(store)
	require.NoError(t, err)
	require.NotEmpty(t, seg.Id)

	loaded, err := store.Load(seg.Id)
	require.NoError(t, err)

	ix2 := NewIndex(loaded)
	paths, ok := ix2.PathsForCommit(c2)
	require.True(t, ok)
	require.Equal(t, []string{"a.txt", "z.txt"}, paths)

	touching := ix2.CommitsForPath("a.txt")
	require.ElementsMatch(t, []ids.CommitId{c1, c2}, touching)
}

func TestSquashPolicyMergesSmallSegmentIntoParent(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "changed_paths"))
	require.NoError(t, err)

	parentIx := NewIndex(nil)
	for i := 1; i <= 4; i++ {
		parentIx.Add(commit(i), []string{"a.txt"})
	}
	parentSeg, err := parentIx.Save(store)
	require.NoError(t, err)
	require.Nil(t, parentSeg.Parent)

	childIx := NewIndex(parentSeg)
	for i := 5; i <= 7; i++ {
		childIx.Add(commit(i), []string{"b.txt"})
	}
	nextSeg, err := childIx.Save(store)
	require.NoError(t, err)

	// 3 new commits is more than half of the 4-entry parent, so the parent
	// must have been squashed into the new segment rather than chained.
	require.Nil(t, nextSeg.Parent)
	require.Len(t, nextSeg.Entries, 7)
}

func TestBuilderRespectsMaxCommits(t *testing.T) {
	ix := NewIndex(nil)
	b := &Builder{Index: ix, MaxCommits: 2}

	ok, err := b.Add(commit(1), []string{"a.txt"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Add(commit(2), []string{"b.txt"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Add(commit(3), []string{"c.txt"})
	require.NoError(t, err)
	require.False(t, ok)
}
