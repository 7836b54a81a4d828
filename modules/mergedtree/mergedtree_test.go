// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package mergedtree

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticevcs/core/modules/ids"
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

func TestMergeIdempotentOnResolvedTree(t *testing.T) {
	ctx := context.Background()
	store := testbackend.New()
	f := writeFile(t, ctx, store, "hello\n")
	tr := writeTree(t, ctx, store, objstore.TreeEntry{Name: "a.txt", Value: objstore.NewFileValue(f, false, "")})
	x := Resolved(store, tr)

	merged, err := Merge(ctx, store, x, x, x)
	require.NoError(t, err)
	require.True(t, merged.IsResolved())
	id, _ := merged.Ids.AsResolved()
	require.True(t, id.Equal(tr))
}

func TestMergeCleanChangeOnOneSide(t *testing.T) {
	ctx := context.Background()
	store := testbackend.New()
	fBase := writeFile(t, ctx, store, "base\n")
	fSelf := writeFile(t, ctx, store, "self\n")

	base := writeTree(t, ctx, store, objstore.TreeEntry{Name: "a.txt", Value: objstore.NewFileValue(fBase, false, "")})
	self := writeTree(t, ctx, store, objstore.TreeEntry{Name: "a.txt", Value: objstore.NewFileValue(fSelf, false, "")})
	other := base // unchanged on the other side

	merged, err := Merge(ctx, store, Resolved(store, self), Resolved(store, base), Resolved(store, other))
	require.NoError(t, err)
	require.True(t, merged.IsResolved())
	id, _ := merged.Ids.AsResolved()
	require.True(t, id.Equal(self))
}

func TestMergeConflictStaysUnresolved(t *testing.T) {
	ctx := context.Background()
	store := testbackend.New()
	fBase := writeFile(t, ctx, store, "base\n")
	fSelf := writeFile(t, ctx, store, "self\n")
	fOther := writeFile(t, ctx, store, "other\n")

	base := writeTree(t, ctx, store, objstore.TreeEntry{Name: "a.txt", Value: objstore.NewFileValue(fBase, false, "")})
	self := writeTree(t, ctx, store, objstore.TreeEntry{Name: "a.txt", Value: objstore.NewFileValue(fSelf, false, "")})
	other := writeTree(t, ctx, store, objstore.TreeEntry{Name: "a.txt", Value: objstore.NewFileValue(fOther, false, "")})

	merged, err := Merge(ctx, store, Resolved(store, self), Resolved(store, base), Resolved(store, other))
	require.NoError(t, err)
	require.False(t, merged.IsResolved())
	require.Equal(t, 2, len(merged.Ids.Adds))
	require.Equal(t, 1, len(merged.Ids.Removes))
}

func TestDiffStreamSymmetry(t *testing.T) {
	ctx := context.Background()
	store := testbackend.New()
	f1 := writeFile(t, ctx, store, "one\n")
	f2 := writeFile(t, ctx, store, "two\n")
	a := writeTree(t, ctx, store, objstore.TreeEntry{Name: "x.txt", Value: objstore.NewFileValue(f1, false, "")})
	b := writeTree(t, ctx, store, objstore.TreeEntry{Name: "x.txt", Value: objstore.NewFileValue(f2, false, "")})

	ta, tb := Resolved(store, a), Resolved(store, b)
	fwd, err := ta.DiffStream(ctx, tb, AllMatcher{})
	require.NoError(t, err)
	bwd, err := tb.DiffStream(ctx, ta, AllMatcher{})
	require.NoError(t, err)
	require.Len(t, fwd, 1)
	require.Len(t, bwd, 1)
	require.Equal(t, fwd[0].Path, bwd[0].Path)
	fv, ok1 := fwd[0].Diff.Before.AsResolved()
	bv, ok2 := bwd[0].Diff.After.AsResolved()
	require.True(t, ok1)
	require.True(t, ok2)
	require.True(t, fv.Value.Equal(bv.Value))
}
