// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticevcs/core/modules/commitindex"
	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/objstore"
	"github.com/latticevcs/core/modules/objstore/testbackend"
	"github.com/latticevcs/core/modules/view"
)

func testSignature() objstore.Signature {
	return objstore.Signature{Name: "Test User", Email: "test@example.com", When: time.Unix(1700000000, 0).UTC()}
}

func initRepo(t *testing.T) (*Loader, *ReadonlyRepo, objstore.Backend) {
	t.Helper()
	backend := testbackend.New()
	loader, err := NewLoader(t.TempDir(), backend)
	require.NoError(t, err)
	repo, err := loader.Init(context.Background())
	require.NoError(t, err)
	return loader, repo, backend
}

func writeFileTree(t *testing.T, backend objstore.Backend, name, content string) ids.TreeId {
	t.Helper()
	ctx := context.Background()
	fileId, err := backend.WriteFile(ctx, name, strings.NewReader(content))
	require.NoError(t, err)
	treeId, err := backend.WriteTree(ctx, "", &objstore.Tree{
		Entries: []objstore.TreeEntry{{Name: name, Value: objstore.NewFileValue(fileId, false, "")}},
	})
	require.NoError(t, err)
	return treeId
}

func writeCommitOn(t *testing.T, m *MutableRepo, parents []ids.CommitId, tree ids.TreeId, desc string) *objstore.Commit {
	t.Helper()
	c, err := m.NewCommit(parents, merge.Resolved(tree)).
		SetDescription(desc).
		SetAuthor(testSignature()).
		Write(context.Background())
	require.NoError(t, err)
	return c
}

func TestInitAndLoad(t *testing.T) {
	loader, repo, _ := initRepo(t)
	require.NotNil(t, repo.View())
	wc, ok := repo.View().WorkspaceWC["default"]
	require.True(t, ok)
	resolved, ok := wc.AsResolved()
	require.True(t, ok)
	require.True(t, resolved.Id.IsZero())

	loaded, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.True(t, loaded.Operation().Id.Equal(repo.Operation().Id))
}

func TestLinearRewriteRebasesChild(t *testing.T) {
	// Rewrite A's description, expect the child rebased onto
	// the successor with its change id preserved.
	_, repo, backend := initRepo(t)
	ctx := context.Background()

	tx := repo.StartTransaction("setup")
	m := tx.MutableRepo()
	a := writeCommitOn(t, m, nil, writeFileTree(t, backend, "f", "a"), "A")
	b := writeCommitOn(t, m, []ids.CommitId{a.Hash}, writeFileTree(t, backend, "f", "b"), "B")
	repo2, err := tx.Commit(ctx)
	require.NoError(t, err)

	tx2 := repo2.StartTransaction("describe A")
	m2 := tx2.MutableRepo()
	aLoaded, err := backend.GetCommit(ctx, a.Hash)
	require.NoError(t, err)
	a2, err := m2.RewriteCommit(aLoaded).SetDescription("A2").Write(ctx)
	require.NoError(t, err)
	n, err := m2.RebaseDescendants(ctx, RebaseOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	repo3, err := tx2.Commit(ctx)
	require.NoError(t, err)

	require.Len(t, repo3.View().Heads, 1)
	bPrimeId := repo3.View().Heads[0]
	require.False(t, bPrimeId.Equal(b.Hash))
	bPrime, err := backend.GetCommit(ctx, bPrimeId)
	require.NoError(t, err)
	require.Len(t, bPrime.Parents, 1)
	require.True(t, bPrime.Parents[0].Equal(a2.Hash))
	require.True(t, bPrime.ChangeId.Equal(b.ChangeId))
	require.Equal(t, []ids.CommitId{b.Hash}, bPrime.Predecessors)

	// The rewrite A -> A2 is recorded in the operation.
	require.Equal(t, []ids.CommitId{a.Hash}, repo3.Operation().CommitPredecessors[a2.Hash])
}

func TestDivergentRewriteDoesNotRebase(t *testing.T) {
	// Two rewrites of A with the same change id leave the
	// child alone and surface both successors for the change id.
	_, repo, backend := initRepo(t)
	ctx := context.Background()

	tx := repo.StartTransaction("setup")
	m := tx.MutableRepo()
	a := writeCommitOn(t, m, nil, writeFileTree(t, backend, "f", "a"), "A")
	b := writeCommitOn(t, m, []ids.CommitId{a.Hash}, writeFileTree(t, backend, "f", "b"), "B")
	repo2, err := tx.Commit(ctx)
	require.NoError(t, err)

	tx2 := repo2.StartTransaction("diverge A")
	m2 := tx2.MutableRepo()
	aLoaded, err := backend.GetCommit(ctx, a.Hash)
	require.NoError(t, err)
	a2, err := m2.RewriteCommit(aLoaded).SetDescription("A2").Write(ctx)
	require.NoError(t, err)
	a3, err := m2.RewriteCommit(aLoaded).SetDescription("A3").Write(ctx)
	require.NoError(t, err)
	m2.SetDivergentRewrite(a.Hash, []ids.CommitId{a2.Hash, a3.Hash})

	n, err := m2.RebaseDescendants(ctx, RebaseOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, n)
	repo3, err := tx2.Commit(ctx)
	require.NoError(t, err)

	heads := map[string]bool{}
	for _, h := range repo3.View().Heads {
		heads[h.String()] = true
	}
	require.True(t, heads[a2.String()])
	require.True(t, heads[a3.String()])
	require.True(t, heads[b.Hash.String()], "descendant of a divergent rewrite must stay put")

	res, commits := repo3.Index().ResolveChangeIdPrefix(a.ChangeId.String())
	require.Equal(t, commitindex.SingleMatch, res)
	got := map[string]bool{}
	for _, c := range commits {
		got[c.String()] = true
	}
	require.True(t, got[a2.String()])
	require.True(t, got[a3.String()])
}

func TestConcurrentHeadAddAndRewriteMerge(t *testing.T) {
	// tx1 adds head B (child of A), tx2 rewrites A -> A'.
	// Both publish; the next load merges and rebases B onto A'.
	loader, repo0, backend := initRepo(t)
	ctx := context.Background()

	tx := repo0.StartTransaction("add A")
	a := writeCommitOn(t, tx.MutableRepo(), nil, writeFileTree(t, backend, "f", "a"), "A")
	repoA, err := tx.Commit(ctx)
	require.NoError(t, err)

	// Both transactions descend from the same operation.
	tx1 := repoA.StartTransaction("add B")
	tx2 := repoA.StartTransaction("rewrite A")

	b := writeCommitOn(t, tx1.MutableRepo(), []ids.CommitId{a.Hash}, writeFileTree(t, backend, "f", "b"), "B")

	aLoaded, err := backend.GetCommit(ctx, a.Hash)
	require.NoError(t, err)
	aPrime, err := tx2.MutableRepo().RewriteCommit(aLoaded).SetDescription("A'").Write(ctx)
	require.NoError(t, err)

	_, err = tx2.Commit(ctx)
	require.NoError(t, err)
	_, err = tx1.Commit(ctx)
	require.NoError(t, err)

	heads, err := loader.listOpHeads()
	require.NoError(t, err)
	require.Len(t, heads, 2)

	merged, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Len(t, merged.Operation().Parents, 2)
	require.Len(t, merged.View().Heads, 1)

	bPrime, err := backend.GetCommit(ctx, merged.View().Heads[0])
	require.NoError(t, err)
	require.Equal(t, "B", bPrime.Description)
	require.Len(t, bPrime.Parents, 1)
	require.True(t, bPrime.Parents[0].Equal(aPrime.Hash))
	require.True(t, bPrime.ChangeId.Equal(b.ChangeId))

	// The merge resolved the head races; only one op head remains.
	heads, err = loader.listOpHeads()
	require.NoError(t, err)
	require.Len(t, heads, 1)
}

func TestBookmarkDivergenceMergesToConflict(t *testing.T) {
	// Concurrent moves of the same bookmark produce a
	// conflicted RefTarget; an explicit set resolves it.
	loader, repo0, backend := initRepo(t)
	ctx := context.Background()

	tx := repo0.StartTransaction("setup")
	m := tx.MutableRepo()
	a := writeCommitOn(t, m, nil, writeFileTree(t, backend, "f", "a"), "A")
	c1 := writeCommitOn(t, m, []ids.CommitId{a.Hash}, writeFileTree(t, backend, "f", "c1"), "C1")
	c2 := writeCommitOn(t, m, []ids.CommitId{a.Hash}, writeFileTree(t, backend, "f", "c2"), "C2")
	m.SetLocalBookmarkTarget("main", view.ResolvedTarget(a.Hash))
	repo1, err := tx.Commit(ctx)
	require.NoError(t, err)

	tx1 := repo1.StartTransaction("main to C1")
	tx1.MutableRepo().SetLocalBookmarkTarget("main", view.ResolvedTarget(c1.Hash))
	tx2 := repo1.StartTransaction("main to C2")
	tx2.MutableRepo().SetLocalBookmarkTarget("main", view.ResolvedTarget(c2.Hash))

	_, err = tx1.Commit(ctx)
	require.NoError(t, err)
	_, err = tx2.Commit(ctx)
	require.NoError(t, err)

	merged, err := loader.Load(ctx)
	require.NoError(t, err)
	target := merged.View().LocalBookmarks["main"]
	require.Len(t, target.Adds, 2)
	require.Len(t, target.Removes, 1)
	adds := map[string]bool{}
	for _, o := range target.Adds {
		require.True(t, o.Present)
		adds[o.Id.String()] = true
	}
	require.True(t, adds[c1.Hash.String()])
	require.True(t, adds[c2.Hash.String()])
	require.True(t, target.Removes[0].Present)
	require.True(t, target.Removes[0].Id.Equal(a.Hash))

	// `bookmark set main -r C1` resolves the conflict.
	tx3 := merged.StartTransaction("set main")
	tx3.MutableRepo().SetLocalBookmarkTarget("main", view.ResolvedTarget(c1.Hash))
	repo4, err := tx3.Commit(ctx)
	require.NoError(t, err)
	resolved, ok := repo4.View().LocalBookmarks["main"].AsResolved()
	require.True(t, ok)
	require.True(t, resolved.Id.Equal(c1.Hash))
}

func TestRootCommitIsImmutable(t *testing.T) {
	_, repo, _ := initRepo(t)
	tx := repo.StartTransaction("abandon root")
	err := tx.MutableRepo().RecordAbandonedCommit(context.Background(), ids.ZeroCommitId)
	require.Error(t, err)
	require.True(t, IsErrImmutable(err))
}

func TestImmutableSetBlocksRewrite(t *testing.T) {
	_, repo, backend := initRepo(t)
	ctx := context.Background()

	tx := repo.StartTransaction("setup")
	m := tx.MutableRepo()
	a := writeCommitOn(t, m, nil, writeFileTree(t, backend, "f", "a"), "A")
	repo2, err := tx.Commit(ctx)
	require.NoError(t, err)

	tx2 := repo2.StartTransaction("rewrite immutable")
	m2 := tx2.MutableRepo()
	m2.SetImmutableCommits(a.Hash)
	aLoaded, err := backend.GetCommit(ctx, a.Hash)
	require.NoError(t, err)
	_, err = m2.RewriteCommit(aLoaded).SetDescription("nope").Write(ctx)
	require.Error(t, err)
	require.True(t, IsErrImmutable(err))
}

func TestEditDiscardsDiscardableCommit(t *testing.T) {
	// Moving @ away abandons the old commit iff it is discardable.
	_, repo, backend := initRepo(t)
	ctx := context.Background()

	tx := repo.StartTransaction("setup")
	m := tx.MutableRepo()
	a := writeCommitOn(t, m, nil, writeFileTree(t, backend, "f", "a"), "A")
	// Discardable: no description, single parent, tree equals parent's.
	empty, err := m.NewCommit([]ids.CommitId{a.Hash}, a.RootTree).SetAuthor(testSignature()).Write(ctx)
	require.NoError(t, err)
	m.SetWcCommit("default", empty.Hash)
	repo2, err := tx.Commit(ctx)
	require.NoError(t, err)

	tx2 := repo2.StartTransaction("edit A")
	m2 := tx2.MutableRepo()
	require.NoError(t, m2.EditCommit(ctx, "default", a.Hash))
	repo3, err := tx2.Commit(ctx)
	require.NoError(t, err)

	for _, h := range repo3.View().Heads {
		require.False(t, h.Equal(empty.Hash), "discardable wc commit must be abandoned")
	}

	// The abandoned commit stays in the index and now surfaces as a
	// dangling head for object-store sweeps.
	dangling := repo3.DanglingCommitHeads()
	found := false
	for _, h := range dangling {
		if h.Equal(empty.Hash) {
			found = true
		}
	}
	require.True(t, found)
}

func TestEditKeepsCommitWithDescription(t *testing.T) {
	_, repo, backend := initRepo(t)
	ctx := context.Background()

	tx := repo.StartTransaction("setup")
	m := tx.MutableRepo()
	a := writeCommitOn(t, m, nil, writeFileTree(t, backend, "f", "a"), "A")
	described, err := m.NewCommit([]ids.CommitId{a.Hash}, a.RootTree).
		SetDescription("work in progress").
		SetAuthor(testSignature()).
		Write(ctx)
	require.NoError(t, err)
	m.SetWcCommit("default", described.Hash)
	repo2, err := tx.Commit(ctx)
	require.NoError(t, err)

	tx2 := repo2.StartTransaction("edit A")
	m2 := tx2.MutableRepo()
	require.NoError(t, m2.EditCommit(ctx, "default", a.Hash))
	repo3, err := tx2.Commit(ctx)
	require.NoError(t, err)

	found := false
	for _, h := range repo3.View().Heads {
		if h.Equal(described.Hash) {
			found = true
		}
	}
	require.True(t, found, "described commit must survive edit-away")
}

func TestAbandonRebasesOntoParents(t *testing.T) {
	_, repo, backend := initRepo(t)
	ctx := context.Background()

	tx := repo.StartTransaction("setup")
	m := tx.MutableRepo()
	a := writeCommitOn(t, m, nil, writeFileTree(t, backend, "f", "a"), "A")
	b := writeCommitOn(t, m, []ids.CommitId{a.Hash}, writeFileTree(t, backend, "f", "b"), "B")
	c := writeCommitOn(t, m, []ids.CommitId{b.Hash}, writeFileTree(t, backend, "f", "c"), "C")
	repo2, err := tx.Commit(ctx)
	require.NoError(t, err)

	tx2 := repo2.StartTransaction("abandon B")
	m2 := tx2.MutableRepo()
	require.NoError(t, m2.RecordAbandonedCommit(ctx, b.Hash))
	n, err := m2.RebaseDescendants(ctx, RebaseOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	repo3, err := tx2.Commit(ctx)
	require.NoError(t, err)

	require.Len(t, repo3.View().Heads, 1)
	cPrime, err := backend.GetCommit(ctx, repo3.View().Heads[0])
	require.NoError(t, err)
	require.Equal(t, "C", cPrime.Description)
	require.Len(t, cPrime.Parents, 1)
	require.True(t, cPrime.Parents[0].Equal(a.Hash))
	require.True(t, cPrime.ChangeId.Equal(c.ChangeId))
}

func TestReparentDescendantsKeepsTrees(t *testing.T) {
	_, repo, backend := initRepo(t)
	ctx := context.Background()

	tx := repo.StartTransaction("setup")
	m := tx.MutableRepo()
	a := writeCommitOn(t, m, nil, writeFileTree(t, backend, "f", "a"), "A")
	b := writeCommitOn(t, m, []ids.CommitId{a.Hash}, writeFileTree(t, backend, "f", "b"), "B")
	repo2, err := tx.Commit(ctx)
	require.NoError(t, err)

	tx2 := repo2.StartTransaction("reparent")
	m2 := tx2.MutableRepo()
	aLoaded, err := backend.GetCommit(ctx, a.Hash)
	require.NoError(t, err)
	a2, err := m2.RewriteCommit(aLoaded).SetDescription("A2").Write(ctx)
	require.NoError(t, err)
	n, err := m2.ReparentDescendants(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	repo3, err := tx2.Commit(ctx)
	require.NoError(t, err)

	require.Len(t, repo3.View().Heads, 1)
	bPrime, err := backend.GetCommit(ctx, repo3.View().Heads[0])
	require.NoError(t, err)
	require.True(t, bPrime.Parents[0].Equal(a2.Hash))
	// The tree is bit-identical to the original's.
	require.Equal(t, b.RootTree.Adds[0].String(), bPrime.RootTree.Adds[0].String())
}

func TestChangedPathIndexCoversNewCommits(t *testing.T) {
	_, repo, backend := initRepo(t)
	ctx := context.Background()

	tx := repo.StartTransaction("add commits")
	m := tx.MutableRepo()
	a := writeCommitOn(t, m, nil, writeFileTree(t, backend, "f", "a"), "A")
	repo2, err := tx.Commit(ctx)
	require.NoError(t, err)

	require.NotNil(t, repo2.PathIndex())
	paths, ok := repo2.PathIndex().PathsForCommit(a.Hash)
	require.True(t, ok)
	require.Equal(t, []string{"f"}, paths)
	commits := repo2.PathIndex().CommitsForPath("f")
	require.Len(t, commits, 1)
	require.True(t, commits[0].Equal(a.Hash))
}

func TestIndexRebuildAfterCorruptOpLink(t *testing.T) {
	loader, repo, backend := initRepo(t)
	ctx := context.Background()

	tx := repo.StartTransaction("add A")
	a := writeCommitOn(t, tx.MutableRepo(), nil, writeFileTree(t, backend, "f", "a"), "A")
	repo2, err := tx.Commit(ctx)
	require.NoError(t, err)

	// Clobber the op link; the loader must rebuild the index from the
	// object store instead of failing.
	require.NoError(t, writeCorruptFile(loader.opLinkPath(repo2.Operation().Id)))

	reloaded, err := loader.Load(ctx)
	require.NoError(t, err)
	require.True(t, reloaded.Index().HasId(a.Hash))
}

func writeCorruptFile(path string) error {
	return os.WriteFile(path, []byte("not an op link"), 0o666)
}
