// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package repo ties the stores together: the read-only repository
// snapshot materialized from one operation, the transaction-private MutableRepo
// that buffers mutations, descendant rebasing, and the publish protocol
// that turns a transaction into a new linked operation. It is the layer
// that ties modules/objstore, modules/commitindex, modules/pathindex,
// modules/opstore and modules/view together.
package repo

import (
	"context"
	"fmt"

	"github.com/latticevcs/core/modules/commitindex"
	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/mergedtree"
	"github.com/latticevcs/core/modules/objstore"
	"github.com/latticevcs/core/modules/opstore"
	"github.com/latticevcs/core/modules/pathindex"
	"github.com/latticevcs/core/modules/view"
)

// MutableRepo is the in-memory mutation buffer behind a transaction. It
// owns its view and index exclusively.
type MutableRepo struct {
	backend  objstore.Backend
	index    *commitindex.Index
	pathIdx  *pathindex.Index // nil disables the changed-path index
	view     *view.View
	parentOp *opstore.Operation

	// rewritten maps an old commit id to its replacement(s). A single
	// replacement rebases descendants; multiple replacements mark a
	// divergent rewrite that must NOT auto-rebase.
	rewritten map[string][]ids.CommitId
	// abandoned maps an abandoned commit id to the parents descendants
	// should be rebased onto.
	abandoned map[string][]ids.CommitId

	// predecessors accumulates this transaction's rewrite record, written
	// to operation.commit_predecessors on publish.
	predecessors map[ids.CommitId][]ids.CommitId

	// indexedCommits remembers, in insertion order, every commit this
	// transaction added to the index, so publish can extend the
	// changed-path index to cover exactly those.
	indexedCommits []ids.CommitId

	immutable map[string]bool
	changeSeq int
}

func newMutableRepo(base *ReadonlyRepo) *MutableRepo {
	var pathIdx *pathindex.Index
	if base.pathEnabled {
		pathIdx = pathindex.NewIndex(base.pathSegment)
	}
	return &MutableRepo{
		backend:      base.backend,
		index:        commitindex.NewIndex(base.indexSegment),
		pathIdx:      pathIdx,
		view:         base.view.Clone(),
		parentOp:     base.op,
		rewritten:    map[string][]ids.CommitId{},
		abandoned:    map[string][]ids.CommitId{},
		predecessors: map[ids.CommitId][]ids.CommitId{},
		immutable:    map[string]bool{},
	}
}

// View exposes the transaction's private view; mutations through it are
// visible to subsequent reads on the same repo immediately.
func (m *MutableRepo) View() *view.View { return m.view }

// Index exposes the transaction's private commit index.
func (m *MutableRepo) Index() *commitindex.Index { return m.index }

// SetImmutableCommits supplies the caller's immutable set. The root
// commit is always treated as immutable.
func (m *MutableRepo) SetImmutableCommits(commits ...ids.CommitId) {
	for _, c := range commits {
		m.immutable[c.String()] = true
	}
}

func (m *MutableRepo) checkMutable(id ids.CommitId) error {
	if id.IsZero() || m.immutable[id.String()] {
		return &ErrImmutable{Id: id}
	}
	return nil
}

// indexCommitWithAncestors inserts commit and any of its ancestors the
// parent index doesn't know yet. Parents are indexed before
// children so generation numbers come out right.
func (m *MutableRepo) indexCommitWithAncestors(ctx context.Context, id ids.CommitId) error {
	if id.IsZero() || m.index.HasId(id) {
		return nil
	}
	type frame struct {
		id      ids.CommitId
		visited bool
	}
	stack := []frame{{id: id}}
	commits := map[string]*objstore.Commit{}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.id.IsZero() || m.index.HasId(top.id) {
			stack = stack[:len(stack)-1]
			continue
		}
		c, ok := commits[top.id.String()]
		if !ok {
			var err error
			c, err = m.backend.GetCommit(ctx, top.id)
			if err != nil {
				return fmt.Errorf("repo: index ancestors of %s: %w", id, err)
			}
			commits[top.id.String()] = c
		}
		if !top.visited {
			top.visited = true
			for _, p := range c.Parents {
				if !p.IsZero() && !m.index.HasId(p) {
					stack = append(stack, frame{id: p})
				}
			}
			continue
		}
		stack = stack[:len(stack)-1]
		parents := indexableParents(c.Parents)
		if err := m.index.Add(c.Hash, c.ChangeId, parents); err != nil {
			return err
		}
		m.indexedCommits = append(m.indexedCommits, c.Hash)
	}
	return nil
}

// indexableParents drops the all-zero root id; the root commit is virtual
// and never stored, so the index treats its children as roots.
func indexableParents(parents []ids.CommitId) []ids.CommitId {
	out := parents[:0:0]
	for _, p := range parents {
		if !p.IsZero() {
			out = append(out, p)
		}
	}
	return out
}

// AddHead makes commit visible.
func (m *MutableRepo) AddHead(ctx context.Context, commit *objstore.Commit) error {
	if err := m.indexCommitWithAncestors(ctx, commit.Hash); err != nil {
		return err
	}
	m.view.AddHead(m.index, commit.Hash)
	return nil
}

// RemoveHead hides commit; the index keeps remembering it.
func (m *MutableRepo) RemoveHead(commitId ids.CommitId) {
	m.view.RemoveHead(commitId)
}

func (m *MutableRepo) SetWcCommit(workspace string, commitId ids.CommitId) {
	m.view.WorkspaceWC[workspace] = view.ResolvedTarget(commitId)
}

func (m *MutableRepo) RemoveWcCommit(workspace string) {
	delete(m.view.WorkspaceWC, workspace)
}

// ForgetWorkspace drops the workspace's bookkeeping only; its commit
// stays visible.
func (m *MutableRepo) ForgetWorkspace(workspace string) {
	m.view.ForgetWorkspace(workspace)
}

// RemoveWorkspace destroys the workspace and abandons its working-copy
// commit when that commit is discardable, the same rule edit(new)
// applies.
func (m *MutableRepo) RemoveWorkspace(ctx context.Context, workspace string) error {
	target, ok := m.view.WorkspaceWC[workspace]
	m.view.ForgetWorkspace(workspace)
	if !ok {
		return nil
	}
	wc, resolved := target.AsResolved()
	if !resolved || !wc.Present || wc.Id.IsZero() {
		return nil
	}
	discardable, err := m.isDiscardable(ctx, workspace, wc.Id)
	if err != nil {
		return err
	}
	if !discardable {
		return nil
	}
	return m.RecordAbandonedCommit(ctx, wc.Id)
}

func (m *MutableRepo) SetLocalBookmarkTarget(name string, target view.RefTarget) {
	if isAbsentTarget(target) {
		delete(m.view.LocalBookmarks, name)
		return
	}
	m.view.LocalBookmarks[name] = target
}

func (m *MutableRepo) SetRemoteBookmark(key view.RemoteRefKey, ref view.RemoteRef) {
	if isAbsentTarget(ref.Target) {
		delete(m.view.RemoteBookmarks, key)
		return
	}
	m.view.RemoteBookmarks[key] = ref
}

func (m *MutableRepo) SetTagTarget(name string, target view.RefTarget) {
	if isAbsentTarget(target) {
		delete(m.view.Tags, name)
		return
	}
	m.view.Tags[name] = target
}

func (m *MutableRepo) SetRemoteTag(key view.RemoteRefKey, ref view.RemoteRef) {
	if isAbsentTarget(ref.Target) {
		delete(m.view.RemoteTags, key)
		return
	}
	m.view.RemoteTags[key] = ref
}

func (m *MutableRepo) SetGitRefTarget(fullname string, target view.RefTarget) {
	if isAbsentTarget(target) {
		delete(m.view.GitRefs, fullname)
		return
	}
	m.view.GitRefs[fullname] = target
}

func (m *MutableRepo) SetGitHeadTarget(target view.RefTarget) {
	m.view.GitHead = target
}

// RenameRemote rewrites every remote bookmark and remote tag recorded for
// oldName to newName.
func (m *MutableRepo) RenameRemote(oldName, newName string) {
	renameRemoteIn(m.view.RemoteBookmarks, oldName, newName)
	renameRemoteIn(m.view.RemoteTags, oldName, newName)
}

func renameRemoteIn(refs map[view.RemoteRefKey]view.RemoteRef, oldName, newName string) {
	for key, ref := range refs {
		if key.Remote != oldName {
			continue
		}
		delete(refs, key)
		refs[view.RemoteRefKey{Name: key.Name, Remote: newName}] = ref
	}
}

func isAbsentTarget(t view.RefTarget) bool {
	return len(t.Adds) == 1 && len(t.Removes) == 0 && !t.Adds[0].Present
}

// SetDivergentRewrite records an ambiguous rewrite of old into several
// commits sharing its change id; descendants of old will NOT be
// auto-rebased.
func (m *MutableRepo) SetDivergentRewrite(old ids.CommitId, replacements []ids.CommitId) {
	m.rewritten[old.String()] = append([]ids.CommitId(nil), replacements...)
}

// RecordAbandonedCommit hides commit and marks its descendants for rebase
// onto commit's parents.
func (m *MutableRepo) RecordAbandonedCommit(ctx context.Context, commitId ids.CommitId) error {
	if err := m.checkMutable(commitId); err != nil {
		return err
	}
	c, err := m.backend.GetCommit(ctx, commitId)
	if err != nil {
		return err
	}
	parents := append([]ids.CommitId(nil), c.Parents...)
	m.abandoned[commitId.String()] = parents
	m.view.ReplaceHead(m.index, commitId, indexableParents(parents))
	m.retargetRefs(commitId, indexableParents(parents))
	return nil
}

// recordRewrite registers old -> new, moves the heads set and every ref
// pointing at old, and remembers the predecessor edge for the operation.
func (m *MutableRepo) recordRewrite(old, new_ ids.CommitId) {
	m.rewritten[old.String()] = []ids.CommitId{new_}
	m.view.ReplaceHead(m.index, old, []ids.CommitId{new_})
	// A second rewrite of the same commit (divergence in the making) no
	// longer finds old in the heads set; the successor still becomes
	// visible.
	m.view.AddHead(m.index, new_)
	m.retargetRefs(old, []ids.CommitId{new_})
}

// retargetRefs substitutes old for replacements in every RefTarget the
// view holds. A multi-commit replacement (an
// abandoned merge commit) produces a conflicted target.
func (m *MutableRepo) retargetRefs(old ids.CommitId, replacements []ids.CommitId) {
	retargetMap(m.view.WorkspaceWC, old, replacements)
	retargetMap(m.view.LocalBookmarks, old, replacements)
	retargetMap(m.view.Tags, old, replacements)
	retargetMap(m.view.GitRefs, old, replacements)
	m.view.GitHead = retargetTarget(m.view.GitHead, old, replacements)
	for key, ref := range m.view.RemoteBookmarks {
		ref.Target = retargetTarget(ref.Target, old, replacements)
		m.view.RemoteBookmarks[key] = ref
	}
	for key, ref := range m.view.RemoteTags {
		ref.Target = retargetTarget(ref.Target, old, replacements)
		m.view.RemoteTags[key] = ref
	}
}

func retargetMap(refs map[string]view.RefTarget, old ids.CommitId, replacements []ids.CommitId) {
	for name, t := range refs {
		refs[name] = retargetTarget(t, old, replacements)
	}
}

func retargetTarget(t view.RefTarget, old ids.CommitId, replacements []ids.CommitId) view.RefTarget {
	touches := false
	for _, a := range t.Adds {
		if a.Present && a.Id.Equal(old) {
			touches = true
		}
	}
	if !touches {
		return t
	}
	out := view.RefTarget{Removes: append([]view.OptionCommitId(nil), t.Removes...)}
	for _, a := range t.Adds {
		if !a.Present || !a.Id.Equal(old) {
			out.Adds = append(out.Adds, a)
			continue
		}
		if len(replacements) == 0 {
			out.Adds = append(out.Adds, view.Absent())
			continue
		}
		out.Adds = append(out.Adds, view.Present(replacements[0]))
		// Extra replacements widen the merge: each one adds a term pair
		// so the invariant len(adds) == len(removes)+1 holds.
		for _, r := range replacements[1:] {
			out.Adds = append(out.Adds, view.Present(r))
			out.Removes = append(out.Removes, view.Present(old))
		}
	}
	return out
}

// EditCommit moves workspace's @ to newCommit, abandoning the previously
// edited commit iff it is discardable.
func (m *MutableRepo) EditCommit(ctx context.Context, workspace string, newCommit ids.CommitId) error {
	prevTarget, hadPrev := m.view.WorkspaceWC[workspace]
	m.SetWcCommit(workspace, newCommit)
	if !hadPrev {
		return nil
	}
	prev, ok := prevTarget.AsResolved()
	if !ok || !prev.Present || prev.Id.Equal(newCommit) || prev.Id.IsZero() {
		return nil
	}
	discardable, err := m.isDiscardable(ctx, workspace, prev.Id)
	if err != nil {
		return err
	}
	if !discardable {
		return nil
	}
	return m.RecordAbandonedCommit(ctx, prev.Id)
}

// isDiscardable evaluates the discardable-commit rule for commitId as seen from
// workspace (the workspace whose @ is moving away from it).
func (m *MutableRepo) isDiscardable(ctx context.Context, workspace string, commitId ids.CommitId) (bool, error) {
	c, err := m.backend.GetCommit(ctx, commitId)
	if err != nil {
		return false, err
	}
	treeEqual, err := m.treeEqualsMergedParentTree(ctx, c)
	if err != nil {
		return false, err
	}
	params := view.DiscardableParams{
		HasDescription:         c.Description != "",
		SingleParent:           len(c.Parents) == 1,
		TreeEqualsMergedParent: treeEqual,
	}
	for _, t := range m.view.LocalBookmarks {
		if targetPointsAt(t, commitId) {
			params.ReferencedByBookmark = true
			break
		}
	}
	for ws, t := range m.view.WorkspaceWC {
		if ws != workspace && targetPointsAt(t, commitId) {
			params.IsWCOfAnotherWorkspace = true
			break
		}
	}
	if containsHead(m.view.Heads, commitId) {
		for _, h := range m.view.Heads {
			if !h.Equal(commitId) && m.index.IsAncestor(commitId, h) {
				params.IsVisibleHeadWithDescendants = true
				break
			}
		}
	}
	return view.IsDiscardable(params), nil
}

func targetPointsAt(t view.RefTarget, id ids.CommitId) bool {
	for _, a := range t.Adds {
		if a.Present && a.Id.Equal(id) {
			return true
		}
	}
	return false
}

func containsHead(heads []ids.CommitId, id ids.CommitId) bool {
	for _, h := range heads {
		if h.Equal(id) {
			return true
		}
	}
	return false
}

// treeEqualsMergedParentTree reports whether c's tree equals the merged
// tree of its parents (after trivial resolution on both sides).
func (m *MutableRepo) treeEqualsMergedParentTree(ctx context.Context, c *objstore.Commit) (bool, error) {
	parentTree, err := m.mergedParentTree(ctx, c.Parents)
	if err != nil {
		return false, err
	}
	return treesEquivalent(ctx, m.backend, mergedtree.New(m.backend, c.RootTree), parentTree)
}

// mergedParentTree builds the no-resolve merge of the parents' trees,
// tolerating parents whose own trees are conflicted.
func (m *MutableRepo) mergedParentTree(ctx context.Context, parents []ids.CommitId) (*mergedtree.MergedTree, error) {
	real := indexableParents(parents)
	if len(real) == 0 {
		return mergedtree.Resolved(m.backend, m.backend.EmptyTreeId()), nil
	}
	combined := merge.Merge[ids.TreeId]{}
	for i, p := range real {
		pc, err := m.backend.GetCommit(ctx, p)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			combined.Removes = append(combined.Removes, m.backend.EmptyTreeId())
		}
		combined.Adds = append(combined.Adds, pc.RootTree.Adds...)
		combined.Removes = append(combined.Removes, pc.RootTree.Removes...)
	}
	return mergedtree.New(m.backend, combined), nil
}

// treesEquivalent canonicalizes both sides through the idempotent merge
// (merge(x, x, x) = x) and compares term ids.
func treesEquivalent(ctx context.Context, backend objstore.Backend, a, b *mergedtree.MergedTree) (bool, error) {
	ca, err := mergedtree.Merge(ctx, backend, a, a, a)
	if err != nil {
		return false, err
	}
	cb, err := mergedtree.Merge(ctx, backend, b, b, b)
	if err != nil {
		return false, err
	}
	fa, fb := ca.Ids.Flatten(), cb.Ids.Flatten()
	if len(fa) != len(fb) {
		return false, nil
	}
	for i := range fa {
		if !fa[i].Equal(fb[i]) {
			return false, nil
		}
	}
	return true, nil
}

// newChangeId derives a fresh change id for a brand-new commit. The hash
// covers the parent operation, the commit's own inputs and a
// per-transaction counter, so two commits created in one transaction
// never collide while the result stays reproducible for tests.
func (m *MutableRepo) newChangeId(data *objstore.CommitData) ids.ChangeId {
	m.changeSeq++
	h := ids.NewHasher()
	h.Write([]byte("change\x00"))
	h.Write(m.parentOp.Id.Bytes())
	for _, p := range data.Parents {
		h.Write(p.Bytes())
	}
	for _, t := range data.RootTree.Adds {
		h.Write(t.Bytes())
	}
	h.Write([]byte(data.Description))
	h.Write([]byte(data.Author.String()))
	h.Write([]byte{byte(m.changeSeq), byte(m.changeSeq >> 8)})
	return ids.ChangeIdFromBytes(h.Sum(nil)[:16])
}
