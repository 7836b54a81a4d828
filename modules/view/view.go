// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package view

import (
	"sort"

	"github.com/latticevcs/core/modules/ids"
)

// AncestryIndex is the subset of modules/commitindex.Index that heads-set
// maintenance and view merging need; kept as an interface so this package
// depends on the concept, not the concrete index.
type AncestryIndex interface {
	IsAncestor(a, b ids.CommitId) bool
	Heads(candidates []ids.CommitId) []ids.CommitId
}

// RemoteRefKey names a remote bookmark or remote tag: the local name plus
// the remote it tracks.
type RemoteRefKey struct {
	Name   string
	Remote string
}

// View is the set of visible heads and refs at one moment (GLOSSARY).
type View struct {
	Heads []ids.CommitId

	WorkspaceWC     map[string]RefTarget
	LocalBookmarks  map[string]RefTarget
	Tags            map[string]RefTarget
	GitRefs         map[string]RefTarget
	GitHead         RefTarget
	RemoteBookmarks map[RemoteRefKey]RemoteRef
	RemoteTags      map[RemoteRefKey]RemoteRef
}

func New() *View {
	return &View{
		WorkspaceWC:     map[string]RefTarget{},
		LocalBookmarks:  map[string]RefTarget{},
		Tags:            map[string]RefTarget{},
		GitRefs:         map[string]RefTarget{},
		GitHead:         AbsentTarget(),
		RemoteBookmarks: map[RemoteRefKey]RemoteRef{},
		RemoteTags:      map[RemoteRefKey]RemoteRef{},
	}
}

// Clone makes an independent copy, since a MutableRepo owns its view
// exclusively.
func (v *View) Clone() *View {
	out := New()
	out.Heads = append(out.Heads, v.Heads...)
	for k, t := range v.WorkspaceWC {
		out.WorkspaceWC[k] = t
	}
	for k, t := range v.LocalBookmarks {
		out.LocalBookmarks[k] = t
	}
	for k, t := range v.Tags {
		out.Tags[k] = t
	}
	for k, t := range v.GitRefs {
		out.GitRefs[k] = t
	}
	out.GitHead = v.GitHead
	for k, r := range v.RemoteBookmarks {
		out.RemoteBookmarks[k] = r
	}
	for k, r := range v.RemoteTags {
		out.RemoteTags[k] = r
	}
	return out
}

func containsCommit(set []ids.CommitId, id ids.CommitId) bool {
	for _, c := range set {
		if c.Equal(id) {
			return true
		}
	}
	return false
}

func removeCommit(set []ids.CommitId, id ids.CommitId) []ids.CommitId {
	out := set[:0:0]
	for _, c := range set {
		if !c.Equal(id) {
			out = append(out, c)
		}
	}
	return out
}

// AddHead makes commit visible, removing from the heads set any existing
// head that commit is now a descendant of.
func (v *View) AddHead(index AncestryIndex, commit ids.CommitId) {
	if containsCommit(v.Heads, commit) {
		return
	}
	kept := v.Heads[:0:0]
	for _, h := range v.Heads {
		if !index.IsAncestor(h, commit) {
			kept = append(kept, h)
		}
	}
	v.Heads = append(kept, commit)
	v.sortHeads()
}

// RemoveHead hides commit: it is removed from the visible-heads set
// without touching the index.
func (v *View) RemoveHead(commit ids.CommitId) {
	v.Heads = removeCommit(v.Heads, commit)
}

// ReplaceHead handles abandonment/rewrite of a commit that was (or might
// have been) a head: its former position in the heads set is replaced by
// replacements, then the whole set is pruned back down to an antichain.
func (v *View) ReplaceHead(index AncestryIndex, old ids.CommitId, replacements []ids.CommitId) {
	wasHead := containsCommit(v.Heads, old)
	next := removeCommit(v.Heads, old)
	if wasHead {
		next = append(next, replacements...)
	}
	v.Heads = index.Heads(dedupCommits(next))
	v.sortHeads()
}

func dedupCommits(ids_ []ids.CommitId) []ids.CommitId {
	seen := map[string]bool{}
	out := ids_[:0:0]
	for _, c := range ids_ {
		if !seen[c.String()] {
			seen[c.String()] = true
			out = append(out, c)
		}
	}
	return out
}

func (v *View) sortHeads() {
	sort.Slice(v.Heads, func(i, j int) bool { return v.Heads[i].Compare(v.Heads[j]) < 0 })
}

// ForgetWorkspace drops a workspace's bookkeeping entry without touching
// the commit it pointed at; the caller decides separately whether that
// commit should be abandoned (the distinction between forgetting and
// removing a workspace).
func (v *View) ForgetWorkspace(name string) {
	delete(v.WorkspaceWC, name)
}

// MergeViews 3-way merges every field of self and other against base, the
// common-ancestor operation's view.
func MergeViews(index AncestryIndex, self, base, other *View) *View {
	out := New()

	headSet := map[string]ids.CommitId{}
	for _, h := range self.Heads {
		headSet[h.String()] = h
	}
	for _, h := range other.Heads {
		headSet[h.String()] = h
	}
	for _, h := range base.Heads {
		// A head present in base but dropped by both sides stays
		// dropped; one still present in either side survives, pruned
		// back to an antichain below.
		if !containsCommit(self.Heads, h) && !containsCommit(other.Heads, h) {
			delete(headSet, h.String())
		}
	}
	merged := make([]ids.CommitId, 0, len(headSet))
	for _, h := range headSet {
		merged = append(merged, h)
	}
	out.Heads = index.Heads(merged)
	out.sortHeads()

	mergeTargetMaps(out.WorkspaceWC, self.WorkspaceWC, base.WorkspaceWC, other.WorkspaceWC)
	mergeTargetMaps(out.LocalBookmarks, self.LocalBookmarks, base.LocalBookmarks, other.LocalBookmarks)
	mergeTargetMaps(out.Tags, self.Tags, base.Tags, other.Tags)
	mergeTargetMaps(out.GitRefs, self.GitRefs, base.GitRefs, other.GitRefs)
	out.GitHead = MergeRefTargets(self.GitHead, base.GitHead, other.GitHead)
	mergeRemoteMaps(out.RemoteBookmarks, self.RemoteBookmarks, base.RemoteBookmarks, other.RemoteBookmarks)
	mergeRemoteMaps(out.RemoteTags, self.RemoteTags, base.RemoteTags, other.RemoteTags)

	return out
}

func mergeTargetMaps(out, self, base, other map[string]RefTarget) {
	names := map[string]bool{}
	for n := range self {
		names[n] = true
	}
	for n := range base {
		names[n] = true
	}
	for n := range other {
		names[n] = true
	}
	for n := range names {
		merged := MergeRefTargets(self[n], base[n], other[n])
		if len(merged.Adds) == 1 && merged.Removes == nil && !merged.Adds[0].Present {
			continue // fully-merged absence: drop the entry, same as never having set it
		}
		out[n] = merged
	}
}

func mergeRemoteMaps(out, self, base, other map[RemoteRefKey]RemoteRef) {
	keys := map[RemoteRefKey]bool{}
	for k := range self {
		keys[k] = true
	}
	for k := range base {
		keys[k] = true
	}
	for k := range other {
		keys[k] = true
	}
	for k := range keys {
		merged := MergeRemoteRefs(self[k], base[k], other[k])
		if len(merged.Target.Adds) == 1 && merged.Target.Removes == nil && !merged.Target.Adds[0].Present {
			continue
		}
		out[k] = merged
	}
}
