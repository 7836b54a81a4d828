// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pathindex

import (
	"sort"

	"github.com/latticevcs/core/modules/ids"
)

// Index is the transaction-private view: a readonly parent segment chain
// plus commits indexed but not yet saved, mirroring
// modules/commitindex.Index.
type Index struct {
	parent  *Segment
	pending []commitPaths
}

func NewIndex(parent *Segment) *Index {
	return &Index{parent: parent}
}

func (ix *Index) parentGlobalLen() uint32 {
	if ix.parent == nil {
		return 0
	}
	return ix.parent.GlobalBase + uint32(len(ix.parent.Entries))
}

// HasId reports whether commitId already has a recorded changed-path set.
func (ix *Index) HasId(commitId ids.CommitId) bool {
	_, ok := ix.PathsForCommit(commitId)
	return ok
}

// Add records paths (expected pre-sorted and deduplicated, as ChangedPaths
// returns) as commitId's changed-path set.
func (ix *Index) Add(commitId ids.CommitId, paths []string) {
	if ix.HasId(commitId) {
		return
	}
	ix.pending = append(ix.pending, commitPaths{commitId: commitId, paths: paths})
}

// PathsForCommit searches pending writes, then the parent segment chain.
func (ix *Index) PathsForCommit(commitId ids.CommitId) ([]string, bool) {
	for _, cp := range ix.pending {
		if cp.commitId.Equal(commitId) {
			return cp.paths, true
		}
	}
	for s := ix.parent; s != nil; s = s.Parent {
		if paths, ok := s.PathsForCommit(commitId); ok {
			return paths, true
		}
	}
	return nil, false
}

// CommitsForPath returns every indexed commit whose changed-path set
// contains path, across pending writes and the segment chain.
func (ix *Index) CommitsForPath(path string) []ids.CommitId {
	var out []ids.CommitId
	for _, cp := range ix.pending {
		for _, p := range cp.paths {
			if p == path {
				out = append(out, cp.commitId)
				break
			}
		}
	}
	for s := ix.parent; s != nil; s = s.Parent {
		idx, ok := s.pathLocalIndex(path)
		if !ok {
			continue
		}
		for _, pos := range s.byPathIndex[idx] {
			out = append(out, s.Entries[pos].CommitId)
		}
	}
	return out
}

// Save flushes pending commits into a new segment, applying the same
// squash policy as modules/commitindex: if the pending set has more than
// half the commits of the immediate parent segment, merge them before
// saving, recursively.
func (ix *Index) Save(store *Store) (*Segment, error) {
	if len(ix.pending) == 0 {
		return ix.parent, nil
	}
	commits := ix.pending
	parent := ix.parent
	globalBase := ix.parentGlobalLen()

	for parent != nil && len(commits) > parent.LocalLen()/2 {
		merged := make([]commitPaths, 0, parent.LocalLen()+len(commits))
		for _, e := range parent.Entries {
			paths := make([]string, len(e.PathIndices))
			for i, idx := range e.PathIndices {
				paths[i] = parent.Paths[idx]
			}
			merged = append(merged, commitPaths{commitId: e.CommitId, paths: paths})
		}
		merged = append(merged, commits...)
		commits = merged
		globalBase = parent.GlobalBase
		parent = parent.Parent
	}

	paths, index := internPaths(commits)
	entries := make([]Entry, len(commits))
	for i, c := range commits {
		idxs := make([]int, len(c.paths))
		for j, p := range c.paths {
			idxs[j] = index[p]
		}
		sort.Ints(idxs)
		entries[i] = Entry{CommitId: c.commitId, PathIndices: idxs}
	}

	seg := &Segment{Parent: parent, GlobalBase: globalBase, Paths: paths, Entries: entries}
	buildIndexes(seg)
	if _, err := store.Save(seg); err != nil {
		return nil, err
	}
	ix.parent = seg
	ix.pending = nil
	return seg, nil
}

// Builder extends an Index's coverage by indexing commits one at a time up
// to a max_commits budget; Flush saves what was added.
type Builder struct {
	Index      *Index
	Store      *Store
	MaxCommits int
}

// Add indexes one more commit if the builder's budget allows. Once
// MaxCommits commits are pending it adds nothing and returns false
// without error, so the caller knows to stop walking; Add never saves.
func (b *Builder) Add(commitId ids.CommitId, paths []string) (bool, error) {
	if b.MaxCommits > 0 && len(b.Index.pending) >= b.MaxCommits {
		return false, nil
	}
	b.Index.Add(commitId, paths)
	return true, nil
}

// Flush saves whatever the builder has accumulated.
func (b *Builder) Flush() (*Segment, error) {
	return b.Index.Save(b.Store)
}
