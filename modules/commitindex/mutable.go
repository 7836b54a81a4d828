// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package commitindex

import (
	"fmt"

	"github.com/latticevcs/core/modules/ids"
)

// Index is the transaction-private view of the commit index: a readonly
// parent segment chain plus commits appended but not yet saved. A freshly
// opened composite (no pending writes) is just an Index with Pending
// empty: a mutable index is nothing more than a readonly parent segment
// plus in-memory appends.
type Index struct {
	parent  *Segment
	pending []Entry

	pendingPos map[string]int // commit id hex -> index into pending
}

// NewIndex wraps parent (nil for a brand-new repository) for querying and,
// optionally, appending.
func NewIndex(parent *Segment) *Index {
	return &Index{parent: parent, pendingPos: map[string]int{}}
}

func (ix *Index) parentGlobalLen() uint32 {
	if ix.parent == nil {
		return 0
	}
	return ix.parent.GlobalBase + uint32(len(ix.parent.Entries))
}

// HasId reports whether id is indexed, pending or saved.
func (ix *Index) HasId(id ids.CommitId) bool {
	_, ok := ix.findEntry(id)
	return ok
}

// findEntry returns an indexed commit's Entry, searching pending writes
// first (most recent), then the parent segment chain.
func (ix *Index) findEntry(id ids.CommitId) (Entry, bool) {
	hex := id.String()
	if i, ok := ix.pendingPos[hex]; ok {
		return ix.pending[i], true
	}
	for s := ix.parent; s != nil; s = s.Parent {
		if i, ok := s.byCommit[hex]; ok {
			return s.Entries[i], true
		}
	}
	return Entry{}, false
}

// Add indexes a new commit. Parents must already be indexed: generation
// is computed as one more than the greatest parent generation (0 for a
// root commit with no parents).
func (ix *Index) Add(commitId ids.CommitId, changeId ids.ChangeId, parents []ids.CommitId) error {
	if ix.HasId(commitId) {
		return nil
	}
	var generation uint32
	for _, p := range parents {
		pe, ok := ix.findEntry(p)
		if !ok {
			return fmt.Errorf("commitindex: parent %s of %s not indexed", p, commitId)
		}
		if pe.Generation+1 > generation {
			generation = pe.Generation + 1
		}
	}
	ix.pendingPos[commitId.String()] = len(ix.pending)
	ix.pending = append(ix.pending, Entry{
		CommitId:   commitId,
		ChangeId:   changeId,
		Generation: generation,
		Parents:    append([]ids.CommitId(nil), parents...),
	})
	return nil
}

// Generation returns an indexed commit's generation number.
func (ix *Index) Generation(id ids.CommitId) (uint32, bool) {
	e, ok := ix.findEntry(id)
	return e.Generation, ok
}

// Parents returns an indexed commit's recorded parents.
func (ix *Index) Parents(id ids.CommitId) ([]ids.CommitId, bool) {
	e, ok := ix.findEntry(id)
	return e.Parents, ok
}

// Save flushes pending entries into a new segment chained to the current
// parent, applying the squash policy before writing. The
// index adopts the freshly saved segment as its new (empty-pending) parent.
func (ix *Index) Save(store *Store) (*Segment, error) {
	if len(ix.pending) == 0 {
		return ix.parent, nil
	}
	entries := ix.pending
	parent := ix.parent
	globalBase := ix.parentGlobalLen()

	for parent != nil && len(entries) > parent.LocalLen()/2 {
		merged := make([]Entry, 0, parent.LocalLen()+len(entries))
		merged = append(merged, parent.Entries...)
		merged = append(merged, entries...)
		entries = merged
		globalBase = parent.GlobalBase
		parent = parent.Parent
	}

	seg := &Segment{Parent: parent, GlobalBase: globalBase, Entries: entries}
	buildIndexes(seg)
	if _, err := store.Save(seg); err != nil {
		return nil, err
	}
	ix.parent = seg
	ix.pending = nil
	ix.pendingPos = map[string]int{}
	return seg, nil
}
