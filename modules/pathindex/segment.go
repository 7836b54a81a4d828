// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package pathindex implements the changed-path index
// accelerating "which commits touched path P" and "what paths changed in
// commit C". It is optional — a nil *Store simply disables the feature for
// callers that choose not to build one. Segment encoding and the
// content-addressed store mirror modules/commitindex's (same "plain
// tables, zstd-compressed" layout), since both are append-only,
// squash-on-save, segment-chained indexes over the same commit sequence.
package pathindex

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/latticevcs/core/modules/ids"
)

// Entry is one commit's changed-path set, as indices into the segment's
// own sorted, deduplicated path table.
type Entry struct {
	CommitId    ids.CommitId
	PathIndices []int
}

// Segment is an immutable slice of the changed-path index, chained to a
// Parent the same way commitindex.Segment is.
type Segment struct {
	Id         string
	Parent     *Segment
	GlobalBase uint32
	Paths      []string // sorted, deduplicated within this segment
	Entries    []Entry

	byCommit    map[string]int // commit id hex -> local pos
	byPathIndex map[int][]int // path index into Paths -> local entry positions touching it
}

func (s *Segment) LocalLen() int { return len(s.Entries) }

func buildIndexes(s *Segment) {
	s.byCommit = make(map[string]int, len(s.Entries))
	s.byPathIndex = map[int][]int{}
	for i, e := range s.Entries {
		s.byCommit[e.CommitId.String()] = i
		for _, idx := range e.PathIndices {
			s.byPathIndex[idx] = append(s.byPathIndex[idx], i)
		}
	}
}

// pathLocalIndex returns the local index of path within this segment's
// sorted Paths table, by binary search.
func (s *Segment) pathLocalIndex(path string) (int, bool) {
	i := sort.SearchStrings(s.Paths, path)
	if i < len(s.Paths) && s.Paths[i] == path {
		return i, true
	}
	return 0, false
}

// PathsForCommit returns the sorted changed paths recorded for commitId in
// this segment, or false if this segment doesn't carry it (callers then
// check Parent).
func (s *Segment) PathsForCommit(commitId ids.CommitId) ([]string, bool) {
	pos, ok := s.byCommit[commitId.String()]
	if !ok {
		return nil, false
	}
	e := s.Entries[pos]
	out := make([]string, len(e.PathIndices))
	for i, idx := range e.PathIndices {
		out[i] = s.Paths[idx]
	}
	return out, true
}

func (s *Segment) encode() ([]byte, error) {
	var buf bytes.Buffer
	parentId := ""
	if s.Parent != nil {
		parentId = s.Parent.Id
	}
	writeString(&buf, parentId)
	binary.Write(&buf, binary.LittleEndian, s.GlobalBase)
	binary.Write(&buf, binary.LittleEndian, uint32(len(s.Paths)))
	for _, p := range s.Paths {
		writeString(&buf, p)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(s.Entries)))
	for _, e := range s.Entries {
		writeString(&buf, e.CommitId.String())
		binary.Write(&buf, binary.LittleEndian, uint32(len(e.PathIndices)))
		for _, idx := range e.PathIndices {
			binary.Write(&buf, binary.LittleEndian, uint32(idx))
		}
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(buf.Bytes(), nil), nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSegment(raw []byte, parentLookup func(id string) (*Segment, error)) (*Segment, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	data, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("pathindex: decode segment: %w", err)
	}
	r := bytes.NewReader(data)
	parentId, err := readString(r)
	if err != nil {
		return nil, err
	}
	var globalBase, numPaths uint32
	if err := binary.Read(r, binary.LittleEndian, &globalBase); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &numPaths); err != nil {
		return nil, err
	}
	paths := make([]string, numPaths)
	for i := range paths {
		p, err := readString(r)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}
	var numEntries uint32
	if err := binary.Read(r, binary.LittleEndian, &numEntries); err != nil {
		return nil, err
	}
	entries := make([]Entry, numEntries)
	for i := range entries {
		commitHex, err := readString(r)
		if err != nil {
			return nil, err
		}
		var numIdx uint32
		if err := binary.Read(r, binary.LittleEndian, &numIdx); err != nil {
			return nil, err
		}
		idxs := make([]int, numIdx)
		for j := range idxs {
			var v uint32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, err
			}
			idxs[j] = int(v)
		}
		entries[i] = Entry{CommitId: ids.NewCommitId(commitHex), PathIndices: idxs}
	}
	s := &Segment{GlobalBase: globalBase, Paths: paths, Entries: entries}
	if parentId != "" {
		p, err := parentLookup(parentId)
		if err != nil {
			return nil, err
		}
		s.Parent = p
	}
	buildIndexes(s)
	return s, nil
}

func hashHex(data []byte) string {
	h := ids.NewHasher()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// internPaths returns the sorted, duplicate-free union of the path sets in
// commits, plus an index lookup.
func internPaths(commits []commitPaths) ([]string, map[string]int) {
	set := map[string]bool{}
	for _, c := range commits {
		for _, p := range c.paths {
			set[p] = true
		}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	index := make(map[string]int, len(paths))
	for i, p := range paths {
		index[p] = i
	}
	return paths, index
}

type commitPaths struct {
	commitId ids.CommitId
	paths    []string
}
