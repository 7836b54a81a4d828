// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package commitindex implements the segmented commit index,
// giving O(1) commit-id-to-position lookup, O(log n) prefix resolution,
// ancestry queries pruned by generation number, and change-id lookup.
// Segments are immutable, content-addressed files chained to a parent
// segment, encoded the same line/binary-table way modules/zeta/backend/pack
// encodes its index tables (fixed-width records plus an id-sorted lookup
// table), compressed with the teacher's zstd codec.
package commitindex

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/latticevcs/core/modules/ids"
)

// Entry is one commit's indexed metadata.
type Entry struct {
	CommitId   ids.CommitId
	ChangeId   ids.ChangeId
	Generation uint32
	Parents    []ids.CommitId
}

// Segment is an immutable slice of the index, chained to a Parent.
// Local positions are indices into Entries; global position is
// GlobalBase + local position.
type Segment struct {
	Id         string
	Parent     *Segment
	GlobalBase uint32
	Entries    []Entry

	byCommit         map[string]int   // commit id hex -> local pos
	byChange         map[string][]int // change id hex -> local positions, sorted ascending
	sortedByCommitId []int            // local positions, ordered by commit id hex
	sortedChangeIds  []string         // unique change id hexes, ascending
}

// LocalLen is the number of commits this segment itself carries (not
// counting its parent chain) — the squash policy
// compares this against the parent's LocalLen.
func (s *Segment) LocalLen() int { return len(s.Entries) }

func buildIndexes(s *Segment) {
	s.byCommit = make(map[string]int, len(s.Entries))
	s.byChange = make(map[string][]int)
	for i, e := range s.Entries {
		s.byCommit[e.CommitId.String()] = i
		cid := e.ChangeId.String()
		s.byChange[cid] = append(s.byChange[cid], i)
	}
	for _, positions := range s.byChange {
		sort.Ints(positions)
	}

	s.sortedByCommitId = make([]int, len(s.Entries))
	for i := range s.Entries {
		s.sortedByCommitId[i] = i
	}
	sort.Slice(s.sortedByCommitId, func(i, j int) bool {
		return s.Entries[s.sortedByCommitId[i]].CommitId.String() < s.Entries[s.sortedByCommitId[j]].CommitId.String()
	})

	s.sortedChangeIds = make([]string, 0, len(s.byChange))
	for cid := range s.byChange {
		s.sortedChangeIds = append(s.sortedChangeIds, cid)
	}
	sort.Strings(s.sortedChangeIds)
}

// encode produces the segment's canonical bytes: a header, then one
// fixed-shape record per entry in local-position order. The encoding is
// deliberately simple (length-prefixed fields) rather than bit-packed,
// matching the teacher's preference for explicit, debuggable binary
// layouts over dense ones (modules/git/gitobj/pack/index.go's sorted
// fanout+offset tables follow the same "plain tables over compression
// tricks" style).
func (s *Segment) encode() ([]byte, error) {
	var buf bytes.Buffer
	parentId := ""
	if s.Parent != nil {
		parentId = s.Parent.Id
	}
	writeString(&buf, parentId)
	binary.Write(&buf, binary.LittleEndian, uint32(s.GlobalBase))
	binary.Write(&buf, binary.LittleEndian, uint32(len(s.Entries)))
	for _, e := range s.Entries {
		writeString(&buf, e.CommitId.String())
		writeString(&buf, e.ChangeId.String())
		binary.Write(&buf, binary.LittleEndian, e.Generation)
		binary.Write(&buf, binary.LittleEndian, uint32(len(e.Parents)))
		for _, p := range e.Parents {
			writeString(&buf, p.String())
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

// decodeSegment parses an encoded segment's own record table. parentLookup
// resolves the chained parent segment by id (supplied by the store, which
// keeps every segment it has loaded).
func decodeSegment(raw []byte, parentLookup func(id string) (*Segment, error)) (*Segment, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	data, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("commitindex: decode segment: %w", err)
	}
	r := bytes.NewReader(data)
	parentId, err := readString(r)
	if err != nil {
		return nil, err
	}
	var globalBase, n uint32
	if err := binary.Read(r, binary.LittleEndian, &globalBase); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	s := &Segment{GlobalBase: globalBase, Entries: make([]Entry, n)}
	for i := uint32(0); i < n; i++ {
		commitHex, err := readString(r)
		if err != nil {
			return nil, err
		}
		changeHex, err := readString(r)
		if err != nil {
			return nil, err
		}
		var generation, numParents uint32
		if err := binary.Read(r, binary.LittleEndian, &generation); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &numParents); err != nil {
			return nil, err
		}
		parents := make([]ids.CommitId, numParents)
		for j := uint32(0); j < numParents; j++ {
			pHex, err := readString(r)
			if err != nil {
				return nil, err
			}
			parents[j] = ids.NewCommitId(pHex)
		}
		s.Entries[i] = Entry{
			CommitId:   ids.NewCommitId(commitHex),
			ChangeId:   ids.NewChangeId(changeHex),
			Generation: generation,
			Parents:    parents,
		}
	}
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

// commitIdsWithPrefix returns this segment's local positions whose commit id
// hex starts with prefix, found by binary search over sortedByCommitId.
func (s *Segment) commitIdsWithPrefix(prefix string) []int {
	lo := sort.Search(len(s.sortedByCommitId), func(i int) bool {
		return s.Entries[s.sortedByCommitId[i]].CommitId.String() >= prefix
	})
	var out []int
	for i := lo; i < len(s.sortedByCommitId); i++ {
		pos := s.sortedByCommitId[i]
		if !strings.HasPrefix(s.Entries[pos].CommitId.String(), prefix) {
			break
		}
		out = append(out, pos)
	}
	return out
}

// changeIdsWithPrefix returns the unique change id hexes in this segment
// matching prefix.
func (s *Segment) changeIdsWithPrefix(prefix string) []string {
	lo := sort.Search(len(s.sortedChangeIds), func(i int) bool { return s.sortedChangeIds[i] >= prefix })
	var out []string
	for i := lo; i < len(s.sortedChangeIds); i++ {
		if !strings.HasPrefix(s.sortedChangeIds[i], prefix) {
			break
		}
		out = append(out, s.sortedChangeIds[i])
	}
	return out
}

func hashHex(data []byte) string {
	h := ids.NewHasher()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
