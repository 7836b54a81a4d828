// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ids defines the fixed-length, content-derived identifiers used
// throughout the core: commit ids, change ids, operation ids and view ids.
// All of them share the same byte layout as modules/plumbing.Hash but are
// kept as distinct Go types so that a CommitId can never be passed where a
// ChangeId is expected.
package ids

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/zeebo/blake3"
)

// MaxDigestSize is the widest digest any supported backend produces
// (git SHA-256 and the native BLAKE3 backend both fit in 32 bytes; git
// SHA-1 and BLAKE2b-160-style truncations are shorter and are stored
// left-aligned, padded with zero bytes).
const MaxDigestSize = 32

// RawId is the common representation: a digest plus how many of its
// leading bytes are significant. Backends using a shorter hash (e.g. git
// SHA-1) only fill Len bytes; the rest of Bytes is zero.
type RawId struct {
	Bytes [MaxDigestSize]byte
	Len   uint8
}

func rawFromHex(s string) RawId {
	b, _ := hex.DecodeString(s)
	var r RawId
	n := copy(r.Bytes[:], b)
	r.Len = uint8(n)
	return r
}

func (r RawId) hexString() string {
	return hex.EncodeToString(r.Bytes[:r.Len])
}

func (r RawId) isZero() bool {
	for i := 0; i < int(r.Len); i++ {
		if r.Bytes[i] != 0 {
			return false
		}
	}
	return true
}

func (r RawId) compare(o RawId) int {
	return bytes.Compare(r.Bytes[:r.Len], o.Bytes[:o.Len])
}

// CommitId identifies a stored commit object.
type CommitId struct{ raw RawId }

// ChangeId is stable across rewrites of the same logical change.
type ChangeId struct{ raw RawId }

// OperationId identifies a node in the operation DAG.
type OperationId struct{ raw RawId }

// ViewId identifies a stored, immutable view snapshot.
type ViewId struct{ raw RawId }

// TreeId, FileId, SymlinkId identify object-store content.
type TreeId struct{ raw RawId }
type FileId struct{ raw RawId }
type SymlinkId struct{ raw RawId }

// ZeroCommitId is the all-zero root commit id.
var ZeroCommitId CommitId

// ZeroOperationId is the synthetic root of the operation DAG.
var ZeroOperationId OperationId

func NewCommitId(hex string) CommitId     { return CommitId{rawFromHex(hex)} }
func NewChangeId(hex string) ChangeId     { return ChangeId{rawFromHex(hex)} }
func NewOperationId(hex string) OperationId { return OperationId{rawFromHex(hex)} }
func NewViewId(hex string) ViewId         { return ViewId{rawFromHex(hex)} }
func NewTreeId(hex string) TreeId         { return TreeId{rawFromHex(hex)} }
func NewFileId(hex string) FileId         { return FileId{rawFromHex(hex)} }
func NewSymlinkId(hex string) SymlinkId   { return SymlinkId{rawFromHex(hex)} }

func CommitIdFromBytes(b []byte) CommitId {
	var r RawId
	r.Len = uint8(copy(r.Bytes[:], b))
	return CommitId{r}
}

func ChangeIdFromBytes(b []byte) ChangeId {
	var r RawId
	r.Len = uint8(copy(r.Bytes[:], b))
	return ChangeId{r}
}

func OperationIdFromBytes(b []byte) OperationId {
	var r RawId
	r.Len = uint8(copy(r.Bytes[:], b))
	return OperationId{r}
}

func ViewIdFromBytes(b []byte) ViewId {
	var r RawId
	r.Len = uint8(copy(r.Bytes[:], b))
	return ViewId{r}
}

func (c CommitId) String() string       { return c.raw.hexString() }
func (c ChangeId) String() string       { return c.raw.hexString() }
func (o OperationId) String() string    { return o.raw.hexString() }
func (v ViewId) String() string         { return v.raw.hexString() }
func (t TreeId) String() string         { return t.raw.hexString() }
func (f FileId) String() string         { return f.raw.hexString() }
func (s SymlinkId) String() string      { return s.raw.hexString() }

func (c CommitId) Bytes() []byte    { return c.raw.Bytes[:c.raw.Len] }
func (c ChangeId) Bytes() []byte    { return c.raw.Bytes[:c.raw.Len] }
func (o OperationId) Bytes() []byte { return o.raw.Bytes[:o.raw.Len] }
func (t TreeId) Bytes() []byte      { return t.raw.Bytes[:t.raw.Len] }
func (f FileId) Bytes() []byte      { return f.raw.Bytes[:f.raw.Len] }

func (c CommitId) IsZero() bool    { return c.raw.isZero() }
func (o OperationId) IsZero() bool { return o.raw.isZero() }
func (v ViewId) IsZero() bool      { return v.raw.isZero() }

func (c CommitId) Compare(o CommitId) int       { return c.raw.compare(o.raw) }
func (c ChangeId) Compare(o ChangeId) int       { return c.raw.compare(o.raw) }
func (o OperationId) Compare(p OperationId) int { return o.raw.compare(p.raw) }

func (c CommitId) Equal(o CommitId) bool       { return c.raw == o.raw }
func (c ChangeId) Equal(o ChangeId) bool       { return c.raw == o.raw }
func (o OperationId) Equal(p OperationId) bool { return o.raw == p.raw }
func (v ViewId) Equal(o ViewId) bool           { return v.raw == o.raw }
func (t TreeId) Equal(o TreeId) bool           { return t.raw == o.raw }
func (f FileId) Equal(o FileId) bool           { return f.raw == o.raw }
func (s SymlinkId) Equal(o SymlinkId) bool     { return s.raw == o.raw }

func (c CommitId) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }
func (c *CommitId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	c.raw = rawFromHex(s)
	return nil
}

// CommitIdSlice sorts commit ids in increasing byte order, mirroring
// modules/plumbing.HashSlice.
type CommitIdSlice []CommitId

func (s CommitIdSlice) Len() int           { return len(s) }
func (s CommitIdSlice) Less(i, j int) bool { return s[i].Compare(s[j]) < 0 }
func (s CommitIdSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

func SortCommitIds(ids []CommitId) { sort.Sort(CommitIdSlice(ids)) }

// NewHasher returns a content hasher for the native backend (BLAKE3,
// matching the teacher's default hash algorithm).
func NewHasher() *blake3.Hasher { return blake3.New() }

// ShortestUniquePrefixLen returns one more than the length of the longest
// common hex prefix id shares with either neighbor.
func ShortestUniquePrefixLen(id CommitId, lowerNeighbor, upperNeighbor *CommitId) int {
	best := 0
	probe := func(o *CommitId) {
		if o == nil {
			return
		}
		n := commonPrefixLen(id.raw, o.raw)
		if n > best {
			best = n
		}
	}
	probe(lowerNeighbor)
	probe(upperNeighbor)
	return best + 1
}

func commonPrefixLen(a, b RawId) int {
	n := int(a.Len)
	if int(b.Len) < n {
		n = int(b.Len)
	}
	i := 0
	for ; i < n; i++ {
		if a.Bytes[i] != b.Bytes[i] {
			if a.Bytes[i]>>4 == b.Bytes[i]>>4 {
				return 2*i + 1
			}
			return 2 * i
		}
	}
	return 2 * i
}
