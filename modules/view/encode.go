// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package view

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/latticevcs/core/modules/ids"
)

const viewFormatVersion = 1

// Encode serializes v using the same plain, versioned, length-prefixed
// binary layout as modules/opstore.Operation, kept opaque to
// modules/opstore itself.
func (v *View) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(viewFormatVersion))

	writeCommitIds(&buf, v.Heads)
	writeTargetMap(&buf, v.WorkspaceWC)
	writeTargetMap(&buf, v.LocalBookmarks)
	writeTargetMap(&buf, v.Tags)
	writeTargetMap(&buf, v.GitRefs)
	writeTarget(&buf, v.GitHead)
	writeRemoteMap(&buf, v.RemoteBookmarks)
	writeRemoteMap(&buf, v.RemoteTags)

	return buf.Bytes()
}

// Decode reverses Encode.
func Decode(raw []byte) (*View, error) {
	r := bytes.NewReader(raw)
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("view: read header: %w", err)
	}
	if version != viewFormatVersion {
		return nil, fmt.Errorf("view: unsupported format version %d", version)
	}
	v := New()
	var err error
	if v.Heads, err = readCommitIds(r); err != nil {
		return nil, err
	}
	if v.WorkspaceWC, err = readTargetMap(r); err != nil {
		return nil, err
	}
	if v.LocalBookmarks, err = readTargetMap(r); err != nil {
		return nil, err
	}
	if v.Tags, err = readTargetMap(r); err != nil {
		return nil, err
	}
	if v.GitRefs, err = readTargetMap(r); err != nil {
		return nil, err
	}
	if v.GitHead, err = readTarget(r); err != nil {
		return nil, err
	}
	if v.RemoteBookmarks, err = readRemoteMap(r); err != nil {
		return nil, err
	}
	if v.RemoteTags, err = readRemoteMap(r); err != nil {
		return nil, err
	}
	return v, nil
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

func writeCommitIds(buf *bytes.Buffer, cs []ids.CommitId) {
	binary.Write(buf, binary.LittleEndian, uint32(len(cs)))
	for _, c := range cs {
		writeString(buf, c.String())
	}
}

func readCommitIds(r *bytes.Reader) ([]ids.CommitId, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]ids.CommitId, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = ids.NewCommitId(s)
	}
	return out, nil
}

func writeOption(buf *bytes.Buffer, o OptionCommitId) {
	if o.Present {
		buf.WriteByte(1)
		writeString(buf, o.Id.String())
	} else {
		buf.WriteByte(0)
	}
}

func readOption(r *bytes.Reader) (OptionCommitId, error) {
	b, err := r.ReadByte()
	if err != nil {
		return OptionCommitId{}, err
	}
	if b == 0 {
		return Absent(), nil
	}
	s, err := readString(r)
	if err != nil {
		return OptionCommitId{}, err
	}
	return Present(ids.NewCommitId(s)), nil
}

func writeTarget(buf *bytes.Buffer, t RefTarget) {
	binary.Write(buf, binary.LittleEndian, uint32(len(t.Adds)))
	for _, a := range t.Adds {
		writeOption(buf, a)
	}
	binary.Write(buf, binary.LittleEndian, uint32(len(t.Removes)))
	for _, rm := range t.Removes {
		writeOption(buf, rm)
	}
}

func readTarget(r *bytes.Reader) (RefTarget, error) {
	var t RefTarget
	var numAdds uint32
	if err := binary.Read(r, binary.LittleEndian, &numAdds); err != nil {
		return t, err
	}
	t.Adds = make([]OptionCommitId, numAdds)
	for i := range t.Adds {
		o, err := readOption(r)
		if err != nil {
			return t, err
		}
		t.Adds[i] = o
	}
	var numRemoves uint32
	if err := binary.Read(r, binary.LittleEndian, &numRemoves); err != nil {
		return t, err
	}
	// A resolved target keeps Removes nil so decoded views compare equal
	// to freshly built ones.
	if numRemoves > 0 {
		t.Removes = make([]OptionCommitId, numRemoves)
		for i := range t.Removes {
			o, err := readOption(r)
			if err != nil {
				return t, err
			}
			t.Removes[i] = o
		}
	}
	return t, nil
}

func writeTargetMap(buf *bytes.Buffer, m map[string]RefTarget) {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	binary.Write(buf, binary.LittleEndian, uint32(len(names)))
	for _, n := range names {
		writeString(buf, n)
		writeTarget(buf, m[n])
	}
}

func readTargetMap(r *bytes.Reader) (map[string]RefTarget, error) {
	out := map[string]RefTarget{}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		t, err := readTarget(r)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

func writeRemoteMap(buf *bytes.Buffer, m map[RemoteRefKey]RemoteRef) {
	keys := make([]RemoteRefKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Remote < keys[j].Remote
	})
	binary.Write(buf, binary.LittleEndian, uint32(len(keys)))
	for _, k := range keys {
		writeString(buf, k.Name)
		writeString(buf, k.Remote)
		r := m[k]
		writeTarget(buf, r.Target)
		binary.Write(buf, binary.LittleEndian, uint32(r.State))
	}
}

func readRemoteMap(r *bytes.Reader) (map[RemoteRefKey]RemoteRef, error) {
	out := map[RemoteRefKey]RemoteRef{}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		remote, err := readString(r)
		if err != nil {
			return nil, err
		}
		target, err := readTarget(r)
		if err != nil {
			return nil, err
		}
		var state uint32
		if err := binary.Read(r, binary.LittleEndian, &state); err != nil {
			return nil, err
		}
		out[RemoteRefKey{Name: name, Remote: remote}] = RemoteRef{Target: target, State: RemoteRefState(state)}
	}
	return out, nil
}
