// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package opstore implements persistence for operations and
// views, walks over the operation DAG, and resolution of user-supplied
// operation references. Encoding follows modules/commitindex's choice of
// a plain, versioned, length-prefixed binary layout rather than a
// generic serialization library, since the teacher's own stores
// (modules/objstore, modules/commitindex) all do their own framing.
package opstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/latticevcs/core/modules/ids"
)

const operationFormatVersion = 1

// Operation is one persisted node in the history of views.
type Operation struct {
	Id          ids.OperationId
	Parents     []ids.OperationId
	ViewId      ids.ViewId
	Description string
	Tags        map[string]string
	Timestamp   time.Time

	// CommitPredecessors records, for this operation, which commits were
	// rewritten and what they were rewritten from. New code always
	// writes this; reading falls back to the commit object's own
	// predecessors field only when an operation has none recorded.
	CommitPredecessors map[ids.CommitId][]ids.CommitId
}

// IsRoot reports whether op is the virtual root of the operation DAG,
// the all-zero id that is always resolvable and never stored.
func (op *Operation) IsRoot() bool { return op.Id.Equal(ids.ZeroOperationId) }

func sortedCommitKeys(m map[ids.CommitId][]ids.CommitId) []ids.CommitId {
	keys := make([]ids.CommitId, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	return keys
}

func (op *Operation) encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(operationFormatVersion))
	binary.Write(&buf, binary.LittleEndian, uint32(len(op.Parents)))
	for _, p := range op.Parents {
		writeString(&buf, p.String())
	}
	writeString(&buf, op.ViewId.String())
	writeString(&buf, op.Description)
	binary.Write(&buf, binary.LittleEndian, op.Timestamp.UnixNano())

	tagKeys := make([]string, 0, len(op.Tags))
	for k := range op.Tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	binary.Write(&buf, binary.LittleEndian, uint32(len(tagKeys)))
	for _, k := range tagKeys {
		writeString(&buf, k)
		writeString(&buf, op.Tags[k])
	}

	predKeys := sortedCommitKeys(op.CommitPredecessors)
	binary.Write(&buf, binary.LittleEndian, uint32(len(predKeys)))
	for _, k := range predKeys {
		writeString(&buf, k.String())
		preds := op.CommitPredecessors[k]
		binary.Write(&buf, binary.LittleEndian, uint32(len(preds)))
		for _, p := range preds {
			writeString(&buf, p.String())
		}
	}
	return buf.Bytes()
}

func decodeOperation(id ids.OperationId, raw []byte) (*Operation, error) {
	r := bytes.NewReader(raw)
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("opstore: read operation %s: %w", id, err)
	}
	if version != operationFormatVersion {
		return nil, &ErrFormatVersion{Kind: "operation", ID: id.String(), Got: int(version)}
	}
	op := &Operation{Id: id, Tags: map[string]string{}, CommitPredecessors: map[ids.CommitId][]ids.CommitId{}}

	var numParents uint32
	if err := binary.Read(r, binary.LittleEndian, &numParents); err != nil {
		return nil, err
	}
	op.Parents = make([]ids.OperationId, numParents)
	for i := range op.Parents {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		op.Parents[i] = ids.NewOperationId(s)
	}

	viewHex, err := readString(r)
	if err != nil {
		return nil, err
	}
	op.ViewId = ids.NewViewId(viewHex)

	op.Description, err = readString(r)
	if err != nil {
		return nil, err
	}

	var nanos int64
	if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
		return nil, err
	}
	op.Timestamp = time.Unix(0, nanos).UTC()

	var numTags uint32
	if err := binary.Read(r, binary.LittleEndian, &numTags); err != nil {
		return nil, err
	}
	for i := uint32(0); i < numTags; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		op.Tags[k] = v
	}

	var numPreds uint32
	if err := binary.Read(r, binary.LittleEndian, &numPreds); err != nil {
		return nil, err
	}
	for i := uint32(0); i < numPreds; i++ {
		commitHex, err := readString(r)
		if err != nil {
			return nil, err
		}
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		preds := make([]ids.CommitId, n)
		for j := range preds {
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			preds[j] = ids.NewCommitId(s)
		}
		op.CommitPredecessors[ids.NewCommitId(commitHex)] = preds
	}
	return op, nil
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

// ErrFormatVersion reports an operation or view file written by an
// incompatible format version, the signal for the loader to rebuild
// derived state rather than propagate.
type ErrFormatVersion struct {
	Kind string
	ID   string
	Got  int
}

func (e *ErrFormatVersion) Error() string {
	return fmt.Sprintf("opstore: %s %s has unsupported format version %d", e.Kind, e.ID, e.Got)
}

func IsErrFormatVersion(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrFormatVersion)
	return ok
}
