// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package opstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/latticevcs/core/modules/ids"
)

// Store persists operations under op_store/operations/ and views under
// op_store/views/, each named by its own id. Views are kept
// as opaque, already-encoded bytes: their shape (RefTarget merges,
// per-workspace wc pointers) belongs to modules/view, which encodes and
// decodes them; Store only content-addresses and stores the result,
// the same separation modules/commitindex draws between Segment and
// Store.
type Store struct {
	dir string

	operations map[string]*Operation
	views      map[string][]byte
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "operations"), 0o777); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, "views"), 0o777); err != nil {
		return nil, err
	}
	return &Store{
		dir:        dir,
		operations: map[string]*Operation{},
		views:      map[string][]byte{},
	}, nil
}

func (s *Store) operationPath(id ids.OperationId) string {
	return filepath.Join(s.dir, "operations", id.String())
}

func (s *Store) viewPath(id ids.ViewId) string {
	return filepath.Join(s.dir, "views", id.String())
}

// SaveView content-addresses and writes a view's encoded bytes,
// idempotently.
func (s *Store) SaveView(data []byte) (ids.ViewId, error) {
	h := ids.NewHasher()
	h.Write(data)
	id := ids.ViewIdFromBytes(h.Sum(nil))
	dst := s.viewPath(id)
	if _, err := os.Stat(dst); err == nil {
		s.views[id.String()] = data
		return id, nil
	}
	if err := writeAtomic(s.dir, dst, data); err != nil {
		return ids.ViewId{}, err
	}
	s.views[id.String()] = data
	return id, nil
}

func (s *Store) LoadView(id ids.ViewId) ([]byte, error) {
	if data, ok := s.views[id.String()]; ok {
		return data, nil
	}
	data, err := os.ReadFile(s.viewPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{Kind: "view", ID: id.String()}
		}
		return nil, err
	}
	s.views[id.String()] = data
	return data, nil
}

// SaveOperation writes op under its own id, computed as the content hash
// of its encoding, so identical operations written twice collapse into
// one file.
func (s *Store) SaveOperation(op *Operation) (ids.OperationId, error) {
	data := op.encode()
	h := ids.NewHasher()
	h.Write(data)
	id := ids.OperationIdFromBytes(h.Sum(nil))
	op.Id = id
	dst := s.operationPath(id)
	if _, err := os.Stat(dst); err == nil {
		s.operations[id.String()] = op
		return id, nil
	}
	if err := writeAtomic(s.dir, dst, data); err != nil {
		return ids.OperationId{}, err
	}
	s.operations[id.String()] = op
	return id, nil
}

func (s *Store) LoadOperation(id ids.OperationId) (*Operation, error) {
	if id.Equal(ids.ZeroOperationId) {
		return &Operation{Id: ids.ZeroOperationId, Tags: map[string]string{}, CommitPredecessors: map[ids.CommitId][]ids.CommitId{}}, nil
	}
	if op, ok := s.operations[id.String()]; ok {
		return op, nil
	}
	raw, err := os.ReadFile(s.operationPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{Kind: "operation", ID: id.String()}
		}
		return nil, err
	}
	op, err := decodeOperation(id, raw)
	if err != nil {
		return nil, err
	}
	s.operations[id.String()] = op
	return op, nil
}

// deleteOperationIfOlder removes an operation file (not its view file;
// see deleteViewIfOlder), used by GC. It never deletes a file whose mtime
// is newer than cutoff.
func (s *Store) deleteOperationIfOlder(id ids.OperationId, cutoffUnixNano int64) error {
	path := s.operationPath(id)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.ModTime().UnixNano() > cutoffUnixNano {
		return nil
	}
	delete(s.operations, id.String())
	return os.Remove(path)
}

func (s *Store) deleteViewIfOlder(id ids.ViewId, cutoffUnixNano int64) error {
	path := s.viewPath(id)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.ModTime().UnixNano() > cutoffUnixNano {
		return nil
	}
	delete(s.views, id.String())
	return os.Remove(path)
}

// ListOperationIds enumerates every operation file on disk, used by GC
// and by the op-id prefix resolver.
func (s *Store) ListOperationIds() ([]ids.OperationId, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "operations"))
	if err != nil {
		return nil, err
	}
	out := make([]ids.OperationId, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := hex.DecodeString(e.Name()); err != nil {
			continue
		}
		out = append(out, ids.NewOperationId(e.Name()))
	}
	return out, nil
}

func writeAtomic(dir, dst string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "opstore-*.tmp")
	if err != nil {
		return fmt.Errorf("opstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
