// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package commitindex

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store persists and loads content-addressed segment files under
// index/segments/. It mirrors modules/objstore's
// BlobStore: temp-file-plus-rename writes, plain reads, no locking
// needed since segment ids are content hashes.
type Store struct {
	dir    string
	loaded map[string]*Segment
}

// OpenStore opens (creating if necessary) the segment directory.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, err
	}
	return &Store{dir: dir, loaded: map[string]*Segment{}}, nil
}

func (s *Store) path(id string) string { return filepath.Join(s.dir, id) }

// Save writes seg's canonical encoding and returns its content-addressed
// id, idempotently.
func (s *Store) Save(seg *Segment) (string, error) {
	data, err := seg.encode()
	if err != nil {
		return "", err
	}
	id := hashHex(data)
	dst := s.path(id)
	if _, err := os.Stat(dst); err == nil {
		seg.Id = id
		s.loaded[id] = seg
		return id, nil
	}
	tmp, err := os.CreateTemp(s.dir, "segment-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	seg.Id = id
	s.loaded[id] = seg
	return id, nil
}

// Load reads segment id, resolving its parent chain as needed.
func (s *Store) Load(id string) (*Segment, error) {
	if seg, ok := s.loaded[id]; ok {
		return seg, nil
	}
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("commitindex: segment %q not found: %w", id, err)
		}
		return nil, err
	}
	seg, err := decodeSegment(raw, s.Load)
	if err != nil {
		return nil, err
	}
	seg.Id = id
	s.loaded[id] = seg
	return seg, nil
}
