// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// BlobStore is the minimal content-addressed tier contract shared by the
// local filesystem tier and any remote tier (e.g. objstore/cloudblob's S3
// tier), mirroring the teacher's storage.Storage / storage.MultiStorage
// split between a local loose-object tier and a pack/remote tier.
type BlobStore interface {
	Put(ctx context.Context, kind, id string, data []byte) error
	Get(ctx context.Context, kind, id string) ([]byte, error)
	Has(ctx context.Context, kind, id string) (bool, error)
	// List returns every stored id of the given kind whose hex id starts
	// with prefix, used for shortest-unique-prefix resolution.
	List(ctx context.Context, kind, prefix string) ([]string, error)
	Close() error
}

// shard returns the first two hex characters, the teacher's loose-object
// fan-out directory convention (modules/zeta/backend file_storer.go).
func shard(id string) string {
	if len(id) < 2 {
		return "00"
	}
	return id[:2]
}

// fsBlobStore is a zstd-compressed loose-object directory tree: a writer
// streams to a temp file in root/incoming and renames into place, which
// keeps concurrent writers of identical content safe.
type fsBlobStore struct {
	root     string
	incoming string
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// NewFsBlobStore opens (creating if necessary) a local zstd-compressed
// loose-object directory tree rooted at root.
func NewFsBlobStore(root string) (BlobStore, error) {
	return newFsBlobStore(root)
}

func newFsBlobStore(root string) (*fsBlobStore, error) {
	incoming := filepath.Join(root, "incoming")
	if err := os.MkdirAll(incoming, 0o777); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &fsBlobStore{root: root, incoming: incoming, encoder: enc, decoder: dec}, nil
}

func (s *fsBlobStore) pathFor(kind, id string) string {
	return filepath.Join(s.root, kind, shard(id), id)
}

func (s *fsBlobStore) Put(_ context.Context, kind, id string, data []byte) error {
	dst := s.pathFor(kind, id)
	if _, err := os.Stat(dst); err == nil {
		return nil // already present: content-addressed, nothing to do
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.incoming, "obj-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	compressed := s.encoder.EncodeAll(data, nil)
	if _, err := tmp.Write(compressed); err != nil {
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

func (s *fsBlobStore) Get(_ context.Context, kind, id string) ([]byte, error) {
	raw, err := os.ReadFile(s.pathFor(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewErrNotExist(kind, id)
		}
		return nil, err
	}
	return s.decoder.DecodeAll(raw, nil)
}

func (s *fsBlobStore) Has(_ context.Context, kind, id string) (bool, error) {
	_, err := os.Stat(s.pathFor(kind, id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *fsBlobStore) List(_ context.Context, kind, prefix string) ([]string, error) {
	dir := filepath.Join(s.root, kind)
	var out []string
	shards, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, sh := range shards {
		if !sh.IsDir() {
			continue
		}
		if len(prefix) >= 2 && !strings.HasPrefix(sh.Name(), prefix[:2]) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dir, sh.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), prefix) {
				out = append(out, e.Name())
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *fsBlobStore) Close() error { return nil }

// multiStore reads from several tiers (e.g. local + cloud) in order and
// writes to the first, mirroring storage.MultiStorage(fsobj, packs).
type multiStore struct {
	tiers []BlobStore
}

// MultiStore composes read tiers in priority order; writes always go to
// the first tier.
func MultiStore(tiers ...BlobStore) BlobStore { return &multiStore{tiers: tiers} }

func (m *multiStore) Put(ctx context.Context, kind, id string, data []byte) error {
	return m.tiers[0].Put(ctx, kind, id, data)
}

func (m *multiStore) Get(ctx context.Context, kind, id string) ([]byte, error) {
	var lastErr error
	for _, t := range m.tiers {
		data, err := t.Get(ctx, kind, id)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = NewErrNotExist(kind, id)
	}
	return nil, lastErr
}

func (m *multiStore) Has(ctx context.Context, kind, id string) (bool, error) {
	for _, t := range m.tiers {
		ok, err := t.Has(ctx, kind, id)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *multiStore) List(ctx context.Context, kind, prefix string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range m.tiers {
		ids, err := t.List(ctx, kind, prefix)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *multiStore) Close() error {
	var firstErr error
	for _, t := range m.tiers {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("objstore: read: %w", err)
	}
	return buf.Bytes(), nil
}
