// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package testbackend implements the in-memory object-store backend
// unit tests need: no disk I/O, same content-addressing
// rules (BLAKE3) and encodings as objstore/native.
package testbackend

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"sort"
	"sync"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/objstore"
)

// Backend is a thread-safe in-memory object store.
type Backend struct {
	mu          sync.RWMutex
	files       map[string][]byte
	symlinks    map[string][]byte
	trees       map[string][]byte
	commits     map[string][]byte
	concurrency int
	emptyTree   ids.TreeId
}

var _ objstore.Backend = (*Backend)(nil)

// New returns an empty in-memory backend.
func New() *Backend {
	b := &Backend{
		files:       map[string][]byte{},
		symlinks:    map[string][]byte{},
		trees:       map[string][]byte{},
		commits:     map[string][]byte{},
		concurrency: 4,
	}
	var buf bytes.Buffer
	_ = (&objstore.Tree{}).Encode(&buf)
	b.emptyTree = ids.NewTreeId(hashHex(buf.Bytes()))
	b.trees[b.emptyTree.String()] = buf.Bytes()
	return b
}

func hashHex(data []byte) string {
	h := ids.NewHasher()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (b *Backend) Concurrency() int        { return b.concurrency }
func (b *Backend) EmptyTreeId() ids.TreeId { return b.emptyTree }

func (b *Backend) WriteFile(_ context.Context, _ string, r io.Reader) (ids.FileId, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ids.FileId{}, err
	}
	id := ids.NewFileId(hashHex(data))
	b.mu.Lock()
	b.files[id.String()] = data
	b.mu.Unlock()
	return id, nil
}

func (b *Backend) ReadFile(_ context.Context, _ string, id ids.FileId) (io.ReadCloser, error) {
	b.mu.RLock()
	data, ok := b.files[id.String()]
	b.mu.RUnlock()
	if !ok {
		return nil, objstore.NewErrNotExist("file", id.String())
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) WriteSymlink(_ context.Context, target string) (ids.SymlinkId, error) {
	data := []byte(target)
	id := ids.NewSymlinkId(hashHex(data))
	b.mu.Lock()
	b.symlinks[id.String()] = data
	b.mu.Unlock()
	return id, nil
}

func (b *Backend) ReadSymlink(_ context.Context, id ids.SymlinkId) (string, error) {
	b.mu.RLock()
	data, ok := b.symlinks[id.String()]
	b.mu.RUnlock()
	if !ok {
		return "", objstore.NewErrNotExist("symlink", id.String())
	}
	return string(data), nil
}

func (b *Backend) WriteTree(_ context.Context, _ string, t *objstore.Tree) (ids.TreeId, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return ids.TreeId{}, err
	}
	id := ids.NewTreeId(hashHex(buf.Bytes()))
	b.mu.Lock()
	b.trees[id.String()] = buf.Bytes()
	b.mu.Unlock()
	return id, nil
}

func (b *Backend) GetTree(_ context.Context, _ string, id ids.TreeId) (*objstore.Tree, error) {
	b.mu.RLock()
	data, ok := b.trees[id.String()]
	b.mu.RUnlock()
	if !ok {
		return nil, objstore.NewErrNotExist("tree", id.String())
	}
	t := &objstore.Tree{Hash: id}
	if err := t.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return t, nil
}

func (b *Backend) WriteCommit(_ context.Context, data *objstore.CommitData, signer objstore.Signer) (*objstore.Commit, error) {
	c := &objstore.Commit{CommitData: *data}
	if signer != nil {
		var canon bytes.Buffer
		tmp := &objstore.Commit{CommitData: *data}
		if err := tmp.Encode(&canon); err != nil {
			return nil, err
		}
		sig, err := signer.Sign(canon.Bytes())
		if err != nil {
			return nil, err
		}
		c.Signature = sig
	}
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, err
	}
	c.Hash = ids.NewCommitId(hashHex(buf.Bytes()))
	b.mu.Lock()
	b.commits[c.Hash.String()] = buf.Bytes()
	b.mu.Unlock()
	return c, nil
}

func (b *Backend) GetCommit(_ context.Context, id ids.CommitId) (*objstore.Commit, error) {
	b.mu.RLock()
	data, ok := b.commits[id.String()]
	b.mu.RUnlock()
	if !ok {
		return nil, objstore.NewErrNotExist("commit", id.String())
	}
	c := &objstore.Commit{Hash: id}
	if err := c.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Backend) ResolveCommitIdPrefix(_ context.Context, hexPrefix string) (objstore.PrefixResolution, ids.CommitId, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var matches []string
	for id := range b.commits {
		if len(id) >= len(hexPrefix) && id[:len(hexPrefix)] == hexPrefix {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return objstore.NoMatch, ids.CommitId{}, nil
	case 1:
		return objstore.Single, ids.NewCommitId(matches[0]), nil
	default:
		return objstore.Ambiguous, ids.CommitId{}, nil
	}
}

func (b *Backend) ShortestUniqueCommitIdPrefixLen(_ context.Context, id ids.CommitId) (int, error) {
	b.mu.RLock()
	all := make([]string, 0, len(b.commits))
	for k := range b.commits {
		all = append(all, k)
	}
	b.mu.RUnlock()
	sort.Strings(all)
	full := id.String()
	pos := sort.SearchStrings(all, full)
	var lower, upper *ids.CommitId
	if pos > 0 {
		v := ids.NewCommitId(all[pos-1])
		lower = &v
	}
	if pos+1 < len(all) {
		v := ids.NewCommitId(all[pos+1])
		upper = &v
	}
	return ids.ShortestUniquePrefixLen(id, lower, upper), nil
}

