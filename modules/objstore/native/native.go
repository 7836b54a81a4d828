// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package native implements the "author-chosen hash" object-store backend
// the repository offers alongside the git-compatible one: content is hashed
// with BLAKE3 (the teacher's DefaultHashALGO) and stored zstd-compressed,
// the same way modules/zeta/backend.Database composes a writable local
// tier with optional additional read tiers.
package native

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"runtime"
	"sort"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/objstore"
)

const (
	kindFile   = "file"
	kindSymlk  = "symlink"
	kindTree   = "tree"
	kindCommit = "commit"
)

// Backend is the BLAKE3-hashed, zstd-compressed native object store.
type Backend struct {
	store       objstore.BlobStore
	concurrency int
	cache       *ristretto.Cache[string, any]
	emptyTree   ids.TreeId
}

var _ objstore.Backend = (*Backend)(nil)

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithReadTiers adds additional read-only tiers (e.g. an S3 tier from
// objstore/cloudblob) consulted after the local store.
func WithReadTiers(tiers ...objstore.BlobStore) Option {
	return func(b *Backend) {
		all := append([]objstore.BlobStore{b.store}, tiers...)
		b.store = objstore.MultiStore(all...)
	}
}

// WithConcurrency overrides the default tree-read concurrency hint.
func WithConcurrency(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// New opens (or initializes) a native backend rooted at dir.
func New(dir string, opts ...Option) (*Backend, error) {
	fs, err := objstore.NewFsBlobStore(dir)
	if err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 1e5,
		MaxCost:     32 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("native: metadata cache: %w", err)
	}
	b := &Backend{store: fs, concurrency: runtime.NumCPU(), cache: cache}
	for _, o := range opts {
		o(b)
	}
	b.emptyTree = b.hashTreeBytes(emptyTreeEncoded())
	return b, nil
}

func (b *Backend) Concurrency() int        { return b.concurrency }
func (b *Backend) EmptyTreeId() ids.TreeId { return b.emptyTree }

func (b *Backend) cacheKey(kind, id string) string { return kind + ":" + id }

func hashBytes(data []byte) string {
	h := ids.NewHasher()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// --- files / symlinks -------------------------------------------------

func (b *Backend) WriteFile(ctx context.Context, _ string, r io.Reader) (ids.FileId, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ids.FileId{}, err
	}
	id := ids.NewFileId(hashBytes(data))
	if err := b.store.Put(ctx, kindFile, id.String(), data); err != nil {
		return ids.FileId{}, err
	}
	return id, nil
}

func (b *Backend) ReadFile(ctx context.Context, _ string, id ids.FileId) (io.ReadCloser, error) {
	data, err := b.store.Get(ctx, kindFile, id.String())
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) WriteSymlink(ctx context.Context, target string) (ids.SymlinkId, error) {
	data := []byte(target)
	id := ids.NewSymlinkId(hashBytes(data))
	if err := b.store.Put(ctx, kindSymlk, id.String(), data); err != nil {
		return ids.SymlinkId{}, err
	}
	return id, nil
}

func (b *Backend) ReadSymlink(ctx context.Context, id ids.SymlinkId) (string, error) {
	data, err := b.store.Get(ctx, kindSymlk, id.String())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// --- trees --------------------------------------------------------------

func (b *Backend) hashTreeBytes(data []byte) ids.TreeId {
	return ids.NewTreeId(hashBytes(data))
}

func (b *Backend) WriteTree(ctx context.Context, _ string, t *objstore.Tree) (ids.TreeId, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return ids.TreeId{}, err
	}
	id := b.hashTreeBytes(buf.Bytes())
	if err := b.store.Put(ctx, kindTree, id.String(), buf.Bytes()); err != nil {
		return ids.TreeId{}, err
	}
	b.cache.Set(b.cacheKey(kindTree, id.String()), t, int64(buf.Len()))
	return id, nil
}

func (b *Backend) GetTree(ctx context.Context, _ string, id ids.TreeId) (*objstore.Tree, error) {
	if v, ok := b.cache.Get(b.cacheKey(kindTree, id.String())); ok {
		return v.(*objstore.Tree), nil
	}
	data, err := b.store.Get(ctx, kindTree, id.String())
	if err != nil {
		return nil, err
	}
	t := &objstore.Tree{Hash: id}
	if err := t.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	b.cache.Set(b.cacheKey(kindTree, id.String()), t, int64(len(data)))
	return t, nil
}

// --- commits --------------------------------------------------------------

func (b *Backend) WriteCommit(ctx context.Context, data *objstore.CommitData, signer objstore.Signer) (*objstore.Commit, error) {
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
	c.Hash = ids.CommitIdFromBytes(mustDecodeHex(hashBytes(buf.Bytes())))
	if err := b.store.Put(ctx, kindCommit, c.Hash.String(), buf.Bytes()); err != nil {
		return nil, err
	}
	b.cache.Set(b.cacheKey(kindCommit, c.Hash.String()), c, int64(buf.Len()))
	return c, nil
}

func mustDecodeHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}

func (b *Backend) GetCommit(ctx context.Context, id ids.CommitId) (*objstore.Commit, error) {
	if v, ok := b.cache.Get(b.cacheKey(kindCommit, id.String())); ok {
		return v.(*objstore.Commit), nil
	}
	data, err := b.store.Get(ctx, kindCommit, id.String())
	if err != nil {
		return nil, err
	}
	c := &objstore.Commit{Hash: id}
	if err := c.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	b.cache.Set(b.cacheKey(kindCommit, id.String()), c, int64(len(data)))
	return c, nil
}

// --- prefix resolution ----------------------------------------------------

func (b *Backend) ResolveCommitIdPrefix(ctx context.Context, hexPrefix string) (objstore.PrefixResolution, ids.CommitId, error) {
	matches, err := b.store.List(ctx, kindCommit, hexPrefix)
	if err != nil {
		return objstore.NoMatch, ids.CommitId{}, err
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

func (b *Backend) ShortestUniqueCommitIdPrefixLen(ctx context.Context, id ids.CommitId) (int, error) {
	full := id.String()
	all, err := b.store.List(ctx, kindCommit, "")
	if err != nil {
		return 0, err
	}
	sort.Strings(all)
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

func emptyTreeEncoded() []byte {
	t := &objstore.Tree{}
	var buf bytes.Buffer
	_ = t.Encode(&buf)
	return buf.Bytes()
}
