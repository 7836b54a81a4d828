// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package gitfmt implements the Git-compatible object-store backend
// the repository offers: commit, tree and blob objects are real Git loose
// objects (the "<type> <size>\0<content>" zlib envelope, hashed with
// SHA-1 or SHA-256), so the commit id equals the id Git itself would
// compute and the store round-trips through `git cat-file`.
//
// The teacher's modules/git/gitobj package models the same Database
// composition (a read-only tier plus a single writable tier over a
// filesystem backend, see object_db.go) but the retrieved copy of that
// package is missing its Commit/Tree/Blob codecs, so those are
// implemented here directly against the public Git object format rather
// than guessed from an incomplete dependency (see DESIGN.md).
package gitfmt

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/objstore"
)

// ObjectFormat selects the hash algorithm, matching real Git's two
// supported object formats.
type ObjectFormat int

const (
	SHA1 ObjectFormat = iota
	SHA256
)

func (f ObjectFormat) new() hash.Hash {
	if f == SHA256 {
		return sha256.New()
	}
	return sha1.New()
}

// Backend is the Git loose-object backend.
type Backend struct {
	root        string
	tmp         string
	format      ObjectFormat
	concurrency int
	emptyTree   ids.TreeId
}

var _ objstore.Backend = (*Backend)(nil)

// New opens a Git-object directory rooted at objectsDir (typically
// "<repo>/.git/objects").
func New(objectsDir string, format ObjectFormat) (*Backend, error) {
	tmp := filepath.Join(objectsDir, "tmp")
	if err := os.MkdirAll(tmp, 0o777); err != nil {
		return nil, err
	}
	b := &Backend{root: objectsDir, tmp: tmp, format: format, concurrency: 4}
	id, _, err := b.writeLoose("tree", nil)
	if err != nil {
		return nil, err
	}
	b.emptyTree = ids.NewTreeId(id)
	return b, nil
}

func (b *Backend) Concurrency() int        { return b.concurrency }
func (b *Backend) EmptyTreeId() ids.TreeId { return b.emptyTree }

func (b *Backend) looseHash(kind string, content []byte) string {
	h := b.format.new()
	fmt.Fprintf(h, "%s %d\x00", kind, len(content))
	h.Write(content)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (b *Backend) loosePath(id string) string {
	if len(id) < 2 {
		id = "00" + id
	}
	return filepath.Join(b.root, id[:2], id[2:])
}

// writeLoose writes a Git loose object of the given kind ("blob", "tree",
// "commit") and returns its object id.
func (b *Backend) writeLoose(kind string, content []byte) (string, []byte, error) {
	id := b.looseHash(kind, content)
	path := b.loosePath(id)
	if _, err := os.Stat(path); err == nil {
		return id, content, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return "", nil, err
	}
	tmpFile, err := os.CreateTemp(b.tmp, "obj-*.tmp")
	if err != nil {
		return "", nil, err
	}
	zw := zlib.NewWriter(tmpFile)
	fmt.Fprintf(zw, "%s %d\x00", kind, len(content))
	if _, err := zw.Write(content); err != nil {
		zw.Close()
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", nil, err
	}
	if err := zw.Close(); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", nil, err
	}
	name := tmpFile.Name()
	if err := tmpFile.Close(); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	return id, content, nil
}

func (b *Backend) readLoose(id string) (kind string, content []byte, err error) {
	raw, err := os.ReadFile(b.loosePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, objstore.NewErrNotExist("git-object", id)
		}
		return "", nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", nil, err
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, err
	}
	nul := bytes.IndexByte(decoded, 0)
	if nul < 0 {
		return "", nil, fmt.Errorf("gitfmt: malformed loose object %s", id)
	}
	header := string(decoded[:nul])
	var size int
	if _, err := fmt.Sscanf(header, "%s %d", &kind, &size); err != nil {
		return "", nil, err
	}
	return kind, decoded[nul+1:], nil
}

// --- blobs (files) ---------------------------------------------------------

func (b *Backend) WriteFile(_ context.Context, _ string, r io.Reader) (ids.FileId, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ids.FileId{}, err
	}
	id, _, err := b.writeLoose("blob", data)
	if err != nil {
		return ids.FileId{}, err
	}
	return ids.NewFileId(id), nil
}

func (b *Backend) ReadFile(_ context.Context, _ string, id ids.FileId) (io.ReadCloser, error) {
	kind, content, err := b.readLoose(id.String())
	if err != nil {
		return nil, err
	}
	if kind != "blob" {
		return nil, &objstore.ErrMismatchedObject{Want: "blob", Got: kind}
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Git has no first-class symlink object: a symlink is a blob containing the
// target path, referenced by a tree entry with mode 120000.
func (b *Backend) WriteSymlink(ctx context.Context, target string) (ids.SymlinkId, error) {
	id, err := b.WriteFile(ctx, "", bytes.NewReader([]byte(target)))
	return ids.NewSymlinkId(id.String()), err
}

func (b *Backend) ReadSymlink(ctx context.Context, id ids.SymlinkId) (string, error) {
	r, err := b.ReadFile(ctx, "", ids.NewFileId(id.String()))
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	return string(data), err
}

// --- trees ------------------------------------------------------------------

func gitMode(v objstore.TreeValue) string {
	switch v.Kind {
	case objstore.KindFile:
		if v.Executable {
			return "100755"
		}
		return "100644"
	case objstore.KindSymlink:
		return "120000"
	case objstore.KindTree:
		return "40000"
	case objstore.KindGitSubmodule:
		return "160000"
	default:
		return "100644"
	}
}

func gitIdOf(v objstore.TreeValue) string {
	switch v.Kind {
	case objstore.KindFile:
		return v.File.String()
	case objstore.KindSymlink:
		return v.Symlink.String()
	case objstore.KindTree:
		return v.Tree.String()
	case objstore.KindGitSubmodule:
		return v.Submodule.String()
	default:
		return v.Conflict.String()
	}
}

func (b *Backend) WriteTree(_ context.Context, _ string, t *objstore.Tree) (ids.TreeId, error) {
	entries := append([]objstore.TreeEntry(nil), t.Entries...)
	sort.Slice(entries, func(i, j int) bool { return gitTreeSortKey(entries[i]) < gitTreeSortKey(entries[j]) })
	var buf bytes.Buffer
	for _, e := range entries {
		if e.Value.Kind == objstore.KindConflict {
			return ids.TreeId{}, fmt.Errorf("gitfmt: cannot write a conflicted entry %q to a git tree object", e.Name)
		}
		idHex := gitIdOf(e.Value)
		raw, err := hex.DecodeString(idHex)
		if err != nil {
			return ids.TreeId{}, fmt.Errorf("gitfmt: entry %q: %w", e.Name, err)
		}
		fmt.Fprintf(&buf, "%s %s\x00", gitMode(e.Value), e.Name)
		buf.Write(raw)
	}
	id, _, err := b.writeLoose("tree", buf.Bytes())
	if err != nil {
		return ids.TreeId{}, err
	}
	return ids.NewTreeId(id), nil
}

// gitTreeSortKey reproduces Git's tree entry ordering: directory names
// sort as if suffixed with "/".
func gitTreeSortKey(e objstore.TreeEntry) string {
	if e.Value.Kind == objstore.KindTree {
		return e.Name + "/"
	}
	return e.Name
}

func (b *Backend) GetTree(_ context.Context, _ string, id ids.TreeId) (*objstore.Tree, error) {
	kind, content, err := b.readLoose(id.String())
	if err != nil {
		return nil, err
	}
	if kind != "tree" {
		return nil, &objstore.ErrMismatchedObject{Want: "tree", Got: kind}
	}
	digestSize := sha1.Size
	if b.format == SHA256 {
		digestSize = sha256.Size
	}
	t := &objstore.Tree{Hash: id}
	for len(content) > 0 {
		nul := bytes.IndexByte(content, 0)
		if nul < 0 {
			return nil, fmt.Errorf("gitfmt: malformed tree %s", id)
		}
		modeAndName := string(content[:nul])
		sp := bytes.IndexByte([]byte(modeAndName), ' ')
		mode := modeAndName[:sp]
		name := modeAndName[sp+1:]
		content = content[nul+1:]
		if len(content) < digestSize {
			return nil, fmt.Errorf("gitfmt: truncated tree %s", id)
		}
		rawID := hex.EncodeToString(content[:digestSize])
		content = content[digestSize:]
		var v objstore.TreeValue
		switch mode {
		case "100644":
			v = objstore.NewFileValue(ids.NewFileId(rawID), false, "")
		case "100755":
			v = objstore.NewFileValue(ids.NewFileId(rawID), true, "")
		case "120000":
			v = objstore.NewSymlinkValue(ids.NewSymlinkId(rawID))
		case "40000", "040000":
			v = objstore.NewTreeValue(ids.NewTreeId(rawID))
		case "160000":
			v = objstore.NewSubmoduleValue(ids.NewCommitId(rawID))
		default:
			v = objstore.NewFileValue(ids.NewFileId(rawID), false, "")
		}
		t.Entries = append(t.Entries, objstore.TreeEntry{Name: name, Value: v})
	}
	return t, nil
}

// --- commits -----------------------------------------------------------

func (b *Backend) WriteCommit(_ context.Context, data *objstore.CommitData, signer objstore.Signer) (*objstore.Commit, error) {
	root, ok := data.RootTree.AsResolved()
	if !ok {
		return nil, fmt.Errorf("gitfmt: cannot write a commit with a conflicted root tree; resolve it first")
	}
	var body bytes.Buffer
	fmt.Fprintf(&body, "tree %s\n", root.String())
	for _, p := range data.Parents {
		fmt.Fprintf(&body, "parent %s\n", p.String())
	}
	fmt.Fprintf(&body, "author %s\ncommitter %s\n", data.Author.String(), data.Committer.String())
	// predecessors and change-id ride in custom headers so they survive
	// fetch/push through plain git.
	for _, p := range data.Predecessors {
		fmt.Fprintf(&body, "zeta-predecessor %s\n", p.String())
	}
	if !(data.ChangeId == ids.ChangeId{}) {
		fmt.Fprintf(&body, "zeta-change-id %s\n", data.ChangeId.String())
	}
	for _, h := range data.ExtraHeaders {
		fmt.Fprintf(&body, "%s %s\n", h.K, h.V)
	}
	var sig []byte
	if signer != nil {
		s, err := signer.Sign(body.Bytes())
		if err != nil {
			return nil, err
		}
		sig = s
		encoded := bytes.ReplaceAll(sig, []byte("\n"), []byte("\n "))
		fmt.Fprintf(&body, "gpgsig %s\n", encoded)
	}
	fmt.Fprintf(&body, "\n%s", data.Description)
	id, _, err := b.writeLoose("commit", body.Bytes())
	if err != nil {
		return nil, err
	}
	return &objstore.Commit{Hash: ids.NewCommitId(id), CommitData: *data, Signature: sig}, nil
}

func (b *Backend) GetCommit(_ context.Context, id ids.CommitId) (*objstore.Commit, error) {
	kind, content, err := b.readLoose(id.String())
	if err != nil {
		return nil, err
	}
	if kind != "commit" {
		return nil, &objstore.ErrMismatchedObject{Want: "commit", Got: kind}
	}
	c := &objstore.Commit{Hash: id}
	lines := bytes.Split(content, []byte("\n"))
	var i int
	var lastKey string
	for ; i < len(lines); i++ {
		line := string(lines[i])
		if line == "" {
			i++
			break
		}
		if strings.HasPrefix(line, " ") && lastKey == "gpgsig" {
			c.Signature = append(c.Signature, '\n')
			c.Signature = append(c.Signature, line[1:]...)
			continue
		}
		sp := indexByte(line, ' ')
		if sp < 0 {
			continue
		}
		key, val := line[:sp], line[sp+1:]
		lastKey = key
		switch key {
		case "tree":
			c.RootTree = merge.Resolved(ids.NewTreeId(val))
		case "parent":
			c.Parents = append(c.Parents, ids.NewCommitId(val))
		case "author":
			c.Author.Decode([]byte(val))
		case "committer":
			c.Committer.Decode([]byte(val))
		case "zeta-predecessor":
			c.Predecessors = append(c.Predecessors, ids.NewCommitId(val))
		case "zeta-change-id":
			c.ChangeId = ids.NewChangeId(val)
		case "gpgsig":
			c.Signature = []byte(val)
		default:
			c.ExtraHeaders = append(c.ExtraHeaders, objstore.ExtraHeader{K: key, V: val})
		}
	}
	c.Description = string(bytes.Join(lines[i:], []byte("\n")))
	return c, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// --- prefix resolution ----------------------------------------------------

func (b *Backend) walkCommitIds(prefix string, visit func(id string) bool) error {
	shardPrefix := ""
	if len(prefix) >= 2 {
		shardPrefix = prefix[:2]
	}
	shards, err := os.ReadDir(b.root)
	if err != nil {
		return err
	}
	for _, sh := range shards {
		if !sh.IsDir() || sh.Name() == "tmp" {
			continue
		}
		if shardPrefix != "" && sh.Name() != shardPrefix {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(b.root, sh.Name()))
		if err != nil {
			return err
		}
		for _, e := range entries {
			id := sh.Name() + e.Name()
			if len(id) < len(prefix) || id[:len(prefix)] != prefix {
				continue
			}
			kind, _, err := b.readLoose(id)
			if err != nil || kind != "commit" {
				continue
			}
			if !visit(id) {
				return nil
			}
		}
	}
	return nil
}

func (b *Backend) ResolveCommitIdPrefix(_ context.Context, hexPrefix string) (objstore.PrefixResolution, ids.CommitId, error) {
	var matches []string
	if err := b.walkCommitIds(hexPrefix, func(id string) bool {
		matches = append(matches, id)
		return len(matches) < 2
	}); err != nil {
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

func (b *Backend) ShortestUniqueCommitIdPrefixLen(_ context.Context, id ids.CommitId) (int, error) {
	var all []string
	if err := b.walkCommitIds("", func(cid string) bool {
		all = append(all, cid)
		return true
	}); err != nil {
		return 0, err
	}
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
