// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package objstore implements content-addressed persistence
// of files, symlinks, trees, commits and signatures, plus shortest-unique-
// prefix id resolution. The object encodings follow the teacher's
// modules/zeta/object package (magic-prefixed, line-oriented headers);
// the tree model carries the full set of TreeValue kinds.
package objstore

import (
	"context"
	"fmt"
	"io"

	"github.com/latticevcs/core/modules/ids"
)

// TreeValueKind discriminates the five things a tree entry can hold.
type TreeValueKind int8

const (
	KindFile TreeValueKind = iota + 1
	KindSymlink
	KindTree
	KindGitSubmodule
	KindConflict
)

func (k TreeValueKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	case KindTree:
		return "tree"
	case KindGitSubmodule:
		return "submodule"
	case KindConflict:
		return "conflict"
	default:
		return "invalid"
	}
}

// TreeValue is the resolved content of one path component:
// File(id, executable, copy_id) | Symlink(id) | Tree(id) | GitSubmodule(commit_id) | Conflict(ConflictId).
type TreeValue struct {
	Kind       TreeValueKind
	File       ids.FileId
	Executable bool
	CopyId     string
	Symlink    ids.SymlinkId
	Tree       ids.TreeId
	Submodule  ids.CommitId
	Conflict   ids.FileId // points at a stored Fragments/conflict object, see conflictfile
}

func NewFileValue(id ids.FileId, executable bool, copyID string) TreeValue {
	return TreeValue{Kind: KindFile, File: id, Executable: executable, CopyId: copyID}
}

func NewSymlinkValue(id ids.SymlinkId) TreeValue {
	return TreeValue{Kind: KindSymlink, Symlink: id}
}

func NewTreeValue(id ids.TreeId) TreeValue {
	return TreeValue{Kind: KindTree, Tree: id}
}

func NewSubmoduleValue(commit ids.CommitId) TreeValue {
	return TreeValue{Kind: KindGitSubmodule, Submodule: commit}
}

// Equal compares two tree values for the purpose of merge simplification
// and trivial conflict resolution.
func (v TreeValue) Equal(o TreeValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindFile:
		return v.File.Equal(o.File) && v.Executable == o.Executable && v.CopyId == o.CopyId
	case KindSymlink:
		return v.Symlink.Equal(o.Symlink)
	case KindTree:
		return v.Tree.Equal(o.Tree)
	case KindGitSubmodule:
		return v.Submodule.Equal(o.Submodule)
	case KindConflict:
		return v.Conflict.Equal(o.Conflict)
	default:
		return false
	}
}

func (v TreeValue) IsTree() bool { return v.Kind == KindTree }

// TreeEntry is one named child of a Tree.
type TreeEntry struct {
	Name  string
	Value TreeValue
}

// Tree is a resolved, single (non-conflicted) directory listing, sorted by
// Name. Conflicted directory state is represented one level up, by the
// mergedtree package, as a Merge[TreeId].
type Tree struct {
	Hash    ids.TreeId
	Entries []TreeEntry
}

// ByName returns the entry named n, or false.
func (t *Tree) ByName(n string) (TreeEntry, bool) {
	// Entries are kept sorted; linear scan is fine at typical directory
	// fan-out and keeps Decode() simple and allocation-free on the hot path.
	for _, e := range t.Entries {
		if e.Name == n {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// Backend is the object-store contract every storage implementation
// satisfies.
type Backend interface {
	WriteFile(ctx context.Context, path string, r io.Reader) (ids.FileId, error)
	ReadFile(ctx context.Context, path string, id ids.FileId) (io.ReadCloser, error)

	WriteSymlink(ctx context.Context, target string) (ids.SymlinkId, error)
	ReadSymlink(ctx context.Context, id ids.SymlinkId) (string, error)

	WriteTree(ctx context.Context, path string, t *Tree) (ids.TreeId, error)
	GetTree(ctx context.Context, path string, id ids.TreeId) (*Tree, error)
	EmptyTreeId() ids.TreeId

	WriteCommit(ctx context.Context, data *CommitData, signer Signer) (*Commit, error)
	GetCommit(ctx context.Context, id ids.CommitId) (*Commit, error)

	ResolveCommitIdPrefix(ctx context.Context, hexPrefix string) (PrefixResolution, ids.CommitId, error)
	ShortestUniqueCommitIdPrefixLen(ctx context.Context, id ids.CommitId) (int, error)

	// Concurrency is the configured hint for in-flight tree reads used by
	// mergedtree's bounded-concurrency diff stream.
	Concurrency() int
}

// PrefixResolution is the three-way result of a prefix lookup.
type PrefixResolution int

const (
	NoMatch PrefixResolution = iota
	Single
	Ambiguous
)

// Signer optionally signs commit data before it is hashed and stored.
// nil means unsigned.
type Signer interface {
	Sign(canonical []byte) (signature []byte, err error)
}

// ErrUnsupportedObject mirrors the teacher's sentinel of the same name.
var ErrUnsupportedObject = fmt.Errorf("unsupported object type")
