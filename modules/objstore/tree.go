// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/latticevcs/core/modules/ids"
)

// TREE_MAGIC tags the native tree encoding.
var TREE_MAGIC = [4]byte{'L', 'T', 0x00, 0x01}

const (
	modeFile       = "100644"
	modeExecutable = "100755"
	modeSymlink    = "120000"
	modeTree       = "040000"
	modeSubmodule  = "160000"
	modeConflict   = "160001"
)

func modeFor(v TreeValue) string {
	switch v.Kind {
	case KindFile:
		if v.Executable {
			return modeExecutable
		}
		return modeFile
	case KindSymlink:
		return modeSymlink
	case KindTree:
		return modeTree
	case KindGitSubmodule:
		return modeSubmodule
	case KindConflict:
		return modeConflict
	default:
		return modeFile
	}
}

func idOf(v TreeValue) string {
	switch v.Kind {
	case KindFile:
		return v.File.String()
	case KindSymlink:
		return v.Symlink.String()
	case KindTree:
		return v.Tree.String()
	case KindGitSubmodule:
		return v.Submodule.String()
	case KindConflict:
		return v.Conflict.String()
	default:
		return ""
	}
}

func kindFromMode(mode string) TreeValueKind {
	switch mode {
	case modeExecutable, modeFile:
		return KindFile
	case modeSymlink:
		return KindSymlink
	case modeTree:
		return KindTree
	case modeSubmodule:
		return KindGitSubmodule
	case modeConflict:
		return KindConflict
	default:
		return KindFile
	}
}

// Encode writes the tree in a stable, sorted-by-name text format: one
// "<mode> <copy-id-or-dash> <hash> <name>\n" line per entry.
func (t *Tree) Encode(w io.Writer) error {
	if _, err := w.Write(TREE_MAGIC[:]); err != nil {
		return err
	}
	sorted := append([]TreeEntry(nil), t.Entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, e := range sorted {
		copyID := e.Value.CopyId
		if copyID == "" {
			copyID = "-"
		}
		if _, err := fmt.Fprintf(w, "%s %s %s %s\n", modeFor(e.Value), copyID, idOf(e.Value), e.Name); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) Decode(r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		text := strings.TrimSuffix(line, "\n")
		if len(text) != 0 {
			fields := strings.SplitN(text, " ", 4)
			if len(fields) != 4 {
				return fmt.Errorf("objstore: malformed tree entry %q", text)
			}
			kind := kindFromMode(fields[0])
			var v TreeValue
			v.Kind = kind
			switch kind {
			case KindFile:
				v.File = ids.NewFileId(fields[2])
				v.Executable = fields[0] == modeExecutable
			case KindSymlink:
				v.Symlink = ids.NewSymlinkId(fields[2])
			case KindTree:
				v.Tree = ids.NewTreeId(fields[2])
			case KindGitSubmodule:
				v.Submodule = ids.NewCommitId(fields[2])
			case KindConflict:
				v.Conflict = ids.NewFileId(fields[2])
			}
			if fields[1] != "-" {
				v.CopyId = fields[1]
			}
			t.Entries = append(t.Entries, TreeEntry{Name: fields[3], Value: v})
		}
		if readErr == io.EOF {
			break
		}
	}
	return nil
}

// emptyTreeBytes is the canonical encoding of a directory with no entries;
// every backend must agree that hashing this yields the same TreeId so
// callers can use it as a stable deletion marker.
func emptyTreeBytes() []byte { return TREE_MAGIC[:] }
