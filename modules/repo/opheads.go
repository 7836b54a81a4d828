// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/latticevcs/core/modules/ids"
)

// The op-heads directory holds one empty
// file per currently-unresolved head operation id. It is the only atomic
// cross-process coordination primitive: publishing adds the
// new head's file and removes the parent's. Two transactions racing from
// the same parent both succeed at adding their own file; whichever loses
// the parent-file removal simply leaves two head files behind, and the
// next loader merges them.
func (l *Loader) opHeadsDir() string {
	return filepath.Join(l.dir, "op_heads", "heads")
}

func (l *Loader) listOpHeads() ([]ids.OperationId, error) {
	entries, err := os.ReadDir(l.opHeadsDir())
	if err != nil {
		return nil, err
	}
	var out []ids.OperationId
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

// advanceOpHead links newHead and unlinks each of oldHeads. The new
// head's file is created first so that no moment exists with zero heads
// on disk; a concurrent publisher that already removed one of oldHeads
// is harmless (ENOENT is ignored).
func (l *Loader) advanceOpHead(oldHeads []ids.OperationId, newHead ids.OperationId) error {
	tmp, err := os.CreateTemp(l.opHeadsDir(), "head-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(l.opHeadsDir(), newHead.String())); err != nil {
		os.Remove(tmpName)
		return err
	}
	for _, old := range oldHeads {
		if old.IsZero() {
			continue
		}
		if err := os.Remove(filepath.Join(l.opHeadsDir(), old.String())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
