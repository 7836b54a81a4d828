// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/latticevcs/core/modules/ids"
)

const opLinkFormatVersion = 1

// opLink is the per-operation pointer into the index stores: which
// commit-index segment chain and which changed-path segments cover the
// repository as of that operation.
type opLink struct {
	CommitSegmentId     string
	ChangedPathStart    uint32
	ChangedPathSegments []string
}

func (l *opLink) encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(opLinkFormatVersion))
	writeLinkString(&buf, l.CommitSegmentId)
	binary.Write(&buf, binary.LittleEndian, l.ChangedPathStart)
	binary.Write(&buf, binary.LittleEndian, uint32(len(l.ChangedPathSegments)))
	for _, s := range l.ChangedPathSegments {
		writeLinkString(&buf, s)
	}
	return buf.Bytes()
}

// decodeOpLink rejects any malformed or future-versioned file with an
// error; the loader treats every such error as "corrupt or not found" and
// rebuilds the index.
func decodeOpLink(raw []byte) (*opLink, error) {
	r := bytes.NewReader(raw)
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != opLinkFormatVersion {
		return nil, fmt.Errorf("repo: op link has unsupported format version %d", version)
	}
	l := &opLink{}
	var err error
	if l.CommitSegmentId, err = readLinkString(r); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &l.ChangedPathStart); err != nil {
		return nil, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		s, err := readLinkString(r)
		if err != nil {
			return nil, err
		}
		l.ChangedPathSegments = append(l.ChangedPathSegments, s)
	}
	return l, nil
}

func writeLinkString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readLinkString(r *bytes.Reader) (string, error) {
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

func (l *Loader) opLinkPath(opId ids.OperationId) string {
	return filepath.Join(l.dir, "index", "op_links", opId.String())
}

func (l *Loader) writeOpLink(opId ids.OperationId, link *opLink) error {
	dir := filepath.Dir(l.opLinkPath(opId))
	tmp, err := os.CreateTemp(dir, "oplink-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(link.encode()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, l.opLinkPath(opId)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (l *Loader) readOpLink(opId ids.OperationId) (*opLink, error) {
	raw, err := os.ReadFile(l.opLinkPath(opId))
	if err != nil {
		return nil, err
	}
	return decodeOpLink(raw)
}
