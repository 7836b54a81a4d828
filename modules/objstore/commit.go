// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
)

// COMMIT_MAGIC tags the native encoding; git-backed stores never see this,
// they write a real git commit object instead (see objstore/gitfmt).
var COMMIT_MAGIC = [4]byte{'L', 'C', 0x00, 0x01}

// DateFormat mirrors the format git itself uses for pretty-printing.
const DateFormat = "Mon Jan 02 15:04:05 2006 -0700"

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

func (s *Signature) decodeTimeAndTimeZone(b []byte) {
	space := bytes.IndexByte(b, ' ')
	if space == -1 {
		space = len(b)
	}
	ts, err := strconv.ParseInt(string(b[:space]), 10, 64)
	if err != nil {
		return
	}
	s.When = time.Unix(ts, 0).In(time.UTC)
	tzStart := space + 1
	const tzLen = 5
	if tzStart >= len(b) || tzStart+tzLen > len(b) {
		return
	}
	tz := string(b[tzStart : tzStart+tzLen])
	hrs, err1 := strconv.ParseInt(tz[0:3], 10, 64)
	mins, err2 := strconv.ParseInt(tz[3:], 10, 64)
	if err1 != nil || err2 != nil {
		return
	}
	if hrs < 0 {
		mins *= -1
	}
	s.When = s.When.In(time.FixedZone("", int(hrs*3600+mins*60)))
}

// Decode parses "Name <email> <unix-seconds> <+hhmm>".
func (s *Signature) Decode(b []byte) {
	open := bytes.LastIndexByte(b, '<')
	closeIdx := bytes.LastIndexByte(b, '>')
	if open == -1 || closeIdx == -1 || closeIdx < open {
		return
	}
	s.Name = string(bytes.Trim(b[:open], " "))
	s.Email = string(b[open+1 : closeIdx])
	if closeIdx+2 < len(b) {
		s.decodeTimeAndTimeZone(b[closeIdx+2:])
	}
}

func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When.Unix(), s.When.Format("-0700"))
}

// ExtraHeader preserves an unrecognized header key/value through a
// decode/encode round trip, exactly as modules/zeta/object.Commit does.
type ExtraHeader struct {
	K string
	V string
}

// CommitData is the caller-supplied, not-yet-hashed content of a commit.
// RootTree is a Merge so that a commit resulting from an unresolved
// rebase can still be written and carry its conflict forward.
type CommitData struct {
	Parents      []ids.CommitId
	Predecessors []ids.CommitId
	RootTree     merge.Merge[ids.TreeId]
	ChangeId     ids.ChangeId
	Author       Signature
	Committer    Signature
	Description  string
	ExtraHeaders []ExtraHeader
}

// Commit is the immutable, stored form of a commit. Parent
// order is meaningful; Predecessors are data, not index-derived.
type Commit struct {
	Hash ids.CommitId
	CommitData
	Signature []byte
}

func (c *Commit) String() string { return c.Hash.String() }

// encodeRootTree renders RootTree as repeated "tree"/"tree-remove" lines
// in add/remove/add/... order so that a 1-term (resolved) tree needs no
// special casing on decode.
func (c *CommitData) encodeRootTree(w io.Writer) error {
	for i, add := range c.RootTree.Adds {
		if _, err := fmt.Fprintf(w, "tree %s\n", add.String()); err != nil {
			return err
		}
		if i < len(c.RootTree.Removes) {
			if _, err := fmt.Fprintf(w, "tree-remove %s\n", c.RootTree.Removes[i].String()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Commit) Encode(w io.Writer) error {
	if _, err := w.Write(COMMIT_MAGIC[:]); err != nil {
		return err
	}
	if err := c.encodeRootTree(w); err != nil {
		return err
	}
	for _, p := range c.Parents {
		if _, err := fmt.Fprintf(w, "parent %s\n", p.String()); err != nil {
			return err
		}
	}
	for _, p := range c.Predecessors {
		if _, err := fmt.Fprintf(w, "predecessor %s\n", p.String()); err != nil {
			return err
		}
	}
	if !c.ChangeId.Equal(ids.ChangeId{}) {
		if _, err := fmt.Fprintf(w, "change %s\n", c.ChangeId.String()); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "author %s\ncommitter %s\n", c.Author.String(), c.Committer.String()); err != nil {
		return err
	}
	for _, h := range c.ExtraHeaders {
		if _, err := fmt.Fprintf(w, "%s %s\n", h.K, strings.ReplaceAll(h.V, "\n", "\n ")); err != nil {
			return err
		}
	}
	if len(c.Signature) > 0 {
		encoded := strings.ReplaceAll(string(c.Signature), "\n", "\n ")
		if _, err := fmt.Fprintf(w, "gpgsig %s\n", encoded); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%s", c.Description)
	return err
}

func (c *Commit) Decode(r io.Reader) error {
	br := bufio.NewReader(r)
	var message strings.Builder
	var finishedHeaders bool
	var pendingTreeAdd *ids.TreeId
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		text := strings.TrimSuffix(line, "\n")
		if len(text) == 0 && !finishedHeaders {
			finishedHeaders = true
			continue
		}
		if !finishedHeaders {
			if strings.HasPrefix(text, " ") && len(c.ExtraHeaders) != 0 {
				idx := len(c.ExtraHeaders) - 1
				c.ExtraHeaders[idx].V = c.ExtraHeaders[idx].V + "\n" + text[1:]
				if readErr == io.EOF {
					break
				}
				continue
			}
			fields := strings.SplitN(text, " ", 2)
			if len(fields) < 2 {
				if readErr == io.EOF {
					break
				}
				continue
			}
			switch fields[0] {
			case "tree":
				id := ids.NewTreeId(fields[1])
				if pendingTreeAdd != nil {
					c.RootTree.Adds = append(c.RootTree.Adds, *pendingTreeAdd)
				}
				pendingTreeAdd = &id
			case "tree-remove":
				c.RootTree.Removes = append(c.RootTree.Removes, ids.NewTreeId(fields[1]))
			case "parent":
				c.Parents = append(c.Parents, ids.NewCommitId(fields[1]))
			case "predecessor":
				c.Predecessors = append(c.Predecessors, ids.NewCommitId(fields[1]))
			case "change":
				c.ChangeId = ids.NewChangeId(fields[1])
			case "author":
				c.Author.Decode([]byte(fields[1]))
			case "committer":
				c.Committer.Decode([]byte(fields[1]))
			case "gpgsig":
				c.Signature = []byte(strings.ReplaceAll(fields[1], "\n ", "\n"))
			default:
				c.ExtraHeaders = append(c.ExtraHeaders, ExtraHeader{K: fields[0], V: fields[1]})
			}
		} else {
			message.WriteString(line)
		}
		if readErr == io.EOF {
			break
		}
	}
	if pendingTreeAdd != nil {
		c.RootTree.Adds = append(c.RootTree.Adds, *pendingTreeAdd)
	}
	c.Description = message.String()
	return nil
}

// Subject returns the first line of the commit description.
func (c *Commit) Subject() string {
	if i := strings.IndexAny(c.Description, "\r\n"); i != -1 {
		return c.Description[:i]
	}
	return c.Description
}

// GetCommit reads and decodes a commit from b.
func GetCommit(ctx context.Context, b Backend, id ids.CommitId) (*Commit, error) {
	return b.GetCommit(ctx, id)
}
