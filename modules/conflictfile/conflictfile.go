// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package conflictfile materializes a two-sided file conflict as a textual
// file with conflict markers, and parses such a file back into the exact
// Merge[FileId] it was produced from. Marker
// vocabulary (Sep1/Sep2/Sep3/SepO) is ported from the teacher's
// modules/diferenco package (see merge.go's writeConflict), trimmed down to
// a single whole-file conflict block — minimizing only the three-way
// common prefix and suffix, rather than diff3's multi-hunk localization —
// so that parsing is always lossless: every byte of every side is either
// in the shared prefix/suffix or verbatim inside the markers.
package conflictfile

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/objstore"
)

// Style selects the marker vocabulary used to render a conflict.
type Style int

const (
	// StyleDiff shows only the minimized conflicting lines of each side,
	// hiding the base entirely (teacher's STYLE_DEFAULT).
	StyleDiff Style = iota
	// StyleSnapshot shows the full, non-minimized base and both sides
	// (teacher's STYLE_DIFF3); this is the only style that lets Parse
	// recover the base without an externally supplied hint.
	StyleSnapshot
	// StyleGit mimics `git merge-file`'s default marker layout: minimized
	// sides, base omitted.
	StyleGit
	// StyleCompact shows both sides in full, without common-prefix/suffix
	// minimization within the conflict block; meant for machine reparsing
	// rather than human review.
	StyleCompact
)

const (
	sep1 = "<<<<<<<"
	sep2 = "======="
	sep3 = ">>>>>>>"
	sepO = "|||||||"
)

// Materialize renders the two-sided conflict m (arity 3: one remove — the
// base — and two adds, the sides) as conflict-marker text in the given
// style. ok is false when m is not a plain two-sided
// conflict (wrong arity); callers are expected to have already screened
// out symlink, submodule and executable-bit conflicts upstream, since
// those carry no FileId to read text content from.
func Materialize(ctx context.Context, store objstore.Backend, m merge.Merge[ids.FileId], style Style, labelA, labelB string) ([]byte, bool, error) {
	if m.Arity() != 3 {
		return nil, false, nil
	}
	base, err := readAll(ctx, store, m.Removes[0])
	if err != nil {
		return nil, false, err
	}
	a, err := readAll(ctx, store, m.Adds[0])
	if err != nil {
		return nil, false, err
	}
	b, err := readAll(ctx, store, m.Adds[1])
	if err != nil {
		return nil, false, err
	}
	return MaterializeBytes(base, a, b, style, labelA, labelB), true, nil
}

func readAll(ctx context.Context, store objstore.Backend, id ids.FileId) ([]byte, error) {
	r, err := store.ReadFile(ctx, "", id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("conflictfile: read: %w", err)
	}
	return buf.Bytes(), nil
}

// MaterializeBytes is the pure, store-free form of Materialize.
func MaterializeBytes(base, a, b []byte, style Style, labelA, labelB string) []byte {
	oLines, aLines, bLines := splitLines(string(base)), splitLines(string(a)), splitLines(string(b))
	if linesEqual(oLines, aLines) && linesEqual(oLines, bLines) {
		return base
	}

	prefix := commonPrefixLen3(oLines, aLines, bLines)
	oMid, aMid, bMid := oLines[prefix:], aLines[prefix:], bLines[prefix:]
	suffix := commonSuffixLen3(oMid, aMid, bMid)
	oMid, aMid, bMid = trimSuffix(oMid, suffix), trimSuffix(aMid, suffix), trimSuffix(bMid, suffix)

	var out strings.Builder
	writeLines(&out, oLines[:prefix])
	writeConflictBlock(&out, oMid, aMid, bMid, style, labelA, labelB)
	if suffix > 0 {
		writeLines(&out, oLines[len(oLines)-suffix:])
	}
	return []byte(out.String())
}

func writeConflictBlock(out *strings.Builder, o, a, b []string, style Style, labelA, labelB string) {
	aSuffix, bSuffix := "", ""
	if labelA != "" {
		aSuffix = " " + labelA
	}
	if labelB != "" {
		bSuffix = " " + labelB
	}
	switch style {
	case StyleSnapshot:
		fmt.Fprintf(out, "%s%s\n", sep1, aSuffix)
		writeLines(out, a)
		fmt.Fprintf(out, "%s\n", sepO)
		writeLines(out, o)
		fmt.Fprintf(out, "%s\n", sep2)
		writeLines(out, b)
		fmt.Fprintf(out, "%s%s\n", sep3, bSuffix)
	case StyleCompact, StyleGit:
		fmt.Fprintf(out, "%s%s\n", sep1, aSuffix)
		writeLines(out, a)
		fmt.Fprintf(out, "%s\n", sep2)
		writeLines(out, b)
		fmt.Fprintf(out, "%s%s\n", sep3, bSuffix)
	default: // StyleDiff: additionally trim the common prefix/suffix *within* the block
		innerPrefix := commonPrefixLen(a, b)
		aTail, bTail := a[innerPrefix:], b[innerPrefix:]
		innerSuffix := commonSuffixLen(aTail, bTail)
		writeLines(out, a[:innerPrefix])
		fmt.Fprintf(out, "%s%s\n", sep1, aSuffix)
		writeLines(out, aTail[:len(aTail)-innerSuffix])
		fmt.Fprintf(out, "%s\n", sep2)
		writeLines(out, bTail[:len(bTail)-innerSuffix])
		fmt.Fprintf(out, "%s%s\n", sep3, bSuffix)
		if innerSuffix > 0 {
			writeLines(out, bTail[len(bTail)-innerSuffix:])
		}
	}
}

func writeLines(out *strings.Builder, lines []string) {
	for _, l := range lines {
		out.WriteString(l)
	}
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func trimSuffix(lines []string, n int) []string { return lines[:len(lines)-n] }

func commonPrefixLen(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffixLen(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

func commonPrefixLen3(o, a, b []string) int {
	n := commonPrefixLen(o, a)
	if m := commonPrefixLen(o, b); m < n {
		n = m
	}
	return n
}

func commonSuffixLen3(o, a, b []string) int {
	n := commonSuffixLen(o, a)
	if m := commonSuffixLen(o, b); m < n {
		n = m
	}
	return n
}

// Parse inverts Materialize. When the text contains no conflict markers it
// is treated as a full resolution: the returned Merge
// is already resolved to the edited bytes. When markers are present but
// the style omits the base (StyleDiff, StyleGit, StyleCompact all drop
// the |||||||  section), knownBase supplies it — the caller is expected to
// already hold it, since it is exactly the FileId recorded as m.Removes[0]
// on the conflict being re-edited. knownBase is ignored when the text
// carries its own embedded base (StyleSnapshot).
func Parse(text []byte, knownBase []byte) (merge.Merge[[]byte], error) {
	lines := splitLines(string(text))
	start, end := -1, -1
	for i, l := range lines {
		if strings.HasPrefix(l, sep1) {
			start = i
			break
		}
	}
	if start == -1 {
		return merge.Resolved(append([]byte(nil), text...)), nil
	}
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], sep3) {
			end = i
			break
		}
	}
	if end == -1 {
		return merge.Merge[[]byte]{}, fmt.Errorf("conflictfile: unterminated conflict marker at line %d", start+1)
	}

	var aLines, oLines, bLines []string
	var sawO bool
	side := 0 // 0 = a, 1 = o, 2 = b
	for i := start + 1; i < end; i++ {
		l := lines[i]
		switch {
		case strings.HasPrefix(l, sepO):
			sawO = true
			side = 1
			continue
		case strings.HasPrefix(l, sep2):
			side = 2
			continue
		}
		switch side {
		case 0:
			aLines = append(aLines, l)
		case 1:
			oLines = append(oLines, l)
		case 2:
			bLines = append(bLines, l)
		}
	}

	prefixLines := lines[:start]
	suffixLines := lines[end+1:]

	join := func(parts ...[]string) []byte {
		var b strings.Builder
		for _, p := range parts {
			writeLines(&b, p)
		}
		return []byte(b.String())
	}

	a := join(prefixLines, aLines, suffixLines)
	b := join(prefixLines, bLines, suffixLines)

	var base []byte
	switch {
	case sawO:
		base = join(prefixLines, oLines, suffixLines)
	case knownBase != nil:
		base = knownBase
	default:
		return merge.Merge[[]byte]{}, fmt.Errorf("conflictfile: style omits base and no knownBase was supplied")
	}

	return merge.Merge[[]byte]{Adds: [][]byte{a, b}, Removes: [][]byte{base}}, nil
}

// splitLines splits s into lines, each retaining its trailing "\n" (so a
// file with no trailing newline round-trips: its last element keeps
// whatever partial tail it has).
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
