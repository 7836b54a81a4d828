// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Progress is the combined transfer progress the bridge reports: bytes
// received so far and an overall fraction in [0, 1] spanning all of
// git's reported phases.
type Progress struct {
	Bytes           int64
	OverallFraction float64
}

// Callbacks receives the parsed stderr sideband while a subprocess runs.
type Callbacks struct {
	// Sideband is called for each "remote: ..." message that is not a
	// progress report, verbatim minus trailing padding.
	Sideband func(message string)
	// Progress is called for each parsed progress update.
	Progress func(p Progress)
}

// The four progress phases git interleaves on stderr, each mapped onto a
// slice of the overall [0, 1] range in the order they occur during a
// fetch: the remote counts, the remote compresses, the client receives,
// the client resolves deltas.
var progressPhases = []struct {
	re    *regexp.Regexp
	start float64
	width float64
}{
	{regexp.MustCompile(`^remote: Counting objects:\s+\d+% \((\d+)/(\d+)\)`), 0.0, 0.05},
	{regexp.MustCompile(`^remote: Compressing objects:\s+\d+% \((\d+)/(\d+)\)`), 0.05, 0.10},
	{regexp.MustCompile(`^Receiving objects:\s+\d+% \((\d+)/(\d+)\)`), 0.15, 0.70},
	{regexp.MustCompile(`^Resolving deltas:\s+\d+% \((\d+)/(\d+)\)`), 0.85, 0.15},
}

// receivedBytesRe matches the byte count git appends to "Receiving
// objects" lines, e.g. ", 1.10 MiB | 1.09 MiB/s".
var receivedBytesRe = regexp.MustCompile(`, ([0-9.]+) (bytes|KiB|MiB|GiB)`)

// stderrParser accumulates progress state across lines and dispatches to
// the callbacks.
type stderrParser struct {
	cb    *Callbacks
	bytes int64
}

// parseLine classifies one stderr line (already split on \r or \n).
// Returns true when the line was consumed as progress.
func (p *stderrParser) parseLine(line string) bool {
	for _, phase := range progressPhases {
		m := phase.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		done, _ := strconv.ParseFloat(m[1], 64)
		total, _ := strconv.ParseFloat(m[2], 64)
		frac := phase.start
		if total > 0 {
			frac += phase.width * (done / total)
		}
		if b := parseReceivedBytes(line); b > p.bytes {
			p.bytes = b
		}
		if p.cb != nil && p.cb.Progress != nil {
			p.cb.Progress(Progress{Bytes: p.bytes, OverallFraction: frac})
		}
		return true
	}
	if msg, ok := strings.CutPrefix(line, "remote: "); ok {
		if p.cb != nil && p.cb.Sideband != nil {
			p.cb.Sideband(strings.TrimRight(msg, " "))
		}
		return true
	}
	return false
}

func parseReceivedBytes(line string) int64 {
	m := receivedBytesRe.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "KiB":
		n *= 1 << 10
	case "MiB":
		n *= 1 << 20
	case "GiB":
		n *= 1 << 30
	}
	return int64(n)
}

// scanStderrLines splits on \n like bufio.ScanLines but also treats \r as
// a terminator, since git redraws progress lines in place with bare
// carriage returns.
func scanStderrLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// consumeStderr drains r line by line through the parser, collecting
// whatever was neither progress nor sideband for error classification
// after the child exits.
func (p *stderrParser) consumeStderr(scanner *bufio.Scanner, collect *strings.Builder) {
	scanner.Split(scanStderrLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !p.parseLine(line) {
			collect.WriteString(line)
			collect.WriteByte('\n')
		}
	}
}
