// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge

import (
	"strings"
)

// PushOutcome classifies one pushed ref.
type PushOutcome int

const (
	Pushed PushOutcome = iota
	RejectedLocal
	RejectedRemote
)

func (o PushOutcome) String() string {
	switch o {
	case Pushed:
		return "pushed"
	case RejectedLocal:
		return "rejected-local"
	case RejectedRemote:
		return "rejected-remote"
	default:
		return "invalid"
	}
}

// PushRefStatus is one line of `git push --porcelain` output: a flag
// character, the fully-qualified destination ref, the outcome, and the
// parenthesized reason when the push was rejected.
type PushRefStatus struct {
	Flag    byte
	Ref     string
	Outcome PushOutcome
	Reason  string
}

// ParsePushPorcelain parses the porcelain push report line by line. Lines
// that are not ref reports ("To <url>", "Done", blank) are skipped.
func ParsePushPorcelain(out string) []PushRefStatus {
	var statuses []PushRefStatus
	for _, line := range strings.Split(out, "\n") {
		if line == "" || strings.HasPrefix(line, "To ") || line == "Done" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 3 || len(fields[0]) != 1 {
			continue
		}
		status := PushRefStatus{Flag: fields[0][0], Ref: destRef(fields[1])}
		summary := fields[2]
		switch {
		case strings.HasPrefix(summary, "[remote rejected"):
			status.Outcome = RejectedRemote
			status.Reason = rejectReason(summary)
		case strings.HasPrefix(summary, "[rejected"):
			status.Outcome = RejectedLocal
			status.Reason = rejectReason(summary)
		case status.Flag == '!':
			status.Outcome = RejectedLocal
			status.Reason = rejectReason(summary)
		default:
			status.Outcome = Pushed
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// destRef extracts the fully-qualified destination from "from:to".
func destRef(refspec string) string {
	if i := strings.LastIndexByte(refspec, ':'); i >= 0 {
		return refspec[i+1:]
	}
	return refspec
}

// rejectReason pulls the parenthesized reason out of a summary like
// "[rejected] (non-fast-forward)".
func rejectReason(summary string) string {
	open := strings.LastIndexByte(summary, '(')
	closeIdx := strings.LastIndexByte(summary, ')')
	if open == -1 || closeIdx <= open {
		return ""
	}
	return summary[open+1 : closeIdx]
}
