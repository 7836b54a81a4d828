// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package vcslog wraps a logrus.Logger the way the teacher's
// pkg/serve/httpserver wraps one for request logging, substituting this
// repo's own structured fields (op_id, commit_id, segment_id) for HTTP
// ones.
package vcslog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the package-wide structured logger. Callers needing isolated
// fields should derive one with WithFields rather than mutate this value.
var Logger = New(os.Stderr)

// New builds a text-formatted logger writing to w, matching the teacher's
// default formatter configuration (full timestamp, no color forcing).
func New(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel parses level (e.g. "debug", "info", "warn") and applies it to
// the package logger, falling back to Info on an unrecognized value.
func SetLevel(level string) {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	Logger.SetLevel(lv)
}

// Operation returns a logger scoped to one operation, used around publish
// and rebase passes (modules/repo) so every line emitted during a
// transaction carries its op id.
func Operation(opID string) *logrus.Entry {
	return Logger.WithField("op_id", opID)
}

// Segment returns a logger scoped to one index segment build/save.
func Segment(segID string) *logrus.Entry {
	return Logger.WithField("segment_id", segID)
}

// Commit returns a logger scoped to one commit, used by rebase and GC
// passes to report per-commit decisions.
func Commit(commitID string) *logrus.Entry {
	return Logger.WithField("commit_id", commitID)
}
