// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"errors"
	"fmt"

	"github.com/latticevcs/core/modules/ids"
)

// ErrImmutable reports an attempt to rewrite or abandon a commit in the
// caller-supplied immutable set, including the root commit. No partial
// state is written when this is returned.
type ErrImmutable struct {
	Id ids.CommitId
}

func (e *ErrImmutable) Error() string {
	if e.Id.IsZero() {
		return "repo: the root commit is immutable"
	}
	return fmt.Sprintf("repo: commit %s is immutable", e.Id)
}

func IsErrImmutable(err error) bool {
	if err == nil {
		return false
	}
	var e *ErrImmutable
	return errors.As(err, &e)
}

// ErrNoOpHeads reports a repository directory with no recorded operation
// head, i.e. one that was never initialized.
type ErrNoOpHeads struct {
	Dir string
}

func (e *ErrNoOpHeads) Error() string {
	return fmt.Sprintf("repo: no operation heads under %s (repository not initialized?)", e.Dir)
}

func IsErrNoOpHeads(err error) bool {
	if err == nil {
		return false
	}
	var e *ErrNoOpHeads
	return errors.As(err, &e)
}
