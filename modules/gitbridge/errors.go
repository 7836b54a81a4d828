// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge

import (
	"errors"
	"fmt"
)

// ErrFailedToRun reports that the external git binary could not be
// spawned at all.
type ErrFailedToRun struct {
	Cmd string
	Err error
}

func (e *ErrFailedToRun) Error() string {
	return fmt.Sprintf("gitbridge: failed to run %s: %v", e.Cmd, e.Err)
}

func (e *ErrFailedToRun) Unwrap() error { return e.Err }

func IsErrFailedToRun(err error) bool {
	var e *ErrFailedToRun
	return errors.As(err, &e)
}

// ErrExitStatus passes through a nonzero child exit status.
type ErrExitStatus struct {
	Code   int
	Stderr string
}

func (e *ErrExitStatus) Error() string {
	return fmt.Sprintf("gitbridge: git exited with status %d: %s", e.Code, e.Stderr)
}

func IsErrExitStatus(err error) bool {
	var e *ErrExitStatus
	return errors.As(err, &e)
}

// ErrUnsupportedGitOption reports a git binary too old for an option the
// bridge passed, parsed from "unknown option: --X".
type ErrUnsupportedGitOption struct {
	Option string
}

func (e *ErrUnsupportedGitOption) Error() string {
	return fmt.Sprintf("gitbridge: git does not support option --%s", e.Option)
}

func IsErrUnsupportedGitOption(err error) bool {
	var e *ErrUnsupportedGitOption
	return errors.As(err, &e)
}

// ErrNoSuchRepository reports a remote that is not a git repository.
type ErrNoSuchRepository struct {
	Remote string
}

func (e *ErrNoSuchRepository) Error() string {
	return fmt.Sprintf("gitbridge: %s does not appear to be a git repository", e.Remote)
}

func IsErrNoSuchRepository(err error) bool {
	var e *ErrNoSuchRepository
	return errors.As(err, &e)
}

// ErrNoSuchRemoteRef reports a fetch refspec naming a ref the remote
// doesn't have, parsed from "fatal: couldn't find remote ref ...".
type ErrNoSuchRemoteRef struct {
	Ref string
}

func (e *ErrNoSuchRemoteRef) Error() string {
	return fmt.Sprintf("gitbridge: couldn't find remote ref %s", e.Ref)
}

func IsErrNoSuchRemoteRef(err error) bool {
	var e *ErrNoSuchRemoteRef
	return errors.As(err, &e)
}

// ErrRemoteTrackingNotFound reports a prune of a remote-tracking branch
// that doesn't exist, parsed from "error: remote-tracking branch ... not
// found".
type ErrRemoteTrackingNotFound struct {
	Branch string
}

func (e *ErrRemoteTrackingNotFound) Error() string {
	return fmt.Sprintf("gitbridge: remote-tracking branch %s not found", e.Branch)
}

func IsErrRemoteTrackingNotFound(err error) bool {
	var e *ErrRemoteTrackingNotFound
	return errors.As(err, &e)
}

// ErrExternal is the generic catch-all carrying the child's stderr.
type ErrExternal struct {
	Stderr string
}

func (e *ErrExternal) Error() string {
	return fmt.Sprintf("gitbridge: git failed: %s", e.Stderr)
}

func IsErrExternal(err error) bool {
	var e *ErrExternal
	return errors.As(err, &e)
}
