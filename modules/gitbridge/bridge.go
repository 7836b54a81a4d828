// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package gitbridge runs the external git binary for network
// operations: fetch, push and remote introspection delegate to a
// subprocess with a fixed environment, stderr parsed for sideband
// messages and transfer progress, and stdout parsed as porcelain.
package gitbridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	"github.com/latticevcs/core/modules/keyring"
	"github.com/latticevcs/core/modules/vcslog"
)

// Bridge invokes one repository's external git binary.
type Bridge struct {
	// GitDir is passed as --git-dir on every invocation.
	GitDir string
	// GitBinary overrides the executable name; empty means "git" from
	// PATH.
	GitBinary string
	// Isolated neutralizes the user's and system's git configuration
	// (GIT_CONFIG_SYSTEM/GLOBAL=/dev/null), used by tests for
	// reproducible behavior.
	Isolated bool
	// Keyring, if set, supplies remote credentials (CredentialFor).
	Keyring keyring.Keyring
}

func New(gitDir string) *Bridge {
	return &Bridge{GitDir: gitDir}
}

func (b *Bridge) binary() string {
	if b.GitBinary != "" {
		return b.GitBinary
	}
	return "git"
}

// command builds the exec.Cmd with the fixed environment and
// configuration overrides every invocation carries.
func (b *Bridge) command(ctx context.Context, args ...string) *exec.Cmd {
	full := []string{
		"--git-dir=" + b.GitDir,
		"-c", "core.fsmonitor=false",
		"-c", "submodule.recurse=false",
	}
	full = append(full, args...)
	cmd := exec.CommandContext(ctx, b.binary(), full...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	if b.Isolated {
		cmd.Env = append(cmd.Env, "GIT_CONFIG_SYSTEM=/dev/null", "GIT_CONFIG_GLOBAL=/dev/null")
	}
	vcslog.Logger.WithField("git_dir", b.GitDir).
		Debug("running ", shellquote.Join(append([]string{b.binary()}, full...)...))
	return cmd
}

// run executes the command, feeding stderr through the progress parser
// and returning classified errors. Stdout, when wanted, is captured into
// stdout.
func (b *Bridge) run(ctx context.Context, cb *Callbacks, stdout *bytes.Buffer, args ...string) error {
	cmd := b.command(ctx, args...)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return &ErrFailedToRun{Cmd: b.binary(), Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &ErrFailedToRun{Cmd: b.binary(), Err: err}
	}

	parser := &stderrParser{cb: cb}
	var residual strings.Builder
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		parser.consumeStderr(bufio.NewScanner(stderrPipe), &residual)
	}()
	waitErr := cmd.Wait()
	wg.Wait()

	if waitErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return classifyStderr(residual.String(), exitErr.ExitCode())
	}
	return &ErrFailedToRun{Cmd: b.binary(), Err: waitErr}
}

var (
	noSuchRemoteRefRe   = regexp.MustCompile(`fatal: couldn't find remote ref (\S+)`)
	noSuchRepositoryRe  = regexp.MustCompile(`fatal: '?(.+?)'? does not appear to be a git repository`)
	remoteTrackingRe    = regexp.MustCompile(`error: remote-tracking branch '([^']+)' not found`)
	unsupportedOptionRe = regexp.MustCompile(`unknown option: --(\S+)`)
)

// classifyStderr maps the child's stderr residue onto the bridge's
// enumerated error kinds.
func classifyStderr(stderr string, exitCode int) error {
	if m := noSuchRemoteRefRe.FindStringSubmatch(stderr); m != nil {
		return &ErrNoSuchRemoteRef{Ref: m[1]}
	}
	if m := noSuchRepositoryRe.FindStringSubmatch(stderr); m != nil {
		return &ErrNoSuchRepository{Remote: m[1]}
	}
	if m := remoteTrackingRe.FindStringSubmatch(stderr); m != nil {
		return &ErrRemoteTrackingNotFound{Branch: m[1]}
	}
	if m := unsupportedOptionRe.FindStringSubmatch(stderr); m != nil {
		return &ErrUnsupportedGitOption{Option: m[1]}
	}
	if stderr != "" {
		return &ErrExternal{Stderr: strings.TrimSpace(stderr)}
	}
	return &ErrExitStatus{Code: exitCode, Stderr: strings.TrimSpace(stderr)}
}

// Fetch downloads refspecs from remote, reporting sideband and progress
// through cb.
func (b *Bridge) Fetch(ctx context.Context, remote string, refspecs []string, cb *Callbacks) error {
	args := []string{"fetch", "--progress", "--prune", remote}
	args = append(args, refspecs...)
	return b.run(ctx, cb, nil, args...)
}

// Push uploads refspecs to remote and returns the per-ref porcelain
// result.
func (b *Bridge) Push(ctx context.Context, remote string, refspecs []string, cb *Callbacks) ([]PushRefStatus, error) {
	args := []string{"push", "--porcelain", "--progress", remote}
	args = append(args, refspecs...)
	var stdout bytes.Buffer
	err := b.run(ctx, cb, &stdout, args...)
	// git push exits nonzero when any ref was rejected, but the
	// porcelain output still describes every ref; surface both.
	statuses := ParsePushPorcelain(stdout.String())
	if err != nil {
		if _, ok := err.(*ErrExternal); ok && len(statuses) > 0 {
			return statuses, nil
		}
		var exitErr *ErrExitStatus
		if errors.As(err, &exitErr) && len(statuses) > 0 {
			return statuses, nil
		}
		return statuses, err
	}
	return statuses, nil
}

// ListRemoteRefs introspects remote, returning fully-qualified ref name
// to hex commit id.
func (b *Bridge) ListRemoteRefs(ctx context.Context, remote string) (map[string]string, error) {
	var stdout bytes.Buffer
	if err := b.run(ctx, nil, &stdout, "ls-remote", "--quiet", remote); err != nil {
		return nil, err
	}
	refs := map[string]string{}
	for _, line := range strings.Split(stdout.String(), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) != 2 || fields[0] == "" {
			continue
		}
		refs[fields[1]] = fields[0]
	}
	return refs, nil
}

// CredentialFor looks the remote's credential up in the configured
// keyring; a nil keyring reports not-found.
func (b *Bridge) CredentialFor(ctx context.Context, remoteURL string) (*keyring.Cred, error) {
	if b.Keyring == nil {
		return nil, keyring.ErrNotFound
	}
	return b.Keyring.Find(ctx, remoteURL)
}

// StagingDir returns a fresh uniquely-named directory beside the git
// dir, used to stage clone-on-fetch downloads before adopting them.
func (b *Bridge) StagingDir() (string, error) {
	dir := filepath.Join(filepath.Dir(b.GitDir), "staging-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", err
	}
	return dir, nil
}
