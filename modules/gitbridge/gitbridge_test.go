// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitbridge

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticevcs/core/modules/keyring"
)

func TestProgressParsingReceivingObjects(t *testing.T) {
	var got []Progress
	p := &stderrParser{cb: &Callbacks{Progress: func(pr Progress) { got = append(got, pr) }}}

	require.True(t, p.parseLine("Receiving objects:  45% (9/20), 1.10 MiB | 1.09 MiB/s"))
	require.Len(t, got, 1)
	require.InDelta(t, 0.15+0.70*0.45, got[0].OverallFraction, 1e-9)
	wantBytes := 1.10 * float64(1<<20)
	require.Equal(t, int64(wantBytes), got[0].Bytes)

	require.True(t, p.parseLine("Resolving deltas: 100% (5/5)"))
	require.Len(t, got, 2)
	require.InDelta(t, 1.0, got[1].OverallFraction, 1e-9)
	// Bytes are sticky across phases.
	require.Equal(t, got[0].Bytes, got[1].Bytes)
}

func TestProgressParsingRemotePhases(t *testing.T) {
	var got []Progress
	p := &stderrParser{cb: &Callbacks{Progress: func(pr Progress) { got = append(got, pr) }}}

	require.True(t, p.parseLine("remote: Counting objects: 100% (10/10)"))
	require.True(t, p.parseLine("remote: Compressing objects:  50% (5/10)"))
	require.Len(t, got, 2)
	require.InDelta(t, 0.05, got[0].OverallFraction, 1e-9)
	require.InDelta(t, 0.05+0.10*0.5, got[1].OverallFraction, 1e-9)

	// Fractions never leave [0, 1].
	for _, pr := range got {
		require.GreaterOrEqual(t, pr.OverallFraction, 0.0)
		require.LessOrEqual(t, pr.OverallFraction, 1.0)
	}
}

func TestSidebandMessages(t *testing.T) {
	var messages []string
	p := &stderrParser{cb: &Callbacks{Sideband: func(m string) { messages = append(messages, m) }}}

	require.True(t, p.parseLine("remote: hello from the server        "))
	require.True(t, p.parseLine("remote: Counting objects:  10% (1/10)"))
	require.Equal(t, []string{"hello from the server"}, messages, "progress lines are not sideband")
}

func TestStderrScannerSplitsOnCarriageReturn(t *testing.T) {
	input := "Receiving objects:  10% (1/10)\rReceiving objects: 100% (10/10), done.\nfatal: the remote end hung up\n"
	var got []Progress
	p := &stderrParser{cb: &Callbacks{Progress: func(pr Progress) { got = append(got, pr) }}}
	var residual strings.Builder
	p.consumeStderr(bufio.NewScanner(strings.NewReader(input)), &residual)

	require.Len(t, got, 2)
	require.Equal(t, "fatal: the remote end hung up\n", residual.String())
}

func TestClassifyStderr(t *testing.T) {
	err := classifyStderr("fatal: couldn't find remote ref refs/heads/missing\n", 128)
	require.True(t, IsErrNoSuchRemoteRef(err))

	err = classifyStderr("fatal: 'upstream' does not appear to be a git repository\n", 128)
	require.True(t, IsErrNoSuchRepository(err))

	err = classifyStderr("error: remote-tracking branch 'origin/gone' not found\n", 1)
	require.True(t, IsErrRemoteTrackingNotFound(err))

	err = classifyStderr("unknown option: --no-write-fetch-head\n", 129)
	require.True(t, IsErrUnsupportedGitOption(err))
	var unsupported *ErrUnsupportedGitOption
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "no-write-fetch-head", unsupported.Option)

	err = classifyStderr("something else broke\n", 1)
	require.True(t, IsErrExternal(err))

	err = classifyStderr("", 3)
	require.True(t, IsErrExitStatus(err))
}

func TestParsePushPorcelain(t *testing.T) {
	out := strings.Join([]string{
		"To https://git.example.com/repo.git",
		"=\trefs/heads/same:refs/heads/same\t[up to date]",
		"*\trefs/heads/new:refs/heads/new\t[new branch]",
		"!\trefs/heads/stale:refs/heads/stale\t[rejected] (non-fast-forward)",
		"!\trefs/heads/blocked:refs/heads/blocked\t[remote rejected] (pre-receive hook declined)",
		"Done",
		"",
	}, "\n")

	statuses := ParsePushPorcelain(out)
	require.Len(t, statuses, 4)

	require.Equal(t, Pushed, statuses[0].Outcome)
	require.Equal(t, "refs/heads/same", statuses[0].Ref)

	require.Equal(t, Pushed, statuses[1].Outcome)
	require.Equal(t, byte('*'), statuses[1].Flag)

	require.Equal(t, RejectedLocal, statuses[2].Outcome)
	require.Equal(t, "non-fast-forward", statuses[2].Reason)

	require.Equal(t, RejectedRemote, statuses[3].Outcome)
	require.Equal(t, "pre-receive hook declined", statuses[3].Reason)
	require.Equal(t, "refs/heads/blocked", statuses[3].Ref)
}

func TestCommandEnvironment(t *testing.T) {
	b := New("/tmp/repo/.git")
	b.Isolated = true
	cmd := b.command(context.Background(), "fetch", "origin")

	require.Contains(t, cmd.Args, "--git-dir=/tmp/repo/.git")
	require.Contains(t, cmd.Args, "core.fsmonitor=false")
	require.Contains(t, cmd.Args, "submodule.recurse=false")

	env := strings.Join(cmd.Env, "\n")
	require.Contains(t, env, "LC_ALL=C")
	require.Contains(t, env, "GIT_CONFIG_SYSTEM=/dev/null")
	require.Contains(t, env, "GIT_CONFIG_GLOBAL=/dev/null")
}

func TestCredentialForUsesKeyring(t *testing.T) {
	ctx := context.Background()
	b := New("/tmp/repo/.git")

	_, err := b.CredentialFor(ctx, "https://git.example.com")
	require.ErrorIs(t, err, keyring.ErrNotFound)

	k := keyring.NewMemoryKeyring()
	require.NoError(t, k.Store(ctx, "https://git.example.com", &keyring.Cred{UserName: "bob", Password: "pw"}))
	b.Keyring = k
	cred, err := b.CredentialFor(ctx, "https://git.example.com")
	require.NoError(t, err)
	require.Equal(t, "bob", cred.UserName)
}
