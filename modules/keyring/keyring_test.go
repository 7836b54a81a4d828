// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryKeyringRoundTrip(t *testing.T) {
	ctx := context.Background()
	k := NewMemoryKeyring()

	_, err := k.Find(ctx, "https://git.example.com")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, k.Store(ctx, "https://git.example.com", &Cred{UserName: "alice", Password: "s3cret"}))
	cred, err := k.Find(ctx, "https://git.example.com")
	require.NoError(t, err)
	require.Equal(t, "alice", cred.UserName)
	require.Equal(t, "s3cret", cred.Password)

	// Find returns a copy; mutating it doesn't poison the store.
	cred.Password = "mutated"
	again, err := k.Find(ctx, "https://git.example.com")
	require.NoError(t, err)
	require.Equal(t, "s3cret", again.Password)

	require.NoError(t, k.Discard(ctx, "https://git.example.com"))
	_, err = k.Find(ctx, "https://git.example.com")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, k.Discard(ctx, "https://git.example.com"), ErrNotFound)
}
