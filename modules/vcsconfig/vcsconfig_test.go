// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package vcsconfig

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Config{
		Backend:       BackendGit,
		HashAlgorithm: "sha256",
		SigningKey:    "ABCDEF0123456789",
		GCCutoff:      3 * 24 * time.Hour,
	}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Config{Backend: BackendNative}))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendNative, loaded.Backend)
	require.Equal(t, Default().GCCutoff, loaded.GCCutoff)
}
