// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package vcsconfig stores per-repository configuration beside store/: the
// object-store backend selection, hash algorithm, optional signing key, GC
// cutoff, and index squash thresholds.
// Encoding follows the teacher's modules/zeta/config choice of
// github.com/BurntSushi/toml.
package vcsconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend selects which objstore.Backend implementation a repository uses.
type Backend string

const (
	BackendGit    Backend = "git"
	BackendNative Backend = "native"
	BackendTest   Backend = "test"
)

// Config is the repository-level configuration file, conventionally
// stored at the repository control directory's config.toml.
type Config struct {
	Backend Backend `toml:"backend"`

	// HashAlgorithm names the digest the native backend hashes content
	// with; ignored for the git backend, whose hash is fixed by the
	// object format it reads/writes.
	HashAlgorithm string `toml:"hash_algorithm"`

	// SigningKey, if set, is the fingerprint of the OpenPGP key
	// modules/objstore's signer should use for write_commit.
	SigningKey string `toml:"signing_key,omitempty"`

	// GCCutoff bounds how recently-touched an unreachable operation must
	// be to survive a GC sweep.
	GCCutoff time.Duration `toml:"gc_cutoff"`

	// CommitIndexSquashThreshold and PathIndexSquashThreshold are stored
	// with the rest of the file; modules/commitindex and modules/pathindex
	// do not read them and always squash by the "more than half the parent
	// segment" rule.
	CommitIndexSquashThreshold int `toml:"commit_index_squash_threshold,omitempty"`
	PathIndexSquashThreshold   int `toml:"path_index_squash_threshold,omitempty"`
}

// Default returns the configuration a freshly initialized repository gets.
func Default() Config {
	return Config{
		Backend:       BackendNative,
		HashAlgorithm: "blake3",
		GCCutoff:      14 * 24 * time.Hour,
	}
}

// Load reads and decodes path, applying Default() for any zero-value field
// the file doesn't set explicitly (BackendGit/BackendNative/BackendTest are
// all non-empty strings, so an empty Backend after decode means the file
// didn't set one).
func Load(path string) (Config, error) {
	def := Default()
	cfg := def
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("vcsconfig: decode %s: %w", path, err)
	}
	if cfg.Backend == "" {
		cfg.Backend = def.Backend
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = def.HashAlgorithm
	}
	if cfg.GCCutoff == 0 {
		cfg.GCCutoff = def.GCCutoff
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, creating or truncating the file.
func Save(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vcsconfig: create %s: %w", path, err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("vcsconfig: encode %s: %w", path, err)
	}
	return nil
}
