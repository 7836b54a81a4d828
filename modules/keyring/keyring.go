// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package keyring stores remote credentials in the operating system's
// secret store: the freedesktop Secret Service over D-Bus on Linux, the
// Windows credential manager, and an in-memory fallback elsewhere. The
// subprocess bridge looks remote credentials up here before invoking the
// external git binary.
package keyring

import (
	"context"
	"errors"
	"sync"
)

// provider is set by the relevant OS file's init (keyring_unix.go,
// keyring_windows.go); platforms without a native store keep the
// fallback.
var provider Keyring = NewMemoryKeyring()

var (
	// ErrNotFound is the expected error if the secret isn't found in the
	// keyring.
	ErrNotFound = errors.New("secret not found in keyring")
	// ErrSetDataTooBig is returned if Store was called with more data
	// than the platform's secret store accepts.
	ErrSetDataTooBig = errors.New("data passed to Store was too big")
)

// Cred is one stored credential.
type Cred struct {
	UserName string
	Password string
}

// Keyring provides a simple find/store/discard interface over a secret
// store. targetName is conventionally the remote URL origin
// (e.g. "https://git.example.com").
type Keyring interface {
	Find(ctx context.Context, targetName string) (*Cred, error)
	Store(ctx context.Context, targetName string, c *Cred) error
	Discard(ctx context.Context, targetName string) error
}

// Find looks targetName up in the platform keyring.
func Find(ctx context.Context, targetName string) (*Cred, error) {
	return provider.Find(ctx, targetName)
}

// Store saves a credential for targetName in the platform keyring.
func Store(ctx context.Context, targetName string, c *Cred) error {
	return provider.Store(ctx, targetName, c)
}

// Discard removes targetName's credential from the platform keyring.
func Discard(ctx context.Context, targetName string) error {
	return provider.Discard(ctx, targetName)
}

// MemoryKeyring is a process-local Keyring used on platforms without a
// native secret store and as a test double.
type MemoryKeyring struct {
	mu    sync.Mutex
	creds map[string]Cred
}

var _ Keyring = (*MemoryKeyring)(nil)

func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{creds: map[string]Cred{}}
}

func (m *MemoryKeyring) Find(_ context.Context, targetName string) (*Cred, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[targetName]
	if !ok {
		return nil, ErrNotFound
	}
	out := c
	return &out, nil
}

func (m *MemoryKeyring) Store(_ context.Context, targetName string, c *Cred) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[targetName] = *c
	return nil
}

func (m *MemoryKeyring) Discard(_ context.Context, targetName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[targetName]; !ok {
		return ErrNotFound
	}
	delete(m.creds, targetName)
	return nil
}
