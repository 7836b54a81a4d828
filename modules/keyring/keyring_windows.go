// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package keyring

import (
	"context"
	"syscall"

	"github.com/danieljoos/wincred"
)

// https://learn.microsoft.com/en-us/windows/win32/api/wincred/ns-wincred-credentiala
const (
	credMaxGenericTargetNameLength = 32767
	credMaxUsernameLength          = 513
	credMaxCredentialBlobSize      = 5 * 512
)

func init() {
	provider = windowsKeychain{}
}

type windowsKeychain struct{}

func (windowsKeychain) Find(_ context.Context, targetName string) (*Cred, error) {
	cred, err := wincred.GetGenericCredential(targetName)
	if err != nil {
		if err == syscall.ERROR_NOT_FOUND {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Cred{UserName: cred.UserName, Password: string(cred.CredentialBlob)}, nil
}

func (windowsKeychain) Store(_ context.Context, targetName string, c *Cred) error {
	if len(c.UserName) > credMaxUsernameLength ||
		len(c.Password) > credMaxCredentialBlobSize ||
		len(targetName) > credMaxGenericTargetNameLength {
		return ErrSetDataTooBig
	}
	cred := wincred.NewGenericCredential(targetName)
	cred.UserName = c.UserName
	cred.CredentialBlob = []byte(c.Password)
	cred.Persist = wincred.PersistLocalMachine
	return cred.Write()
}

func (windowsKeychain) Discard(_ context.Context, targetName string) error {
	cred, err := wincred.GetGenericCredential(targetName)
	if err != nil {
		if err == syscall.ERROR_NOT_FOUND {
			return ErrNotFound
		}
		return err
	}
	return cred.Delete()
}
