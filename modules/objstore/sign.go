// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"bytes"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// PGPSigner signs a commit's canonical encoding with an OpenPGP key,
// producing the armored detached signature stored in the commit's gpgsig
// header. The private key must be present and already decrypted.
type PGPSigner struct {
	entity *openpgp.Entity
}

var _ Signer = (*PGPSigner)(nil)

func NewPGPSigner(entity *openpgp.Entity) *PGPSigner {
	return &PGPSigner{entity: entity}
}

func (s *PGPSigner) Sign(canonical []byte) ([]byte, error) {
	var b bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&b, s.entity, bytes.NewReader(canonical), nil); err != nil {
		return nil, fmt.Errorf("objstore: sign commit: %w", err)
	}
	return b.Bytes(), nil
}

// VerifyCommitSignature checks a commit's detached gpgsig against its
// canonical encoding (the commit re-encoded without the signature
// header). keyring lists the acceptable public keys.
func VerifyCommitSignature(c *Commit, keyring openpgp.EntityList) error {
	if len(c.Signature) == 0 {
		return fmt.Errorf("objstore: commit %s is not signed", c.Hash)
	}
	unsigned := &Commit{Hash: c.Hash, CommitData: c.CommitData}
	var canonical bytes.Buffer
	if err := unsigned.Encode(&canonical); err != nil {
		return err
	}
	_, err := openpgp.CheckArmoredDetachedSignature(
		keyring, bytes.NewReader(canonical.Bytes()), bytes.NewReader(c.Signature), nil)
	if err != nil {
		return fmt.Errorf("objstore: verify commit %s: %w", c.Hash, err)
	}
	return nil
}
