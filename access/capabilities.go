// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"fmt"

	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// Capabilities is the expanded key material a Token grants, filled in
// strictly downward from whichever key the token carries: a write
// token fills in WriteKey, ReadKey and BlindId; a read token leaves
// WriteKey nil and fills in ReadKey and BlindId; a blind token fills
// in only BlindId.
type Capabilities struct {
	RepositoryId ouicrypto.RepositoryId
	Mode         Mode

	// WriteKey is non-nil only when Mode == ModeWrite.
	WriteKey *secret.Buffer
	// ReadKey is non-nil when Mode is ModeWrite or ModeRead.
	ReadKey *secret.Buffer
	// BlindId is always set: every mode can verify signed roots.
	BlindId ouicrypto.Hash
}

// Close releases any secret key material held by c. Idempotent.
func (c *Capabilities) Close() error {
	var err error
	if c.WriteKey != nil {
		err = c.WriteKey.Close()
	}
	if c.ReadKey != nil {
		if closeErr := c.ReadKey.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// DeriveCapabilities expands token's single key down the schedule
// (write → read → blind). It never attempts to go the other
// direction: a read or blind token simply has no path to a write key,
// by construction.
func DeriveCapabilities(token Token) (Capabilities, error) {
	caps := Capabilities{RepositoryId: token.RepositoryId, Mode: token.Mode}

	switch token.Mode {
	case ModeWrite:
		writeKey, err := secret.NewFromBytes(append([]byte(nil), token.Key.Bytes()...))
		if err != nil {
			return Capabilities{}, fmt.Errorf("access: guarding write key: %w", err)
		}
		readKey, err := ouicrypto.DeriveReadKey(writeKey)
		if err != nil {
			writeKey.Close()
			return Capabilities{}, fmt.Errorf("access: deriving read key: %w", err)
		}
		caps.WriteKey = writeKey
		caps.ReadKey = readKey
		caps.BlindId = ouicrypto.DeriveBlindId(readKey)
		return caps, nil

	case ModeRead:
		readKey, err := secret.NewFromBytes(append([]byte(nil), token.Key.Bytes()...))
		if err != nil {
			return Capabilities{}, fmt.Errorf("access: guarding read key: %w", err)
		}
		caps.ReadKey = readKey
		caps.BlindId = ouicrypto.DeriveBlindId(readKey)
		return caps, nil

	case ModeBlind:
		copy(caps.BlindId[:], token.Key.Bytes())
		return caps, nil

	default:
		return Capabilities{}, fmt.Errorf("access: invalid token mode %v", token.Mode)
	}
}

// Require returns ouierr.PermissionDenied if caps does not grant at
// least the required mode.
func (c Capabilities) Require(required Mode) error {
	if !c.Mode.Allows(required) {
		return fmt.Errorf("%w: operation requires %v access, have %v", ouierr.PermissionDenied, required, c.Mode)
	}
	return nil
}
