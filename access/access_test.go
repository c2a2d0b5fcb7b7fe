// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"testing"

	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

func newTestToken(t *testing.T, mode Mode) Token {
	t.Helper()
	writeKeyHash := ouicrypto.HashBlock([]byte("write-key"))
	key, err := secret.NewFromBytes(writeKeyHash[:])
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	var repoID ouicrypto.RepositoryId
	repoID[0] = 0x42
	return Token{RepositoryId: repoID, Mode: mode, Key: key, Name: "my-repo"}
}

func TestModeAllows(t *testing.T) {
	if !ModeWrite.Allows(ModeRead) {
		t.Fatalf("write should allow read")
	}
	if !ModeWrite.Allows(ModeBlind) {
		t.Fatalf("write should allow blind")
	}
	if ModeRead.Allows(ModeWrite) {
		t.Fatalf("read should not allow write")
	}
	if !ModeBlind.Allows(ModeBlind) {
		t.Fatalf("blind should allow blind")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	token := newTestToken(t, ModeWrite)
	defer token.Close()

	encoded := Encode(token)

	locked, err := IsLocked(encoded)
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatalf("expected unlocked token")
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer decoded.Close()

	if decoded.RepositoryId != token.RepositoryId {
		t.Fatalf("repository id mismatch")
	}
	if decoded.Mode != token.Mode {
		t.Fatalf("mode mismatch")
	}
	if decoded.Name != token.Name {
		t.Fatalf("name mismatch: got %q", decoded.Name)
	}
	if string(decoded.Key.Bytes()) != string(token.Key.Bytes()) {
		t.Fatalf("key mismatch")
	}
}

func TestEncodeLockedRequiresPassphrase(t *testing.T) {
	token := newTestToken(t, ModeRead)
	defer token.Close()

	encoded, err := EncodeLocked(token, "correct horse battery staple")
	if err != nil {
		t.Fatalf("EncodeLocked: %v", err)
	}

	locked, err := IsLocked(encoded)
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatalf("expected locked token")
	}

	if _, err := Decode(encoded); !ouierr.Is(err, ouierr.PermissionDenied) {
		t.Fatalf("expected PermissionDenied decoding locked token without passphrase, got %v", err)
	}

	if _, err := DecodeLocked(encoded, "wrong passphrase"); !ouierr.Is(err, ouierr.PermissionDenied) {
		t.Fatalf("expected PermissionDenied for wrong passphrase, got %v", err)
	}

	decoded, err := DecodeLocked(encoded, "correct horse battery staple")
	if err != nil {
		t.Fatalf("DecodeLocked: %v", err)
	}
	defer decoded.Close()

	if decoded.RepositoryId != token.RepositoryId {
		t.Fatalf("repository id mismatch after unlocking")
	}
	if string(decoded.Key.Bytes()) != string(token.Key.Bytes()) {
		t.Fatalf("key mismatch after unlocking")
	}
}

func TestDecodeRejectsBadPrefix(t *testing.T) {
	if _, err := Decode("not-a-share-token"); !ouierr.Is(err, ouierr.MalformedData) {
		t.Fatalf("expected MalformedData, got %v", err)
	}
}

func TestDeriveCapabilitiesWriteExpandsDownward(t *testing.T) {
	token := newTestToken(t, ModeWrite)
	defer token.Close()

	caps, err := DeriveCapabilities(token)
	if err != nil {
		t.Fatalf("DeriveCapabilities: %v", err)
	}
	defer caps.Close()

	if caps.WriteKey == nil || caps.ReadKey == nil {
		t.Fatalf("expected write token to derive both write and read keys")
	}
	if caps.BlindId == (ouicrypto.Hash{}) {
		t.Fatalf("expected a derived blind id")
	}
	if err := caps.Require(ModeWrite); err != nil {
		t.Fatalf("write caps should satisfy write requirement: %v", err)
	}
}

func TestDeriveCapabilitiesReadCannotWrite(t *testing.T) {
	token := newTestToken(t, ModeRead)
	defer token.Close()

	caps, err := DeriveCapabilities(token)
	if err != nil {
		t.Fatalf("DeriveCapabilities: %v", err)
	}
	defer caps.Close()

	if caps.WriteKey != nil {
		t.Fatalf("read token must not yield a write key")
	}
	if caps.ReadKey == nil {
		t.Fatalf("expected a read key")
	}

	if err := caps.Require(ModeWrite); !ouierr.Is(err, ouierr.PermissionDenied) {
		t.Fatalf("expected PermissionDenied requiring write from read caps, got %v", err)
	}
}

func TestDeriveCapabilitiesBlindOnlyHasBlindId(t *testing.T) {
	token := newTestToken(t, ModeBlind)
	defer token.Close()

	caps, err := DeriveCapabilities(token)
	if err != nil {
		t.Fatalf("DeriveCapabilities: %v", err)
	}
	defer caps.Close()

	if caps.WriteKey != nil || caps.ReadKey != nil {
		t.Fatalf("blind token must not yield write or read keys")
	}
	if err := caps.Require(ModeRead); !ouierr.Is(err, ouierr.PermissionDenied) {
		t.Fatalf("expected PermissionDenied requiring read from blind caps, got %v", err)
	}
}
