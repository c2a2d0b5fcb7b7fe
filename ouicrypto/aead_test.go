// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ouicrypto

import (
	"bytes"
	"testing"

	"github.com/ouisync-go/ouisync/lib/secret"
)

func testReadKey(t *testing.T) *secret.Buffer {
	t.Helper()
	key := [KeySize]byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
		0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
	}
	buffer, err := secret.NewFromBytes(key[:])
	if err != nil {
		t.Fatal(err)
	}
	return buffer
}

func TestEncryptDecryptBlockRoundTrip(t *testing.T) {
	readKey := testReadKey(t)
	defer readKey.Close()

	plaintext := []byte("this is a block's plaintext payload")
	blockID := HashBlock(plaintext)
	locator := HashLocator(HashBlock([]byte("file root")), 0)

	nonce, ciphertext, err := EncryptBlock(readKey, locator, blockID, plaintext)
	if err != nil {
		t.Fatalf("EncryptBlock: %v", err)
	}

	decrypted, err := DecryptBlock(readKey, blockID, nonce, ciphertext)
	if err != nil {
		t.Fatalf("DecryptBlock: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestEncryptBlockIsDeterministic(t *testing.T) {
	readKey := testReadKey(t)
	defer readKey.Close()

	plaintext := []byte("identical plaintext, identical locator")
	blockID := HashBlock(plaintext)
	locator := HashLocator(HashBlock([]byte("file root")), 7)

	nonce1, ciphertext1, err := EncryptBlock(readKey, locator, blockID, plaintext)
	if err != nil {
		t.Fatalf("EncryptBlock (first): %v", err)
	}
	nonce2, ciphertext2, err := EncryptBlock(readKey, locator, blockID, plaintext)
	if err != nil {
		t.Fatalf("EncryptBlock (second): %v", err)
	}

	if nonce1 != nonce2 {
		t.Fatalf("nonce must be a deterministic function of (read_key, locator)")
	}
	if !bytes.Equal(ciphertext1, ciphertext2) {
		t.Fatalf("ciphertext must be deterministic in (read_key, locator, plaintext) — Invariant 5")
	}
}

func TestDecryptBlockRejectsWrongBlockID(t *testing.T) {
	readKey := testReadKey(t)
	defer readKey.Close()

	plaintext := []byte("payload")
	blockID := HashBlock(plaintext)
	locator := HashLocator(HashBlock([]byte("file root")), 1)

	nonce, ciphertext, err := EncryptBlock(readKey, locator, blockID, plaintext)
	if err != nil {
		t.Fatalf("EncryptBlock: %v", err)
	}

	wrongID := HashBlock([]byte("a different block"))
	if _, err := DecryptBlock(readKey, wrongID, nonce, ciphertext); err == nil {
		t.Fatalf("expected AEAD failure when blockID AAD does not match")
	}
}
