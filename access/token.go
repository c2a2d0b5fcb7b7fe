// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// URLPrefix is prepended to every encoded share token (spec.md §6).
const URLPrefix = "https://ouisync-go.example/r#"

// keyFieldSize is the size in bytes of the single key a token carries.
const keyFieldSize = ouicrypto.KeySize

// formatTag distinguishes an unlocked bundle from one wrapped in an
// age passphrase ciphertext. It is not part of spec.md's literal
// "mode_byte ‖ repo_id ‖ key_bytes ‖ name?" layout — that layout is
// exactly what the unlocked bundle is — but a real decoder needs a
// cheap way to know whether to even ask the caller for a passphrase
// before attempting a parse, so one tag byte is prepended ahead of it.
type formatTag byte

const (
	formatUnlocked formatTag = 0
	formatLocked   formatTag = 1
)

// Token is a decoded share token: a RepositoryId, the single key
// material for Mode, and an optional display name.
type Token struct {
	RepositoryId ouicrypto.RepositoryId
	Mode         Mode
	// Key holds write_key, read_key, or blind_id bytes depending on
	// Mode. Always 32 bytes (KeySize).
	Key *secret.Buffer
	// Name is an optional human-readable repository name hint,
	// recovered from original_source/ (spec.md's distillation dropped
	// it — see SPEC_FULL.md §3).
	Name string
}

// Close releases the token's key material. Idempotent.
func (t *Token) Close() error {
	if t.Key == nil {
		return nil
	}
	return t.Key.Close()
}

func encodeBundle(t Token) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(t.Mode))
	buf.Write(t.RepositoryId[:])
	buf.Write(t.Key.Bytes())
	buf.WriteString(t.Name)
	return buf.Bytes()
}

func decodeBundle(data []byte) (Token, error) {
	minSize := 1 + len(ouicrypto.RepositoryId{}) + keyFieldSize
	if len(data) < minSize {
		return Token{}, fmt.Errorf("%w: share token bundle too short", ouierr.MalformedData)
	}

	mode, err := parseMode(data[0])
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ouierr.MalformedData, err)
	}

	offset := 1
	var repoID ouicrypto.RepositoryId
	copy(repoID[:], data[offset:offset+len(repoID)])
	offset += len(repoID)

	keyBytes := append([]byte(nil), data[offset:offset+keyFieldSize]...)
	offset += keyFieldSize

	name := string(data[offset:])

	key, err := secret.NewFromBytes(keyBytes)
	if err != nil {
		return Token{}, fmt.Errorf("access: guarding token key: %w", err)
	}

	return Token{RepositoryId: repoID, Mode: mode, Key: key, Name: name}, nil
}

// Encode encodes token as an unprotected share token URL. Anyone who
// sees the URL gets the token's full capabilities immediately.
func Encode(token Token) string {
	bundle := encodeBundle(token)
	payload := append([]byte{byte(formatUnlocked)}, bundle...)
	return URLPrefix + base64.RawURLEncoding.EncodeToString(payload)
}

// EncodeLocked encodes token as a passphrase-protected share token
// URL: the bundle is encrypted with age's scrypt recipient before
// base64 encoding, so the URL alone does not grant access.
func EncodeLocked(token Token, passphrase string) (string, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return "", fmt.Errorf("access: preparing token passphrase: %w", err)
	}

	bundle := encodeBundle(token)

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return "", fmt.Errorf("access: locking token: %w", err)
	}
	if _, err := writer.Write(bundle); err != nil {
		return "", fmt.Errorf("access: locking token: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("access: locking token: %w", err)
	}

	payload := append([]byte{byte(formatLocked)}, ciphertext.Bytes()...)
	return URLPrefix + base64.RawURLEncoding.EncodeToString(payload), nil
}

// IsLocked reports whether an encoded token requires a passphrase to
// decode, without decoding it.
func IsLocked(encoded string) (bool, error) {
	payload, err := rawPayload(encoded)
	if err != nil {
		return false, err
	}
	if len(payload) == 0 {
		return false, fmt.Errorf("%w: empty share token", ouierr.MalformedData)
	}
	return formatTag(payload[0]) == formatLocked, nil
}

// Decode decodes an unprotected share token. Returns
// ouierr.PermissionDenied if the token is passphrase-locked.
func Decode(encoded string) (Token, error) {
	payload, err := rawPayload(encoded)
	if err != nil {
		return Token{}, err
	}
	if len(payload) == 0 {
		return Token{}, fmt.Errorf("%w: empty share token", ouierr.MalformedData)
	}

	switch formatTag(payload[0]) {
	case formatUnlocked:
		return decodeBundle(payload[1:])
	case formatLocked:
		return Token{}, fmt.Errorf("%w: share token requires a passphrase", ouierr.PermissionDenied)
	default:
		return Token{}, fmt.Errorf("%w: unrecognized share token format", ouierr.MalformedData)
	}
}

// DecodeLocked decodes a passphrase-locked share token.
func DecodeLocked(encoded string, passphrase string) (Token, error) {
	payload, err := rawPayload(encoded)
	if err != nil {
		return Token{}, err
	}
	if len(payload) == 0 || formatTag(payload[0]) != formatLocked {
		return Token{}, fmt.Errorf("%w: share token is not passphrase-locked", ouierr.InvalidArgument)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return Token{}, fmt.Errorf("access: preparing token passphrase: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(payload[1:]), identity)
	if err != nil {
		return Token{}, fmt.Errorf("%w: wrong passphrase for share token", ouierr.PermissionDenied)
	}

	bundle, err := io.ReadAll(reader)
	if err != nil {
		return Token{}, fmt.Errorf("access: reading unlocked token: %w", err)
	}

	return decodeBundle(bundle)
}

func rawPayload(encoded string) ([]byte, error) {
	rest, ok := strings.CutPrefix(encoded, URLPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: share token missing expected prefix", ouierr.MalformedData)
	}
	payload, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: share token is not valid base64url: %v", ouierr.MalformedData, err)
	}
	return payload, nil
}
