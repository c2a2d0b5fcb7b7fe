// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ouisync-go/ouisync/lib/codec"
)

// MaxMessageSize bounds a single length-prefixed message, grounded on
// lib/artifact/transfer.go's MaxHeaderSize. A Block message carries at
// most one ouicrypto.BlockPlaintextSize ciphertext plus a small fixed
// overhead, so 64KB headroom above that is generous.
const MaxMessageSize = 96 * 1024

// writeEnvelope encodes env as CBOR and writes it with a 4-byte
// big-endian length prefix, the same wire shape as
// lib/artifact/transfer.go's writeMessage.
func writeEnvelope(w io.Writer, env envelope) error {
	data, err := codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("syncproto: encoding message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("syncproto: encoded message of %d bytes exceeds MaxMessageSize", len(data))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("syncproto: writing message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("syncproto: writing message body: %w", err)
	}
	return nil
}

// readEnvelope reads one length-prefixed CBOR envelope from r.
func readEnvelope(r io.Reader) (envelope, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return envelope{}, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxMessageSize {
		return envelope{}, fmt.Errorf("syncproto: message size %d exceeds MaxMessageSize", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return envelope{}, fmt.Errorf("syncproto: reading message body: %w", err)
	}

	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("syncproto: decoding message: %w", err)
	}
	return env, nil
}

// encodeBody CBOR-encodes a payload for embedding in an envelope's
// Body field.
func encodeBody(v any) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("syncproto: encoding payload: %w", err)
	}
	return data, nil
}

// decodeBody decodes an envelope's Body field into v.
func decodeBody(body []byte, v any) error {
	if err := codec.Unmarshal(body, v); err != nil {
		return fmt.Errorf("syncproto: decoding payload: %w", err)
	}
	return nil
}
