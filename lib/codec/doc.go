// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides ouisync-go's standard CBOR encoding
// configuration.
//
// CBOR is the only on-the-wire and on-disk serialization format used
// by the core: directory blobs (package objectlayer), index node
// bytes (package index), and syncproto messages all round-trip
// through this package so that every writer produces byte-identical
// output for byte-identical logical state — required by Invariant 5
// (deterministic ciphertext from deterministic plaintext).
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Same logical data always produces identical bytes.
//
// For buffer-oriented operations (directory blobs, share tokens):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (syncproto sessions):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// syncproto message structs use `cbor:"N,keyasint"` tags: small
// integer keys instead of field names keep wire messages compact and
// make the tag-dispatch on unknown messages (syncproto terminates the
// session on an unrecognized tag) a simple integer switch.
package codec
