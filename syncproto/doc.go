// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncproto implements spec.md §4.8's wire protocol: a
// bidirectional, multiplexed exchange of length-prefixed CBOR messages
// over any io.ReadWriteCloser, grounded on lib/artifact/transfer.go's
// writeMessage/readMessage helpers (a 4-byte big-endian length prefix
// followed by a CBOR-encoded body).
//
// Unlike artifact's request/response-per-connection shape, a sync
// session is long-lived and symmetric: either side can announce a
// root, request a peer's root, ask for a trie node's children, or ask
// for a block, all interleaved on one connection. Session assigns a
// monotonic request id to each outgoing request and matches the
// eventual response by id, so a slow Block fetch never head-of-line
// blocks a concurrent RootRequest. An unrecognized message Kind ends
// the session — there is no protocol negotiation, so forward
// compatibility is not a goal (see spec.md §4.8's Non-goals).
package syncproto
