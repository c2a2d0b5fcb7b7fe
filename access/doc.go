// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package access implements the repository's three-tier key schedule
// (write, read, blind) and its compact share-token encoding.
//
// A Token carries exactly one key — the write key, the read key, or
// the blind id, depending on Mode — plus the RepositoryId and an
// optional human-readable name hint. DeriveCapabilities expands that
// one key down the schedule (write → read → blind) via package
// ouicrypto, never up: a read-mode token can derive a blind id but
// can never recover the write key, which is the whole point of the
// schedule (spec.md §4.4).
//
// Token encoding/locking is grounded on lib/sealed's shape: a typed
// bundle, Close/zeroization discipline on decoded secret material,
// and filippo.io/age underneath. The teacher uses age's X25519
// multi-recipient path (several machine/operator public keys); a
// share token protects one passphrase for one accessor, which is
// age's scrypt path instead — see DESIGN.md Open Question notes.
package access
