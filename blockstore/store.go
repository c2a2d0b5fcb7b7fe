// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ouisync-go/ouisync/lib/sqlitepool"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// NonceSize is the size in bytes of the XChaCha20-Poly1305 nonce
// stored alongside each block's ciphertext.
const NonceSize = chacha20poly1305.NonceSizeX

// Nonce is the per-block nonce derived by package ouicrypto from
// (read_key, locator).
type Nonce = [NonceSize]byte

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	id      BLOB PRIMARY KEY,
	nonce   BLOB NOT NULL,
	content BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS block_refs (
	branch_id BLOB NOT NULL,
	locator   BLOB NOT NULL,
	block_id  BLOB NOT NULL,
	PRIMARY KEY (branch_id, locator)
);

CREATE INDEX IF NOT EXISTS idx_block_refs_block_id ON block_refs(block_id);
`

// Config holds the parameters for opening a block store.
type Config struct {
	// Path is the filesystem path to the repository's SQLite database
	// file, shared with package index. Blocks and index nodes live in
	// the same file, but each store opens its own connection pool and
	// commits each call on its own; no transaction spans the two.
	Path string

	// PoolSize is the connection pool size. If zero, sqlitepool's
	// default applies (the larger of runtime.NumCPU() and 4).
	PoolSize int

	Logger *slog.Logger
}

// Store is a repository's content-addressed block store.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens (creating if necessary) the block store backing a
// repository database file. The blocks and block_refs tables are
// created on first connection via OnConnect, mirroring how
// cmd/bureau-telemetry-service/store.go bootstraps its partition
// tables.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Put stores a block's nonce and ciphertext under blockID. Put is
// idempotent: storing the same blockID twice with identical
// (nonce, ciphertext) is a no-op. If blockID already exists with a
// different nonce or ciphertext, Put returns an error wrapping
// ouierr.Store — two different plaintexts hashing to the same
// BlockId is a corruption condition that must never be silently
// accepted (spec.md Invariant 1).
func (s *Store) Put(ctx context.Context, blockID ouicrypto.Hash, nonce Nonce, ciphertext []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("blockstore: put: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("blockstore: put: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var existingNonce []byte
	var existingContent []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT nonce, content FROM blocks WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{blockID[:]},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			existingNonce = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, existingNonce)
			existingContent = make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, existingContent)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("blockstore: put: lookup: %w", err)
	}

	if found {
		if bytes.Equal(existingNonce, nonce[:]) && bytes.Equal(existingContent, ciphertext) {
			return nil
		}
		err = fmt.Errorf("%w: block %s already stored with different content", ouierr.Store, ouicrypto.FormatHash(blockID))
		return err
	}

	err = sqlitex.Execute(conn, "INSERT INTO blocks (id, nonce, content) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{blockID[:], nonce[:], ciphertext},
	})
	if err != nil {
		return fmt.Errorf("blockstore: put: insert: %w", err)
	}

	return nil
}

// Get returns the nonce and ciphertext stored under blockID. Returns
// an error wrapping ouierr.EntryNotFound if no such block is stored.
func (s *Store) Get(ctx context.Context, blockID ouicrypto.Hash) (Nonce, []byte, error) {
	var nonce Nonce
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nonce, nil, fmt.Errorf("blockstore: get: %w", err)
	}
	defer s.pool.Put(conn)

	var ciphertext []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT nonce, content FROM blocks WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{blockID[:]},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			stmt.ColumnBytes(0, nonce[:])
			ciphertext = make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, ciphertext)
			return nil
		},
	})
	if err != nil {
		return nonce, nil, fmt.Errorf("blockstore: get: %w", err)
	}
	if !found {
		return nonce, nil, fmt.Errorf("%w: block %s", ouierr.EntryNotFound, ouicrypto.FormatHash(blockID))
	}

	return nonce, ciphertext, nil
}

// Reference records that (branchID, locator) currently points at
// blockID, overwriting any previous block_id recorded for that
// (branchID, locator). The statement commits on its own, separately
// from the Put that stored blockID; no caller wraps the two in one
// transaction.
func (s *Store) Reference(ctx context.Context, branchID, locator ouicrypto.Hash, blockID ouicrypto.Hash) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("blockstore: reference: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO block_refs (branch_id, locator, block_id) VALUES (?, ?, ?) "+
			"ON CONFLICT (branch_id, locator) DO UPDATE SET block_id = excluded.block_id",
		&sqlitex.ExecOptions{Args: []any{branchID[:], locator[:], blockID[:]}},
	)
	if err != nil {
		return fmt.Errorf("blockstore: reference: %w", err)
	}
	return nil
}

// Unreference removes the (branchID, locator) entry from the
// reachability table, e.g. when a file is truncated or an entry is
// removed. The underlying block is not deleted until GarbageCollect
// runs and finds it unreferenced by every branch.
func (s *Store) Unreference(ctx context.Context, branchID, locator ouicrypto.Hash) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("blockstore: unreference: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM block_refs WHERE branch_id = ? AND locator = ?",
		&sqlitex.ExecOptions{Args: []any{branchID[:], locator[:]}},
	)
	if err != nil {
		return fmt.Errorf("blockstore: unreference: %w", err)
	}
	return nil
}

// GarbageCollect deletes every block that no (branch, locator) entry
// references any more. Returns the number of blocks removed. Safe to
// call concurrently with Put/Reference: a block inserted mid-sweep is
// either picked up by a later sweep or survives because its reference
// was already committed.
func (s *Store) GarbageCollect(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("blockstore: gc: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("blockstore: gc: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		"DELETE FROM blocks WHERE id NOT IN (SELECT DISTINCT block_id FROM block_refs)",
		nil,
	)
	if err != nil {
		return 0, fmt.Errorf("blockstore: gc: %w", err)
	}

	removed := conn.Changes()
	s.logger.Info("block store garbage collected", "removed", removed)
	return removed, nil
}
