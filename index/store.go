// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ouisync-go/ouisync/lib/sqlitepool"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_nodes (
	hash   BLOB PRIMARY KEY,
	bucket INTEGER NOT NULL,
	bytes  BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS branches (
	user_id        BLOB PRIMARY KEY,
	version_vector BLOB NOT NULL,
	root_hash      BLOB NOT NULL,
	signature      BLOB NOT NULL
);
`

// Config holds the parameters for opening an index store.
type Config struct {
	// Path is the filesystem path to the repository's SQLite database
	// file. Shared with package blockstore: both packages open their
	// own pool against the same file, which WAL mode permits.
	Path string

	PoolSize int
	Logger   *slog.Logger
}

// Store persists a repository's trie nodes and branch root records.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens (creating if necessary) the index tables in a
// repository database file.
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
		return nil, fmt.Errorf("index: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// PutNode stores node content-addressed by its own hash and returns
// that hash. Idempotent: storing an identical node twice is a no-op,
// and two different locators whose subtrees happen to be byte-
// identical share the same row without the caller doing anything
// special — the defining property of hash-keyed storage.
func (s *Store) PutNode(ctx context.Context, node Node) (ouicrypto.Hash, error) {
	encoded, err := encodeNode(node)
	if err != nil {
		return ouicrypto.Hash{}, err
	}
	hash := nodeHash(encoded)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return ouicrypto.Hash{}, fmt.Errorf("index: put node: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO index_nodes (hash, bucket, bytes) VALUES (?, ?, ?) ON CONFLICT (hash) DO NOTHING",
		&sqlitex.ExecOptions{Args: []any{hash[:], 0, encoded}},
	)
	if err != nil {
		return ouicrypto.Hash{}, fmt.Errorf("index: put node: %w", err)
	}

	return hash, nil
}

// PutRawNode stores encoded bytes received from a peer, content-
// addressed by expectedHash, without re-encoding them through Node
// first. Deterministic CBOR encoding means decode-then-reencode would
// normally reproduce the same bytes anyway, but storing the wire bytes
// verbatim sidesteps any doubt about it and lets expectedHash (the
// hash the caller actually requested via a ChildrenRequest) serve as
// the sole authority for what gets written. Returns an error wrapping
// ouierr.MalformedData if encoded does not decode into a well-formed
// Node or its hash does not match expectedHash.
func (s *Store) PutRawNode(ctx context.Context, expectedHash ouicrypto.Hash, encoded []byte) error {
	if _, err := decodeNode(encoded); err != nil {
		return fmt.Errorf("%w: %v", ouierr.MalformedData, err)
	}
	if nodeHash(encoded) != expectedHash {
		return fmt.Errorf("%w: node bytes do not hash to the requested id", ouierr.MalformedData)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("index: put raw node: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO index_nodes (hash, bucket, bytes) VALUES (?, ?, ?) ON CONFLICT (hash) DO NOTHING",
		&sqlitex.ExecOptions{Args: []any{expectedHash[:], 0, encoded}},
	)
	if err != nil {
		return fmt.Errorf("index: put raw node: %w", err)
	}
	return nil
}

// GetNode fetches and decodes the node stored under hash. Returns an
// error wrapping ouierr.EntryNotFound if no such node exists.
func (s *Store) GetNode(ctx context.Context, hash ouicrypto.Hash) (Node, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Node{}, fmt.Errorf("index: get node: %w", err)
	}
	defer s.pool.Put(conn)

	var encoded []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT bytes FROM index_nodes WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{hash[:]},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			encoded = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, encoded)
			return nil
		},
	})
	if err != nil {
		return Node{}, fmt.Errorf("index: get node: %w", err)
	}
	if !found {
		return Node{}, fmt.Errorf("%w: index node %s", ouierr.EntryNotFound, ouicrypto.FormatHash(hash))
	}

	return decodeNode(encoded)
}

// Lookup resolves locator to a BlockId under rootHash, descending one
// byte of the locator per level. Returns found=false if no entry is
// present, either because the tree is empty (a zero rootHash) or
// because the path terminates in an absent child.
func (s *Store) Lookup(ctx context.Context, rootHash ouicrypto.Hash, locator ouicrypto.Locator) (ouicrypto.Hash, bool, error) {
	current := rootHash
	for depth := 0; depth < maxDepth; depth++ {
		if current == (ouicrypto.Hash{}) {
			return ouicrypto.Hash{}, false, nil
		}
		node, err := s.GetNode(ctx, current)
		if err != nil {
			return ouicrypto.Hash{}, false, err
		}
		current = node.Children[locator[depth]]
	}
	if current == (ouicrypto.Hash{}) {
		return ouicrypto.Hash{}, false, nil
	}
	return current, true, nil
}

// Insert writes blockID at locator under rootHash and returns the new
// root hash. The previous tree is left untouched — every node on the
// path from leaf to root is rewritten and re-persisted, but nodes off
// the path are shared by hash with the old tree, so Insert never costs
// more than O(maxDepth) node writes regardless of tree size.
func (s *Store) Insert(ctx context.Context, rootHash ouicrypto.Hash, locator ouicrypto.Locator, blockID ouicrypto.Hash) (ouicrypto.Hash, error) {
	return s.insertAt(ctx, rootHash, locator, 0, blockID)
}

func (s *Store) insertAt(ctx context.Context, currentHash ouicrypto.Hash, locator ouicrypto.Locator, depth int, blockID ouicrypto.Hash) (ouicrypto.Hash, error) {
	if depth == maxDepth {
		return blockID, nil
	}

	var node Node
	if currentHash != (ouicrypto.Hash{}) {
		existing, err := s.GetNode(ctx, currentHash)
		if err != nil {
			return ouicrypto.Hash{}, err
		}
		node = existing
	}

	childIndex := locator[depth]
	newChild, err := s.insertAt(ctx, node.Children[childIndex], locator, depth+1, blockID)
	if err != nil {
		return ouicrypto.Hash{}, err
	}
	node.Children[childIndex] = newChild

	return s.PutNode(ctx, node)
}

// DiffEntry is one (Locator, BlockId) pair present in the remote tree
// with a value the local tree does not already have at that path.
type DiffEntry struct {
	Locator ouicrypto.Locator
	BlockId ouicrypto.Hash
}

// Diff walks localRoot and remoteRoot in lockstep, skipping every
// subtree whose hash is identical on both sides, and returns the
// (Locator, BlockId) pairs that differ — the set of blocks the local
// side needs to pull to catch up with remote. This is the core of
// bandwidth-efficient sync (spec.md §4.3): two branches that agree on
// everything below some node never read or transmit that node's
// subtree at all.
func (s *Store) Diff(ctx context.Context, localRoot, remoteRoot ouicrypto.Hash) ([]DiffEntry, error) {
	var out []DiffEntry
	if err := s.diffAt(ctx, localRoot, remoteRoot, ouicrypto.Locator{}, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) diffAt(ctx context.Context, local, remote ouicrypto.Hash, prefix ouicrypto.Locator, depth int, out *[]DiffEntry) error {
	if local == remote {
		return nil
	}

	if depth == maxDepth {
		if remote != (ouicrypto.Hash{}) {
			*out = append(*out, DiffEntry{Locator: prefix, BlockId: remote})
		}
		return nil
	}

	var localNode, remoteNode Node
	if local != (ouicrypto.Hash{}) {
		n, err := s.GetNode(ctx, local)
		if err != nil {
			return err
		}
		localNode = n
	}
	if remote != (ouicrypto.Hash{}) {
		n, err := s.GetNode(ctx, remote)
		if err != nil {
			return err
		}
		remoteNode = n
	}

	for i := 0; i < fanout; i++ {
		if localNode.Children[i] == remoteNode.Children[i] {
			continue
		}
		childPrefix := prefix
		childPrefix[depth] = byte(i)
		if err := s.diffAt(ctx, localNode.Children[i], remoteNode.Children[i], childPrefix, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// Frontier walks hash's subtree and reports what a caller still needs
// to fetch to materialize it locally: node hashes that are not yet
// stored (missingNodes) and leaf BlockIds that checkPresent reports as
// absent (missingBlocks, paired with their Locator). Recursion stops
// at the first missing node along a path — whatever lies beneath an
// unseen subtree is unknown until that node arrives — which is why a
// single Frontier call only ever reveals one more layer of a brand new
// subtree at a time, the same shape as Diff's lockstep walk but usable
// before any matching local root exists to diff against.
//
// checkPresent reports whether a candidate BlockId is already stored
// locally; Frontier does not import package blockstore itself to avoid
// a layering cycle; the caller should pass a function backed by
// blockstore.Store.Get.
func (s *Store) Frontier(ctx context.Context, hash ouicrypto.Hash, checkPresent func(ouicrypto.Hash) (bool, error)) (missingNodes []ouicrypto.Hash, missingBlocks []DiffEntry, err error) {
	err = s.frontierAt(ctx, hash, ouicrypto.Locator{}, 0, checkPresent, &missingNodes, &missingBlocks)
	return
}

func (s *Store) frontierAt(ctx context.Context, hash ouicrypto.Hash, prefix ouicrypto.Locator, depth int, checkPresent func(ouicrypto.Hash) (bool, error), missingNodes *[]ouicrypto.Hash, missingBlocks *[]DiffEntry) error {
	if hash == (ouicrypto.Hash{}) {
		return nil
	}

	if depth == maxDepth {
		present, err := checkPresent(hash)
		if err != nil {
			return err
		}
		if !present {
			*missingBlocks = append(*missingBlocks, DiffEntry{Locator: prefix, BlockId: hash})
		}
		return nil
	}

	node, err := s.GetNode(ctx, hash)
	if err != nil {
		if ouierr.Is(err, ouierr.EntryNotFound) {
			*missingNodes = append(*missingNodes, hash)
			return nil
		}
		return err
	}

	for i := 0; i < fanout; i++ {
		child := node.Children[i]
		if child == (ouicrypto.Hash{}) {
			continue
		}
		childPrefix := prefix
		childPrefix[depth] = byte(i)
		if err := s.frontierAt(ctx, child, childPrefix, depth+1, checkPresent, missingNodes, missingBlocks); err != nil {
			return err
		}
	}
	return nil
}

// RootRecord is a branch's signed root: the hash of the root trie
// node plus the VersionVector (opaque here — package branch owns its
// encoding) and signature that make the root authoritative for that
// UserId. index persists this record but does not interpret it.
type RootRecord struct {
	UserId            ouicrypto.UserId
	VersionVectorBytes []byte
	RootHash          ouicrypto.Hash
	Signature         []byte
}

// PutRoot stores or replaces the root record for record.UserId. The
// caller (package branch) is responsible for having already verified
// the signature and VersionVector monotonicity — PutRoot performs no
// validation of its own.
func (s *Store) PutRoot(ctx context.Context, record RootRecord) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("index: put root: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO branches (user_id, version_vector, root_hash, signature) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (user_id) DO UPDATE SET version_vector = excluded.version_vector, "+
			"root_hash = excluded.root_hash, signature = excluded.signature",
		&sqlitex.ExecOptions{Args: []any{record.UserId[:], record.VersionVectorBytes, record.RootHash[:], record.Signature}},
	)
	if err != nil {
		return fmt.Errorf("index: put root: %w", err)
	}
	return nil
}

// GetRoot returns the stored root record for userID. Returns an error
// wrapping ouierr.EntryNotFound if this branch has no root yet (a
// brand-new, empty branch).
func (s *Store) GetRoot(ctx context.Context, userID ouicrypto.UserId) (RootRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return RootRecord{}, fmt.Errorf("index: get root: %w", err)
	}
	defer s.pool.Put(conn)

	var record RootRecord
	found := false
	err = sqlitex.Execute(conn, "SELECT version_vector, root_hash, signature FROM branches WHERE user_id = ?", &sqlitex.ExecOptions{
		Args: []any{userID[:]},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			record.UserId = userID
			record.VersionVectorBytes = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, record.VersionVectorBytes)
			stmt.ColumnBytes(1, record.RootHash[:])
			record.Signature = make([]byte, stmt.ColumnLen(2))
			stmt.ColumnBytes(2, record.Signature)
			return nil
		},
	})
	if err != nil {
		return RootRecord{}, fmt.Errorf("index: get root: %w", err)
	}
	if !found {
		return RootRecord{}, fmt.Errorf("%w: root for user %s", ouierr.EntryNotFound, ouicrypto.FormatHash(ouicrypto.Hash(userID)))
	}

	return record, nil
}

// AllRoots returns every branch's root record, for enumerating peers
// in reconciliation.
func (s *Store) AllRoots(ctx context.Context) ([]RootRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("index: all roots: %w", err)
	}
	defer s.pool.Put(conn)

	var records []RootRecord
	err = sqlitex.Execute(conn, "SELECT user_id, version_vector, root_hash, signature FROM branches", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var record RootRecord
			stmt.ColumnBytes(0, record.UserId[:])
			record.VersionVectorBytes = make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, record.VersionVectorBytes)
			stmt.ColumnBytes(2, record.RootHash[:])
			record.Signature = make([]byte, stmt.ColumnLen(3))
			stmt.ColumnBytes(3, record.Signature)
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("index: all roots: %w", err)
	}
	return records, nil
}
