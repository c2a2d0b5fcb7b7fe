// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ouisync-go/ouisync/access"
	"github.com/ouisync-go/ouisync/blockstore"
	"github.com/ouisync-go/ouisync/branch"
	"github.com/ouisync-go/ouisync/index"
	"github.com/ouisync-go/ouisync/lib/ouilog"
	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/lib/sqlitepool"
	"github.com/ouisync-go/ouisync/objectlayer"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// schemaVersion is the on-disk format version this build writes and
// understands. A stored version greater than this one means the
// repository was last opened by a newer release (spec.md §6); this
// build refuses to touch it rather than risk downgrading it.
const schemaVersion = 1

// rootDirectoryId is the well-known object id every branch uses for
// the repository's root directory. Unlike NewDirectoryId/NewFileId,
// which mint unpredictable ids for ordinary objects, the root must be
// the same fixed value across every branch so that two branches'
// independently-written root directories are recognized as the same
// object for merge purposes (spec.md §4.6) — ordinary objects get
// that shared identity from their containing directory entry instead.
var rootDirectoryId = ouicrypto.Hash{}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS metadata (
	key   BLOB PRIMARY KEY,
	value BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_refs (
	branch_id    BLOB PRIMARY KEY,
	root_hash    BLOB NOT NULL,
	published_at INTEGER NOT NULL
);
`

var (
	metaKeySchemaVersion = []byte("schema_version")
	metaKeySalt          = []byte("salt")
	metaKeyRepositoryId  = []byte("repository_id")
)

// Options tunes the stores a Repository opens. The zero value is
// sensible for all but the busiest repositories.
type Options struct {
	// PoolSize is the SQLite connection pool size used for each of the
	// three pools (metadata, block store, index) opened against the
	// repository's file. Defaults per sqlitepool.Config if zero.
	PoolSize int

	Logger *slog.Logger
}

// Repository is one local replica of a repository: a possibly-mutable
// local branch plus read-only access to every other branch this
// process has synced, all backed by one SQLite database file.
type Repository struct {
	// mu serializes local writes, implementing spec.md §5's
	// per-branch write lock — it sits below the process-wide
	// registry lock and above block_store_tx in the total lock
	// order (documented in registry.go).
	mu sync.Mutex

	id    ouicrypto.RepositoryId
	meta  *sqlitepool.Pool
	blocks *blockstore.Store
	nodes  *index.Store
	objects *objectlayer.Store

	caps    access.Capabilities
	keyPair *ouicrypto.KeyPair // nil unless caps.Mode == access.ModeWrite
	local   *branch.Branch     // nil unless caps.Mode == access.ModeWrite

	logger *slog.Logger
	events chan Event
}

// Create initializes a brand-new repository at storePath, deriving
// its write key from passphrase via Argon2id (spec.md §4.1), and
// returns its RepositoryId. passphrase must be non-empty: owner
// secrets are always a passphrase in this package, a raw key has no
// verb to enter through (a lost or forgotten write key has no share
// token, by the same asymmetry that makes the schedule useful).
// Returns ouierr.EntryExists if storePath already holds a repository.
func Create(ctx context.Context, storePath string, passphrase []byte, opts Options) (ouicrypto.RepositoryId, error) {
	if len(passphrase) == 0 {
		return ouicrypto.RepositoryId{}, fmt.Errorf("%w: repository passphrase must not be empty", ouierr.InvalidArgument)
	}

	meta, err := openMetadataPool(storePath, opts)
	if err != nil {
		return ouicrypto.RepositoryId{}, err
	}
	defer meta.Close()

	if _, ok, err := readMetaUint32(ctx, meta, metaKeySchemaVersion); err != nil {
		return ouicrypto.RepositoryId{}, err
	} else if ok {
		return ouicrypto.RepositoryId{}, fmt.Errorf("%w: %s already holds a repository", ouierr.EntryExists, storePath)
	}

	salt, err := ouicrypto.GenerateSalt()
	if err != nil {
		return ouicrypto.RepositoryId{}, fmt.Errorf("repository: create: %w", err)
	}
	writeKey, err := ouicrypto.DeriveWriteKeyFromPassphrase(passphrase, salt)
	if err != nil {
		return ouicrypto.RepositoryId{}, fmt.Errorf("repository: create: %w", err)
	}
	defer writeKey.Close()

	repoID := ouicrypto.DeriveRepositoryId(writeKey)

	if err := writeMetaUint32(ctx, meta, metaKeySchemaVersion, schemaVersion); err != nil {
		return ouicrypto.RepositoryId{}, err
	}
	if err := writeMetaBytes(ctx, meta, metaKeySalt, salt[:]); err != nil {
		return ouicrypto.RepositoryId{}, err
	}
	if err := writeMetaBytes(ctx, meta, metaKeyRepositoryId, repoID[:]); err != nil {
		return ouicrypto.RepositoryId{}, err
	}

	return repoID, nil
}

// Open opens an existing repository at storePath as its owner,
// re-deriving the write key from passphrase. Returns
// ouierr.PermissionDenied if passphrase is wrong and
// ouierr.StorageVersionMismatch if storePath's schema version is
// newer than this build supports.
func Open(ctx context.Context, storePath string, passphrase []byte, opts Options) (*Repository, error) {
	meta, err := openMetadataPool(storePath, opts)
	if err != nil {
		return nil, err
	}

	version, salt, storedID, err := readRepositoryMetadata(ctx, meta)
	if err != nil {
		meta.Close()
		return nil, err
	}
	if version > schemaVersion {
		meta.Close()
		return nil, fmt.Errorf("%w: repository schema version %d, this build supports up to %d", ouierr.StorageVersionMismatch, version, schemaVersion)
	}

	writeKey, err := ouicrypto.DeriveWriteKeyFromPassphrase(passphrase, salt)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("repository: open: %w", err)
	}
	defer writeKey.Close()

	if ouicrypto.DeriveRepositoryId(writeKey) != storedID {
		meta.Close()
		return nil, fmt.Errorf("%w: wrong passphrase for repository at %s", ouierr.PermissionDenied, storePath)
	}

	token := access.Token{RepositoryId: storedID, Mode: access.ModeWrite, Key: writeKey}
	return openWithCapabilities(ctx, storePath, meta, token, opts)
}

// OpenWithToken opens storePath using a share token rather than the
// owner's passphrase, at whatever mode the token carries (spec.md
// §4.4). Returns ouierr.PermissionDenied if token's RepositoryId does
// not match the repository already present at storePath.
func OpenWithToken(ctx context.Context, storePath string, token access.Token, opts Options) (*Repository, error) {
	meta, err := openMetadataPool(storePath, opts)
	if err != nil {
		return nil, err
	}

	version, _, storedID, err := readRepositoryMetadata(ctx, meta)
	if err != nil {
		meta.Close()
		return nil, err
	}
	if version > schemaVersion {
		meta.Close()
		return nil, fmt.Errorf("%w: repository schema version %d, this build supports up to %d", ouierr.StorageVersionMismatch, version, schemaVersion)
	}
	if token.RepositoryId != storedID {
		meta.Close()
		return nil, fmt.Errorf("%w: share token does not match repository at %s", ouierr.PermissionDenied, storePath)
	}

	return openWithCapabilities(ctx, storePath, meta, token, opts)
}

func openWithCapabilities(ctx context.Context, storePath string, meta *sqlitepool.Pool, token access.Token, opts Options) (*Repository, error) {
	caps, err := access.DeriveCapabilities(token)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("repository: %w", err)
	}

	logger := ouilog.Discard(opts.Logger)

	blocks, err := blockstore.Open(blockstore.Config{Path: storePath, PoolSize: opts.PoolSize, Logger: logger})
	if err != nil {
		meta.Close()
		caps.Close()
		return nil, fmt.Errorf("repository: %w", err)
	}
	nodes, err := index.Open(index.Config{Path: storePath, PoolSize: opts.PoolSize, Logger: logger})
	if err != nil {
		blocks.Close()
		meta.Close()
		caps.Close()
		return nil, fmt.Errorf("repository: %w", err)
	}

	repo := &Repository{
		id:      caps.RepositoryId,
		meta:    meta,
		blocks:  blocks,
		nodes:   nodes,
		objects: objectlayer.New(blocks, nodes),
		caps:    caps,
		logger:  logger,
		events:  make(chan Event, eventBufferSize),
	}

	if caps.Mode == access.ModeWrite {
		keyPair, err := ouicrypto.DeriveUserKeypair(caps.WriteKey)
		if err != nil {
			repo.closeStores()
			return nil, fmt.Errorf("repository: %w", err)
		}
		local, err := branch.Load(ctx, nodes, keyPair.UserId())
		if err != nil {
			keyPair.Close()
			repo.closeStores()
			return nil, fmt.Errorf("repository: %w", err)
		}
		repo.keyPair = keyPair
		repo.local = local
	}

	return repo, nil
}

func openMetadataPool(storePath string, opts Options) (*sqlitepool.Pool, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     storePath,
		PoolSize: opts.PoolSize,
		Logger:   ouilog.Discard(opts.Logger),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, metadataSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	return pool, nil
}

func readRepositoryMetadata(ctx context.Context, meta *sqlitepool.Pool) (version uint32, salt [ouicrypto.SaltSize]byte, repoID ouicrypto.RepositoryId, err error) {
	version, ok, err := readMetaUint32(ctx, meta, metaKeySchemaVersion)
	if err != nil {
		return 0, salt, repoID, err
	}
	if !ok {
		return 0, salt, repoID, fmt.Errorf("%w: no repository at this path", ouierr.EntryNotFound)
	}

	saltBytes, err := readMetaBytes(ctx, meta, metaKeySalt)
	if err != nil {
		return 0, salt, repoID, err
	}
	copy(salt[:], saltBytes)

	idBytes, err := readMetaBytes(ctx, meta, metaKeyRepositoryId)
	if err != nil {
		return 0, salt, repoID, err
	}
	copy(repoID[:], idBytes)

	return version, salt, repoID, nil
}

func writeMetaBytes(ctx context.Context, pool *sqlitepool.Pool, key, value []byte) error {
	conn, err := pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{key, value}},
	)
	if err != nil {
		return fmt.Errorf("%w: writing metadata: %v", ouierr.Store, err)
	}
	return nil
}

func writeMetaUint32(ctx context.Context, pool *sqlitepool.Pool, key []byte, value uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	return writeMetaBytes(ctx, pool, key, buf[:])
}

func readMetaBytes(ctx context.Context, pool *sqlitepool.Pool, key []byte) ([]byte, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	defer pool.Put(conn)

	var value []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT value FROM metadata WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading metadata: %v", ouierr.Store, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: metadata key %q", ouierr.EntryNotFound, key)
	}
	return value, nil
}

func readMetaUint32(ctx context.Context, pool *sqlitepool.Pool, key []byte) (uint32, bool, error) {
	value, err := readMetaBytes(ctx, pool, key)
	if ouierr.Is(err, ouierr.EntryNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(value) != 4 {
		return 0, false, fmt.Errorf("%w: metadata value for %q is %d bytes, want 4", ouierr.MalformedData, key, len(value))
	}
	return binary.BigEndian.Uint32(value), true, nil
}

// ID returns the repository's RepositoryId.
func (r *Repository) ID() ouicrypto.RepositoryId {
	return r.id
}

// Mode returns the access mode this Repository was opened at.
func (r *Repository) Mode() access.Mode {
	return r.caps.Mode
}

// LocalUserId returns this process's local branch identity, and false
// if the repository was opened at ModeRead or ModeBlind and therefore
// has no local branch.
func (r *Repository) LocalUserId() (ouicrypto.UserId, bool) {
	if r.keyPair == nil {
		return ouicrypto.UserId{}, false
	}
	return r.keyPair.UserId(), true
}

// Blocks returns the repository's block store, for wiring a
// reconcile.Engine or a netpeer session handler.
func (r *Repository) Blocks() *blockstore.Store {
	return r.blocks
}

// Nodes returns the repository's index store, for the same reason as
// Blocks.
func (r *Repository) Nodes() *index.Store {
	return r.nodes
}

// ReadKey returns the repository's read key, or nil if this
// Repository was opened at ModeBlind. Borrowed; do not close it.
func (r *Repository) ReadKey() *secret.Buffer {
	return r.caps.ReadKey
}

// Close releases every resource the Repository holds: its SQLite
// pools and any key material derived for it. Idempotent is not
// guaranteed — call exactly once.
func (r *Repository) Close() error {
	var err error
	if r.keyPair != nil {
		err = r.keyPair.Close()
	}
	if closeErr := r.caps.Close(); err == nil {
		err = closeErr
	}
	if closeErr := r.closeStores(); err == nil {
		err = closeErr
	}
	return err
}

func (r *Repository) closeStores() error {
	var err error
	if r.nodes != nil {
		err = r.nodes.Close()
	}
	if r.blocks != nil {
		if closeErr := r.blocks.Close(); err == nil {
			err = closeErr
		}
	}
	if r.meta != nil {
		if closeErr := r.meta.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// writeGuard returns ouierr.PermissionDenied if this Repository has no
// local branch to mutate.
func (r *Repository) writeGuard() error {
	if err := r.caps.Require(access.ModeWrite); err != nil {
		return err
	}
	if r.local == nil || r.keyPair == nil {
		return fmt.Errorf("%w: repository has no local branch", ouierr.PermissionDenied)
	}
	return nil
}

// mutate runs fn under the repository's write lock as one local
// branch commit, then emits a BranchChanged event on success.
func (r *Repository) mutate(ctx context.Context, fn func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error)) error {
	if err := r.writeGuard(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.local.Mutate(ctx, r.keyPair, fn); err != nil {
		return err
	}
	r.emit(Event{Kind: EventBranchChanged, UserId: r.keyPair.UserId()})
	return nil
}
