// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// ouisyncd is a minimal daemon binary: it opens one repository,
// optionally mounts it over FUSE, and blocks until SIGINT/SIGTERM.
// It wires together configuration, logging, and the repository
// façade exactly as far as spec.md §9 goes — length-prefixed network
// framing and a WebRTC-backed sync loop are left to a caller that
// wants them (package netpeer and package syncproto exist for that,
// but gluing them into a long-running reconciliation loop is outside
// this binary's minimal scope).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ouisync-go/ouisync/access"
	"github.com/ouisync-go/ouisync/fsmount"
	"github.com/ouisync-go/ouisync/lib/ouilog"
	"github.com/ouisync-go/ouisync/ouierr"
	"github.com/ouisync-go/ouisync/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		storePath      string
		passphraseFile string
		tokenFile      string
		mountpoint     string
		readOnly       bool
		create         bool
		showVersion    bool
	)

	configDir := os.Getenv("OUISYNC_CONFIG_DIR")
	storeDir := os.Getenv("OUISYNC_STORE_DIR")

	flagSet := pflag.NewFlagSet("ouisyncd", pflag.ContinueOnError)
	flagSet.StringVar(&storePath, "store", "", "path to the repository database file (default: $OUISYNC_STORE_DIR/repository.ouisync)")
	flagSet.StringVar(&passphraseFile, "passphrase-file", "", "path to a file holding the owner write passphrase (default: $OUISYNC_CONFIG_DIR/passphrase)")
	flagSet.StringVar(&tokenFile, "token-file", "", "path to a file holding an encoded share token, instead of --passphrase-file")
	flagSet.StringVar(&mountpoint, "mount", "", "optional FUSE mountpoint to expose the repository's file tree at")
	flagSet.BoolVar(&readOnly, "read-only", false, "mount (and present) the repository read-only regardless of the opened access mode")
	flagSet.BoolVar(&create, "create", false, "create a new repository at --store if one does not already exist")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		flagSet.PrintDefaults()
		return nil
	}
	if showVersion {
		fmt.Println("ouisyncd (ouisync-go)")
		return nil
	}

	logger := ouilog.New(os.Getenv("OUISYNC_LOG"))

	if storePath == "" {
		if storeDir == "" {
			return fmt.Errorf("--store or $OUISYNC_STORE_DIR is required")
		}
		storePath = filepath.Join(storeDir, "repository.ouisync")
	}
	if passphraseFile == "" && configDir != "" {
		passphraseFile = filepath.Join(configDir, "passphrase")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, storePath, passphraseFile, tokenFile, create, logger)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	defer repo.Close()

	if err := repository.Register(repo); err != nil {
		return fmt.Errorf("registering repository: %w", err)
	}
	defer repository.Unregister(repo.ID())

	if mountpoint != "" {
		server, err := fsmount.Mount(fsmount.Options{
			Mountpoint: mountpoint,
			Repository: repo,
			ReadOnly:   readOnly || repo.Mode() != access.ModeWrite,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("mounting %s: %w", mountpoint, err)
		}
		defer server.Unmount()
		logger.Info("repository mounted", "mountpoint", mountpoint, "mode", repo.Mode())
	}

	logger.Info("ouisyncd ready", "store", storePath, "repository_id", fmt.Sprintf("%x", repo.ID()), "mode", repo.Mode())

	go logEvents(ctx, repo, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// openRepository opens storePath as its owner via --passphrase-file,
// as a share-token holder via --token-file, or creates a brand-new
// owner repository when --create is set and storePath does not yet
// hold one.
func openRepository(ctx context.Context, storePath, passphraseFile, tokenFile string, create bool, logger *slog.Logger) (*repository.Repository, error) {
	opts := repository.Options{Logger: logger}

	if tokenFile != "" {
		encoded, err := readTrimmedFile(tokenFile)
		if err != nil {
			return nil, err
		}

		token, err := decodeToken(encoded, passphraseFile)
		if err != nil {
			return nil, err
		}
		defer token.Close()

		return repository.OpenWithToken(ctx, storePath, token, opts)
	}

	if passphraseFile == "" {
		return nil, fmt.Errorf("--passphrase-file or --token-file is required")
	}
	passphrase, err := os.ReadFile(passphraseFile)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase file %s: %w", passphraseFile, err)
	}
	passphrase = []byte(strings.TrimSpace(string(passphrase)))

	if create {
		if _, err := repository.Create(ctx, storePath, passphrase, opts); err != nil && !ouierr.Is(err, ouierr.EntryExists) {
			return nil, err
		}
	}

	return repository.Open(ctx, storePath, passphrase, opts)
}

func decodeToken(encoded, passphraseFile string) (access.Token, error) {
	locked, err := access.IsLocked(encoded)
	if err != nil {
		return access.Token{}, fmt.Errorf("parsing share token: %w", err)
	}
	if !locked {
		return access.Decode(encoded)
	}

	if passphraseFile == "" {
		return access.Token{}, fmt.Errorf("share token is passphrase-locked, but --passphrase-file was not given")
	}
	passphrase, err := readTrimmedFile(passphraseFile)
	if err != nil {
		return access.Token{}, err
	}
	return access.DecodeLocked(encoded, passphrase)
}

func readTrimmedFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// logEvents drains repo.Events() to the daemon's logger until ctx is
// cancelled, giving an operator something to watch even though
// ouisyncd does not itself drive reconciliation.
func logEvents(ctx context.Context, repo *repository.Repository, logger *slog.Logger) {
	events := repo.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logger.Info("repository event", "kind", event.Kind, "user_id", fmt.Sprintf("%x", event.UserId))
		}
	}
}
