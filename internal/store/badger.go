// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/backupbots/internal/logging"
)

// Key prefixes for BadgerDB storage
const (
	prefixGroup          = "group:"
	prefixDatabase       = "database:"
	prefixSchedule       = "schedule:"
	prefixConfig         = "config:"
	prefixBackup         = "backup:"
	prefixDelivery       = "delivery:"
	prefixBackupStatus   = "idx:bs:"
	prefixDeliveryStatus = "idx:ds:"
	prefixDeliveryRef    = "idx:dref:"
	prefixGroupFence     = "fence:group:"
)

// writeRetries bounds how often an unconditional write is replayed after an
// optimistic conflict.
const writeRetries = 5

// Config configures the BadgerDB store.
type Config struct {
	Path         string
	InMemory     bool
	SyncWrites   bool
	GCRatio      float64
	CloseTimeout time.Duration
}

// BadgerStore implements Store on BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	config Config

	mu     sync.RWMutex
	closed bool
}

var _ Store = (*BadgerStore)(nil)

// Open opens (or creates) the store at cfg.Path, or an in-memory store when
// cfg.InMemory is set.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Store opened")

	return &BadgerStore{db: db, config: cfg}, nil
}

// OpenInMemory opens an in-memory store. Used by tests and ephemeral runs.
func OpenInMemory() (*BadgerStore, error) {
	return Open(Config{InMemory: true})
}

// Close shuts the database down, giving up after the configured timeout.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.config.CloseTimeout
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Store closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

// RunGC reclaims value log space until nothing is left to rewrite.
// It is a no-op for in-memory stores.
func (s *BadgerStore) RunGC() error {
	if err := s.checkOpen(context.Background()); err != nil {
		return err
	}
	if s.config.InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(s.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

func (s *BadgerStore) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// conditional runs fn in an update transaction and maps a commit conflict
// to a lost claim.
func (s *BadgerStore) conditional(ctx context.Context, fn func(txn *badger.Txn) (bool, error)) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		ok, err = fn(txn)
		return err
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

// write runs fn in an update transaction, replaying it on optimistic conflicts.
func (s *BadgerStore) write(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	var err error
	for i := 0; i < writeRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.db.View(fn)
}

// ============================================================================
// Transaction helpers
// ============================================================================

func getJSON(txn *badger.Txn, key string, v interface{}) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return nil
	})
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func deleteKey(txn *badger.Txn, key string) error {
	if err := txn.Delete([]byte(key)); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// scanKeys returns the suffixes of all keys under prefix.
func scanKeys(txn *badger.Txn, prefix string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		keys = append(keys, string(it.Item().Key()[len(p):]))
	}
	return keys
}

// countKeys counts the keys under prefix.
func countKeys(txn *badger.Txn, prefix string) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		n++
	}
	return n
}

// scanJSON decodes every value under prefix with decode. Entries that fail
// to decode are logged and skipped.
func scanJSON(txn *badger.Txn, prefix string, decode func(val []byte) error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		if err := item.Value(decode); err != nil {
			logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping undecodable entry")
		}
	}
}
