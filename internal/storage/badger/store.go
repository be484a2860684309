// Package badger provides a BadgerDB-backed persistent token cache.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/storage"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
)

// Key prefix for token records.
const prefixTokens = "tok:"

var (
	_ storage.TokenCache   = (*Store)(nil)
	_ tokenizer.TokenStore = (*Store)(nil)
)

// Store implements storage.TokenCache using BadgerDB.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	dir    string
	mu     sync.RWMutex
	closed bool
}

// Options holds configuration for the BadgerDB store.
type Options struct {
	// DataDir is required unless InMemory is set.
	DataDir    string
	InMemory   bool
	SyncWrites bool
	// TTL expires records this long after they are written. Zero keeps
	// them forever.
	TTL    time.Duration
	Logger badger.Logger
}

// New creates a new BadgerDB store.
func New(opts *Options) (*Store, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.DataDir == "" && !opts.InMemory {
		return nil, fmt.Errorf("data directory is required")
	}

	dbOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts.SyncWrites = opts.SyncWrites

	// Token records are small; keep the footprint modest.
	dbOpts.ValueLogFileSize = 64 << 20 // 64MB
	dbOpts.MemTableSize = 16 << 20     // 16MB
	dbOpts.Logger = opts.Logger

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &Store{db: db, ttl: opts.TTL, dir: opts.DataDir}, nil
}

// NewWithPath creates a new BadgerDB store with just a path (convenience method).
func NewWithPath(dataDir string) (*Store, error) {
	return New(&Options{DataDir: dataDir})
}

// Close closes the BadgerDB store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// GetTokens returns the stored tokens for key.
func (s *Store) GetTokens(ctx context.Context, key string) ([]int, bool, error) {
	if err := s.check(ctx, key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, &storage.ErrClosed{}
	}

	var rec storage.TokenRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixTokens + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read tokens %s: %w", key, err)
	}
	if rec.Key != key {
		return nil, false, fmt.Errorf("token record %s holds key %s", key, rec.Key)
	}
	if rec.Tokens == nil {
		rec.Tokens = []int{}
	}
	return rec.Tokens, true, nil
}

// PutTokens stores tokens under key, replacing any previous record.
func (s *Store) PutTokens(ctx context.Context, key string, tokens []int) error {
	if err := s.check(ctx, key); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &storage.ErrClosed{}
	}

	val, err := cbor.Marshal(storage.TokenRecord{
		Key:       key,
		Tokens:    tokens,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode tokens %s: %w", key, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(prefixTokens+key), val)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

// DeleteTokens removes the record for key. Missing keys are not an error.
func (s *Store) DeleteTokens(ctx context.Context, key string) error {
	if err := s.check(ctx, key); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &storage.ErrClosed{}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixTokens + key))
	})
}

// Purge removes every record whose key starts with prefix. An empty prefix
// clears the cache.
func (s *Store) Purge(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, &storage.ErrClosed{}
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefixTokens + prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("failed to purge tokens: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	return len(keys), nil
}

// Stats returns cache statistics.
func (s *Store) Stats(ctx context.Context) (*storage.StoreStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &storage.ErrClosed{}
	}

	stats := &storage.StoreStats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefixTokens)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			stats.Records++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsm, vlog := s.db.Size()
	stats.StorageSizeBytes = lsm + vlog
	return stats, nil
}

// RunGC reclaims value log space. It returns nil when there was nothing to
// rewrite.
func (s *Store) RunGC(discardRatio float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &storage.ErrClosed{}
	}
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// DataDir returns the data directory path.
func (s *Store) DataDir() string {
	return s.dir
}

func (s *Store) check(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return &storage.ErrInvalidInput{Field: "key", Message: "cannot be empty"}
	}
	return nil
}
