// Package storage defines the persistent token cache shared by builds.
package storage

import (
	"context"
	"time"
)

// TokenRecord is one cached encoding.
type TokenRecord struct {
	// Key is the cache key, "<encoding>:<hash of text>".
	Key       string    `cbor:"1,keyasint"`
	Tokens    []int     `cbor:"2,keyasint"`
	CreatedAt time.Time `cbor:"3,keyasint"`
}

// TokenCache stores encodings by key. It satisfies tokenizer.TokenStore.
type TokenCache interface {
	GetTokens(ctx context.Context, key string) ([]int, bool, error)
	PutTokens(ctx context.Context, key string, tokens []int) error
	DeleteTokens(ctx context.Context, key string) error
	// Purge removes every record whose key starts with prefix and returns
	// how many were removed.
	Purge(ctx context.Context, prefix string) (int, error)
	Stats(ctx context.Context) (*StoreStats, error)
	Close() error
}

// StoreStats contains cache statistics.
type StoreStats struct {
	Records          int   `json:"records"`
	StorageSizeBytes int64 `json:"storage_size_bytes"`
}

// ErrInvalidInput is returned when input validation fails.
type ErrInvalidInput struct {
	Field   string
	Message string
}

func (e *ErrInvalidInput) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// ErrClosed is returned by operations on a closed store.
type ErrClosed struct{}

func (e *ErrClosed) Error() string { return "store is closed" }
