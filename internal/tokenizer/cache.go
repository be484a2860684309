package tokenizer

import (
	"context"
	"encoding/hex"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/metrics"
)

// DefaultCacheMinLength is the shortest text CachedCodec persists.
// Shorter texts are cheaper to encode than to look up.
const DefaultCacheMinLength = 256

// TokenStore persists encodings across builds.
type TokenStore interface {
	GetTokens(ctx context.Context, key string) ([]int, bool, error)
	PutTokens(ctx context.Context, key string, tokens []int) error
}

// CachedCodec consults a TokenStore before encoding long texts.
type CachedCodec struct {
	Codec
	store     TokenStore
	minLength int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// CachedCodecOption configures a CachedCodec.
type CachedCodecOption func(*CachedCodec)

// WithCacheMinLength sets the shortest text that is persisted.
func WithCacheMinLength(n int) CachedCodecOption {
	return func(c *CachedCodec) { c.minLength = n }
}

// WithCacheMetrics records cache lookups.
func WithCacheMetrics(m *metrics.Metrics) CachedCodecOption {
	return func(c *CachedCodec) { c.metrics = m }
}

// WithCacheLogger sets the logger used for store failures.
func WithCacheLogger(l *zap.Logger) CachedCodecOption {
	return func(c *CachedCodec) { c.logger = l }
}

// NewCachedCodec wraps codec with store.
func NewCachedCodec(codec Codec, store TokenStore, opts ...CachedCodecOption) *CachedCodec {
	c := &CachedCodec{
		Codec:     codec,
		store:     store,
		minLength: DefaultCacheMinLength,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode returns stored tokens for text when available.
// Store failures are logged and never fail the encode.
func (c *CachedCodec) Encode(ctx context.Context, text string) ([]int, error) {
	if len(text) < c.minLength {
		return c.Codec.Encode(ctx, text)
	}

	key := CacheKey(c.Name(), text)
	tokens, ok, err := c.store.GetTokens(ctx, key)
	if err != nil {
		c.logger.Warn("token store lookup failed", zap.String("key", key), zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.RecordTokenStoreLookup(ok)
	}
	if ok {
		return tokens, nil
	}

	tokens, err = c.Codec.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.PutTokens(ctx, key, tokens); err != nil {
		c.logger.Warn("token store write failed", zap.String("key", key), zap.Error(err))
	}
	return tokens, nil
}

// CacheKey identifies the encoding of text under the named vocabulary.
func CacheKey(encoding, text string) string {
	sum := blake3.Sum256([]byte(text))
	return encoding + ":" + hex.EncodeToString(sum[:])
}
