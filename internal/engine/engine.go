// Package engine builds a context assembler from configuration: the codec,
// the optional persistent token cache in front of it, the token service and
// the assembler itself.
package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/compound"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/config"
	acontext "github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/context"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/metrics"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/storage"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/storage/badger"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tracing"
)

// MockEncoding selects the in-process test vocabulary instead of tiktoken.
const MockEncoding = "mock"

// Engine is a ready assembler and the resources behind it.
type Engine struct {
	Assembler *acontext.Assembler
	// Cache is nil unless codec.cache_dir is set.
	Cache storage.TokenCache

	logger *zap.Logger
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	inMemory bool
	cacheTTL time.Duration
}

// WithLogger sets the logger handed to every layer.
func WithLogger(l *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithMetrics records codec, cache and assembly metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *buildOptions) { o.metrics = m }
}

// WithInMemoryCache backs the token cache with memory even when no cache
// directory is configured.
func WithInMemoryCache() Option {
	return func(o *buildOptions) { o.inMemory = true }
}

// WithCacheTTL expires cached encodings after ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *buildOptions) { o.cacheTTL = ttl }
}

// Build wires an assembler as cfg describes. Close releases it.
func Build(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	bo := &buildOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(bo)
	}
	if bo.logger == nil {
		bo.logger = zap.NewNop()
	}

	codec, err := NewCodec(cfg.Codec.Encoding)
	if err != nil {
		return nil, err
	}

	e := &Engine{logger: bo.logger}
	if cfg.Codec.CacheDir != "" || bo.inMemory {
		store, err := badger.New(&badger.Options{
			DataDir:  cfg.Codec.CacheDir,
			InMemory: cfg.Codec.CacheDir == "",
			TTL:      bo.cacheTTL,
			Logger:   NewBadgerLogger(bo.logger.Named("badger")),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open token cache: %w", err)
		}
		e.Cache = store

		cacheOpts := []tokenizer.CachedCodecOption{
			tokenizer.WithCacheMinLength(cfg.Codec.CacheMinLength),
			tokenizer.WithCacheLogger(bo.logger),
		}
		if bo.metrics != nil {
			cacheOpts = append(cacheOpts, tokenizer.WithCacheMetrics(bo.metrics))
		}
		codec = tokenizer.NewCachedCodec(codec, store, cacheOpts...)

		bo.logger.Info("token cache opened",
			zap.String("dir", cfg.Codec.CacheDir),
			zap.Int("min_length", cfg.Codec.CacheMinLength),
		)
	}

	svcOpts := []tokenizer.Option{
		tokenizer.WithConcurrency(cfg.Codec.Concurrency),
		tokenizer.WithMendBuffer(cfg.Codec.MendBuffer),
		tokenizer.WithLogger(bo.logger),
	}
	if cfg.Codec.MendCacheSize > 0 {
		svcOpts = append(svcOpts, tokenizer.WithMendCache(tokenizer.NewMendCache(cfg.Codec.MendCacheSize)))
	}
	asmOpts := []acontext.Option{acontext.WithLogger(bo.logger)}
	if bo.metrics != nil {
		svcOpts = append(svcOpts, tokenizer.WithMetrics(bo.metrics))
		asmOpts = append(asmOpts, acontext.WithMetrics(bo.metrics))
	}

	e.Assembler = acontext.NewAssembler(
		tokenizer.NewService(codec, svcOpts...),
		AssemblerConfig(cfg),
		asmOpts...,
	)
	return e, nil
}

// NewCodec returns the codec for an encoding name.
func NewCodec(encoding string) (tokenizer.Codec, error) {
	if encoding == MockEncoding {
		return tokenizer.NewMockCodec(), nil
	}
	return tokenizer.NewTiktokenCodec(encoding)
}

// AssemblerConfig maps the assembly section of cfg onto the assembler.
func AssemblerConfig(cfg *config.Config) acontext.AssemblerConfig {
	ac := acontext.DefaultAssemblerConfig()
	ac.DefaultBudget = cfg.Assembly.DefaultTokenBudget
	ac.Shunting = compound.ShuntingMode(cfg.Assembly.Shunting)
	ac.PreTrimCharsPerToken = cfg.Assembly.PreTrimCharsPerToken
	ac.StripComments = cfg.Assembly.StripComments
	ac.PrefetchConcurrency = cfg.Assembly.PrefetchConcurrency
	if cfg.Codec.MendCacheSize > 0 {
		ac.MendCacheSize = cfg.Codec.MendCacheSize
	}
	return ac
}

// Close releases the token cache.
func (e *Engine) Close() error {
	if e.Cache == nil {
		return nil
	}
	e.logger.Info("closing token cache")
	return e.Cache.Close()
}

// TracingConfig maps the tracing section of cfg for tracing.Init.
func TracingConfig(cfg *config.Config, version string) tracing.Config {
	tc := tracing.DefaultConfig()
	tc.Enabled = cfg.Tracing.Enabled
	tc.Environment = cfg.Tracing.Environment
	tc.ExporterType = cfg.Tracing.Exporter
	tc.Endpoint = cfg.Tracing.Endpoint
	tc.Insecure = cfg.Tracing.Insecure
	tc.SampleRate = cfg.Tracing.SampleRate
	if version != "" {
		tc.ServiceVersion = version
	}
	return tc
}
