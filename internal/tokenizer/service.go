package tokenizer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/metrics"
)

// DefaultMendBuffer is the number of tokens decoded on each side of a
// boundary when mending. It doubles as the context width used when a token
// has to be cut in two.
const DefaultMendBuffer = 10

// Service funnels all codec work through a bounded TaskRunner and provides
// the token algebra built on top of it.
type Service struct {
	codec   Codec
	runner  *TaskRunner
	mends   *MendCache
	buffer  int
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRunner shares an existing runner, so several services respect one limit.
func WithRunner(r *TaskRunner) Option {
	return func(s *Service) { s.runner = r }
}

// WithConcurrency sets the number of codec calls allowed in flight.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.runner = NewTaskRunner(n) }
}

// WithMendBuffer sets the number of tokens re-encoded on each side of a boundary.
func WithMendBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithMendCache sets the cache used for boundary re-encodes.
func WithMendCache(c *MendCache) Option {
	return func(s *Service) { s.mends = c }
}

// WithMetrics records codec activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a token service around codec.
func NewService(codec Codec, opts ...Option) *Service {
	s := &Service{
		codec:  codec,
		buffer: DefaultMendBuffer,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = NewTaskRunner(DefaultConcurrency)
	}
	if s.mends == nil {
		s.mends = NewMendCache(DefaultMendCacheSize)
	}
	if s.metrics != nil {
		if s.runner.onQueue == nil {
			s.runner.onQueue = s.metrics.SetCodecQueueDepth
		}
		s.mends.Observe(s.metrics.RecordMendCache)
	}
	return s
}

// Scoped returns a service sharing this one's codec and runner but using
// cache for mending. One context build should use one scoped service.
func (s *Service) Scoped(cache *MendCache) *Service {
	if s.metrics != nil {
		cache.Observe(s.metrics.RecordMendCache)
	}
	clone := *s
	clone.mends = cache
	return &clone
}

// Name returns the codec's vocabulary name.
func (s *Service) Name() string { return s.codec.Name() }

// MendCache returns the cache used for boundary re-encodes.
func (s *Service) MendCache() *MendCache { return s.mends }

// MendBuffer returns the mending window size in tokens.
func (s *Service) MendBuffer() int { return s.buffer }

// Encode converts text to tokens.
func (s *Service) Encode(ctx context.Context, text string) ([]int, error) {
	if text == "" {
		return nil, nil
	}
	var tokens []int
	err := s.run(ctx, "encode", func(ctx context.Context) error {
		var err error
		tokens, err = s.codec.Encode(ctx, text)
		return err
	})
	return tokens, err
}

// Decode converts tokens to text.
func (s *Service) Decode(ctx context.Context, tokens []int) (string, error) {
	if len(tokens) == 0 {
		return "", nil
	}
	var text string
	err := s.run(ctx, "decode", func(ctx context.Context) error {
		var err error
		text, err = s.codec.Decode(ctx, tokens)
		return err
	})
	return text, err
}

// Count returns the number of tokens text encodes to.
func (s *Service) Count(ctx context.Context, text string) (int, error) {
	tokens, err := s.Encode(ctx, text)
	return len(tokens), err
}

func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := s.runner.Do(ctx, fn)
	if s.metrics != nil {
		s.metrics.RecordCodecOperation(op, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.Debug("codec call failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}
