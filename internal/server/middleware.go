package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled controls whether authentication is required.
	Enabled bool
	// APIKeys is a list of valid API keys.
	APIKeys []string
	// SkipPaths are path prefixes that don't require authentication.
	SkipPaths []string
}

// authMiddleware creates an API key authentication middleware.
func (s *Server) authMiddleware(config AuthConfig) gin.HandlerFunc {
	var keys [][]byte
	for _, key := range config.APIKeys {
		if key != "" {
			keys = append(keys, []byte(key))
		}
	}

	if !config.Enabled || len(keys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		for _, p := range config.SkipPaths {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}

		apiKey := requestAPIKey(c)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "API key is required",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		if !matchesAny(keys, []byte(apiKey)) {
			s.logger.Warn("invalid API key attempt",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "invalid API key",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		c.Next()
	}
}

// requestAPIKey reads the key from X-API-Key, a bearer token or the api_key
// query parameter, in that order.
func requestAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("api_key")
}

func matchesAny(keys [][]byte, key []byte) bool {
	ok := 0
	for _, k := range keys {
		ok |= subtle.ConstantTimeCompare(k, key)
	}
	return ok == 1
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int
	// BurstSize defaults to twice RequestsPerSecond.
	BurstSize int
}

// rateLimiter is a token bucket per client IP.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rps     float64
	burst   float64
	ticker  *time.Ticker
	done    chan struct{}
	once    sync.Once
}

type clientBucket struct {
	tokens   float64
	lastSeen time.Time
}

func newRateLimiter(rps, burst int) *rateLimiter {
	rl := &rateLimiter{
		clients: make(map[string]*clientBucket),
		rps:     float64(rps),
		burst:   float64(burst),
		ticker:  time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// allow takes one token from the client's bucket.
func (rl *rateLimiter) allow(clientID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[clientID]
	if !ok {
		b = &clientBucket{tokens: rl.burst, lastSeen: now}
		rl.clients[clientID] = b
	}

	b.tokens = min(rl.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rps)
	b.lastSeen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *rateLimiter) evictLoop() {
	for {
		select {
		case now := <-rl.ticker.C:
			rl.evict(now.Add(-5 * time.Minute))
		case <-rl.done:
			return
		}
	}
}

// evict drops buckets idle since before cutoff.
func (rl *rateLimiter) evict(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, b := range rl.clients {
		if b.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() {
		rl.ticker.Stop()
		close(rl.done)
	})
}

// rateLimitMiddleware creates a rate limiting middleware.
func (s *Server) rateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	if !config.Enabled || config.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	burst := config.BurstSize
	if burst <= 0 {
		burst = config.RequestsPerSecond * 2
	}
	s.limiter = newRateLimiter(config.RequestsPerSecond, burst)
	limiter := s.limiter

	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if !limiter.allow(clientID, time.Now()) {
			s.logger.Warn("rate limit exceeded",
				zap.String("client_ip", clientID),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "too many requests, please slow down",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware propagates X-Request-ID, minting a ULID when the
// client sent none.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = ulid.Make().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// securityHeadersMiddleware adds security headers to responses.
func (s *Server) securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// bodyLimitMiddleware caps request bodies at limit bytes. Zero disables it.
func (s *Server) bodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: "request body too large",
				Code:  "BODY_TOO_LARGE",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// isBodyTooLarge reports whether err came from a body cut off by
// bodyLimitMiddleware.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
