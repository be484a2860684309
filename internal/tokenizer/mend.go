package tokenizer

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

// DefaultMendCacheSize bounds the number of boundary re-encodes remembered.
const DefaultMendCacheSize = 4096

// Section is one input to MendTokens: either plain text or tokens.
type Section struct {
	text     string
	tokens   []int
	isTokens bool
}

// TextSection wraps text that still needs encoding.
func TextSection(text string) Section {
	return Section{text: text}
}

// TokenSection wraps already encoded tokens.
func TokenSection(tokens []int) Section {
	return Section{tokens: tokens, isTokens: true}
}

// IsEmpty reports whether the section contributes nothing.
func (s Section) IsEmpty() bool {
	if s.isTokens {
		return len(s.tokens) == 0
	}
	return s.text == ""
}

// MendTokens joins sections into the tokens of their concatenated text.
// Only the tokens nearest each boundary are decoded and re-encoded, so the
// cost depends on the number of boundaries rather than the amount of text.
func (s *Service) MendTokens(ctx context.Context, sections ...Section) ([]int, error) {
	var acc []int
	pending := ""
	for _, sec := range sections {
		if !sec.isTokens {
			pending += sec.text
			continue
		}
		if len(sec.tokens) == 0 {
			continue
		}
		if len(acc) == 0 && pending == "" {
			acc = slices.Clone(sec.tokens)
			continue
		}
		joined, err := s.join(ctx, acc, pending, sec.tokens)
		if err != nil {
			return nil, fmt.Errorf("failed to mend tokens: %w", err)
		}
		acc, pending = joined, ""
	}
	if pending != "" {
		joined, err := s.join(ctx, acc, pending, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to mend tokens: %w", err)
		}
		acc = joined
	}
	return acc, nil
}

// join re-encodes the window around a boundary between left and right, with
// text placed between them.
func (s *Service) join(ctx context.Context, left []int, text string, right []int) ([]int, error) {
	if len(left) == 0 && len(right) == 0 {
		return s.Encode(ctx, text)
	}

	l := min(s.buffer, len(left))
	r := min(s.buffer, len(right))
	key := mendKey(left[len(left)-l:], text, right[:r])
	if tokens, ok := s.mends.get(key); ok {
		return splice(left[:len(left)-l], tokens, right[r:]), nil
	}

	cacheable := true
	var window string
	for {
		tail, head, err := s.decodeWindow(ctx, left[len(left)-l:], right[:r])
		if err != nil {
			return nil, err
		}
		window = tail + text + head
		if utf8.ValidString(window) || (l == len(left) && r == len(right)) {
			break
		}
		// A multi-byte character straddles the window edge; widen it.
		cacheable = false
		l = min(l+1, len(left))
		r = min(r+1, len(right))
	}

	encoded, err := s.Encode(ctx, window)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.mends.put(key, encoded)
	}
	return splice(left[:len(left)-l], encoded, right[r:]), nil
}

func (s *Service) decodeWindow(ctx context.Context, tail, head []int) (string, string, error) {
	tailText, err := s.Decode(ctx, tail)
	if err != nil {
		return "", "", err
	}
	headText, err := s.Decode(ctx, head)
	if err != nil {
		return "", "", err
	}
	return tailText, headText, nil
}

func splice(parts ...[]int) []int {
	return slices.Concat(parts...)
}

// MendCache remembers boundary re-encodes for the lifetime of one build.
type MendCache struct {
	mu      sync.Mutex
	max     int
	entries map[[32]byte][]int
	hits    atomic.Int64
	misses  atomic.Int64
	onCheck func(hit bool)
}

// NewMendCache creates a cache holding at most max entries.
// Once full, new entries are not stored.
func NewMendCache(max int) *MendCache {
	if max <= 0 {
		max = DefaultMendCacheSize
	}
	return &MendCache{max: max, entries: make(map[[32]byte][]int)}
}

// Len returns the number of cached entries.
func (c *MendCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Hits returns the number of lookups served from the cache.
func (c *MendCache) Hits() int64 { return c.hits.Load() }

// Misses returns the number of lookups that missed.
func (c *MendCache) Misses() int64 { return c.misses.Load() }

// Observe registers fn to be called on every lookup.
func (c *MendCache) Observe(fn func(hit bool)) {
	c.mu.Lock()
	c.onCheck = fn
	c.mu.Unlock()
}

func (c *MendCache) get(key [32]byte) ([]int, bool) {
	c.mu.Lock()
	tokens, ok := c.entries[key]
	onCheck := c.onCheck
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if onCheck != nil {
		onCheck(ok)
	}
	return tokens, ok
}

func (c *MendCache) put(key [32]byte, tokens []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		return
	}
	c.entries[key] = tokens
}

// mendKey hashes a boundary window. Lengths are written before each part so
// distinct windows cannot collide by concatenation.
func mendKey(left []int, text string, right []int) [32]byte {
	buf := make([]byte, 0, 8*(len(left)+len(right))+len(text)+16)
	buf = binary.AppendUvarint(buf, uint64(len(left)))
	for _, t := range left {
		buf = binary.AppendUvarint(buf, uint64(t))
	}
	buf = binary.AppendUvarint(buf, uint64(len(text)))
	buf = append(buf, text...)
	buf = binary.AppendUvarint(buf, uint64(len(right)))
	for _, t := range right {
		buf = binary.AppendUvarint(buf, uint64(t))
	}
	return blake3.Sum256(buf)
}
