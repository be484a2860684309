package tokenizer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

// mockPieces mirrors the shape of a BPE pre-tokenizer: an optional leading
// space glued to a run of word characters or punctuation, or a whitespace run.
var mockPieces = regexp.MustCompile(`\s?[\p{L}\p{N}]+|\s?[^\s\p{L}\p{N}]+|\s+`)

// mockChunk is the longest piece the mock emits as a single token.
const mockChunk = 6

// MockCodec is a deterministic codec for testing.
// It grows its vocabulary on demand and counts every call it serves.
type MockCodec struct {
	mu     sync.RWMutex
	ids    map[string]int
	vocab  []string
	err    error
	encode atomic.Int64
	decode atomic.Int64
}

// NewMockCodec creates a new mock codec.
func NewMockCodec() *MockCodec {
	return &MockCodec{ids: make(map[string]int)}
}

// Name returns the mock vocabulary name.
func (c *MockCodec) Name() string { return "mock" }

// Encode splits text into pieces and assigns each one a token.
func (c *MockCodec) Encode(ctx context.Context, text string) ([]int, error) {
	c.encode.Add(1)
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	var tokens []int
	for _, piece := range mockPieces.FindAllString(text, -1) {
		for piece != "" {
			n := chunkLen(piece)
			tokens = append(tokens, c.idOf(piece[:n]))
			piece = piece[n:]
		}
	}
	return tokens, nil
}

// Decode joins the text of each token.
func (c *MockCodec) Decode(ctx context.Context, tokens []int) (string, error) {
	c.decode.Add(1)
	if err := c.check(ctx); err != nil {
		return "", err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	for _, t := range tokens {
		if t < 0 || t >= len(c.vocab) {
			return "", fmt.Errorf("%w: %d", ErrUnknownToken, t)
		}
		sb.WriteString(c.vocab[t])
	}
	return sb.String(), nil
}

// SetError makes every following call fail with err. Pass nil to recover.
func (c *MockCodec) SetError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// EncodeCalls returns the number of Encode calls served.
func (c *MockCodec) EncodeCalls() int64 { return c.encode.Load() }

// DecodeCalls returns the number of Decode calls served.
func (c *MockCodec) DecodeCalls() int64 { return c.decode.Load() }

// Calls returns the total number of codec calls served.
func (c *MockCodec) Calls() int64 { return c.EncodeCalls() + c.DecodeCalls() }

func (c *MockCodec) check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *MockCodec) idOf(piece string) int {
	c.mu.RLock()
	id, ok := c.ids[piece]
	c.mu.RUnlock()
	if ok {
		return id
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.ids[piece]; ok {
		return id
	}
	id = len(c.vocab)
	c.ids[piece] = id
	c.vocab = append(c.vocab, piece)
	return id
}

// chunkLen returns the byte length of the first token of piece, cut on a
// rune boundary.
func chunkLen(piece string) int {
	if len(piece) <= mockChunk {
		return len(piece)
	}
	n := mockChunk
	for n > 0 && !utf8.RuneStart(piece[n]) {
		n--
	}
	if n == 0 {
		_, n = utf8.DecodeRuneInString(piece)
	}
	return n
}
