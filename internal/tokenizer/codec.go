// Package tokenizer wraps a BPE token codec with a bounded task runner,
// boundary-safe token mending, character offset lookup and resumable
// streaming encoders.
package tokenizer

import (
	"context"
	"errors"
	"fmt"

	tiktoken "github.com/tiktoken-go/tokenizer"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// Common errors.
var (
	ErrOffsetOutOfRange = errors.New("character offset outside of token range")
	ErrUnknownToken     = errors.New("unknown token")
	ErrUnknownEncoding  = errors.New("unknown encoding")
)

// Codec converts between text and tokens.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name identifies the vocabulary; tokens from different names are not
	// interchangeable.
	Name() string

	// Encode converts text into tokens.
	Encode(ctx context.Context, text string) ([]int, error)

	// Decode converts tokens back into text. Decoding a token that holds
	// part of a multi-byte character yields the raw bytes.
	Decode(ctx context.Context, tokens []int) (string, error)
}

// TiktokenCodec is a Codec backed by an embedded tiktoken vocabulary.
type TiktokenCodec struct {
	name  string
	codec tiktoken.Codec
}

// NewTiktokenCodec loads the named encoding, such as "cl100k_base".
func NewTiktokenCodec(encoding string) (*TiktokenCodec, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	codec, err := tiktoken.Get(tiktoken.Encoding(encoding))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownEncoding, encoding, err)
	}
	return &TiktokenCodec{name: encoding, codec: codec}, nil
}

// Name returns the encoding name.
func (c *TiktokenCodec) Name() string { return c.name }

// Encode converts text into tokens.
func (c *TiktokenCodec) Encode(ctx context.Context, text string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	tokens := make([]int, len(ids))
	for i, id := range ids {
		tokens[i] = int(id)
	}
	return tokens, nil
}

// Decode converts tokens back into text.
func (c *TiktokenCodec) Decode(ctx context.Context, tokens []int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ids := make([]uint, len(tokens))
	for i, t := range tokens {
		if t < 0 {
			return "", fmt.Errorf("%w: %d", ErrUnknownToken, t)
		}
		ids[i] = uint(t)
	}
	text, err := c.codec.Decode(ids)
	if err != nil {
		return "", fmt.Errorf("failed to decode: %w", err)
	}
	return text, nil
}
