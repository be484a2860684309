package tokenizer

import (
	"context"
	"fmt"
	"slices"
)

// linearScanLimit is the window size below which FindOffset stops
// bisecting and decodes tokens one at a time.
const linearScanLimit = 3

// TokenOffset locates a character offset within a token slice.
type TokenOffset struct {
	// Index is the token containing the offset. It equals the number of
	// tokens when the offset is the end of the text.
	Index int
	// Remainder is the offset within that token; zero means the offset
	// sits on the boundary before Index.
	Remainder int
}

// IsBoundary reports whether the offset falls between two tokens.
func (o TokenOffset) IsBoundary() bool { return o.Remainder == 0 }

// FindOffset locates the token holding the character offset.
// It halves the search window with one decode per step, then scans the
// last few tokens individually; codec round trips dominate the cost.
func (s *Service) FindOffset(ctx context.Context, tokens []int, offset int) (TokenOffset, error) {
	if offset < 0 {
		return TokenOffset{}, fmt.Errorf("%w: %d", ErrOffsetOutOfRange, offset)
	}
	if offset == 0 {
		return TokenOffset{}, nil
	}

	lo, hi, base := 0, len(tokens), 0
	for hi-lo > linearScanLimit {
		mid := lo + (hi-lo)/2
		text, err := s.Decode(ctx, tokens[lo:mid])
		if err != nil {
			return TokenOffset{}, err
		}
		end := base + len(text)
		switch {
		case offset == end:
			return TokenOffset{Index: mid}, nil
		case offset < end:
			hi = mid
		default:
			lo, base = mid, end
		}
	}

	for i := lo; i < hi; i++ {
		if offset == base {
			return TokenOffset{Index: i}, nil
		}
		text, err := s.Decode(ctx, tokens[i:i+1])
		if err != nil {
			return TokenOffset{}, err
		}
		if offset < base+len(text) {
			return TokenOffset{Index: i, Remainder: offset - base}, nil
		}
		base += len(text)
	}
	if offset == base {
		return TokenOffset{Index: hi}, nil
	}
	return TokenOffset{}, fmt.Errorf("%w: %d past end of text (%d)", ErrOffsetOutOfRange, offset, base)
}

// SplitTokens cuts tokens at a character offset. A cut on a token boundary
// is a plain slice; a cut inside a token decodes it and mends each half
// back onto its neighbours.
func (s *Service) SplitTokens(ctx context.Context, tokens []int, offset int) ([]int, []int, error) {
	loc, err := s.FindOffset(ctx, tokens, offset)
	if err != nil {
		return nil, nil, err
	}
	if loc.IsBoundary() {
		return slices.Clone(tokens[:loc.Index]), slices.Clone(tokens[loc.Index:]), nil
	}

	text, err := s.Decode(ctx, tokens[loc.Index:loc.Index+1])
	if err != nil {
		return nil, nil, err
	}
	left, err := s.MendTokens(ctx, TokenSection(tokens[:loc.Index]), TextSection(text[:loc.Remainder]))
	if err != nil {
		return nil, nil, err
	}
	right, err := s.MendTokens(ctx, TextSection(text[loc.Remainder:]), TokenSection(tokens[loc.Index+1:]))
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}
