package assembly

import (
	"context"
	"errors"
	"fmt"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/fragment"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
)

// ErrSplitFailed means the cursor given to SplitAt does not address content.
var ErrSplitFailed = errors.New("split cursor does not address content")

// SplitAt cuts the content at a cursor. The left side keeps the prefix and
// the right side keeps the suffix; the other affix becomes an empty
// placeholder.
func (a *Assembly) SplitAt(c Cursor) (*Assembly, *Assembly, error) {
	if c.Type == FullText {
		c = a.FromFullText(c)
	}
	if a.PositionOf(c) != PositionContent {
		return nil, nil, fmt.Errorf("%w: %s", ErrSplitFailed, c)
	}

	var left, right []fragment.TextFragment
	for _, f := range a.content {
		switch {
		case f.End() <= c.Offset:
			left = append(left, f)
		case f.Offset >= c.Offset:
			right = append(right, f)
		default:
			l, r := fragment.Split(f, c.Offset)
			left = append(left, l)
			right = append(right, r)
		}
	}

	return Derive(a, left, a.prefix, fragment.Empty(c.Offset)),
		Derive(a, right, fragment.Empty(0), a.suffix),
		nil
}

// Tokenized is an assembly paired with the tokens of its full text.
type Tokenized struct {
	*Assembly
	tokens []int
}

// NewTokenized pairs a with tokens. The tokens must decode to a.Text().
func NewTokenized(a *Assembly, tokens []int) *Tokenized {
	return &Tokenized{Assembly: a, tokens: tokens}
}

// Tokenize encodes a's full text.
func Tokenize(ctx context.Context, svc *tokenizer.Service, a *Assembly) (*Tokenized, error) {
	tokens, err := svc.Encode(ctx, a.Text())
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize assembly: %w", err)
	}
	return NewTokenized(a, tokens), nil
}

// Tokens returns the tokens. The slice must not be modified.
func (t *Tokenized) Tokens() []int { return t.tokens }

// TokenCount returns the number of tokens.
func (t *Tokenized) TokenCount() int { return len(t.tokens) }

// FullTextOffset locates a cursor within the full text.
func (t *Tokenized) FullTextOffset(c Cursor) (int, bool) {
	return t.Locate(c)
}

// SplitAt cuts the assembly and its tokens at a cursor.
func (t *Tokenized) SplitAt(ctx context.Context, svc *tokenizer.Service, c Cursor) (*Tokenized, *Tokenized, error) {
	if c.Type == FullText {
		c = t.FromFullText(c)
	}
	left, right, err := t.Assembly.SplitAt(c)
	if err != nil {
		return nil, nil, err
	}
	at := t.ToFullText(c).Offset
	leftTokens, rightTokens, err := svc.SplitTokens(ctx, t.tokens, at)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to split tokens: %w", err)
	}
	return NewTokenized(left, leftTokens), NewTokenized(right, rightTokens), nil
}

// StripAffixes removes the prefix and suffix along with their tokens.
func (t *Tokenized) StripAffixes(ctx context.Context, svc *tokenizer.Service) (*Tokenized, error) {
	if t.prefix.IsEmpty() && t.suffix.IsEmpty() {
		return t, nil
	}
	lo, hi := t.ContentBounds()
	head, _, err := svc.SplitTokens(ctx, t.tokens, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to strip suffix: %w", err)
	}
	_, body, err := svc.SplitTokens(ctx, head, lo)
	if err != nil {
		return nil, fmt.Errorf("failed to strip prefix: %w", err)
	}
	return NewTokenized(t.Assembly.StripAffixes(), body), nil
}
