package context

import (
	"context"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/compound"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tracing"
)

// TrimRequest asks for one text to be fitted to a token budget.
type TrimRequest struct {
	Text        string                  `json:"text" yaml:"text"`
	TokenBudget int                     `json:"tokenBudget" yaml:"tokenBudget"`
	Config      *compound.ContextConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// TrimmedText is the result of Trim.
type TrimmedText struct {
	Text       string `json:"text"`
	Tokens     []int  `json:"tokens"`
	TokenCount int    `json:"tokenCount"`
	// Fits is false when not even the smallest allowed piece fits.
	Fits bool `json:"fits"`
}

// Trim fits a single text to a budget using the same rules entries are
// trimmed with during assembly.
func (a *Assembler) Trim(ctx context.Context, req *TrimRequest) (*TrimmedText, error) {
	budget := req.TokenBudget
	if budget <= 0 {
		budget = a.config.DefaultBudget
	}
	ctx, span := tracing.StartSpan(ctx, "context.Trim")
	defer span.End()

	cfg := compound.DefaultContextConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	e, err := NewEntry(a.svc, EntrySpec{Identifier: "trim", Text: req.Text, Config: &cfg}, budget, EntryOptions{
		StripComments:        a.config.StripComments,
		PreTrimCharsPerToken: a.config.PreTrimCharsPerToken,
	})
	if err != nil {
		return nil, err
	}
	tracing.SetSpanAttributes(ctx,
		tracing.AttrTrimBudget.Int(e.Budget()),
		tracing.AttrTrimType.String(string(e.Config().MaximumTrimType)),
	)

	t, err := e.Trimmed(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if t == nil {
		return &TrimmedText{Tokens: []int{}}, nil
	}
	return &TrimmedText{
		Text:       t.Text(),
		Tokens:     t.Tokens(),
		TokenCount: t.TokenCount(),
		Fits:       true,
	}, nil
}

// CountTokens encodes text and returns its tokens.
func (a *Assembler) CountTokens(ctx context.Context, text string) ([]int, error) {
	ctx, span := tracing.StartSpan(ctx, "context.CountTokens")
	defer span.End()

	tokens, err := a.svc.Encode(ctx, text)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return tokens, nil
}
