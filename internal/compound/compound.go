package compound

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/metrics"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/trimming"
)

// Compound is an ordered list of inserted elements with one mended token
// slice that never exceeds the token budget.
//
// A Compound has a single writer. Insert calls must not overlap.
type Compound struct {
	svc      *tokenizer.Service
	budget   int
	shunting ShuntingMode
	logger   *zap.Logger
	metrics  *metrics.Metrics

	elements  []Element
	tokens    []int
	sources   map[*assembly.Assembly]Candidate
	group     *ContextGroup
	finalized bool
}

// Option configures a Compound.
type Option func(*Compound)

// WithShunting sets the shunting mode. The default is ShuntNearest.
func WithShunting(m ShuntingMode) Option {
	return func(c *Compound) {
		if m != "" {
			c.shunting = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compound) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records insertion outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Compound) { c.metrics = m }
}

// New creates an empty compound with a token budget.
func New(svc *tokenizer.Service, budget int, opts ...Option) *Compound {
	c := &Compound{
		svc:      svc,
		budget:   budget,
		shunting: ShuntNearest,
		logger:   zap.NewNop(),
		sources:  make(map[*assembly.Assembly]Candidate),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenBudget returns the budget.
func (c *Compound) TokenBudget() int { return c.budget }

// Tokens returns the mended tokens of all elements. The slice must not be
// modified.
func (c *Compound) Tokens() []int { return c.tokens }

// Text returns the text of all elements.
func (c *Compound) Text() string {
	var sb strings.Builder
	for _, e := range c.elements {
		sb.WriteString(e.Text())
	}
	return sb.String()
}

// Elements returns a copy of the element list.
func (c *Compound) Elements() []Element { return slices.Clone(c.elements) }

// Len returns the number of elements.
func (c *Compound) Len() int { return len(c.elements) }

// Available returns how many tokens may still be added. For a group this
// counts the shown text, affixes included. A compound inside a placed group
// is also limited by what its ancestors have left.
func (c *Compound) Available() int {
	used := len(c.tokens)
	if c.group != nil && !c.group.view.empty {
		used = len(c.group.view.tokens)
	}
	a := c.budget - used
	if c.group != nil && c.group.parent != nil {
		a = min(a, c.group.parent.Available())
	}
	return max(a, 0)
}

// Insert trims cand to fit at most budget tokens and places it.
// Rejections are reported in the result; errors come from the codec.
func (c *Compound) Insert(ctx context.Context, cand Candidate, budget int) (*InsertionResult, error) {
	if c.finalized {
		return nil, ErrFinalized
	}

	res, err := c.insert(ctx, cand, budget)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RecordInsertion(string(res.Type), string(res.Reason), res.TokensUsed, res.Shunted)
	}
	c.logger.Debug("candidate processed",
		zap.String("identifier", cand.Identifier()),
		zap.String("type", string(res.Type)),
		zap.String("reason", string(res.Reason)),
		zap.Int("tokens_used", res.TokensUsed),
		zap.Int("shunted", res.Shunted),
	)
	return res, nil
}

func (c *Compound) insert(ctx context.Context, cand Candidate, budget int) (*InsertionResult, error) {
	cfg := cand.Config()
	budget = min(budget, c.Available())
	if c.group != nil && c.group.view.empty {
		// The first child with words brings the affixes with it.
		cost, err := c.group.affixCost(ctx)
		if err != nil {
			return nil, err
		}
		budget = max(budget-cost, 0)
	}

	if len(c.elements) == 0 {
		item, reason, err := c.fit(ctx, cand, budget)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			return rejected(reason), nil
		}
		return c.apply(ctx, cand, item, spot{kind: InsertionInitial}, Location{Target: -1})
	}

	dir := toBottom
	if cfg.InsertionPosition < 0 {
		dir = toTop
	}
	unit := cfg.InsertionType
	if unit == "" {
		unit = trimming.TrimNewline
	}

	var at spot
	if cfg.KeyRelative {
		index, offset, ok := findKey(c.elements, cand.Activations()[ActivationKeyed], dir)
		if !ok {
			return rejected(NoContextKey), nil
		}
		if dir == toTop {
			at = walk(c.elements, index, offset, -cfg.InsertionPosition, dir, true, false, unit)
		} else {
			at = walk(c.elements, index, offset, cfg.InsertionPosition+1, dir, false, false, unit)
		}
	} else {
		at = fromEdge(c.elements, cfg.InsertionPosition, unit)
	}

	item, reason, err := c.fit(ctx, cand, budget)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return rejected(reason), nil
	}

	loc := Location{Target: at.index, Offset: at.offset, KeyRelative: cfg.KeyRelative}
	if at.kind == InsertionInside {
		at = c.splitOrShunt(ctx, cand, at, dir)
	}
	return c.apply(ctx, cand, item, at, loc)
}

// fit trims the candidate. Groups are placed as they are.
func (c *Compound) fit(ctx context.Context, cand Candidate, budget int) (Element, RejectReason, error) {
	if g, ok := cand.(*ContextGroup); ok {
		if len(g.Tokens()) > budget {
			return nil, NoSpace, nil
		}
		return g, "", nil
	}

	t, err := cand.Rebudget(ctx, budget)
	if err != nil {
		return nil, "", fmt.Errorf("failed to trim %s: %w", cand.Identifier(), err)
	}
	switch {
	case t == nil:
		return nil, NoSpace, nil
	case t.IsEmpty():
		return nil, NoText, nil
	}
	return t, "", nil
}

// splitOrShunt splits the target at the spot when both sides allow it.
// Otherwise, or when the split fails, the insertion moves to one side of
// the target.
func (c *Compound) splitOrShunt(ctx context.Context, cand Candidate, at spot, dir direction) spot {
	target := c.elements[at.index]
	if tk, ok := target.(*assembly.Tokenized); ok && cand.Config().InnerInsertionAllowed() && c.allowsInside(tk) {
		left, right, err := tk.SplitAt(ctx, c.svc, assembly.FullTextCursor(tk.Assembly, at.offset))
		if err == nil {
			at.left, at.right = left, right
			return at
		}
		c.logger.Debug("split failed, shunting",
			zap.String("identifier", cand.Identifier()),
			zap.Int("offset", at.offset),
			zap.Error(err),
		)
	}

	lo, hi := target.ContentBounds()
	before := dir == toTop
	if c.shunting == ShuntNearest {
		before = at.offset-lo <= hi-at.offset
	}
	if before {
		return spot{kind: InsertionBefore, index: at.index, offset: at.offset, shunted: at.offset - lo}
	}
	return spot{kind: InsertionAfter, index: at.index, offset: at.offset, shunted: hi - at.offset}
}

func (c *Compound) allowsInside(tk *assembly.Tokenized) bool {
	owner, ok := c.sources[tk.Source()]
	return ok && owner.Config().InsertionInsideAllowed()
}

// apply places item and re-mends. The change is rolled back when the
// result does not fit.
func (c *Compound) apply(ctx context.Context, cand Candidate, item Element, at spot, loc Location) (*InsertionResult, error) {
	var next []Element
	switch at.kind {
	case InsertionInitial:
		next, loc.Index = []Element{item}, 0
	case InsertionBefore:
		next, loc.Index = slices.Insert(slices.Clone(c.elements), at.index, item), at.index
	case InsertionAfter:
		next, loc.Index = slices.Insert(slices.Clone(c.elements), at.index+1, item), at.index+1
	case InsertionInside:
		next = slices.Concat(c.elements[:at.index], []Element{at.left, item, at.right}, c.elements[at.index+1:])
		loc.Index = at.index + 1
	default:
		panic(fmt.Sprintf("compound: cannot apply insertion of type %q", at.kind))
	}

	root := c.outermost()
	before := len(root.tokens)
	ok, err := c.commit(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", cand.Identifier(), err)
	}
	if !ok {
		return rejected(NoSpace), nil
	}

	switch item := item.(type) {
	case *ContextGroup:
		item.parent = c
	case *assembly.Tokenized:
		c.sources[item.Source()] = cand
	}

	return &InsertionResult{
		Type:       at.kind,
		TokensUsed: len(root.tokens) - before,
		Shunted:    at.shunted,
		Location:   loc,
		Element:    item,
	}, nil
}

// commit mends the proposed elements and, for a compound inside a group,
// every ancestor. Nothing changes unless every level stays in budget.
func (c *Compound) commit(ctx context.Context, next []Element) (bool, error) {
	tokens, err := mendElements(ctx, c.svc, next, nil, nil)
	if err != nil {
		return false, err
	}
	if len(tokens) > c.budget {
		return false, nil
	}

	pending := []func(){func() { c.elements, c.tokens = next, tokens }}
	if c.group != nil {
		ok, err := c.group.stage(ctx, next, tokens, &pending)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, fn := range pending {
		fn()
	}
	return true, nil
}

// outermost returns the compound at the top of the group chain.
func (c *Compound) outermost() *Compound {
	for c.group != nil && c.group.parent != nil {
		c = c.group.parent
	}
	return c
}

// mendElements mends the tokens of elements, using subTokens in place of
// sub's own tokens.
func mendElements(ctx context.Context, svc *tokenizer.Service, elements []Element, sub Element, subTokens []int) ([]int, error) {
	sections := make([]tokenizer.Section, 0, len(elements))
	for _, e := range elements {
		tokens := e.Tokens()
		if sub != nil && e == sub {
			tokens = subTokens
		}
		if len(tokens) > 0 {
			sections = append(sections, tokenizer.TokenSection(tokens))
		}
	}
	return svc.MendTokens(ctx, sections...)
}

// ToAssembly flattens the compound into one tokenized assembly. No more
// insertions are accepted afterwards.
func (c *Compound) ToAssembly() (*assembly.Tokenized, error) {
	if c.finalized {
		return nil, ErrFinalized
	}
	c.finalized = true
	return assembly.NewTokenized(assembly.FromText("", c.Text(), ""), slices.Clone(c.tokens)), nil
}

// FindSource returns the candidate that produced a, searching nested groups.
func (c *Compound) FindSource(a *assembly.Assembly) Candidate {
	if cand, ok := c.sources[a.Source()]; ok {
		return cand
	}
	for _, e := range c.elements {
		if g, ok := e.(*ContextGroup); ok {
			if cand := g.FindSource(a); cand != nil {
				return cand
			}
		}
	}
	return nil
}
