package compound

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/fragment"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
)

// GroupType is the candidate type reported by context groups.
const GroupType = "group"

// ContextGroup is a compound placed as a single element of another
// compound. It wraps its children in a prefix and suffix, drops non-word
// lines at both ends of their text, and reports itself empty until a child
// with words in it arrives.
type ContextGroup struct {
	*Compound

	identifier string
	category   string
	config     ContextConfig
	parent     *Compound
	view       groupView
	// affixes is the token count of the prefix and suffix, or -1 until
	// counted.
	affixes int
}

// groupView is what the group shows to its parent.
type groupView struct {
	empty  bool
	text   string
	tokens []int
	// start and end bound the shown part of the children's text.
	start, end int
}

// NewContextGroup creates an empty group. An empty identifier is replaced
// with a random one.
func NewContextGroup(svc *tokenizer.Service, identifier, category string, cfg ContextConfig, budget int, opts ...Option) *ContextGroup {
	if identifier == "" {
		identifier = uuid.NewString()
	}
	g := &ContextGroup{
		Compound:   New(svc, budget, opts...),
		identifier: identifier,
		category:   category,
		config:     cfg,
		view:       groupView{empty: true},
		affixes:    -1,
	}
	g.Compound.group = g
	return g
}

// Identifier returns the group identifier.
func (g *ContextGroup) Identifier() string { return g.identifier }

// Type returns GroupType.
func (g *ContextGroup) Type() string { return GroupType }

// Category returns the category routed into this group.
func (g *ContextGroup) Category() string { return g.category }

// Config returns the group's placement configuration.
func (g *ContextGroup) Config() *ContextConfig { return &g.config }

// Activations returns nil; groups are placed unconditionally.
func (g *ContextGroup) Activations() Activations { return nil }

// Parent returns the compound the group was inserted into, if any.
func (g *ContextGroup) Parent() *Compound { return g.parent }

// Text returns the shown text, or "" while the group is empty.
func (g *ContextGroup) Text() string { return g.view.text }

// Tokens returns the tokens of Text. The slice must not be modified.
func (g *ContextGroup) Tokens() []int { return g.view.tokens }

// IsEmpty reports whether no child with words has been inserted.
func (g *ContextGroup) IsEmpty() bool { return g.view.empty }

// ContentBounds returns where the children's text sits within Text.
func (g *ContextGroup) ContentBounds() (int, int) {
	if g.view.empty {
		return 0, 0
	}
	lo := len(g.config.Prefix)
	return lo, lo + g.view.end - g.view.start
}

// FullTextOffset locates a cursor in any child, clamped to the shown text.
func (g *ContextGroup) FullTextOffset(c assembly.Cursor) (int, bool) {
	if g.view.empty {
		return 0, false
	}
	pos := 0
	for _, e := range g.Compound.elements {
		if off, ok := e.FullTextOffset(c); ok {
			raw := min(max(pos+off, g.view.start), g.view.end)
			return len(g.config.Prefix) + raw - g.view.start, true
		}
		pos += len(e.Text())
	}
	return 0, false
}

// Trimmed returns a snapshot of the group as a tokenized assembly.
func (g *ContextGroup) Trimmed(context.Context) (*assembly.Tokenized, error) {
	return g.snapshot(g.view.tokens), nil
}

func (g *ContextGroup) snapshot(tokens []int) *assembly.Tokenized {
	if g.view.empty {
		return assembly.NewTokenized(assembly.FromText("", "", ""), nil)
	}
	body := g.view.text[len(g.config.Prefix) : len(g.view.text)-len(g.config.Suffix)]
	return assembly.NewTokenized(assembly.FromText(g.config.Prefix, body, g.config.Suffix), tokens)
}

// Rebudget returns the snapshot when it fits budget and nil otherwise.
// Groups are never trimmed.
func (g *ContextGroup) Rebudget(ctx context.Context, budget int) (*assembly.Tokenized, error) {
	if len(g.view.tokens) > budget {
		return nil, nil
	}
	return g.Trimmed(ctx)
}

// ToAssembly flattens the shown text, affixes included, into one tokenized
// assembly. No more insertions are accepted afterwards.
func (g *ContextGroup) ToAssembly() (*assembly.Tokenized, error) {
	if g.finalized {
		return nil, ErrFinalized
	}
	g.finalized = true
	return g.snapshot(slices.Clone(g.view.tokens)), nil
}

// affixCost counts the tokens the prefix and suffix add once the group
// shows anything.
func (g *ContextGroup) affixCost(ctx context.Context) (int, error) {
	if g.affixes >= 0 {
		return g.affixes, nil
	}
	pre, err := g.svc.Count(ctx, g.config.Prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to count affixes of %s: %w", g.identifier, err)
	}
	suf, err := g.svc.Count(ctx, g.config.Suffix)
	if err != nil {
		return 0, fmt.Errorf("failed to count affixes of %s: %w", g.identifier, err)
	}
	g.affixes = pre + suf
	return g.affixes, nil
}

// stage prepares the group's new view for proposed children and re-mends
// every ancestor with it. The changes are queued on pending and only made
// by the caller once every level fits.
func (g *ContextGroup) stage(ctx context.Context, elements []Element, inner []int, pending *[]func()) (bool, error) {
	view, err := g.render(ctx, elements, inner)
	if err != nil {
		return false, err
	}
	if len(view.tokens) > g.budget {
		return false, nil
	}
	*pending = append(*pending, func() { g.view = view })

	p := g.parent
	if p == nil {
		return true, nil
	}
	tokens, err := mendElements(ctx, p.svc, p.elements, g, view.tokens)
	if err != nil {
		return false, err
	}
	if len(tokens) > p.budget {
		return false, nil
	}
	*pending = append(*pending, func() { p.tokens = tokens })
	if p.group != nil {
		return p.group.stage(ctx, p.elements, tokens, pending)
	}
	return true, nil
}

// render builds the view for children with the mended tokens inner.
//
// The children's tokens cannot simply be wrapped in the affixes: once the
// edge lines are dropped the boundary tokens no longer match the text, so
// the kept part is cut out of inner by character offset and mended again
// with the prefix and suffix.
func (g *ContextGroup) render(ctx context.Context, elements []Element, inner []int) (groupView, error) {
	var sb strings.Builder
	for _, e := range elements {
		sb.WriteString(e.Text())
	}
	raw := sb.String()

	start, end, ok := trimEnds(raw)
	if !ok {
		return groupView{empty: true}, nil
	}

	decoded, err := g.svc.Decode(ctx, inner)
	if err != nil {
		return groupView{}, fmt.Errorf("failed to decode group %s: %w", g.identifier, err)
	}
	if decoded != raw {
		return groupView{}, fmt.Errorf("%w: children of %s decode to %d bytes, have %d", ErrGroupDrift, g.identifier, len(decoded), len(raw))
	}

	head, _, err := g.svc.SplitTokens(ctx, inner, end)
	if err != nil {
		return groupView{}, fmt.Errorf("failed to trim group %s: %w", g.identifier, err)
	}
	_, body, err := g.svc.SplitTokens(ctx, head, start)
	if err != nil {
		return groupView{}, fmt.Errorf("failed to trim group %s: %w", g.identifier, err)
	}
	tokens, err := g.svc.MendTokens(ctx,
		tokenizer.TextSection(g.config.Prefix),
		tokenizer.TokenSection(body),
		tokenizer.TextSection(g.config.Suffix),
	)
	if err != nil {
		return groupView{}, fmt.Errorf("failed to mend group %s: %w", g.identifier, err)
	}

	text := g.config.Prefix + raw[start:end] + g.config.Suffix
	check, err := g.svc.Decode(ctx, tokens)
	if err != nil {
		return groupView{}, fmt.Errorf("failed to decode group %s: %w", g.identifier, err)
	}
	if check != text {
		return groupView{}, fmt.Errorf("%w: group %s", ErrGroupDrift, g.identifier)
	}

	return groupView{text: text, tokens: tokens, start: start, end: end}, nil
}

// trimEnds finds the span from the first to the last line of raw that has
// words in it.
func trimEnds(raw string) (int, int, bool) {
	lines := fragment.ByLine(fragment.New(raw, 0))
	first, last := -1, -1
	for i, f := range lines {
		if fragment.IsWordy(f) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, 0, false
	}
	return lines[first].Offset, lines[last].End(), true
}
