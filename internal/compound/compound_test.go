package compound

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/metrics"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/trimming"
)

const storyText = "Line one.\nLine two.\nLine three.\n"

// testCandidate is a minimal Candidate backed by a trimmer.
type testCandidate struct {
	id        string
	typ       string
	cfg       ContextConfig
	source    *assembly.Assembly
	trimmer   *trimming.Trimmer
	acts      Activations
	rebudgets int
}

func newCandidate(svc *tokenizer.Service, id, text string, configure ...func(*ContextConfig)) *testCandidate {
	cfg := DefaultContextConfig()
	for _, fn := range configure {
		fn(&cfg)
	}
	src := assembly.FromText(cfg.Prefix, text, cfg.Suffix)
	opts := trimming.DefaultOptions(cfg.TrimDirection)
	opts.MaximumTrimType = cfg.MaximumTrimType
	return &testCandidate{
		id:      id,
		typ:     "lore",
		cfg:     cfg,
		source:  src,
		trimmer: trimming.New(svc, src, opts),
	}
}

func (c *testCandidate) Identifier() string       { return c.id }
func (c *testCandidate) Type() string             { return c.typ }
func (c *testCandidate) Config() *ContextConfig   { return &c.cfg }
func (c *testCandidate) Activations() Activations { return c.acts }

func (c *testCandidate) Trimmed(ctx context.Context) (*assembly.Tokenized, error) {
	return c.Rebudget(ctx, 1<<20)
}

func (c *testCandidate) Rebudget(ctx context.Context, budget int) (*assembly.Tokenized, error) {
	c.rebudgets++
	if !c.trimmer.HasContent() {
		return assembly.NewTokenized(c.source.WithContent(nil).StripAffixes(), nil), nil
	}
	r, err := c.trimmer.Exec(ctx, budget)
	if err != nil || r == nil {
		return nil, err
	}
	return r.Assembly, nil
}

func position(n int) func(*ContextConfig) {
	return func(c *ContextConfig) { c.InsertionPosition = n }
}

func boolPtr(b bool) *bool { return &b }

func allowInside(c *ContextConfig) { c.AllowInsertionInside = boolPtr(true) }

func newTestService() *tokenizer.Service {
	return tokenizer.NewService(tokenizer.NewMockCodec())
}

func requireConsistent(t *testing.T, svc *tokenizer.Service, c *Compound) {
	t.Helper()
	text, err := svc.Decode(context.Background(), c.Tokens())
	require.NoError(t, err)
	require.Equal(t, c.Text(), text)
	require.LessOrEqual(t, len(c.Tokens()), c.TokenBudget())
}

// withStory returns a compound holding storyText, which allows insertion
// inside it.
func withStory(t *testing.T, svc *tokenizer.Service, budget int, opts ...Option) (*Compound, *testCandidate) {
	t.Helper()
	c := New(svc, budget, opts...)
	story := newCandidate(svc, "story", storyText, allowInside)
	story.typ = "story"
	res, err := c.Insert(context.Background(), story, budget)
	require.NoError(t, err)
	require.Equal(t, InsertionInitial, res.Type)
	return c, story
}

func TestInsert_Initial(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	c := New(svc, 100)

	x := newCandidate(svc, "x", strings.Repeat(" word", 40), position(0))
	res, err := c.Insert(ctx, x, 100)
	require.NoError(t, err)

	assert.Equal(t, InsertionInitial, res.Type)
	assert.Equal(t, 40, res.TokensUsed)
	assert.Zero(t, res.Shunted)
	assert.Equal(t, Location{Index: 0, Target: -1}, res.Location)
	assert.Equal(t, 60, c.Available())
	requireConsistent(t, svc, c)
}

func TestInsert_Rejections(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	t.Run("no text", func(t *testing.T) {
		c := New(svc, 100)
		res, err := c.Insert(ctx, newCandidate(svc, "blank", "  \n -- \n"), 100)
		require.NoError(t, err)
		assert.True(t, res.IsRejected())
		assert.Equal(t, NoText, res.Reason)
		assert.Zero(t, res.TokensUsed)
		assert.Zero(t, c.Len())
	})

	t.Run("no space", func(t *testing.T) {
		c := New(svc, 2)
		cand := newCandidate(svc, "big", "one two three", func(cfg *ContextConfig) {
			cfg.TrimDirection = trimming.DoNotTrim
		})
		res, err := c.Insert(ctx, cand, 100)
		require.NoError(t, err)
		assert.Equal(t, NoSpace, res.Reason)
		assert.Empty(t, c.Tokens())
	})

	t.Run("no context key", func(t *testing.T) {
		c, _ := withStory(t, svc, 100)
		cand := newCandidate(svc, "keyed", "Lore.\n", func(cfg *ContextConfig) { cfg.KeyRelative = true })
		res, err := c.Insert(ctx, cand, 100)
		require.NoError(t, err)
		assert.Equal(t, NoContextKey, res.Reason)
		assert.Zero(t, cand.rebudgets, "rejected before trimming")
	})
}

func TestInsert_Positions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	tests := []struct {
		name     string
		position int
		wantType InsertionType
		wantText string
	}{
		{"top", 0, InsertionBefore, "New.\n" + storyText},
		{"after first line", 1, InsertionInside, "Line one.\nNew.\nLine two.\nLine three.\n"},
		{"after second line", 2, InsertionInside, "Line one.\nLine two.\nNew.\nLine three.\n"},
		{"after last line", 3, InsertionAfter, storyText + "New.\n"},
		{"past the end", 5, InsertionAfter, storyText + "New.\n"},
		{"bottom", -1, InsertionAfter, storyText + "New.\n"},
		{"before last line", -2, InsertionInside, "Line one.\nLine two.\nNew.\nLine three.\n"},
		{"before first line", -4, InsertionBefore, "New.\n" + storyText},
		{"past the start", -10, InsertionBefore, "New.\n" + storyText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := withStory(t, svc, 200)
			res, err := c.Insert(ctx, newCandidate(svc, "new", "New.\n", position(tt.position)), 200)
			require.NoError(t, err)

			assert.Equal(t, tt.wantType, res.Type)
			assert.Equal(t, tt.wantText, c.Text())
			assert.Zero(t, res.Shunted)
			requireConsistent(t, svc, c)
		})
	}
}

func TestInsert_InsideSplitsTarget(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	c, story := withStory(t, svc, 200)

	res, err := c.Insert(ctx, newCandidate(svc, "new", "New.\n", position(1)), 200)
	require.NoError(t, err)
	require.Equal(t, InsertionInside, res.Type)
	assert.Equal(t, 1, res.Location.Index)
	assert.Equal(t, 0, res.Location.Target)
	assert.Equal(t, 10, res.Location.Offset)

	elements := c.Elements()
	require.Len(t, elements, 3)
	assert.Equal(t, "Line one.\n", elements[0].Text())
	assert.Equal(t, "Line two.\nLine three.\n", elements[2].Text())

	left := elements[0].(*assembly.Tokenized)
	assert.Same(t, Candidate(story), c.FindSource(left.Assembly))
	assert.Same(t, Candidate(story), c.FindSource(elements[2].(*assembly.Tokenized).Assembly))
}

func TestInsert_Shunting(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	refuse := func(cfg *ContextConfig) { cfg.AllowInnerInsertion = boolPtr(false) }

	tests := []struct {
		name        string
		mode        ShuntingMode
		position    int
		wantType    InsertionType
		wantShunted int
	}{
		{"nearest goes up", ShuntNearest, 1, InsertionBefore, 10},
		{"nearest goes down", ShuntNearest, -2, InsertionAfter, 12},
		{"in direction going down", ShuntInDirection, 1, InsertionAfter, 22},
		{"in direction going up", ShuntInDirection, -2, InsertionBefore, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := withStory(t, svc, 200, WithShunting(tt.mode))
			res, err := c.Insert(ctx, newCandidate(svc, "y", "Y.\n", position(tt.position), refuse), 200)
			require.NoError(t, err)

			assert.Equal(t, tt.wantType, res.Type)
			assert.NotEqual(t, InsertionInside, res.Type)
			assert.Equal(t, tt.wantShunted, res.Shunted)
			assert.Equal(t, 2, c.Len())
			requireConsistent(t, svc, c)
		})
	}

	t.Run("target refuses", func(t *testing.T) {
		c := New(svc, 200)
		_, err := c.Insert(ctx, newCandidate(svc, "story", storyText), 200)
		require.NoError(t, err)

		res, err := c.Insert(ctx, newCandidate(svc, "y", "Y.\n", position(1)), 200)
		require.NoError(t, err)
		assert.Equal(t, InsertionBefore, res.Type)
		assert.Equal(t, 10, res.Shunted)
	})
}

func TestInsert_KeyRelative(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	const text = "The cat sat.\nThe dog ran.\nThe end.\n"

	setup := func(t *testing.T) (*Compound, *testCandidate) {
		c := New(svc, 200)
		story := newCandidate(svc, "story", text, allowInside)
		_, err := c.Insert(ctx, story, 200)
		require.NoError(t, err)
		return c, story
	}
	keyed := func(story *testCandidate, position int) *testCandidate {
		lore := newCandidate(svc, "lore", "Dogs bark.\n", func(cfg *ContextConfig) {
			cfg.KeyRelative = true
			cfg.InsertionPosition = position
		})
		dog := strings.Index(text, "dog")
		lore.acts = Activations{ActivationKeyed: {{Selection: [2]assembly.Cursor{
			assembly.FragmentCursor(story.source, dog),
			assembly.FragmentCursor(story.source, dog+3),
		}}}}
		return lore
	}

	t.Run("after the keyed line", func(t *testing.T) {
		c, story := setup(t)
		res, err := c.Insert(ctx, keyed(story, 0), 200)
		require.NoError(t, err)
		assert.Equal(t, InsertionInside, res.Type)
		assert.True(t, res.Location.KeyRelative)
		assert.Equal(t, "The cat sat.\nThe dog ran.\nDogs bark.\nThe end.\n", c.Text())
		requireConsistent(t, svc, c)
	})

	t.Run("before the keyed line", func(t *testing.T) {
		c, story := setup(t)
		res, err := c.Insert(ctx, keyed(story, -1), 200)
		require.NoError(t, err)
		assert.Equal(t, InsertionInside, res.Type)
		assert.Equal(t, "The cat sat.\nDogs bark.\nThe dog ran.\nThe end.\n", c.Text())
	})

	t.Run("two lines up runs off the top", func(t *testing.T) {
		c, story := setup(t)
		res, err := c.Insert(ctx, keyed(story, -3), 200)
		require.NoError(t, err)
		assert.Equal(t, InsertionBefore, res.Type)
		assert.True(t, strings.HasPrefix(c.Text(), "Dogs bark.\n"))
	})

	t.Run("key in unrelated text", func(t *testing.T) {
		c, _ := setup(t)
		other := newCandidate(svc, "other", text)
		res, err := c.Insert(ctx, keyed(other, 0), 200)
		require.NoError(t, err)
		assert.Equal(t, NoContextKey, res.Reason)
	})
}

func TestInsert_BudgetNeverExceeded(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	const budget = 30

	c, _ := withStory(t, svc, budget)
	texts := []string{
		"A short note.\n",
		"Another somewhat longer line of lore text.\nWith a second line.\n",
		"Tiny.\n",
		"The final candidate has quite a lot to say about nothing.\n",
		"Ok.\n",
	}
	for i, text := range texts {
		pos := []int{0, -1, 2, -2, 1}[i]
		before := len(c.Tokens())
		res, err := c.Insert(ctx, newCandidate(svc, text, text, position(pos)), budget)
		require.NoError(t, err)
		requireConsistent(t, svc, c)
		if res.IsRejected() {
			assert.Equal(t, before, len(c.Tokens()))
		} else {
			assert.Equal(t, len(c.Tokens())-before, res.TokensUsed)
		}
	}
}

func TestToAssembly(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	c, _ := withStory(t, svc, 200)
	_, err := c.Insert(ctx, newCandidate(svc, "new", "New.\n", position(1)), 200)
	require.NoError(t, err)

	flat, err := c.ToAssembly()
	require.NoError(t, err)
	assert.Equal(t, c.Text(), flat.Text())
	assert.Equal(t, c.Tokens(), flat.Tokens())
	assert.True(t, flat.IsSource())

	_, err = c.Insert(ctx, newCandidate(svc, "late", "Late.\n"), 200)
	assert.ErrorIs(t, err, ErrFinalized)
	_, err = c.ToAssembly()
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestStructuredOutput(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	c, _ := withStory(t, svc, 200)
	_, err := c.Insert(ctx, newCandidate(svc, "new", "New.\n", position(1)), 200)
	require.NoError(t, err)

	got := slices.Collect(c.StructuredOutput())
	assert.Equal(t, []StructuredEntry{
		{Identifier: "story", Type: "story", Text: "Line one.\n"},
		{Identifier: "new", Type: "lore", Text: "New.\n"},
		{Identifier: "story", Type: "story", Text: "Line two.\nLine three.\n"},
	}, got)

	var joined strings.Builder
	for e := range c.StructuredOutput() {
		joined.WriteString(e.Text)
	}
	assert.Equal(t, c.Text(), joined.String())
}

func TestInsert_Metrics(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	m := metrics.NewWithRegisterer("test", prometheus.NewRegistry())
	c := New(svc, 100, WithMetrics(m))

	_, err := c.Insert(ctx, newCandidate(svc, "a", "Some text.\n"), 100)
	require.NoError(t, err)
	_, err = c.Insert(ctx, newCandidate(svc, "b", "   "), 100)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.InsertionsTotal.WithLabelValues("initial", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InsertionsTotal.WithLabelValues("rejected", "NoText")))
}

func TestContextConfig(t *testing.T) {
	cfg := DefaultContextConfig()
	assert.False(t, cfg.InsertionInsideAllowed())
	assert.True(t, cfg.InnerInsertionAllowed())
	assert.Equal(t, 100, cfg.Budget(100))

	cfg.TokenBudget = 0.25
	cfg.ReservedTokens = 40
	assert.Equal(t, 25, cfg.Budget(100))
	assert.Equal(t, 40, cfg.Reserved(100))
}
