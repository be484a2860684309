package trimming

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
)

const threeLines = "First line.\nSecond line.\nThird line."

func newTestService(t *testing.T) (*tokenizer.Service, *tokenizer.MockCodec) {
	t.Helper()
	codec := tokenizer.NewMockCodec()
	return tokenizer.NewService(codec), codec
}

func decode(t *testing.T, svc *tokenizer.Service, tokens []int) string {
	t.Helper()
	text, err := svc.Decode(context.Background(), tokens)
	require.NoError(t, err)
	return text
}

func TestExec_WholeTextFits(t *testing.T) {
	svc, _ := newTestService(t)
	a := assembly.FromText("> ", threeLines, "\n")

	tr := New(svc, a, DefaultOptions(TrimBottom))
	r, err := tr.Exec(context.Background(), 1000)
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, a.Text(), r.Assembly.Text())
	assert.Equal(t, a.Text(), decode(t, svc, r.Assembly.Tokens()))
	assert.Equal(t, TrimNewline, r.TrimType())
}

func TestExec_EveryBudget(t *testing.T) {
	ctx := context.Background()

	for _, dir := range []TrimDirection{TrimBottom, TrimTop} {
		t.Run(string(dir), func(t *testing.T) {
			svc, _ := newTestService(t)
			a := assembly.FromText("[ ", threeLines, " ]")
			full, err := svc.Count(ctx, a.Text())
			require.NoError(t, err)

			tr := New(svc, a, DefaultOptions(dir))
			lastLen := 0
			for budget := 0; budget <= full; budget++ {
				r, err := tr.Exec(ctx, budget)
				require.NoError(t, err)
				if r == nil {
					assert.Zero(t, lastLen, "budget %d lost a result", budget)
					continue
				}

				assert.LessOrEqual(t, r.TokenCount(), budget)
				assert.Equal(t, r.Assembly.Text(), decode(t, svc, r.Assembly.Tokens()), "budget %d", budget)
				assert.GreaterOrEqual(t, len(r.Assembly.Text()), lastLen, "budget %d", budget)
				lastLen = len(r.Assembly.Text())

				kept := r.Assembly.ContentText()
				if dir == TrimTop {
					assert.True(t, strings.HasSuffix(threeLines, kept), "budget %d kept %q", budget, kept)
				} else {
					assert.True(t, strings.HasPrefix(threeLines, kept), "budget %d kept %q", budget, kept)
				}
			}
			assert.Equal(t, len(a.Text()), lastLen)
		})
	}
}

func TestExec_MaximumTrimType(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	a := assembly.FromText("", threeLines, "")

	probe := New(svc, a, DefaultOptions(TrimBottom))
	second, err := probe.Root().At(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, second)
	budget := second.TokenCount() - 1

	t.Run("newline keeps whole lines", func(t *testing.T) {
		opts := DefaultOptions(TrimBottom)
		opts.MaximumTrimType = TrimNewline
		r, err := New(svc, a, opts).Exec(ctx, budget)
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "First line.", r.Assembly.Text())
		assert.Nil(t, r.Split())
	})

	t.Run("token splits into the next line", func(t *testing.T) {
		r, err := New(svc, a, DefaultOptions(TrimBottom)).Exec(ctx, budget)
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Greater(t, len(r.Assembly.Text()), len("First line."))
		assert.Less(t, len(r.Assembly.Text()), len(second.Assembly.Text()))
		assert.Equal(t, TrimToken, r.TrimType())
	})
}

func TestExec_DoNotTrim(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	a := assembly.FromText("", threeLines, "")
	full, err := svc.Count(ctx, threeLines)
	require.NoError(t, err)

	tr := New(svc, a, DefaultOptions(DoNotTrim))
	require.Equal(t, 1, tr.Root().Len())

	r, err := tr.Exec(ctx, full)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, threeLines, r.Assembly.Text())

	r, err = tr.Exec(ctx, full-1)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestExec_Memoized(t *testing.T) {
	ctx := context.Background()
	svc, codec := newTestService(t)
	tr := New(svc, assembly.FromText("", threeLines, ""), DefaultOptions(TrimBottom))

	first, err := tr.Exec(ctx, 8)
	require.NoError(t, err)
	calls := codec.Calls()

	again, err := tr.Exec(ctx, 8)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, calls, codec.Calls())
}

func TestExec_CodecError(t *testing.T) {
	svc, codec := newTestService(t)
	boom := errors.New("boom")
	codec.SetError(boom)

	tr := New(svc, assembly.FromText("", threeLines, ""), DefaultOptions(TrimBottom))
	_, err := tr.Exec(context.Background(), 100)
	assert.ErrorIs(t, err, boom)
}

func TestSplit_WhileSequenceGrows(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	text := threeLines + "\nFourth line.\nFifth line."
	tr := New(svc, assembly.FromText("", text, ""), DefaultOptions(TrimBottom))

	seq := tr.Root()
	first, err := seq.At(ctx, 0)
	require.NoError(t, err)
	second, err := seq.At(ctx, 1)
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		split *Sequence
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 2; i < seq.Len(); i++ {
			_, _ = seq.At(ctx, i)
		}
	}()
	go func() {
		defer wg.Done()
		split = second.Split()
	}()
	wg.Wait()

	require.NotNil(t, split)
	r, err := split.At(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.True(t, strings.HasPrefix(r.Assembly.Text(), first.Assembly.Text()))
	assert.Equal(t, r.Assembly.Text(), decode(t, svc, r.Assembly.Tokens()))
	assert.LessOrEqual(t, r.TokenCount(), second.TokenCount())
}

func TestPreserveMode(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	a := assembly.FromText("", "\n\nHello world.\n\n", "")

	tests := []struct {
		dir  TrimDirection
		mode PreserveMode
		want string
	}{
		{TrimBottom, PreserveBoth, "\n\nHello world.\n\n"},
		{TrimBottom, PreserveNone, "Hello world."},
		{TrimBottom, PreserveLeading, "\n\nHello world."},
		{TrimBottom, PreserveTrailing, "Hello world.\n\n"},
		{TrimTop, PreserveLeading, "\n\nHello world."},
		{TrimTop, PreserveTrailing, "Hello world.\n\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.dir)+"/"+string(tt.mode), func(t *testing.T) {
			opts := DefaultOptions(tt.dir)
			opts.PreserveMode = tt.mode
			r, err := New(svc, a, opts).Exec(ctx, 1000)
			require.NoError(t, err)
			require.NotNil(t, r)
			assert.Equal(t, tt.want, r.Assembly.ContentText())
		})
	}
}

func TestHasContent(t *testing.T) {
	svc, _ := newTestService(t)

	assert.True(t, New(svc, assembly.FromText("", "words", ""), DefaultOptions(TrimBottom)).HasContent())
	assert.False(t, New(svc, assembly.FromText("", "  \n -- \n", ""), DefaultOptions(TrimBottom)).HasContent())
	assert.False(t, New(svc, assembly.FromText("prefix ", "", " suffix"), DefaultOptions(TrimBottom)).HasContent())
}

func TestWithoutComments(t *testing.T) {
	svc, _ := newTestService(t)
	a := assembly.FromText("", "keep\n## drop\nalso ## not a comment\n##last", "")

	opts := DefaultOptions(TrimBottom)
	opts.Provider = WithoutComments(opts.Provider)
	tr := New(svc, a, opts)

	assert.Equal(t, "keep\nalso ## not a comment\n", tr.Origin().ContentText())
	assert.Same(t, a, tr.Origin().Source())
}

func TestTrimByLength(t *testing.T) {
	a := assembly.FromText("", threeLines, "")

	tests := []struct {
		name string
		dir  TrimDirection
		max  int
		want string
	}{
		{"everything", TrimBottom, 100, threeLines},
		{"into the last line", TrimBottom, 30, "First line.\nSecond line.\nThird"},
		{"whole lines from the bottom", TrimTop, 12, "Third line."},
		{"nothing fits", TrimBottom, 0, ""},
		{"do not trim fits", DoNotTrim, len(threeLines), threeLines},
		{"do not trim overflows", DoNotTrim, len(threeLines) - 1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimByLength(a, tt.max, DefaultOptions(tt.dir))
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Text())
			assert.Same(t, a, got.Source())
		})
	}
}

func TestParse(t *testing.T) {
	d, err := ParseTrimDirection("")
	require.NoError(t, err)
	assert.Equal(t, TrimBottom, d)

	_, err = ParseTrimDirection("sideways")
	assert.Error(t, err)

	tt, err := ParseTrimType("sentence")
	require.NoError(t, err)
	assert.Equal(t, 1, tt.Level())

	_, err = ParseTrimType("paragraph")
	assert.Error(t, err)
}
