package compound

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
)

const multibyteStory = "空が青い。🦜\nThe 䨻龘 parrot.\nThen 🪿 honked.\n"

func newTiktokenService(t *testing.T) *tokenizer.Service {
	t.Helper()
	codec, err := tokenizer.NewTiktokenCodec("cl100k_base")
	require.NoError(t, err)
	return tokenizer.NewService(codec, tokenizer.WithMendBuffer(1))
}

func TestInsert_MultibyteSplits(t *testing.T) {
	ctx := context.Background()
	svc := newTiktokenService(t)

	tests := []struct {
		name     string
		position int
		wantType InsertionType
		wantText string
	}{
		{"after first line", 1, InsertionInside, "空が青い。🦜\n𓀀 note.\nThe 䨻龘 parrot.\nThen 🪿 honked.\n"},
		{"before last line", -2, InsertionInside, "空が青い。🦜\nThe 䨻龘 parrot.\n𓀀 note.\nThen 🪿 honked.\n"},
		{"bottom", -1, InsertionAfter, multibyteStory + "𓀀 note.\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(svc, 200)
			_, err := c.Insert(ctx, newCandidate(svc, "story", multibyteStory, allowInside), 200)
			require.NoError(t, err)
			requireConsistent(t, svc, c)

			res, err := c.Insert(ctx, newCandidate(svc, "new", "𓀀 note.\n", position(tt.position)), 200)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, res.Type)
			assert.Equal(t, tt.wantText, c.Text())
			requireConsistent(t, svc, c)

			for _, e := range c.Elements() {
				text, err := svc.Decode(ctx, e.Tokens())
				require.NoError(t, err)
				assert.Equal(t, e.Text(), text)
			}
		})
	}
}

func TestInsert_MultibyteBudget(t *testing.T) {
	ctx := context.Background()
	svc := newTiktokenService(t)
	const budget = 40

	c := New(svc, budget)
	_, err := c.Insert(ctx, newCandidate(svc, "story", multibyteStory, allowInside), budget)
	require.NoError(t, err)

	texts := []string{
		"🦩🦩 flamingos 🦩🦩\n",
		"龘龘龘 is a rare character, 䨻 even rarer.\nA second 𝕏 line.\n",
		"🪿\n",
		"空が青い。空が青い。空が青い。\n",
	}
	for i, text := range texts {
		pos := []int{1, -2, 0, 2}[i]
		before := len(c.Tokens())
		res, err := c.Insert(ctx, newCandidate(svc, text, text, position(pos)), budget)
		require.NoError(t, err)
		requireConsistent(t, svc, c)
		if res.IsRejected() {
			assert.Equal(t, before, len(c.Tokens()))
		}
	}
}

func TestContextGroup_Multibyte(t *testing.T) {
	ctx := context.Background()
	svc := newTiktokenService(t)

	for _, budget := range []int{6, 12, 100} {
		root := New(svc, 200)
		g := NewContextGroup(svc, "grp", "", ContextConfig{Prefix: "【🦜】\n", Suffix: "\n【終】"}, budget)
		_, err := root.Insert(ctx, g, 200)
		require.NoError(t, err)

		_, err = g.Insert(ctx, newCandidate(svc, "lore", "\n䨻龘 and 🪿 live here.\n"), 200)
		require.NoError(t, err)

		require.LessOrEqual(t, len(g.Tokens()), g.TokenBudget(), "budget %d", budget)
		text, err := svc.Decode(ctx, g.Tokens())
		require.NoError(t, err)
		assert.Equal(t, g.Text(), text, "budget %d", budget)
		requireConsistent(t, svc, root)
	}
}
