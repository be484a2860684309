package tokenizer

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Rare characters that cl100k_base spells with several byte-level tokens.
var splitCandidates = []string{"🦜", "🪿", "🦩", "𓀀", "䨻", "龘", "𝕏"}

const multibyteText = "空が青い。🦜 The parrot said 䨻龘!\nThen 🪿 honked, 𓀀 watched.\n"

func newTiktokenService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	codec, err := NewTiktokenCodec("cl100k_base")
	require.NoError(t, err)
	return NewService(codec, opts...)
}

// partialTail returns a text made of lead and one of the candidates whose
// last token holds only part of a character.
func partialTail(t *testing.T, s *Service, lead string) (string, []int) {
	t.Helper()
	for _, c := range splitCandidates {
		text := lead + c
		tokens := mustEncode(t, s, text)
		if !utf8.ValidString(mustDecode(t, s, tokens[len(tokens)-1:])) {
			return text, tokens
		}
	}
	require.FailNow(t, "no candidate ends in a partial character")
	return "", nil
}

func TestTiktoken_SplitsCharactersAcrossTokens(t *testing.T) {
	s := newTiktokenService(t)
	text, tokens := partialTail(t, s, "")

	assert.Greater(t, len(tokens), 1)
	assert.Equal(t, text, mustDecode(t, s, tokens))
}

func TestService_MendTokens_Multibyte(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		a, b string
	}{
		{"emoji then words", "Look: 🦜", " flew away."},
		{"words then emoji", "It was ", "🪿🪿 and 𓀀"},
		{"cjk", "空が", "青い。"},
		{"rare cjk", "䨻", "龘"},
		{"newline inside", "🦩\n", "\n𝕏"},
	}

	for _, buffer := range []int{1, DefaultMendBuffer} {
		s := newTiktokenService(t, WithMendBuffer(buffer))
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				left, right := mustEncode(t, s, tt.a), mustEncode(t, s, tt.b)

				mended, err := s.MendTokens(ctx, TokenSection(left), TokenSection(right))
				require.NoError(t, err)
				assert.Equal(t, tt.a+tt.b, mustDecode(t, s, mended))

				mended, err = s.MendTokens(ctx, TokenSection(left), TextSection(" ~ "), TokenSection(right))
				require.NoError(t, err)
				assert.Equal(t, tt.a+" ~ "+tt.b, mustDecode(t, s, mended))
			})
		}
	}
}

func TestService_MendTokens_WidensOverPartialCharacter(t *testing.T) {
	ctx := context.Background()
	cache := NewMendCache(16)
	s := newTiktokenService(t, WithMendBuffer(1), WithMendCache(cache))

	text, left := partialTail(t, s, "Hi ")
	right := mustEncode(t, s, " there")

	mended, err := s.MendTokens(ctx, TokenSection(left), TokenSection(right))
	require.NoError(t, err)
	assert.Equal(t, text+" there", mustDecode(t, s, mended))
	assert.True(t, utf8.ValidString(mustDecode(t, s, mended)))
	// A widened window is not keyed by the tokens it started from.
	assert.Zero(t, cache.Len())
}

func TestService_SplitTokens_Multibyte(t *testing.T) {
	ctx := context.Background()
	s := newTiktokenService(t)
	tokens := mustEncode(t, s, multibyteText)

	inside := 0
	for off := range multibyteText {
		loc, err := s.FindOffset(ctx, tokens, off)
		require.NoError(t, err)
		if !loc.IsBoundary() {
			inside++
		}

		left, right, err := s.SplitTokens(ctx, tokens, off)
		require.NoError(t, err, "offset %d", off)
		assert.Equal(t, multibyteText[:off], mustDecode(t, s, left), "offset %d", off)
		assert.Equal(t, multibyteText[off:], mustDecode(t, s, right), "offset %d", off)
	}
	assert.Positive(t, inside)
}

func TestStreamEncoder_Multibyte(t *testing.T) {
	ctx := context.Background()
	blocks := []string{"空が青い。", "🦜", " The parrot", " said 䨻", "龘!\n", "🪿🪿", " 𓀀"}

	for _, buffer := range []int{1, DefaultMendBuffer} {
		s := newTiktokenService(t, WithMendBuffer(buffer))

		t.Run("append", func(t *testing.T) {
			e := s.NewStreamEncoder(AppendEncoder, "「", "」🦩")
			var body string
			for _, b := range blocks {
				body += b
				tokens, err := e.Push(ctx, b)
				require.NoError(t, err)
				assert.Equal(t, "「"+body+"」🦩", mustDecode(t, s, tokens))
			}
		})

		t.Run("prepend", func(t *testing.T) {
			e := s.NewStreamEncoder(PrependEncoder, "𝕏 ", "\n")
			var body string
			for i := len(blocks) - 1; i >= 0; i-- {
				body = blocks[i] + body
				tokens, err := e.Push(ctx, blocks[i])
				require.NoError(t, err)
				assert.Equal(t, "𝕏 "+body+"\n", mustDecode(t, s, tokens))
			}
		})

		t.Run("resume", func(t *testing.T) {
			e := s.NewStreamEncoder(AppendEncoder, "", "🪿")
			half := len(blocks) / 2
			for _, b := range blocks[:half] {
				_, err := e.Push(ctx, b)
				require.NoError(t, err)
			}

			resumed := s.ResumeStreamEncoder("", "🪿", e.Tokens(), e.State())
			for _, b := range blocks[half:] {
				_, err := resumed.Push(ctx, b)
				require.NoError(t, err)
			}
			assert.Equal(t, strings.Join(blocks, "")+"🪿", mustDecode(t, s, resumed.Tokens()))
		})
	}
}
