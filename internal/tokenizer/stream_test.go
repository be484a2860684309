package tokenizer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEncoder_Append(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	e := s.NewStreamEncoder(AppendEncoder, "Title: ", "\n----")
	blocks := []string{"It was", " a dark", " and stormy night;", " the rain fell", " in torrents."}

	var body string
	for _, b := range blocks {
		body += b
		tokens, err := e.Push(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, "Title: "+body+"\n----", mustDecode(t, s, tokens))
		assert.Equal(t, tokens, e.Tokens())
	}
	assert.Equal(t, mustEncode(t, s, "Title: "+body+"\n----"), e.Tokens())
}

func TestStreamEncoder_Prepend(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	e := s.NewStreamEncoder(PrependEncoder, "[", "]")
	blocks := []string{"end.", "the ", "is ", "This "}

	body := ""
	for _, b := range blocks {
		body = b + body
		tokens, err := e.Push(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, "["+body+"]", mustDecode(t, s, tokens))
	}
	assert.Equal(t, "[This is the end.]", mustDecode(t, s, e.Tokens()))
}

func TestStreamEncoder_SafeHouseGrows(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	e := s.NewStreamEncoder(AppendEncoder, "", "")
	_, err := e.Push(ctx, strings.Repeat("word ", 30))
	require.NoError(t, err)

	state := e.State()
	assert.Equal(t, AppendEncoder, state.Kind)
	assert.Positive(t, state.SafeCount)
	assert.Len(t, state.UnsafeTokens, DefaultMendBuffer)
	assert.Equal(t, len(e.Tokens()), state.SafeCount+len(state.UnsafeTokens))
}

func TestStreamEncoder_Resume(t *testing.T) {
	for _, kind := range []EncoderKind{AppendEncoder, PrependEncoder} {
		t.Run(string(kind), func(t *testing.T) {
			s, _ := newTestService(t)
			ctx := context.Background()

			original := s.NewStreamEncoder(kind, "<<", ">>")
			_, err := original.Push(ctx, strings.Repeat("alpha beta ", 8))
			require.NoError(t, err)
			_, err = original.Push(ctx, "gamma delta")
			require.NoError(t, err)

			resumed := s.ResumeStreamEncoder("<<", ">>", original.Tokens(), original.State())
			assert.Equal(t, original.Tokens(), resumed.Tokens())

			want, err := original.Push(ctx, " epsilon")
			require.NoError(t, err)
			got, err := resumed.Push(ctx, " epsilon")
			require.NoError(t, err)

			assert.Equal(t, want, got)
			assert.Equal(t, original.State(), resumed.State())
		})
	}
}

func TestStreamEncoder_ResumeFresh(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	fresh := s.NewStreamEncoder(AppendEncoder, "(", ")")
	resumed := s.ResumeStreamEncoder("(", ")", fresh.Tokens(), fresh.State())

	tokens, err := resumed.Push(ctx, "inner")
	require.NoError(t, err)
	assert.Equal(t, "(inner)", mustDecode(t, s, tokens))
}

func TestStreamEncoder_DetectsDrift(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	state := ResumeState{Kind: AppendEncoder, UnsafeTokens: mustEncode(t, s, "no suffix here")}
	e := s.ResumeStreamEncoder("", " END", state.UnsafeTokens, state)

	_, err := e.Push(ctx, "more")
	assert.ErrorIs(t, err, ErrEncoderDrift)
}
