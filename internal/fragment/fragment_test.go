package fragment

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	f := New("Hello world", 10)

	tests := []struct {
		name   string
		offset int
		left   TextFragment
		right  TextFragment
	}{
		{"at start", 10, Empty(10), f},
		{"at end", 21, f, Empty(21)},
		{"in middle", 15, New("Hello", 10), New(" world", 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, right := Split(f, tt.offset)
			assert.Equal(t, tt.left, left)
			assert.Equal(t, tt.right, right)
		})
	}
}

func TestSplit_OutsidePanics(t *testing.T) {
	f := New("abc", 5)
	assert.Panics(t, func() { Split(f, 4) })
	assert.Panics(t, func() { Split(f, 9) })
}

func TestSplitMergeRoundTrip(t *testing.T) {
	f := New("The quick brown fox", 3)
	for k := f.Offset; k <= f.End(); k++ {
		left, right := Split(f, k)
		assert.Equal(t, f, Merge([]TextFragment{left, right}), "offset %d", k)
	}
}

func TestMerge(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, Empty(0), Merge(nil))
	})

	t.Run("sequential", func(t *testing.T) {
		got := Merge([]TextFragment{New("a", 0), New("bc", 1), New("d", 3)})
		assert.Equal(t, New("abcd", 0), got)
	})

	t.Run("non-sequential panics", func(t *testing.T) {
		assert.Panics(t, func() {
			Merge([]TextFragment{New("a", 0), New("b", 5)})
		})
	})
}

func TestIsOffsetInside(t *testing.T) {
	f := New("abc", 2)
	assert.False(t, IsOffsetInside(1, f))
	assert.True(t, IsOffsetInside(2, f))
	assert.True(t, IsOffsetInside(5, f))
	assert.False(t, IsOffsetInside(6, f))
	assert.True(t, IsOffsetInside(4, Empty(4)))
}

func TestConsolidate(t *testing.T) {
	got := Consolidate([]TextFragment{
		New("a", 0), Empty(1), New("b", 1), New("x", 10), New("y", 11), Empty(20),
	})
	want := []TextFragment{New("ab", 0), New("xy", 10)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Consolidate() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsWordy(t *testing.T) {
	assert.True(t, IsWordy(New("word", 0)))
	assert.True(t, IsWordy(New(" 42 ", 0)))
	assert.True(t, IsWordy(New("日本", 0)))
	assert.False(t, IsWordy(New(" ,.\n", 0)))
	assert.False(t, IsWordy(Empty(0)))
}

func TestByLine(t *testing.T) {
	got := ByLine(New("one\ntwo\n\nthree", 5))
	want := []TextFragment{
		New("one", 5), New("\n", 8), New("two", 9), New("\n", 12),
		New("\n", 13), New("three", 14),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ByLine() mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, ByLine(Empty(3)))
}

func TestBySentence(t *testing.T) {
	src := New("Hello there. How are you?\nFine.", 0)
	got := BySentence(src)

	want := []TextFragment{
		New("Hello there.", 0), New(" ", 12), New("How are you?", 13),
		New("\n", 25), New("Fine.", 26),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BySentence() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, src.Content, Concat(got))
}

func TestByWord(t *testing.T) {
	src := New("Hello, world!", 7)
	got := ByWord(src)

	want := []TextFragment{
		New("Hello", 7), New(",", 12), New(" ", 13), New("world", 14), New("!", 19),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ByWord() mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitters_PreserveOffsets(t *testing.T) {
	src := New("First line here.\n  Second, with words!  \nLast", 100)
	splitters := map[string]func(TextFragment) []TextFragment{
		"line":     ByLine,
		"sentence": BySentence,
		"word":     ByWord,
	}

	for name, split := range splitters {
		t.Run(name, func(t *testing.T) {
			frags := split(src)
			require.NotEmpty(t, frags)
			assert.Equal(t, src.Content, Concat(frags))
			assert.Equal(t, src.Offset, frags[0].Offset)
			for i := 1; i < len(frags); i++ {
				assert.True(t, IsSequential(frags[i-1], frags[i]), "fragment %d not sequential", i)
			}
		})
	}
}
