// Package fragment provides immutable slices of source text and the
// splitters used to break them down at line, sentence and word granularity.
package fragment

import (
	"fmt"
	"strings"
	"unicode"
)

// TextFragment is an immutable slice of some source string.
// Offset is the byte offset of Content within that source and never changes.
type TextFragment struct {
	Content string `json:"content"`
	Offset  int    `json:"offset"`
}

// New creates a fragment.
func New(content string, offset int) TextFragment {
	return TextFragment{Content: content, Offset: offset}
}

// Empty creates a zero-length fragment anchored at offset.
func Empty(offset int) TextFragment {
	return TextFragment{Offset: offset}
}

// Len returns the length of the fragment in bytes.
func (f TextFragment) Len() int { return len(f.Content) }

// End returns the offset just past the last byte of the fragment.
func (f TextFragment) End() int { return f.Offset + len(f.Content) }

// IsEmpty reports whether the fragment has no content.
func (f TextFragment) IsEmpty() bool { return f.Content == "" }

func (f TextFragment) String() string {
	return fmt.Sprintf("%d:%q", f.Offset, f.Content)
}

// IsOffsetInside reports whether offset lies within f, inclusive of both ends.
func IsOffsetInside(offset int, f TextFragment) bool {
	return offset >= f.Offset && offset <= f.End()
}

// IsSequential reports whether b starts exactly where a ends.
func IsSequential(a, b TextFragment) bool {
	return a.End() == b.Offset
}

// Split cuts f at the absolute offset. A cut at either end returns f itself
// alongside an empty fragment. Panics if offset is outside f.
func Split(f TextFragment, offset int) (TextFragment, TextFragment) {
	if !IsOffsetInside(offset, f) {
		panic(fmt.Sprintf("fragment: split offset %d outside fragment %s", offset, f))
	}
	switch offset {
	case f.Offset:
		return Empty(f.Offset), f
	case f.End():
		return f, Empty(f.End())
	}
	at := offset - f.Offset
	return New(f.Content[:at], f.Offset), New(f.Content[at:], offset)
}

// Merge joins sequential fragments into one. Panics if the fragments are not
// sequential. An empty input yields an empty fragment at offset zero.
func Merge(frags []TextFragment) TextFragment {
	switch len(frags) {
	case 0:
		return Empty(0)
	case 1:
		return frags[0]
	}
	var sb strings.Builder
	for i, f := range frags {
		if i > 0 && !IsSequential(frags[i-1], f) {
			panic(fmt.Sprintf("fragment: cannot merge non-sequential fragments %s and %s", frags[i-1], f))
		}
		sb.WriteString(f.Content)
	}
	return New(sb.String(), frags[0].Offset)
}

// Consolidate drops empty fragments and merges runs of sequential ones.
func Consolidate(frags []TextFragment) []TextFragment {
	out := make([]TextFragment, 0, len(frags))
	var run []TextFragment
	flush := func() {
		if len(run) > 0 {
			out = append(out, Merge(run))
			run = run[:0]
		}
	}
	for _, f := range frags {
		if f.IsEmpty() {
			continue
		}
		if len(run) > 0 && !IsSequential(run[len(run)-1], f) {
			flush()
		}
		run = append(run, f)
	}
	flush()
	return out
}

// Concat returns the concatenated content of frags.
func Concat(frags []TextFragment) string {
	var sb strings.Builder
	for _, f := range frags {
		sb.WriteString(f.Content)
	}
	return sb.String()
}

// IsWordy reports whether the fragment contains a letter or a number.
func IsWordy(f TextFragment) bool {
	return strings.IndexFunc(f.Content, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r)
	}) >= 0
}

// IsNewline reports whether the fragment is a single line break.
func IsNewline(f TextFragment) bool {
	return f.Content == "\n"
}
