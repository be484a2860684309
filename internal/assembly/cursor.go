package assembly

import (
	"fmt"
	"math"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/fragment"
)

// CursorType distinguishes what a cursor's offset is relative to.
type CursorType int

const (
	// FullText cursors address the concatenated text of one assembly.
	FullText CursorType = iota
	// Fragment cursors address the source text shared by related assemblies.
	Fragment
)

func (t CursorType) String() string {
	if t == Fragment {
		return "fragment"
	}
	return "fullText"
}

// Cursor is a position within an assembly.
type Cursor struct {
	Type   CursorType
	Origin *Assembly
	Offset int
}

// FragmentCursor creates a cursor into the source of origin.
func FragmentCursor(origin *Assembly, offset int) Cursor {
	return Cursor{Type: Fragment, Origin: origin.Source(), Offset: offset}
}

// FullTextCursor creates a cursor into the full text of origin.
func FullTextCursor(origin *Assembly, offset int) Cursor {
	return Cursor{Type: FullText, Origin: origin, Offset: offset}
}

func (c Cursor) String() string {
	return fmt.Sprintf("%s@%d", c.Type, c.Offset)
}

// Position tells which part of an assembly a cursor falls in.
type Position int

const (
	PositionNone Position = iota
	PositionPrefix
	PositionContent
	PositionSuffix
)

func (p Position) String() string {
	switch p {
	case PositionPrefix:
		return "prefix"
	case PositionContent:
		return "content"
	case PositionSuffix:
		return "suffix"
	default:
		return "none"
	}
}

func (a *Assembly) mustFragmentCursor(c Cursor) {
	if c.Type != Fragment {
		panic(fmt.Sprintf("assembly: expected a fragment cursor, got %s", c))
	}
	if c.Origin == nil || c.Origin.Source() != a.Source() {
		panic(fmt.Sprintf("assembly: cursor %s does not belong to this assembly's source", c))
	}
}

// PositionOf reports where a fragment cursor falls. Content wins when the
// cursor sits on the boundary between content and an affix.
func (a *Assembly) PositionOf(c Cursor) Position {
	a.mustFragmentCursor(c)
	for _, f := range a.content {
		if fragment.IsOffsetInside(c.Offset, f) {
			return PositionContent
		}
	}
	if fragment.IsOffsetInside(c.Offset, a.prefix) {
		return PositionPrefix
	}
	if fragment.IsOffsetInside(c.Offset, a.suffix) {
		return PositionSuffix
	}
	return PositionNone
}

// ToFullText converts a fragment cursor into a full-text cursor on a.
// Panics if the cursor does not address live text of a.
func (a *Assembly) ToFullText(c Cursor) Cursor {
	switch a.PositionOf(c) {
	case PositionPrefix:
		return FullTextCursor(a, c.Offset-a.prefix.Offset)
	case PositionContent:
		offset := a.prefix.Len()
		for _, f := range a.content {
			if fragment.IsOffsetInside(c.Offset, f) {
				return FullTextCursor(a, offset+c.Offset-f.Offset)
			}
			offset += f.Len()
		}
	case PositionSuffix:
		return FullTextCursor(a, a.prefix.Len()+a.Stats().ConcatLength+c.Offset-a.suffix.Offset)
	}
	panic(fmt.Sprintf("assembly: cursor %s does not address any fragment", c))
}

// FromFullText converts a full-text cursor on a into a fragment cursor.
// When the offset sits between two fragments, content is favoured over the
// affixes and wordy fragments over the rest.
func (a *Assembly) FromFullText(c Cursor) Cursor {
	if c.Type != FullText || c.Origin != a {
		panic(fmt.Sprintf("assembly: expected a full-text cursor on this assembly, got %s", c))
	}
	if c.Offset < 0 || c.Offset > len(a.Text()) {
		panic(fmt.Sprintf("assembly: full-text offset %d outside text of length %d", c.Offset, len(a.Text())))
	}

	type hit struct {
		frag  fragment.TextFragment
		start int
		score int
	}
	var best *hit
	start := 0
	for i, f := range a.parts() {
		if c.Offset >= start && c.Offset <= start+f.Len() {
			h := hit{frag: f, start: start}
			if i > 0 && i <= len(a.content) {
				h.score = 2
				if fragment.IsWordy(f) {
					h.score = 3
				}
			} else if !f.IsEmpty() {
				h.score = 1
			}
			if best == nil || h.score > best.score {
				best = &h
			}
		}
		start += f.Len()
	}
	return FragmentCursor(a, best.frag.Offset+c.Offset-best.start)
}

// parts returns prefix, content and suffix in text order.
func (a *Assembly) parts() []fragment.TextFragment {
	parts := make([]fragment.TextFragment, 0, len(a.content)+2)
	parts = append(parts, a.prefix)
	parts = append(parts, a.content...)
	return append(parts, a.suffix)
}

// FindBest moves a fragment cursor that no longer addresses live content to
// the nearest content boundary. With preferContent unset, a cursor inside
// the prefix or suffix is left where it is.
//
// When the assembly has no content at all the cursor snaps to whichever of
// the prefix end or suffix start is nearer.
func (a *Assembly) FindBest(c Cursor, preferContent bool) Cursor {
	switch a.PositionOf(c) {
	case PositionContent:
		return c
	case PositionPrefix, PositionSuffix:
		if !preferContent {
			return c
		}
	}

	if len(a.content) == 0 {
		lo, hi := a.prefix.End(), a.suffix.Offset
		if abs(c.Offset-lo) <= abs(c.Offset-hi) {
			return FragmentCursor(a, lo)
		}
		return FragmentCursor(a, hi)
	}

	best, bestDist := 0, math.MaxInt
	if a.IsContiguous() {
		// Boundaries are ordered, so distance falls then rises.
	scan:
		for _, f := range a.content {
			for _, b := range [2]int{f.Offset, f.End()} {
				d := abs(c.Offset - b)
				if d > bestDist {
					break scan
				}
				if d < bestDist {
					best, bestDist = b, d
				}
			}
		}
	} else {
		for _, f := range a.content {
			for _, b := range [2]int{f.Offset, f.End()} {
				if d := abs(c.Offset - b); d < bestDist {
					best, bestDist = b, d
				}
			}
		}
	}
	return FragmentCursor(a, best)
}

// Locate resolves a fragment cursor to a full-text offset, repositioning it
// with FindBest when it falls in removed content. It reports false when the
// cursor lies outside the span of this assembly's content.
func (a *Assembly) Locate(c Cursor) (int, bool) {
	if c.Type == FullText {
		if c.Origin != a {
			return 0, false
		}
		return c.Offset, true
	}
	if c.Origin == nil || c.Origin.Source() != a.Source() || a.IsEmpty() {
		return 0, false
	}
	if a.PositionOf(c) == PositionContent {
		return a.ToFullText(c).Offset, true
	}
	s := a.Stats()
	if c.Offset < s.MinOffset || c.Offset > s.MaxOffset {
		return 0, false
	}
	return a.ToFullText(a.FindBest(c, true)).Offset, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
