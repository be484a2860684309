package compound

import (
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/fragment"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/trimming"
)

type direction int

const (
	toBottom direction = iota
	toTop
)

func (d direction) String() string {
	if d == toTop {
		return "toTop"
	}
	return "toBottom"
}

// spot is a located insertion point. For InsertionInside, left and right
// are filled in once the target has been split.
type spot struct {
	kind    InsertionType
	index   int
	offset  int
	shunted int

	left, right Element
}

// boundaries returns the full-text offsets where a unit starts strictly
// inside e's content, in ascending order.
func boundaries(e Element, unit trimming.TrimType) []int {
	lo, hi := e.ContentBounds()
	if lo >= hi {
		return nil
	}
	body := fragment.New(e.Text()[lo:hi], lo)

	var out []int
	switch unit {
	case trimming.TrimNewline:
		for _, f := range fragment.ByLine(body) {
			if fragment.IsNewline(f) && f.End() < hi {
				out = append(out, f.End())
			}
		}
	case trimming.TrimSentence:
		for _, f := range fragment.BySentence(body) {
			if fragment.IsWordy(f) && f.Offset > lo {
				out = append(out, f.Offset)
			}
		}
	default:
		for _, f := range fragment.ByWord(body) {
			if fragment.IsWordy(f) && f.Offset > lo {
				out = append(out, f.Offset)
			}
		}
	}
	return out
}

// stops lists the places a walk from offset may stop in one element, in
// walking order, ending with the far edge of the content.
func stops(bounds []int, offset, lo, hi int, dir direction, inclusive bool) []int {
	var out []int
	if dir == toBottom {
		for _, b := range bounds {
			if (b > offset || inclusive && b == offset) && b < hi {
				out = append(out, b)
			}
		}
		return append(out, hi)
	}
	for i := len(bounds) - 1; i >= 0; i-- {
		b := bounds[i]
		if (b < offset || inclusive && b == offset) && b > lo {
			out = append(out, b)
		}
	}
	return append(out, lo)
}

func spotAt(index, offset, lo, hi int) spot {
	switch {
	case offset <= lo:
		return spot{kind: InsertionBefore, index: index, offset: offset}
	case offset >= hi:
		return spot{kind: InsertionAfter, index: index, offset: offset}
	default:
		return spot{kind: InsertionInside, index: index, offset: offset}
	}
}

// walk moves n units from offset within elements[index]. Units left over
// at the edge of an element carry into the next one in the walking
// direction; empty elements take no units. With entering set the walk
// starts at the near edge of elements[index] and offset is ignored.
func walk(elements []Element, index, offset, n int, dir direction, inclusive, entering bool, unit trimming.TrimType) spot {
	for {
		e := elements[index]
		if !e.IsEmpty() {
			lo, hi := e.ContentBounds()
			if entering {
				offset = lo
				if dir == toTop {
					offset = hi
				}
			}
			if n == 0 {
				return spotAt(index, offset, lo, hi)
			}
			s := stops(boundaries(e, unit), offset, lo, hi, dir, inclusive)
			if n <= len(s) {
				return spotAt(index, s[n-1], lo, hi)
			}
			n -= len(s)
		}

		entering, inclusive = true, false
		if dir == toBottom {
			if index == len(elements)-1 {
				return spot{kind: InsertionAfter, index: index, offset: len(e.Text())}
			}
			index++
		} else {
			if index == 0 {
				return spot{kind: InsertionBefore, index: 0}
			}
			index--
		}
	}
}

// fromEdge locates a non-key-relative insertion.
func fromEdge(elements []Element, position int, unit trimming.TrimType) spot {
	if position >= 0 {
		if position == 0 {
			return spot{kind: InsertionBefore, index: 0}
		}
		return walk(elements, 0, 0, position, toBottom, false, true, unit)
	}
	last := len(elements) - 1
	n := -position - 1
	if n == 0 {
		return spot{kind: InsertionAfter, index: last, offset: len(elements[last].Text())}
	}
	return walk(elements, last, 0, n, toTop, false, true, unit)
}

// findKey finds the element holding the latest keyed match, scanning
// bottom-up for toTop and top-down for toBottom. The match's end is used
// when walking down and its start when walking up.
func findKey(elements []Element, matches []Match, dir direction) (int, int, bool) {
	if len(matches) == 0 {
		return 0, 0, false
	}
	check := func(i int) (int, bool) {
		best := -1
		for _, m := range matches {
			c := m.Selection[0]
			if dir == toBottom {
				c = m.Selection[1]
			}
			if off, ok := elements[i].FullTextOffset(c); ok && off > best {
				best = off
			}
		}
		return best, best >= 0
	}

	if dir == toTop {
		for i := len(elements) - 1; i >= 0; i-- {
			if off, ok := check(i); ok {
				return i, off, true
			}
		}
		return 0, 0, false
	}
	for i := range elements {
		if off, ok := check(i); ok {
			return i, off, true
		}
	}
	return 0, 0, false
}
