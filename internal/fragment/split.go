package fragment

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/sentences"
	"github.com/clipperhouse/uax29/v2/words"
)

// ByLine splits f into lines. Every "\n" becomes its own fragment.
func ByLine(f TextFragment) []TextFragment {
	if f.IsEmpty() {
		return nil
	}
	var out []TextFragment
	rest, offset := f.Content, f.Offset
	for rest != "" {
		i := strings.IndexByte(rest, '\n')
		if i < 0 {
			out = append(out, New(rest, offset))
			break
		}
		if i > 0 {
			out = append(out, New(rest[:i], offset))
		}
		out = append(out, New("\n", offset+i))
		rest, offset = rest[i+1:], offset+i+1
	}
	return out
}

// BySentence splits f into sentences using Unicode sentence boundaries.
// Line breaks are kept as their own fragments and whitespace surrounding a
// sentence is split off from it.
func BySentence(f TextFragment) []TextFragment {
	var out []TextFragment
	for _, line := range ByLine(f) {
		if IsNewline(line) {
			out = append(out, line)
			continue
		}
		offset := line.Offset
		seg := sentences.FromString(line.Content)
		for seg.Next() {
			s := seg.Value()
			out = append(out, trimSpaces(New(s, offset))...)
			offset += len(s)
		}
	}
	return out
}

// ByWord splits f into words, whitespace runs and punctuation using Unicode
// word boundaries. Line breaks are kept as their own fragments.
func ByWord(f TextFragment) []TextFragment {
	var out []TextFragment
	for _, line := range ByLine(f) {
		if IsNewline(line) {
			out = append(out, line)
			continue
		}
		offset := line.Offset
		seg := words.FromString(line.Content)
		for seg.Next() {
			w := seg.Value()
			out = append(out, New(w, offset))
			offset += len(w)
		}
	}
	return out
}

// trimSpaces separates leading and trailing whitespace of f into their own
// fragments.
func trimSpaces(f TextFragment) []TextFragment {
	body := strings.TrimLeftFunc(f.Content, unicode.IsSpace)
	lead := len(f.Content) - len(body)
	body = strings.TrimRightFunc(body, unicode.IsSpace)
	if body == "" {
		return []TextFragment{f}
	}
	var out []TextFragment
	if lead > 0 {
		out = append(out, New(f.Content[:lead], f.Offset))
	}
	out = append(out, New(body, f.Offset+lead))
	if tail := lead + len(body); tail < len(f.Content) {
		out = append(out, New(f.Content[tail:], f.Offset+tail))
	}
	return out
}

// SplitAll applies splitter to every fragment, preserving order.
func SplitAll(frags []TextFragment, splitter func(TextFragment) []TextFragment) []TextFragment {
	var out []TextFragment
	for _, f := range frags {
		out = append(out, splitter(f)...)
	}
	return out
}
