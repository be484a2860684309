// Package assembly models text as a prefix, an ordered run of content
// fragments and a suffix, derived from a shared source, together with the
// cursors used to address positions inside it.
package assembly

import (
	"fmt"
	"strings"
	"sync"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/fragment"
)

// Stats summarizes an assembly's content fragments.
type Stats struct {
	// MinOffset is the smallest content offset, MaxOffset the largest end.
	MinOffset int
	MaxOffset int
	// ImpliedLength is MaxOffset - MinOffset, the span the content covers
	// in its source.
	ImpliedLength int
	// ConcatLength is the length of the concatenated content.
	ConcatLength int
}

// Assembly is an immutable prefix, content and suffix.
// An assembly with no source is its own source.
type Assembly struct {
	prefix  fragment.TextFragment
	content []fragment.TextFragment
	suffix  fragment.TextFragment
	source  *Assembly

	textOnce   sync.Once
	text       string
	statsOnce  sync.Once
	stats      Stats
	contigOnce sync.Once
	contiguous bool
}

// FromText creates a source assembly. The prefix sits at offset zero and
// the content and suffix follow it.
func FromText(prefix, content, suffix string) *Assembly {
	a := &Assembly{
		prefix: fragment.New(prefix, 0),
		suffix: fragment.New(suffix, len(prefix)+len(content)),
	}
	if content != "" {
		a.content = []fragment.TextFragment{fragment.New(content, len(prefix))}
	}
	return a
}

// Derive creates an assembly over src's source with new content and affixes.
// Empty content fragments are dropped and sequential ones merged.
// Panics if prefix is not at offset zero or content falls outside the
// source's content range.
func Derive(src *Assembly, content []fragment.TextFragment, prefix, suffix fragment.TextFragment) *Assembly {
	root := src.Source()
	if prefix.Offset != 0 {
		panic(fmt.Sprintf("assembly: prefix must start at offset 0, got %d", prefix.Offset))
	}
	lo, hi := root.prefix.End(), root.suffix.Offset
	for _, f := range content {
		if f.Offset < lo || f.End() > hi {
			panic(fmt.Sprintf("assembly: fragment %s outside source content range [%d, %d]", f, lo, hi))
		}
	}
	return &Assembly{
		prefix:  prefix,
		content: fragment.Consolidate(content),
		suffix:  suffix,
		source:  root,
	}
}

// WithContent derives an assembly from a keeping its prefix and suffix.
func (a *Assembly) WithContent(content []fragment.TextFragment) *Assembly {
	return Derive(a, content, a.prefix, a.suffix)
}

// Source returns the root assembly this one was derived from.
func (a *Assembly) Source() *Assembly {
	if a.source == nil {
		return a
	}
	return a.source
}

// IsSource reports whether the assembly is its own source.
func (a *Assembly) IsSource() bool { return a.source == nil }

// IsRelatedTo reports whether both assemblies share a source.
func (a *Assembly) IsRelatedTo(other *Assembly) bool {
	return other != nil && a.Source() == other.Source()
}

// Prefix returns the prefix fragment.
func (a *Assembly) Prefix() fragment.TextFragment { return a.prefix }

// Suffix returns the suffix fragment.
func (a *Assembly) Suffix() fragment.TextFragment { return a.suffix }

// Content returns the content fragments. The slice must not be modified.
func (a *Assembly) Content() []fragment.TextFragment { return a.content }

// Text returns prefix, content and suffix joined.
func (a *Assembly) Text() string {
	a.textOnce.Do(func() {
		var sb strings.Builder
		sb.WriteString(a.prefix.Content)
		for _, f := range a.content {
			sb.WriteString(f.Content)
		}
		sb.WriteString(a.suffix.Content)
		a.text = sb.String()
	})
	return a.text
}

// ContentText returns the content without the affixes.
func (a *Assembly) ContentText() string {
	text := a.Text()
	return text[len(a.prefix.Content) : len(text)-len(a.suffix.Content)]
}

// IsEmpty reports whether the assembly has no content. Affixes alone do not
// count as content.
func (a *Assembly) IsEmpty() bool { return len(a.content) == 0 }

// ContentBounds returns the full-text offsets where content starts and ends.
func (a *Assembly) ContentBounds() (int, int) {
	lo := len(a.prefix.Content)
	return lo, lo + a.Stats().ConcatLength
}

// Stats returns cached content statistics.
func (a *Assembly) Stats() Stats {
	a.statsOnce.Do(func() {
		if len(a.content) == 0 {
			at := a.prefix.End()
			a.stats = Stats{MinOffset: at, MaxOffset: at}
			return
		}
		s := Stats{MinOffset: a.content[0].Offset, MaxOffset: a.content[0].End()}
		for _, f := range a.content {
			s.MinOffset = min(s.MinOffset, f.Offset)
			s.MaxOffset = max(s.MaxOffset, f.End())
			s.ConcatLength += f.Len()
		}
		s.ImpliedLength = s.MaxOffset - s.MinOffset
		a.stats = s
	})
	return a.stats
}

// IsContiguous reports whether every content fragment ends where the next
// one starts.
func (a *Assembly) IsContiguous() bool {
	a.contigOnce.Do(func() {
		a.contiguous = true
		for i := 1; i < len(a.content); i++ {
			if !fragment.IsSequential(a.content[i-1], a.content[i]) {
				a.contiguous = false
				return
			}
		}
	})
	return a.contiguous
}

// StripAffixes derives an assembly with the same content and empty affixes.
func (a *Assembly) StripAffixes() *Assembly {
	return Derive(a, a.content, fragment.Empty(0), fragment.Empty(a.suffix.Offset))
}

func (a *Assembly) String() string {
	return fmt.Sprintf("Assembly{prefix: %q, content: %v, suffix: %q}", a.prefix.Content, a.content, a.suffix.Content)
}
