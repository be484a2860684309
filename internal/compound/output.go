package compound

import (
	"iter"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
)

// StructuredEntry is a span of the final text and the candidate that
// produced it.
type StructuredEntry struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	Text       string `json:"text"`
}

// StructuredOutput yields the text of the compound split by the candidate
// that produced it, in text order. Adjacent spans of the same candidate are
// merged and the concatenated texts equal Text.
func (c *Compound) StructuredOutput() iter.Seq[StructuredEntry] {
	return func(yield func(StructuredEntry) bool) {
		var pending StructuredEntry
		has := false
		emit := func(e StructuredEntry) bool {
			if e.Text == "" {
				return true
			}
			if has && pending.Identifier == e.Identifier && pending.Type == e.Type {
				pending.Text += e.Text
				return true
			}
			if has && !yield(pending) {
				return false
			}
			pending, has = e, true
			return true
		}
		if c.entries(emit) && has {
			yield(pending)
		}
	}
}

func (c *Compound) entries(emit func(StructuredEntry) bool) bool {
	for _, e := range c.elements {
		switch e := e.(type) {
		case *ContextGroup:
			if !e.entries(emit) {
				return false
			}
		case *assembly.Tokenized:
			entry := StructuredEntry{Text: e.Text()}
			if cand, ok := c.sources[e.Source()]; ok {
				entry.Identifier, entry.Type = cand.Identifier(), cand.Type()
			}
			if !emit(entry) {
				return false
			}
		}
	}
	return true
}

// entries emits the group's affixes and the shown part of its children.
func (g *ContextGroup) entries(emit func(StructuredEntry) bool) bool {
	if g.view.empty {
		return true
	}
	if !emit(StructuredEntry{Identifier: g.identifier, Type: GroupType, Text: g.config.Prefix}) {
		return false
	}
	pos := 0
	ok := g.Compound.entries(func(e StructuredEntry) bool {
		start, end := pos, pos+len(e.Text)
		pos = end
		lo, hi := max(start, g.view.start), min(end, g.view.end)
		if lo >= hi {
			return true
		}
		e.Text = e.Text[lo-start : hi-start]
		return emit(e)
	})
	if !ok {
		return false
	}
	return emit(StructuredEntry{Identifier: g.identifier, Type: GroupType, Text: g.config.Suffix})
}
