// Package trimming cuts assemblies down to a token or character budget at
// decreasing granularity: whole lines first, then sentences, then words.
package trimming

import (
	"fmt"
	"strings"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/fragment"
)

// TrimDirection selects which end of the text is given up first.
type TrimDirection string

const (
	// TrimBottom keeps the top of the text.
	TrimBottom TrimDirection = "trimBottom"
	// TrimTop keeps the bottom of the text.
	TrimTop TrimDirection = "trimTop"
	// DoNotTrim keeps all of the text or none of it.
	DoNotTrim TrimDirection = "doNotTrim"
)

// TrimType is a splitting granularity.
type TrimType string

const (
	TrimNewline  TrimType = "newline"
	TrimSentence TrimType = "sentence"
	TrimToken    TrimType = "token"
)

// Level returns the position of t on the granularity ladder.
func (t TrimType) Level() int {
	switch t {
	case TrimNewline:
		return 0
	case TrimSentence:
		return 1
	default:
		return 2
	}
}

// ParseTrimType parses a trim type name.
func ParseTrimType(s string) (TrimType, error) {
	switch t := TrimType(s); t {
	case TrimNewline, TrimSentence, TrimToken:
		return t, nil
	case "":
		return TrimToken, nil
	}
	return "", fmt.Errorf("invalid trim type: %q (valid: newline, sentence, token)", s)
}

// ParseTrimDirection parses a trim direction name.
func ParseTrimDirection(s string) (TrimDirection, error) {
	switch d := TrimDirection(s); d {
	case TrimBottom, TrimTop, DoNotTrim:
		return d, nil
	case "":
		return TrimBottom, nil
	}
	return "", fmt.Errorf("invalid trim direction: %q (valid: trimBottom, trimTop, doNotTrim)", s)
}

// PreserveMode controls whether non-word fragments at the edges of the
// text survive trimming.
type PreserveMode string

const (
	PreserveBoth     PreserveMode = "both"
	PreserveLeading  PreserveMode = "leading"
	PreserveTrailing PreserveMode = "trailing"
	PreserveNone     PreserveMode = "none"
)

func (m PreserveMode) leading() bool  { return m == PreserveBoth || m == PreserveLeading }
func (m PreserveMode) trailing() bool { return m == PreserveBoth || m == PreserveTrailing }

// Splitter breaks a fragment into finer fragments.
type Splitter func(fragment.TextFragment) []fragment.TextFragment

// TrimProvider supplies the pieces a trimmer works with. Variants are made
// by copying a provider and replacing fields.
type TrimProvider struct {
	Name string
	// Reversed walks the text bottom-up, keeping the end of it.
	Reversed bool
	// NoSplitting keeps the whole text or nothing.
	NoSplitting bool

	Preprocess func(*assembly.Assembly) *assembly.Assembly
	ByNewline  Splitter
	BySentence Splitter
	ByWord     Splitter
}

// splitter returns the splitter for a ladder level.
func (p TrimProvider) splitter(level int) Splitter {
	switch level {
	case 0:
		return p.ByNewline
	case 1:
		return p.BySentence
	default:
		return p.ByWord
	}
}

func (p TrimProvider) preprocess(a *assembly.Assembly) *assembly.Assembly {
	if p.Preprocess == nil {
		return a
	}
	return p.Preprocess(a)
}

var basicProvider = TrimProvider{
	ByNewline:  fragment.ByLine,
	BySentence: fragment.BySentence,
	ByWord:     fragment.ByWord,
}

// ProviderFor returns the provider for a trim direction.
func ProviderFor(dir TrimDirection) TrimProvider {
	p := basicProvider
	p.Name = string(dir)
	switch dir {
	case TrimTop:
		p.Reversed = true
	case DoNotTrim:
		p.NoSplitting = true
	default:
		p.Name = string(TrimBottom)
	}
	return p
}

// WithoutComments returns a copy of p that drops lines starting with "##"
// before trimming, along with the line break that ends them.
func WithoutComments(p TrimProvider) TrimProvider {
	inner := p.Preprocess
	p.Name += "+comments"
	p.Preprocess = func(a *assembly.Assembly) *assembly.Assembly {
		if inner != nil {
			a = inner(a)
		}
		return stripComments(a)
	}
	return p
}

func stripComments(a *assembly.Assembly) *assembly.Assembly {
	var kept []fragment.TextFragment
	dropped, skipBreak := false, false
	for _, f := range fragment.SplitAll(a.Content(), fragment.ByLine) {
		if fragment.IsNewline(f) && skipBreak {
			skipBreak = false
			continue
		}
		skipBreak = false
		if strings.HasPrefix(f.Content, "##") && atLineStart(a, f) {
			dropped, skipBreak = true, true
			continue
		}
		kept = append(kept, f)
	}
	if !dropped {
		return a
	}
	return a.WithContent(kept)
}

// atLineStart reports whether f begins a line of the source text.
func atLineStart(a *assembly.Assembly, f fragment.TextFragment) bool {
	src := a.Source()
	start := len(src.Prefix().Content)
	if f.Offset == start {
		return true
	}
	text := src.Text()
	return f.Offset > 0 && f.Offset <= len(text) && text[f.Offset-1] == '\n'
}
