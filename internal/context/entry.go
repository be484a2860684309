package context

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/compound"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/trimming"
)

// Match locates activation evidence in the text of an entry.
type Match struct {
	// Source is the identifier of the entry whose text matched. Empty means
	// the entry holding the match.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	// Start and End are byte offsets into the source entry's text.
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// EntrySpec is a candidate as supplied by a caller.
type EntrySpec struct {
	// Identifier must be unique within a request. A random one is assigned
	// when empty.
	Identifier string `json:"identifier,omitempty" yaml:"identifier,omitempty"`

	// Type labels the entry in reports, for example "story" or "lore".
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	Text string `json:"text" yaml:"text"`

	// Config is the placement configuration. Nil means the defaults.
	Config *compound.ContextConfig `json:"config,omitempty" yaml:"config,omitempty"`

	Activations map[compound.ActivationKind][]Match `json:"activations,omitempty" yaml:"activations,omitempty"`
}

// GroupSpec declares a context group that collects entries of a category.
type GroupSpec struct {
	Identifier string                  `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Category   string                  `json:"category" yaml:"category"`
	Config     *compound.ContextConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// EntryOptions controls how entries are prepared for trimming.
type EntryOptions struct {
	// StripComments drops lines starting with "##" before trimming.
	StripComments bool

	// PreTrimCharsPerToken pre-shapes entries longer than their budget times
	// this many bytes by length alone. Zero disables it.
	PreTrimCharsPerToken float64
}

// Entry is a compound.Candidate built from an EntrySpec.
type Entry struct {
	identifier  string
	typ         string
	config      compound.ContextConfig
	source      *assembly.Assembly
	activations compound.Activations
	trimmer     *trimming.Trimmer
	total       int
}

var _ compound.Candidate = (*Entry)(nil)

// NewEntry prepares spec for insertion into a context with total tokens.
// Activations are left empty; see ResolveActivations.
func NewEntry(svc *tokenizer.Service, spec EntrySpec, total int, opts EntryOptions) (*Entry, error) {
	cfg := compound.DefaultContextConfig()
	if spec.Config != nil {
		cfg = *spec.Config
	}
	id := spec.Identifier
	if id == "" {
		id = uuid.NewString()
	}
	if err := cfg.Normalize(); err != nil {
		return nil, &ErrInvalidEntry{Identifier: id, Field: "config", Message: err.Error()}
	}
	if !utf8.ValidString(spec.Text) {
		return nil, &ErrInvalidEntry{Identifier: id, Field: "text", Message: "not valid UTF-8"}
	}

	e := &Entry{
		identifier: id,
		typ:        spec.Type,
		config:     cfg,
		source:     assembly.FromText(cfg.Prefix, spec.Text, cfg.Suffix),
		total:      total,
	}

	provider := trimming.ProviderFor(cfg.TrimDirection)
	if opts.StripComments {
		provider = trimming.WithoutComments(provider)
	}
	trimOpts := trimming.Options{
		Provider:        provider,
		MaximumTrimType: cfg.MaximumTrimType,
		PreserveMode:    cfg.PreserveMode,
	}

	origin := e.source
	if opts.PreTrimCharsPerToken > 0 && cfg.TrimDirection != trimming.DoNotTrim {
		limit := int(float64(e.Budget()) * opts.PreTrimCharsPerToken)
		if len(origin.Text()) > limit {
			if cut := trimming.TrimByLength(origin, limit, trimOpts); cut != nil {
				origin = cut
			}
		}
	}
	e.trimmer = trimming.New(svc, origin, trimOpts)
	return e, nil
}

// Identifier returns the entry identifier.
func (e *Entry) Identifier() string { return e.identifier }

// Type returns the entry type.
func (e *Entry) Type() string { return e.typ }

// Config returns the normalized placement configuration.
func (e *Entry) Config() *compound.ContextConfig { return &e.config }

// Activations returns the resolved activations.
func (e *Entry) Activations() compound.Activations { return e.activations }

// Source returns the untrimmed assembly of the entry.
func (e *Entry) Source() *assembly.Assembly { return e.source }

// Budget is the entry's own token limit within the context.
func (e *Entry) Budget() int { return e.config.Budget(e.total) }

// Reserved is the entry's token reservation within the context.
func (e *Entry) Reserved() int { return e.config.Reserved(e.total) }

// Trimmed returns the entry fitted to its own budget.
func (e *Entry) Trimmed(ctx context.Context) (*assembly.Tokenized, error) {
	return e.Rebudget(ctx, e.Budget())
}

// Rebudget returns the entry fitted to budget, never more than its own
// budget. The trimmer remembers every budget it was asked for.
func (e *Entry) Rebudget(ctx context.Context, budget int) (*assembly.Tokenized, error) {
	if !e.trimmer.HasContent() {
		return assembly.NewTokenized(e.source.WithContent(nil).StripAffixes(), nil), nil
	}
	r, err := e.trimmer.Exec(ctx, min(budget, e.Budget()))
	if err != nil {
		return nil, fmt.Errorf("failed to trim entry %s: %w", e.identifier, err)
	}
	if r == nil {
		return nil, nil
	}
	return r.Assembly, nil
}

// ResolveActivations turns the spec's matches into cursors. Matches name
// their source entry by identifier through sources.
func (e *Entry) ResolveActivations(spec EntrySpec, sources map[string]*Entry) error {
	if len(spec.Activations) == 0 {
		return nil
	}
	acts := make(compound.Activations, len(spec.Activations))
	for kind, matches := range spec.Activations {
		switch kind {
		case compound.ActivationForced, compound.ActivationEphemeral, compound.ActivationKeyed, compound.ActivationCascade:
		default:
			return &ErrInvalidEntry{Identifier: e.identifier, Field: "activations", Message: fmt.Sprintf("unknown activation kind %q", kind)}
		}
		for _, m := range matches {
			src := e
			if m.Source != "" && m.Source != e.identifier {
				var ok bool
				if src, ok = sources[m.Source]; !ok {
					return &ErrInvalidEntry{Identifier: e.identifier, Field: "activations", Message: fmt.Sprintf("unknown match source %q", m.Source)}
				}
			}
			text := src.source.ContentText()
			if m.Start < 0 || m.Start > m.End || m.End > len(text) ||
				!onRuneBoundary(text, m.Start) || !onRuneBoundary(text, m.End) {
				return &ErrInvalidEntry{Identifier: e.identifier, Field: "activations", Message: fmt.Sprintf("match [%d, %d) outside of %s", m.Start, m.End, src.identifier)}
			}
			base := src.source.Prefix().Len()
			acts[kind] = append(acts[kind], compound.Match{Selection: [2]assembly.Cursor{
				assembly.FragmentCursor(src.source, base+m.Start),
				assembly.FragmentCursor(src.source, base+m.End),
			}})
		}
	}
	e.activations = acts
	return nil
}

func onRuneBoundary(s string, i int) bool {
	return i == len(s) || utf8.RuneStart(s[i])
}
