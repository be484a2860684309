// Package context builds a token-budgeted context out of ranked entries.
package context

import (
	"context"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/compound"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/metrics"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tracing"
)

// Assembler inserts entries into a compound assembly one after another.
type Assembler struct {
	svc     *tokenizer.Service
	config  AssemblerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// AssemblerConfig holds assembler configuration.
type AssemblerConfig struct {
	// DefaultBudget is used when a request does not name a token budget.
	DefaultBudget int

	// Shunting decides where a refused inside insertion goes.
	Shunting compound.ShuntingMode

	// PreTrimCharsPerToken bounds entry text by length before it is
	// tokenized. Zero disables pre-trimming.
	PreTrimCharsPerToken float64

	// StripComments drops "##" comment lines from every entry.
	StripComments bool

	// PrefetchConcurrency bounds how many entries are trimmed at once ahead
	// of insertion. The codec runner still limits the codec calls.
	PrefetchConcurrency int

	// MendCacheSize sizes the mend cache created for each build.
	MendCacheSize int
}

// DefaultAssemblerConfig returns the default configuration.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		DefaultBudget:        4000,
		Shunting:             compound.ShuntNearest,
		PreTrimCharsPerToken: 8,
		StripComments:        true,
		PrefetchConcurrency:  8,
		MendCacheSize:        tokenizer.DefaultMendCacheSize,
	}
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records builds and insertions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// NewAssembler creates a new context assembler.
func NewAssembler(svc *tokenizer.Service, config AssemblerConfig, opts ...Option) *Assembler {
	a := &Assembler{
		svc:    svc,
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Service returns the token service the assembler encodes with.
func (a *Assembler) Service() *tokenizer.Service { return a.svc }

// Config returns the assembler configuration.
func (a *Assembler) Config() AssemblerConfig { return a.config }

// AssembleRequest lists entries in insertion order, highest priority
// first. Groups are placed before any entry.
type AssembleRequest struct {
	// TokenBudget is the size of the context. Zero uses the default.
	TokenBudget int         `json:"tokenBudget,omitempty" yaml:"tokenBudget,omitempty"`
	Entries     []EntrySpec `json:"entries" yaml:"entries"`
	Groups      []GroupSpec `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// AssembledContext is the result of context assembly.
type AssembledContext struct {
	// ID identifies the build. IDs sort by creation time.
	ID string `json:"id"`

	// Content is the assembled context string.
	Content string `json:"content"`

	// Tokens encode Content.
	Tokens []int `json:"tokens"`

	TokenCount  int `json:"tokenCount"`
	TokenBudget int `json:"tokenBudget"`

	// Report holds one record per entry and group, in request order with
	// groups first.
	Report []EntryReport `json:"report"`

	// Output is Content split by the entry that produced each part.
	Output []compound.StructuredEntry `json:"output"`

	// AssemblyTime is how long assembly took.
	AssemblyTime time.Duration `json:"assemblyTime"`
}

// EntryReport is what happened to one entry.
type EntryReport struct {
	Identifier string                    `json:"identifier"`
	Type       string                    `json:"type"`
	Result     *compound.InsertionResult `json:"result,omitempty"`
	// Error is set when the entry could not be processed. The build
	// continues without it.
	Error string `json:"error,omitempty"`
}

// Included reports whether the entry made it into the context.
func (r EntryReport) Included() bool {
	return r.Result != nil && !r.Result.IsRejected()
}

// Assemble builds a context from req.
func (a *Assembler) Assemble(ctx context.Context, req *AssembleRequest) (*AssembledContext, error) {
	start := time.Now()
	id := ulid.Make().String()

	ctx, span := tracing.StartSpan(ctx, "context.Assemble")
	defer span.End()

	out, err := a.assemble(ctx, id, req)
	elapsed := time.Since(start)
	if err != nil {
		tracing.RecordError(ctx, err)
		if a.metrics != nil {
			a.metrics.RecordContextAssembly(false, elapsed.Seconds(), 0)
		}
		return nil, err
	}
	out.AssemblyTime = elapsed

	tracing.SetSpanAttributes(ctx,
		tracing.AttrContextTokens.Int(out.TokenCount),
		tracing.AttrContextBudget.Int(out.TokenBudget),
	)
	if a.metrics != nil {
		a.metrics.RecordContextAssembly(true, elapsed.Seconds(), out.TokenCount)
	}
	a.logger.Info("context assembled",
		zap.String("id", id),
		zap.Int("entries", len(req.Entries)),
		zap.Int("tokens", out.TokenCount),
		zap.Int("budget", out.TokenBudget),
		zap.Duration("duration", elapsed),
	)
	return out, nil
}

func (a *Assembler) assemble(ctx context.Context, id string, req *AssembleRequest) (*AssembledContext, error) {
	budget := req.TokenBudget
	if budget <= 0 {
		budget = a.config.DefaultBudget
	}
	tracing.SetSpanAttributes(ctx,
		tracing.AttrBuildID.String(id),
		tracing.AttrEntryCount.Int(len(req.Entries)),
		tracing.AttrGroupCount.Int(len(req.Groups)),
	)

	svc := a.svc.Scoped(tokenizer.NewMendCache(a.config.MendCacheSize))
	entries, err := a.prepare(svc, req.Entries, budget)
	if err != nil {
		return nil, err
	}

	copts := []compound.Option{
		compound.WithShunting(a.config.Shunting),
		compound.WithLogger(a.logger),
		compound.WithMetrics(a.metrics),
	}
	root := compound.New(svc, budget, copts...)

	report := make([]EntryReport, 0, len(req.Groups)+len(entries))
	groups := make(map[string]*compound.ContextGroup, len(req.Groups))
	for _, spec := range req.Groups {
		g, rep, err := a.placeGroup(ctx, svc, root, spec, budget, copts)
		if err != nil {
			return nil, err
		}
		report = append(report, rep)
		if g == nil {
			continue
		}
		if _, dup := groups[g.Category()]; dup {
			return nil, &ErrInvalidEntry{Identifier: g.Identifier(), Field: "category", Message: "duplicate group category"}
		}
		groups[g.Category()] = g
	}

	failed := a.prefetch(ctx, entries)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reserved := make([]int, len(entries))
	pending := 0
	for i, e := range entries {
		if failed[i] != nil || e.Reserved() == 0 {
			continue
		}
		t, err := e.Trimmed(ctx)
		if err != nil || t == nil {
			continue
		}
		reserved[i] = min(e.Reserved(), t.TokenCount())
		pending += reserved[i]
	}

	for i, e := range entries {
		pending -= reserved[i]
		rep := EntryReport{Identifier: e.Identifier(), Type: e.Type()}
		if failed[i] != nil {
			rep.Error = failed[i].Error()
			report = append(report, rep)
			continue
		}

		target := root
		if g, ok := groups[e.Config().Category]; ok {
			target = g.Compound
		}
		res, err := target.Insert(ctx, e, max(target.Available()-pending, 0))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			a.logger.Warn("entry failed",
				zap.String("id", id),
				zap.String("identifier", e.Identifier()),
				zap.Error(err),
			)
			rep.Error = err.Error()
			report = append(report, rep)
			continue
		}
		rep.Result = res
		report = append(report, rep)
		tracing.AddInsertionEvent(ctx, e.Identifier(), string(res.Type), string(res.Reason), res.TokensUsed)
	}

	final, err := root.ToAssembly()
	if err != nil {
		return nil, err
	}
	return &AssembledContext{
		ID:          id,
		Content:     final.Text(),
		Tokens:      final.Tokens(),
		TokenCount:  final.TokenCount(),
		TokenBudget: budget,
		Report:      report,
		Output:      slices.Collect(root.StructuredOutput()),
	}, nil
}

// prepare builds the entries of a request and resolves their activations.
func (a *Assembler) prepare(svc *tokenizer.Service, specs []EntrySpec, budget int) ([]*Entry, error) {
	opts := EntryOptions{
		StripComments:        a.config.StripComments,
		PreTrimCharsPerToken: a.config.PreTrimCharsPerToken,
	}
	entries := make([]*Entry, len(specs))
	byID := make(map[string]*Entry, len(specs))
	for i, spec := range specs {
		e, err := NewEntry(svc, spec, budget, opts)
		if err != nil {
			return nil, err
		}
		if _, dup := byID[e.Identifier()]; dup {
			return nil, &ErrInvalidEntry{Identifier: e.Identifier(), Field: "identifier", Message: "duplicate identifier"}
		}
		entries[i], byID[e.Identifier()] = e, e
	}
	for i, e := range entries {
		if err := e.ResolveActivations(specs[i], byID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// prefetch trims every entry to its own budget concurrently so insertion
// mostly hits memoized results. It returns the error of each entry.
func (a *Assembler) prefetch(ctx context.Context, entries []*Entry) []error {
	errs := make([]error, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	if a.config.PrefetchConcurrency > 0 {
		g.SetLimit(a.config.PrefetchConcurrency)
	}
	for i, e := range entries {
		g.Go(func() error {
			if _, err := e.Trimmed(gctx); err != nil {
				errs[i] = err
				a.logger.Warn("entry could not be trimmed",
					zap.String("identifier", e.Identifier()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// placeGroup inserts an empty group. It is sized later as entries of its
// category arrive.
func (a *Assembler) placeGroup(ctx context.Context, svc *tokenizer.Service, root *compound.Compound, spec GroupSpec, budget int, opts []compound.Option) (*compound.ContextGroup, EntryReport, error) {
	cfg := compound.DefaultContextConfig()
	if spec.Config != nil {
		cfg = *spec.Config
	}
	if err := cfg.Normalize(); err != nil {
		return nil, EntryReport{}, &ErrInvalidEntry{Identifier: spec.Identifier, Field: "config", Message: err.Error()}
	}
	if spec.Category == "" {
		return nil, EntryReport{}, &ErrInvalidEntry{Identifier: spec.Identifier, Field: "category", Message: "group needs a category"}
	}
	cfg.Category = spec.Category

	g := compound.NewContextGroup(svc, spec.Identifier, spec.Category, cfg, cfg.Budget(budget), opts...)
	rep := EntryReport{Identifier: g.Identifier(), Type: g.Type()}
	res, err := root.Insert(ctx, g, root.Available())
	if err != nil {
		return nil, rep, err
	}
	rep.Result = res
	if res.IsRejected() {
		return nil, rep, nil
	}
	return g, rep, nil
}
