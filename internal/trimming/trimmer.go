package trimming

import (
	"context"
	"slices"
	"sync"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/fragment"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
)

// Options configures a trimmer.
type Options struct {
	Provider        TrimProvider
	MaximumTrimType TrimType
	PreserveMode    PreserveMode
}

// DefaultOptions returns options for dir that may split down to words and
// keep non-word text at both edges.
func DefaultOptions(dir TrimDirection) Options {
	return Options{
		Provider:        ProviderFor(dir),
		MaximumTrimType: TrimToken,
		PreserveMode:    PreserveBoth,
	}
}

func (o Options) maxLevel() int {
	if o.Provider.NoSplitting {
		return 0
	}
	return o.MaximumTrimType.Level()
}

func (o Options) encoderKind() tokenizer.EncoderKind {
	if o.Provider.Reversed {
		return tokenizer.PrependEncoder
	}
	return tokenizer.AppendEncoder
}

// Trimmer produces progressively larger token-counted cuts of an assembly.
// Results are computed lazily and remembered, so probing many budgets
// against one trimmer only encodes each piece of text once.
type Trimmer struct {
	svc    *tokenizer.Service
	origin *assembly.Assembly
	opts   Options

	rootOnce sync.Once
	root     *Sequence

	mu    sync.Mutex
	execs map[int]*TrimResult
}

// New creates a trimmer for a. The provider's preprocessing runs immediately.
func New(svc *tokenizer.Service, a *assembly.Assembly, opts Options) *Trimmer {
	if opts.PreserveMode == "" {
		opts.PreserveMode = PreserveBoth
	}
	if opts.MaximumTrimType == "" {
		opts.MaximumTrimType = TrimToken
	}
	return &Trimmer{
		svc:    svc,
		origin: opts.Provider.preprocess(a),
		opts:   opts,
		execs:  make(map[int]*TrimResult),
	}
}

// Origin returns the preprocessed assembly being trimmed.
func (t *Trimmer) Origin() *assembly.Assembly { return t.origin }

// Root returns the coarsest sequence of results.
func (t *Trimmer) Root() *Sequence {
	t.rootOnce.Do(func() {
		t.root = &Sequence{trimmer: t, blocks: rootBlocks(t.origin, t.opts)}
	})
	return t.root
}

// HasContent reports whether the assembly has any wordy text to keep.
func (t *Trimmer) HasContent() bool {
	return t.Root().Len() > 0
}

// Exec returns the largest result fitting budget, or nil if nothing fits.
// Results are remembered per budget.
func (t *Trimmer) Exec(ctx context.Context, budget int) (*TrimResult, error) {
	t.mu.Lock()
	if r, ok := t.execs[budget]; ok {
		t.mu.Unlock()
		return r, nil
	}
	t.mu.Unlock()

	r, err := ExecTrimTokens(ctx, t, budget)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.execs[budget] = r
	t.mu.Unlock()
	return r, nil
}

// ExecTrimTokens walks the trimmer's results until one exceeds budget, then
// descends into that result's finer split. It returns the last result that
// fit, or nil if even the finest split of the first piece is too large.
func ExecTrimTokens(ctx context.Context, t *Trimmer, budget int) (*TrimResult, error) {
	seq := t.Root()
	var best *TrimResult
	for i := 0; ; {
		r, err := seq.At(ctx, i)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return best, nil
		}
		if r.TokenCount() <= budget {
			best = r
			i++
			continue
		}
		finer := r.Split()
		if finer == nil {
			return best, nil
		}
		seq, i = finer, 0
	}
}

// Sequence is a lazily computed, memoized list of results at one
// granularity. Each result keeps everything before it plus one more block.
type Sequence struct {
	trimmer *Trimmer
	level   int
	blocks  [][]fragment.TextFragment
	base    *TrimResult

	mu      sync.Mutex
	results []*TrimResult
	enc     *tokenizer.StreamEncoder
}

// Len returns the number of results the sequence can produce.
func (s *Sequence) Len() int { return len(s.blocks) }

// TrimType returns the granularity of the sequence.
func (s *Sequence) TrimType() TrimType {
	return [...]TrimType{TrimNewline, TrimSentence, TrimToken}[s.level]
}

// At returns the i-th result, computing any missing results before it.
// It returns nil once i passes the end of the sequence.
func (s *Sequence) At(ctx context.Context, i int) (*TrimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.results) <= i {
		k := len(s.results)
		if k >= len(s.blocks) {
			return nil, nil
		}
		if s.enc == nil {
			s.enc = s.trimmer.encoderFrom(s.base)
		}

		block := s.blocks[k]
		tokens, err := s.enc.Push(ctx, fragment.Concat(block))
		if err != nil {
			return nil, err
		}

		prev := s.base
		if k > 0 {
			prev = s.results[k-1]
		}
		var kept []fragment.TextFragment
		if prev != nil {
			kept = prev.kept
		}
		if s.trimmer.opts.Provider.Reversed {
			kept = slices.Concat(block, kept)
		} else {
			kept = slices.Concat(kept, block)
		}

		s.results = append(s.results, &TrimResult{
			Assembly: assembly.NewTokenized(s.trimmer.origin.WithContent(kept), tokens),
			kept:     kept,
			state:    s.enc.State(),
			seq:      s,
			index:    k,
			prev:     prev,
		})
	}
	return s.results[i], nil
}

func (t *Trimmer) encoderFrom(base *TrimResult) *tokenizer.StreamEncoder {
	prefix, suffix := t.origin.Prefix().Content, t.origin.Suffix().Content
	if base == nil {
		return t.svc.NewStreamEncoder(t.opts.encoderKind(), prefix, suffix)
	}
	return t.svc.ResumeStreamEncoder(prefix, suffix, base.Assembly.Tokens(), base.state)
}

// TrimResult is one candidate cut of the trimmed assembly.
type TrimResult struct {
	Assembly *assembly.Tokenized

	kept  []fragment.TextFragment
	state tokenizer.ResumeState
	seq   *Sequence
	index int
	// prev is the result this one extends, or the sequence base.
	prev *TrimResult

	splitOnce sync.Once
	split     *Sequence
}

// TokenCount returns the number of tokens in the result, affixes included.
func (r *TrimResult) TokenCount() int { return r.Assembly.TokenCount() }

// TrimType returns the granularity that produced the result.
func (r *TrimResult) TrimType() TrimType { return r.seq.TrimType() }

// Split returns a finer sequence over the block this result added, resuming
// from the result before it. It returns nil at the finest allowed level.
func (r *TrimResult) Split() *Sequence {
	r.splitOnce.Do(func() {
		t := r.seq.trimmer
		level := r.seq.level + 1
		if level > t.opts.maxLevel() {
			return
		}
		frags := fragment.SplitAll(r.seq.blocks[r.index], t.opts.Provider.splitter(level))
		blocks := makeBlocks(frags, t.opts.Provider.Reversed, true, true)
		if len(blocks) == 0 {
			return
		}
		r.split = &Sequence{trimmer: t, level: level, blocks: blocks, base: r.prev}
	})
	return r.split
}

// rootBlocks splits the origin at the coarsest level and applies the
// preserve mode to the text edges.
func rootBlocks(origin *assembly.Assembly, opts Options) [][]fragment.TextFragment {
	frags := fragment.SplitAll(origin.Content(), opts.Provider.splitter(0))
	mode := opts.PreserveMode
	keepHead, keepTail := mode.leading(), mode.trailing()
	if opts.Provider.Reversed {
		keepHead, keepTail = keepTail, keepHead
	}

	if !slices.ContainsFunc(frags, fragment.IsWordy) {
		return nil
	}
	blocks := makeBlocks(frags, opts.Provider.Reversed, keepHead, keepTail)
	if opts.Provider.NoSplitting && len(blocks) > 1 {
		return [][]fragment.TextFragment{slices.Concat(blocks...)}
	}
	return blocks
}

// makeBlocks groups frags, walked in trimming order, into runs of non-wordy
// fragments followed by wordy ones. Non-wordy fragments before the first
// wordy one are kept only with keepHead; a trailing run with no wordy
// fragment becomes a final block only with keepTail. Each block is returned
// in text order.
func makeBlocks(frags []fragment.TextFragment, reversed, keepHead, keepTail bool) [][]fragment.TextFragment {
	order := frags
	if reversed {
		order = slices.Clone(frags)
		slices.Reverse(order)
	}

	var blocks [][]fragment.TextFragment
	var cur []fragment.TextFragment
	seenWordy, started := false, false
	for _, f := range order {
		wordy := fragment.IsWordy(f)
		if !started && !wordy && !keepHead {
			continue
		}
		started = true
		if !wordy && seenWordy {
			blocks = append(blocks, cur)
			cur, seenWordy = nil, false
		}
		cur = append(cur, f)
		seenWordy = seenWordy || wordy
	}
	if len(cur) > 0 && (seenWordy || keepTail) {
		blocks = append(blocks, cur)
	}

	if reversed {
		for _, b := range blocks {
			slices.Reverse(b)
		}
	}
	return blocks
}
