package tokenizer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode/utf8"
)

// EncoderKind selects which end of the text a StreamEncoder grows.
type EncoderKind string

const (
	// AppendEncoder adds text after what was already encoded.
	AppendEncoder EncoderKind = "append"
	// PrependEncoder adds text before what was already encoded.
	PrependEncoder EncoderKind = "prepend"
)

// ErrEncoderDrift means the unverified tokens no longer decode to text
// ending (or starting) with the encoder's affix.
var ErrEncoderDrift = errors.New("stream encoder lost track of its affix")

// ResumeState is everything needed to continue a StreamEncoder later.
type ResumeState struct {
	Kind         EncoderKind `json:"type"`
	SafeCount    int         `json:"safeCount"`
	UnsafeTokens []int       `json:"unsafeTokens"`
}

// StreamEncoder incrementally encodes text that grows at one end.
//
// The tokens nearest the growing end are unverified (the wilderness): the
// next push may merge them with new text, so they are decoded and encoded
// again. Everything else is the safe house and is never touched again.
// The wilderness always covers the affix on the growing side.
type StreamEncoder struct {
	svc    *Service
	kind   EncoderKind
	prefix string
	suffix string

	safe      []int
	unsafe    []int
	wild      string
	wildKnown bool
}

// NewStreamEncoder starts an encoder for prefix + (pushed text) + suffix.
func (s *Service) NewStreamEncoder(kind EncoderKind, prefix, suffix string) *StreamEncoder {
	return &StreamEncoder{
		svc:       s,
		kind:      kind,
		prefix:    prefix,
		suffix:    suffix,
		wild:      prefix + suffix,
		wildKnown: true,
	}
}

// ResumeStreamEncoder restores an encoder from the tokens it produced and
// the state it reported alongside them.
func (s *Service) ResumeStreamEncoder(prefix, suffix string, tokens []int, state ResumeState) *StreamEncoder {
	e := &StreamEncoder{
		svc:    s,
		kind:   state.Kind,
		prefix: prefix,
		suffix: suffix,
		unsafe: slices.Clone(state.UnsafeTokens),
	}
	count := min(state.SafeCount, len(tokens))
	if e.kind == PrependEncoder {
		e.safe = slices.Clone(tokens[len(tokens)-count:])
	} else {
		e.safe = slices.Clone(tokens[:count])
	}
	if len(e.unsafe) == 0 {
		e.wild, e.wildKnown = e.bareWilderness(), true
	}
	return e
}

// Kind returns the encoder direction.
func (e *StreamEncoder) Kind() EncoderKind { return e.kind }

// Tokens returns a fresh copy of all tokens encoded so far.
func (e *StreamEncoder) Tokens() []int {
	if e.kind == PrependEncoder {
		return slices.Concat(e.unsafe, e.safe)
	}
	return slices.Concat(e.safe, e.unsafe)
}

// State reports the resume state matching the current Tokens.
func (e *StreamEncoder) State() ResumeState {
	return ResumeState{
		Kind:         e.kind,
		SafeCount:    len(e.safe),
		UnsafeTokens: slices.Clone(e.unsafe),
	}
}

// Push adds text at the growing end and returns the tokens of the whole text.
func (e *StreamEncoder) Push(ctx context.Context, text string) ([]int, error) {
	if !e.wildKnown {
		wild, err := e.svc.Decode(ctx, e.unsafe)
		if err != nil {
			return nil, err
		}
		e.wild, e.wildKnown = wild, true
	}

	if e.kind == PrependEncoder {
		return e.prepend(ctx, text)
	}
	return e.append(ctx, text)
}

func (e *StreamEncoder) append(ctx context.Context, text string) ([]int, error) {
	if !strings.HasSuffix(e.wild, e.suffix) {
		return nil, ErrEncoderDrift
	}
	next := e.wild[:len(e.wild)-len(e.suffix)] + text + e.suffix
	encoded, err := e.svc.Encode(ctx, next)
	if err != nil {
		return nil, err
	}

	n := min(e.svc.buffer, len(encoded))
	var tail string
	for {
		tail, err = e.svc.Decode(ctx, encoded[len(encoded)-n:])
		if err != nil {
			return nil, err
		}
		start := len(next) - len(tail)
		settled := start >= 0 && len(tail) >= len(e.suffix) &&
			(start == len(next) || utf8.RuneStart(next[start]))
		if settled || n == len(encoded) {
			break
		}
		n++
	}

	e.safe = slices.Concat(e.safe, encoded[:len(encoded)-n])
	e.unsafe = slices.Clone(encoded[len(encoded)-n:])
	e.wild = tail
	return e.Tokens(), nil
}

func (e *StreamEncoder) prepend(ctx context.Context, text string) ([]int, error) {
	if !strings.HasPrefix(e.wild, e.prefix) {
		return nil, ErrEncoderDrift
	}
	next := e.prefix + text + e.wild[len(e.prefix):]
	encoded, err := e.svc.Encode(ctx, next)
	if err != nil {
		return nil, err
	}

	n := min(e.svc.buffer, len(encoded))
	var head string
	for {
		head, err = e.svc.Decode(ctx, encoded[:n])
		if err != nil {
			return nil, err
		}
		end := len(head)
		settled := end <= len(next) && end >= len(e.prefix) &&
			(end == len(next) || utf8.RuneStart(next[end]))
		if settled || n == len(encoded) {
			break
		}
		n++
	}

	e.safe = slices.Concat(encoded[n:], e.safe)
	e.unsafe = slices.Clone(encoded[:n])
	e.wild = head
	return e.Tokens(), nil
}

// bareWilderness is the wilderness text when no unverified tokens exist.
func (e *StreamEncoder) bareWilderness() string {
	if e.kind == PrependEncoder {
		if len(e.safe) == 0 {
			return e.prefix + e.suffix
		}
		return e.prefix
	}
	if len(e.safe) == 0 {
		return e.prefix + e.suffix
	}
	return e.suffix
}
