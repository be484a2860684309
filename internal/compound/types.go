// Package compound builds the composite document: candidates are trimmed to
// fit, located relative to what was already placed and inserted, possibly
// inside earlier content, while the token count never exceeds the budget.
package compound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/trimming"
)

// ErrFinalized is returned when inserting into a compound after ToAssembly.
var ErrFinalized = errors.New("compound assembly already finalized")

// ErrGroupDrift means a group's tokens no longer decode to its text.
var ErrGroupDrift = errors.New("group tokens do not match group text")

// ContextConfig is the per-candidate placement configuration.
type ContextConfig struct {
	// BudgetPriority orders candidates for budgeting; higher goes first.
	BudgetPriority int `json:"budgetPriority" yaml:"budgetPriority"`

	// TokenBudget caps the candidate's size. Values up to 1 are a fraction
	// of the total budget, larger values are a token count.
	TokenBudget float64 `json:"tokenBudget" yaml:"tokenBudget"`

	// ReservedTokens is held back for the candidate before anything else is
	// placed. Same units as TokenBudget.
	ReservedTokens float64 `json:"reservedTokens" yaml:"reservedTokens"`

	// InsertionPosition counts InsertionType units. Non-negative values count
	// down from the top, negative ones up from the bottom (-1 is the end).
	InsertionPosition int `json:"insertionPosition" yaml:"insertionPosition"`

	// InsertionType is the unit InsertionPosition counts.
	InsertionType trimming.TrimType `json:"insertionType" yaml:"insertionType"`

	TrimDirection   trimming.TrimDirection `json:"trimDirection" yaml:"trimDirection"`
	MaximumTrimType trimming.TrimType      `json:"maximumTrimType" yaml:"maximumTrimType"`
	PreserveMode    trimming.PreserveMode  `json:"preserveMode,omitempty" yaml:"preserveMode,omitempty"`

	// AllowInsertionInside lets later candidates split this one.
	// Defaults to false.
	AllowInsertionInside *bool `json:"allowInsertionInside,omitempty" yaml:"allowInsertionInside,omitempty"`

	// AllowInnerInsertion lets this candidate split earlier ones.
	// Defaults to true.
	AllowInnerInsertion *bool `json:"allowInnerInsertion,omitempty" yaml:"allowInnerInsertion,omitempty"`

	// KeyRelative positions the candidate relative to its latest keyed match.
	KeyRelative bool `json:"keyRelative" yaml:"keyRelative"`

	// Category routes the candidate into the group of the same name.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix string `json:"suffix,omitempty" yaml:"suffix,omitempty"`
}

// DefaultContextConfig returns the configuration used for unconfigured
// candidates: bottom of the context, trimmed from the bottom by newline,
// may be cut down to tokens.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		TokenBudget:       1,
		InsertionPosition: -1,
		InsertionType:     trimming.TrimNewline,
		TrimDirection:     trimming.TrimBottom,
		MaximumTrimType:   trimming.TrimToken,
		PreserveMode:      trimming.PreserveBoth,
	}
}

// UnmarshalJSON decodes a configuration on top of DefaultContextConfig, so
// omitted fields keep their defaults.
func (c *ContextConfig) UnmarshalJSON(data []byte) error {
	type plain ContextConfig
	p := plain(DefaultContextConfig())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ContextConfig(p)
	return nil
}

// UnmarshalYAML is the YAML counterpart of UnmarshalJSON.
func (c *ContextConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain ContextConfig
	p := plain(DefaultContextConfig())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = ContextConfig(p)
	return nil
}

// Normalize fills empty enum fields with their defaults and rejects
// unknown values.
func (c *ContextConfig) Normalize() error {
	var err error
	if c.InsertionType == "" {
		c.InsertionType = trimming.TrimNewline
	}
	if c.InsertionType, err = trimming.ParseTrimType(string(c.InsertionType)); err != nil {
		return fmt.Errorf("insertionType: %w", err)
	}
	if c.MaximumTrimType, err = trimming.ParseTrimType(string(c.MaximumTrimType)); err != nil {
		return fmt.Errorf("maximumTrimType: %w", err)
	}
	if c.TrimDirection, err = trimming.ParseTrimDirection(string(c.TrimDirection)); err != nil {
		return fmt.Errorf("trimDirection: %w", err)
	}
	switch c.PreserveMode {
	case "":
		c.PreserveMode = trimming.PreserveBoth
	case trimming.PreserveBoth, trimming.PreserveLeading, trimming.PreserveTrailing, trimming.PreserveNone:
	default:
		return fmt.Errorf("preserveMode: invalid value %q", c.PreserveMode)
	}
	if c.TokenBudget < 0 || c.ReservedTokens < 0 {
		return errors.New("token amounts must not be negative")
	}
	return nil
}

// InsertionInsideAllowed reports whether later candidates may split this one.
func (c *ContextConfig) InsertionInsideAllowed() bool {
	return c.AllowInsertionInside != nil && *c.AllowInsertionInside
}

// InnerInsertionAllowed reports whether this candidate may split others.
func (c *ContextConfig) InnerInsertionAllowed() bool {
	return c.AllowInnerInsertion == nil || *c.AllowInnerInsertion
}

// Budget resolves TokenBudget against the total budget.
func (c *ContextConfig) Budget(total int) int {
	if c.TokenBudget <= 0 {
		return total
	}
	return ResolveTokens(c.TokenBudget, total)
}

// Reserved resolves ReservedTokens against the total budget.
func (c *ContextConfig) Reserved(total int) int {
	if c.ReservedTokens <= 0 {
		return 0
	}
	return ResolveTokens(c.ReservedTokens, total)
}

// ResolveTokens interprets v as a fraction of total when it is at most 1
// and as a token count otherwise.
func ResolveTokens(v float64, total int) int {
	if v <= 1 {
		return int(math.Floor(v * float64(total)))
	}
	return int(v)
}

// ActivationKind names why a candidate was activated.
type ActivationKind string

const (
	ActivationForced    ActivationKind = "forced"
	ActivationEphemeral ActivationKind = "ephemeral"
	ActivationKeyed     ActivationKind = "keyed"
	ActivationCascade   ActivationKind = "cascade"
)

// Match is one piece of activation evidence. Selection spans the matched
// text in the source it was found in.
type Match struct {
	Selection [2]assembly.Cursor
}

// Activations maps activation kinds to their matches.
type Activations map[ActivationKind][]Match

// Candidate is something that can be inserted into a compound.
type Candidate interface {
	Identifier() string
	Type() string
	Config() *ContextConfig
	Activations() Activations

	// Trimmed returns the candidate fitted to its own budget.
	Trimmed(ctx context.Context) (*assembly.Tokenized, error)

	// Rebudget returns the candidate fitted to budget. It returns nil when
	// nothing fits and an empty assembly when there is no text to keep.
	// Results are memoized per budget.
	Rebudget(ctx context.Context, budget int) (*assembly.Tokenized, error)
}

// Element is one entry of a compound.
type Element interface {
	Text() string
	Tokens() []int
	IsEmpty() bool
	ContentBounds() (int, int)
	// FullTextOffset locates a cursor within Text.
	FullTextOffset(c assembly.Cursor) (int, bool)
}

var (
	_ Element = (*assembly.Tokenized)(nil)
	_ Element = (*ContextGroup)(nil)
)

// InsertionType is the outcome of an insertion.
type InsertionType string

const (
	InsertionInitial  InsertionType = "initial"
	InsertionBefore   InsertionType = "insertBefore"
	InsertionAfter    InsertionType = "insertAfter"
	InsertionInside   InsertionType = "inside"
	InsertionRejected InsertionType = "rejected"
)

// RejectReason says why an insertion was rejected.
type RejectReason string

const (
	NoText       RejectReason = "NoText"
	NoSpace      RejectReason = "NoSpace"
	NoContextKey RejectReason = "NoContextKey"
)

// ShuntingMode picks the side of a target a refused inside insertion moves to.
type ShuntingMode string

const (
	// ShuntInDirection moves toward the side the candidate was counting to.
	ShuntInDirection ShuntingMode = "inDirection"
	// ShuntNearest moves toward the closer end of the target.
	ShuntNearest ShuntingMode = "nearest"
)

// ParseShuntingMode parses a shunting mode name.
func ParseShuntingMode(s string) (ShuntingMode, error) {
	switch m := ShuntingMode(s); m {
	case ShuntInDirection, ShuntNearest:
		return m, nil
	case "":
		return ShuntNearest, nil
	}
	return "", errors.New("invalid shunting mode: " + s)
}

// Location describes where an insertion landed.
type Location struct {
	// Index is the position of the inserted element after insertion.
	Index int `json:"index"`
	// Target is the index the insertion was located against, before the
	// insertion. -1 for initial insertions.
	Target int `json:"target"`
	// Offset is the full-text offset within the target.
	Offset int `json:"offset"`
	// KeyRelative is set when the search started from a keyed match.
	KeyRelative bool `json:"keyRelative"`
}

// InsertionResult reports the outcome of Insert.
type InsertionResult struct {
	Type       InsertionType `json:"type"`
	Reason     RejectReason  `json:"reason,omitempty"`
	TokensUsed int           `json:"tokensUsed"`
	// Shunted is how many bytes the insertion point moved to avoid a split.
	Shunted  int      `json:"shunted"`
	Location Location `json:"location"`
	Element  Element  `json:"-"`
}

func rejected(reason RejectReason) *InsertionResult {
	return &InsertionResult{Type: InsertionRejected, Reason: reason}
}

// IsRejected reports whether the candidate was not inserted.
func (r *InsertionResult) IsRejected() bool { return r.Type == InsertionRejected }
