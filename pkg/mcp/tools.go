package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/compound"
	acontext "github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/context"
)

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "assemble_context",
		Description: "Assemble a token-budgeted context from entries listed highest priority first. Entries are trimmed to fit and placed by their insertion position relative to what was already inserted.",
	}, s.handleAssembleContext)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "trim_text",
		Description: "Trim a single text to a token budget using the same rules entries follow during assembly.",
	}, s.handleTrimText)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "count_tokens",
		Description: "Count the tokens a text encodes to with the configured vocabulary.",
	}, s.handleCountTokens)
}

// MatchInput locates activation evidence.
type MatchInput struct {
	Source string `json:"source,omitempty" jsonschema:"Identifier of the entry whose text matched; empty means this entry"`
	Start  int    `json:"start" jsonschema:"Byte offset where the match starts"`
	End    int    `json:"end" jsonschema:"Byte offset where the match ends"`
}

// EntryInput is one candidate for assemble_context.
type EntryInput struct {
	Identifier  string                  `json:"identifier,omitempty" jsonschema:"Unique identifier; generated when empty"`
	Type        string                  `json:"type,omitempty" jsonschema:"Label for reports, such as story or lore"`
	Text        string                  `json:"text" jsonschema:"The entry text"`
	Config      map[string]any          `json:"config,omitempty" jsonschema:"Placement configuration; omitted keys keep their defaults"`
	Activations map[string][]MatchInput `json:"activations,omitempty" jsonschema:"Matches by kind: forced, ephemeral, keyed or cascade"`
}

// GroupInput declares a group collecting entries of one category.
type GroupInput struct {
	Identifier string         `json:"identifier,omitempty" jsonschema:"Unique identifier; generated when empty"`
	Category   string         `json:"category" jsonschema:"Entries with this category are inserted into the group"`
	Config     map[string]any `json:"config,omitempty" jsonschema:"Placement configuration of the group"`
}

// AssembleContextInput defines the input schema for the assemble_context tool.
type AssembleContextInput struct {
	TokenBudget int          `json:"token_budget,omitempty" jsonschema:"Size of the context in tokens (default: server setting)"`
	Entries     []EntryInput `json:"entries" jsonschema:"Entries in insertion order, highest priority first"`
	Groups      []GroupInput `json:"groups,omitempty" jsonschema:"Category groups, placed before any entry"`
}

// EntryOutcome reports an entry that did not make it into the context.
type EntryOutcome struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AssembleContextOutput defines the output for the assemble_context tool.
type AssembleContextOutput struct {
	ID          string         `json:"id"`
	Context     string         `json:"context"`
	TokenCount  int            `json:"token_count"`
	TokenBudget int            `json:"token_budget"`
	Included    []string       `json:"included"`
	Excluded    []EntryOutcome `json:"excluded,omitempty"`
}

func (s *Server) handleAssembleContext(ctx context.Context, req *mcp.CallToolRequest, input AssembleContextInput) (*mcp.CallToolResult, AssembleContextOutput, error) {
	if len(input.Entries) == 0 {
		return nil, AssembleContextOutput{}, fmt.Errorf("at least one entry is required")
	}

	areq, err := toAssembleRequest(input)
	if err != nil {
		return nil, AssembleContextOutput{}, err
	}

	out, err := s.assembler.Assemble(ctx, areq)
	if err != nil {
		return nil, AssembleContextOutput{}, fmt.Errorf("failed to assemble context: %w", err)
	}

	output := AssembleContextOutput{
		ID:          out.ID,
		Context:     out.Content,
		TokenCount:  out.TokenCount,
		TokenBudget: out.TokenBudget,
		Included:    []string{},
	}
	for _, rep := range out.Report {
		switch {
		case rep.Included():
			output.Included = append(output.Included, rep.Identifier)
		case rep.Result != nil:
			output.Excluded = append(output.Excluded, EntryOutcome{Identifier: rep.Identifier, Reason: string(rep.Result.Reason)})
		default:
			output.Excluded = append(output.Excluded, EntryOutcome{Identifier: rep.Identifier, Error: rep.Error})
		}
	}

	s.logger.Debug("assemble_context",
		zap.String("id", out.ID),
		zap.Int("included", len(output.Included)),
		zap.Int("excluded", len(output.Excluded)),
	)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: out.Content},
		},
	}, output, nil
}

// TrimTextInput defines the input schema for the trim_text tool.
type TrimTextInput struct {
	Text        string         `json:"text" jsonschema:"The text to trim"`
	TokenBudget int            `json:"token_budget,omitempty" jsonschema:"Token budget (default: server setting)"`
	Config      map[string]any `json:"config,omitempty" jsonschema:"Trim configuration such as trimDirection and maximumTrimType"`
}

// TrimTextOutput defines the output for the trim_text tool.
type TrimTextOutput struct {
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	Fits       bool   `json:"fits"`
}

func (s *Server) handleTrimText(ctx context.Context, req *mcp.CallToolRequest, input TrimTextInput) (*mcp.CallToolResult, TrimTextOutput, error) {
	cfg, err := decodeConfig(input.Config)
	if err != nil {
		return nil, TrimTextOutput{}, err
	}

	out, err := s.assembler.Trim(ctx, &acontext.TrimRequest{
		Text:        input.Text,
		TokenBudget: input.TokenBudget,
		Config:      cfg,
	})
	if err != nil {
		return nil, TrimTextOutput{}, fmt.Errorf("failed to trim text: %w", err)
	}

	text := out.Text
	if !out.Fits {
		text = "(nothing fits in the budget)"
	}
	return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, TrimTextOutput{
			Text:       out.Text,
			TokenCount: out.TokenCount,
			Fits:       out.Fits,
		}, nil
}

// CountTokensInput defines the input schema for the count_tokens tool.
type CountTokensInput struct {
	Text          string `json:"text" jsonschema:"The text to count"`
	IncludeTokens bool   `json:"include_tokens,omitempty" jsonschema:"Also return the token ids"`
}

// CountTokensOutput defines the output for the count_tokens tool.
type CountTokensOutput struct {
	Encoding string `json:"encoding"`
	Count    int    `json:"count"`
	Tokens   []int  `json:"tokens,omitempty"`
}

func (s *Server) handleCountTokens(ctx context.Context, req *mcp.CallToolRequest, input CountTokensInput) (*mcp.CallToolResult, CountTokensOutput, error) {
	tokens, err := s.assembler.CountTokens(ctx, input.Text)
	if err != nil {
		return nil, CountTokensOutput{}, fmt.Errorf("failed to count tokens: %w", err)
	}

	output := CountTokensOutput{
		Encoding: s.assembler.Service().Name(),
		Count:    len(tokens),
	}
	if input.IncludeTokens {
		output.Tokens = tokens
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d tokens (%s)", output.Count, output.Encoding)},
		},
	}, output, nil
}

func toAssembleRequest(input AssembleContextInput) (*acontext.AssembleRequest, error) {
	req := &acontext.AssembleRequest{TokenBudget: input.TokenBudget}

	for _, g := range input.Groups {
		cfg, err := decodeConfig(g.Config)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Category, err)
		}
		req.Groups = append(req.Groups, acontext.GroupSpec{
			Identifier: g.Identifier,
			Category:   g.Category,
			Config:     cfg,
		})
	}

	for _, e := range input.Entries {
		cfg, err := decodeConfig(e.Config)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.Identifier, err)
		}
		spec := acontext.EntrySpec{
			Identifier: e.Identifier,
			Type:       e.Type,
			Text:       e.Text,
			Config:     cfg,
		}
		if len(e.Activations) > 0 {
			spec.Activations = make(map[compound.ActivationKind][]acontext.Match, len(e.Activations))
			for kind, matches := range e.Activations {
				k := compound.ActivationKind(strings.ToLower(kind))
				for _, m := range matches {
					spec.Activations[k] = append(spec.Activations[k], acontext.Match{
						Source: m.Source,
						Start:  m.Start,
						End:    m.End,
					})
				}
			}
		}
		req.Entries = append(req.Entries, spec)
	}

	return req, nil
}

// decodeConfig reads a loosely typed configuration object over the defaults.
// Nil means the defaults.
func decodeConfig(raw map[string]any) (*compound.ContextConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var cfg compound.ContextConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
