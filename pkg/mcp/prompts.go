package mcp

import (
	"context"
	"fmt"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/compound"
	acontext "github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/context"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/trimming"
)

// Author's notes go this many newlines above the end of the story.
const notePosition = -4

// registerPrompts registers all prompts with the MCP server.
func (s *Server) registerPrompts() {
	s.server.AddPrompt(&mcp.Prompt{
		Name:        "compose_story_context",
		Description: "Compose a story context: memory on top, the story trimmed from its start, and an author's note a few lines above the end",
		Arguments: []*mcp.PromptArgument{
			{Name: "story", Description: "The story so far", Required: true},
			{Name: "memory", Description: "Text kept at the top of the context"},
			{Name: "note", Description: "Author's note placed near the end"},
			{Name: "max_tokens", Description: "Token budget (default: server setting)"},
		},
	}, s.handleComposePrompt)

	s.server.AddPrompt(&mcp.Prompt{
		Name:        "fit_to_budget",
		Description: "Trim a text to a token budget, keeping its end",
		Arguments: []*mcp.PromptArgument{
			{Name: "text", Description: "The text to fit", Required: true},
			{Name: "max_tokens", Description: "Token budget (default: server setting)"},
		},
	}, s.handleFitPrompt)
}

func (s *Server) handleComposePrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := req.Params.Arguments
	story := args["story"]
	if story == "" {
		return nil, fmt.Errorf("story is required")
	}
	budget, err := parseMaxTokens(args["max_tokens"])
	if err != nil {
		return nil, err
	}

	yes := true
	storyCfg := compound.DefaultContextConfig()
	storyCfg.TrimDirection = trimming.TrimTop
	storyCfg.AllowInsertionInside = &yes

	entries := []acontext.EntrySpec{{Identifier: "story", Type: "story", Text: story, Config: &storyCfg}}
	if memory := args["memory"]; memory != "" {
		cfg := compound.DefaultContextConfig()
		cfg.InsertionPosition = 0
		entries = append(entries, acontext.EntrySpec{Identifier: "memory", Type: "memory", Text: memory, Config: &cfg})
	}
	if note := args["note"]; note != "" {
		cfg := compound.DefaultContextConfig()
		cfg.InsertionPosition = notePosition
		cfg.InsertionType = trimming.TrimNewline
		entries = append(entries, acontext.EntrySpec{Identifier: "note", Type: "an", Text: note, Config: &cfg})
	}

	out, err := s.assembler.Assemble(ctx, &acontext.AssembleRequest{TokenBudget: budget, Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("failed to assemble context: %w", err)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Story context, %d of %d tokens", out.TokenCount, out.TokenBudget),
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: out.Content},
			},
		},
	}, nil
}

func (s *Server) handleFitPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	text := req.Params.Arguments["text"]
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	budget, err := parseMaxTokens(req.Params.Arguments["max_tokens"])
	if err != nil {
		return nil, err
	}

	cfg := compound.DefaultContextConfig()
	cfg.TrimDirection = trimming.TrimTop
	out, err := s.assembler.Trim(ctx, &acontext.TrimRequest{Text: text, TokenBudget: budget, Config: &cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to trim text: %w", err)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Text fitted to %d tokens", out.TokenCount),
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: out.Text},
			},
		},
	}, nil
}

func parseMaxTokens(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("max_tokens must be a positive integer: %q", v)
	}
	return n, nil
}
