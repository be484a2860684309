package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	configURI     = "ctxasm://config"
	cacheStatsURI = "ctxasm://cache/stats"
)

// registerResources registers all resources with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         configURI,
		Name:        "Assembler Configuration",
		Description: "Encoding and defaults the assembler applies to requests",
		MIMEType:    "application/json",
	}, s.handleConfigResource)

	if s.cache != nil {
		s.server.AddResource(&mcp.Resource{
			URI:         cacheStatsURI,
			Name:        "Token Cache Statistics",
			Description: "Record count and size of the persistent token cache",
			MIMEType:    "application/json",
		}, s.handleCacheStatsResource)
	}
}

// assemblerInfo is the body of the config resource.
type assemblerInfo struct {
	Encoding             string  `json:"encoding"`
	DefaultTokenBudget   int     `json:"default_token_budget"`
	Shunting             string  `json:"shunting"`
	PreTrimCharsPerToken float64 `json:"pre_trim_chars_per_token"`
	StripComments        bool    `json:"strip_comments"`
	MendBuffer           int     `json:"mend_buffer"`
}

func (s *Server) handleConfigResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	cfg := s.assembler.Config()
	svc := s.assembler.Service()

	return jsonResource(req.Params.URI, assemblerInfo{
		Encoding:             svc.Name(),
		DefaultTokenBudget:   cfg.DefaultBudget,
		Shunting:             string(cfg.Shunting),
		PreTrimCharsPerToken: cfg.PreTrimCharsPerToken,
		StripComments:        cfg.StripComments,
		MendBuffer:           svc.MendBuffer(),
	})
}

func (s *Server) handleCacheStatsResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache stats: %w", err)
	}
	return jsonResource(req.Params.URI, stats)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}
