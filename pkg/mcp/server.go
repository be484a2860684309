// Package mcp exposes context assembly over the Model Context Protocol.
// Clients get tools to assemble a context, trim a text and count tokens,
// along with resources describing the assembler and its token cache.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	acontext "github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/context"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/storage"
)

// Server wraps the MCP server with the context assembler.
type Server struct {
	server    *mcp.Server
	assembler *acontext.Assembler
	cache     storage.TokenCache
	logger    *zap.Logger
}

// Options configures the MCP server.
type Options struct {
	// Assembler is required.
	Assembler *acontext.Assembler
	// Cache is the token cache behind the assembler's codec, if any. The
	// server closes it on Close.
	Cache   storage.TokenCache
	Logger  *zap.Logger
	Version string
}

// NewServer creates a new MCP server.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		server:    mcp.NewServer(&mcp.Implementation{Name: "ctxasm", Version: version}, nil),
		assembler: opts.Assembler,
		cache:     opts.Cache,
		logger:    logger,
	}

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s, nil
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close releases the token cache.
func (s *Server) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// MCPServer returns the underlying MCP server for testing.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
