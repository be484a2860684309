// Command mcp-server provides a Model Context Protocol (MCP) server for
// ctxasm. It can be used with Claude, Cursor, and other MCP-compatible
// clients.
//
// Usage:
//
//	mcp-server [flags]
//
// Flags:
//
//	-config string
//	      Config file (default: search ./ctxasm.yaml and friends)
//	-encoding string
//	      Token vocabulary, overriding the config
//	-cache-dir string
//	      Token cache directory, overriding the config
//	-help
//	      Show help
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/config"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/engine"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/pkg/mcp"
)

// Version is set via ldflags.
var Version = "dev"

var (
	configPath = flag.String("config", "", "Config file")
	encoding   = flag.String("encoding", "", "Token vocabulary, overriding the config")
	cacheDir   = flag.String("cache-dir", "", "Token cache directory, overriding the config")
	help       = flag.Bool("help", false, "Show help")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *encoding != "" {
		cfg.Codec.Encoding = *encoding
	}
	if *cacheDir != "" {
		cfg.Codec.CacheDir = *cacheDir
	}

	// Stdout carries the protocol.
	cfg.Log.Output = "stderr"
	logger, err := engine.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	eng, err := engine.Build(cfg, engine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to build assembler: %w", err)
	}

	server, err := mcp.NewServer(&mcp.Options{
		Assembler: eng.Assembler,
		Cache:     eng.Cache,
		Logger:    logger,
		Version:   Version,
	})
	if err != nil {
		_ = eng.Close()
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("failed to close token cache", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("serving MCP over stdio", zap.String("encoding", cfg.Codec.Encoding))
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ctxasm MCP Server

A Model Context Protocol server that assembles token-budgeted contexts.

Usage:
  mcp-server [flags]

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment Variables:
  CTXASM_CODEC_ENCODING    Token vocabulary (cl100k_base, o200k_base, mock, ...)
  CTXASM_CODEC_CACHE_DIR   Persistent token cache directory
  CTXASM_ASSEMBLY_DEFAULT_TOKEN_BUDGET
                           Budget used when a request names none

Example:
  # Start with default settings
  mcp-server

  # For use with Claude Desktop, add to config:
  {
    "mcpServers": {
      "ctxasm": {
        "command": "/path/to/mcp-server",
        "args": ["-cache-dir", "/path/to/cache"]
      }
    }
  }
`)
}
