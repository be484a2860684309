package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/config"
	acontext "github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/context"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/engine"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/pkg/ctxasm"
)

// backend runs requests either in-process or on a server. Both speak the
// client package's wire types.
type backend interface {
	Assemble(ctx context.Context, req *ctxasm.AssembleRequest) (*ctxasm.AssembledContext, error)
	Trim(ctx context.Context, req *ctxasm.TrimRequest) (*ctxasm.TrimResult, error)
	Tokens(ctx context.Context, text string) (*ctxasm.TokensResult, error)
	Close() error
}

// newBackend is swapped out by tests.
var newBackend = openBackend

func openBackend() (backend, error) {
	if remote {
		return remoteBackend{newClient()}, nil
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if encoding != "" {
		cfg.Codec.Encoding = encoding
	}
	eng, err := engine.Build(cfg)
	if err != nil {
		return nil, err
	}
	return &localBackend{eng: eng}, nil
}

func newClient() *ctxasm.Client {
	opts := []ctxasm.ClientOption{ctxasm.WithBaseURL(serverURL)}
	if apiKey != "" {
		opts = append(opts, ctxasm.WithAPIKey(apiKey))
	}
	return ctxasm.New(opts...)
}

type remoteBackend struct {
	*ctxasm.Client
}

func (remoteBackend) Close() error { return nil }

// localBackend runs the assembler in-process. Requests and results cross
// over as JSON so both backends accept and produce identical documents.
type localBackend struct {
	eng *engine.Engine
}

func (b *localBackend) Assemble(ctx context.Context, req *ctxasm.AssembleRequest) (*ctxasm.AssembledContext, error) {
	var areq acontext.AssembleRequest
	if err := convert(req, &areq); err != nil {
		return nil, err
	}

	out, err := b.eng.Assembler.Assemble(ctx, &areq)
	if err != nil {
		return nil, err
	}

	var result ctxasm.AssembledContext
	if err := convert(out, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (b *localBackend) Trim(ctx context.Context, req *ctxasm.TrimRequest) (*ctxasm.TrimResult, error) {
	var treq acontext.TrimRequest
	if err := convert(req, &treq); err != nil {
		return nil, err
	}

	out, err := b.eng.Assembler.Trim(ctx, &treq)
	if err != nil {
		return nil, err
	}

	var result ctxasm.TrimResult
	if err := convert(out, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (b *localBackend) Tokens(ctx context.Context, text string) (*ctxasm.TokensResult, error) {
	tokens, err := b.eng.Assembler.CountTokens(ctx, text)
	if err != nil {
		return nil, err
	}
	return &ctxasm.TokensResult{
		Encoding: b.eng.Assembler.Service().Name(),
		Tokens:   tokens,
		Count:    len(tokens),
	}, nil
}

func (b *localBackend) Close() error { return b.eng.Close() }

func convert(from, to any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if err := json.Unmarshal(data, to); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
