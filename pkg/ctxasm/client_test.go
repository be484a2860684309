package ctxasm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/config"
	acontext "github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/context"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/metrics"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/server"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tokenizer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []ClientOption
		wantURL string
	}{
		{
			name:    "default options",
			wantURL: DefaultBaseURL,
		},
		{
			name:    "custom base URL",
			opts:    []ClientOption{WithBaseURL("http://custom:9000")},
			wantURL: "http://custom:9000",
		},
		{
			name:    "custom timeout",
			opts:    []ClientOption{WithTimeout(time.Minute)},
			wantURL: DefaultBaseURL,
		},
		{
			name:    "api key",
			opts:    []ClientOption{WithAPIKey("secret")},
			wantURL: DefaultBaseURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.opts...)
			require.NotNil(t, client)
			assert.Equal(t, tt.wantURL, client.baseURL)
		})
	}
}

func TestWithAPIKey_SetsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL), WithAPIKey("secret")).Health(context.Background())
	require.NoError(t, err)
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Service: "ctxasm"})
	}))
	defer srv.Close()

	resp, err := New(WithBaseURL(srv.URL)).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ctxasm", resp.Service)
}

func TestClient_Ready_NotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": "store closed"})
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL)).Ready(context.Background())
	require.Error(t, err)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, "store closed", apiErr.Message)
}

func TestClient_Assemble_Validation(t *testing.T) {
	client := New()

	_, err := client.Assemble(context.Background(), nil)
	assert.EqualError(t, err, "request cannot be nil")

	_, err = client.Assemble(context.Background(), &AssembleRequest{})
	assert.EqualError(t, err, "at least one entry is required")
}

func TestClient_Assemble_SendsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assemble", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 50, body["tokenBudget"])
		entries := body["entries"].([]any)
		require.Len(t, entries, 1)
		cfg := entries[0].(map[string]any)["config"].(map[string]any)
		assert.Equal(t, "trimTop", cfg["trimDirection"])

		_ = json.NewEncoder(w).Encode(AssembledContext{
			ID:         "ctx-1",
			Content:    "story",
			TokenCount: 1,
			Report: []EntryReport{
				{Identifier: "story", Result: &InsertionResult{Type: "initial", TokensUsed: 1}},
			},
		})
	}))
	defer srv.Close()

	out, err := New(WithBaseURL(srv.URL)).Assemble(context.Background(), &AssembleRequest{
		TokenBudget: 50,
		Entries: []Entry{
			{Identifier: "story", Text: "story", Config: Config{"trimDirection": "trimTop"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", out.ID)
	require.Len(t, out.Report, 1)
	assert.True(t, out.Report[0].Included())
}

func TestClient_PurgeCache(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		wantQuery string
	}{
		{name: "everything", wantQuery: ""},
		{name: "with prefix", prefix: "mock:a b", wantQuery: "prefix=mock%3Aa+b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/admin/cache", r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)
				_ = json.NewEncoder(w).Encode(map[string]int{"purged": 3})
			}))
			defer srv.Close()

			n, err := New(WithBaseURL(srv.URL)).PurgeCache(context.Background(), tt.prefix)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestClient_CollectCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/cache/gc", r.URL.Path)
		assert.Equal(t, "0.25", r.URL.Query().Get("discard_ratio"))
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	require.NoError(t, New(WithBaseURL(srv.URL)).CollectCache(context.Background(), 0.25))
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name         string
		err          *APIError
		wantMsg      string
		invalidInput bool
		timeout      bool
		serverError  bool
	}{
		{
			name:         "invalid entry",
			err:          &APIError{StatusCode: 400, Message: "invalid entry", Code: "INVALID_ENTRY", Details: "duplicate identifier"},
			wantMsg:      "invalid entry (INVALID_ENTRY): duplicate identifier",
			invalidInput: true,
		},
		{
			name:        "timeout",
			err:         &APIError{StatusCode: 504, Message: "assembly timed out", Code: "TIMEOUT"},
			wantMsg:     "assembly timed out (TIMEOUT)",
			timeout:     true,
			serverError: true,
		},
		{
			name:        "plain server error",
			err:         &APIError{StatusCode: 500, Message: "boom"},
			wantMsg:     "boom",
			serverError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
			assert.Equal(t, tt.invalidInput, tt.err.IsInvalidInput())
			assert.Equal(t, tt.timeout, tt.err.IsTimeout())
			assert.Equal(t, tt.serverError, tt.err.IsServerError())
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &APIError{StatusCode: 400, Message: "bad"})
	assert.True(t, IsInvalidInputError(wrapped))
	assert.False(t, IsInvalidInputError(errors.New("plain")))
	assert.True(t, IsNotSupportedError(&APIError{StatusCode: 501}))
	assert.True(t, IsNotSupportedError(&APIError{StatusCode: 404}))
	assert.False(t, IsNotSupportedError(nil))
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL)).Tokens(context.Background(), "x")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "upstream down")
}

// newLiveServer serves the real router with a mock vocabulary.
func newLiveServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{
			RequestTimeout:  10 * time.Second,
			MaxRequestBytes: 1 << 20,
		},
		Security: config.SecurityConfig{APIKey: apiKey},
	}
	asm := acontext.NewAssembler(tokenizer.NewService(tokenizer.NewMockCodec()), acontext.DefaultAssemblerConfig())
	srv := server.NewWithDeps(cfg, asm, zap.NewNop(), &server.ServerDeps{
		Metrics: metrics.NewWithRegisterer("ctxasm", prometheus.NewRegistry()),
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)
	return hs
}

func TestClient_AgainstServer(t *testing.T) {
	hs := newLiveServer(t, "")
	client := New(WithBaseURL(hs.URL))
	ctx := context.Background()

	ready, err := client.Ready(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mock", ready.Encoding)

	out, err := client.Assemble(ctx, &AssembleRequest{
		TokenBudget: 100,
		Entries: []Entry{
			{Identifier: "story", Type: "story", Text: "The knight rode on.\n", Config: Config{"allowInsertionInside": true}},
			{Identifier: "memory", Type: "memory", Text: "A quest.\n", Config: Config{"insertionPosition": 0}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "A quest.\nThe knight rode on.\n", out.Content)
	require.Len(t, out.Report, 2)
	for _, rep := range out.Report {
		assert.True(t, rep.Included(), rep.Identifier)
	}

	tokens, err := client.Tokens(ctx, "The knight")
	require.NoError(t, err)
	assert.Equal(t, "mock", tokens.Encoding)
	assert.Equal(t, len(tokens.Tokens), tokens.Count)

	trimmed, err := client.Trim(ctx, &TrimRequest{Text: "One.\nTwo.\nThree.", TokenBudget: 1000})
	require.NoError(t, err)
	assert.True(t, trimmed.Fits)
	assert.Equal(t, "One.\nTwo.\nThree.", trimmed.Text)

	_, err = client.Assemble(ctx, &AssembleRequest{
		Entries: []Entry{{Identifier: "a", Text: "x"}, {Identifier: "a", Text: "y"}},
	})
	assert.True(t, IsInvalidInputError(err))

	_, err = client.CacheStats(ctx)
	assert.True(t, IsNotSupportedError(err))
}

func TestClient_AgainstServer_Auth(t *testing.T) {
	hs := newLiveServer(t, "k1")

	_, err := New(WithBaseURL(hs.URL)).Tokens(context.Background(), "x")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsUnauthorized())

	_, err = New(WithBaseURL(hs.URL), WithAPIKey("k1")).Tokens(context.Background(), "x")
	assert.NoError(t, err)
}
