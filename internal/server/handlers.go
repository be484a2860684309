package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	acontext "github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/context"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/storage"
)

// TokensRequest represents the request to tokenize text.
type TokensRequest struct {
	Text string `json:"text"`
}

// TokensResponse holds the encoding of a text.
type TokensResponse struct {
	Encoding string `json:"encoding"`
	Tokens   []int  `json:"tokens"`
	Count    int    `json:"count"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Health handlers

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "ctxasm",
	})
}

// readyHandler round-trips a probe through the codec and, when configured,
// the token cache.
func (s *Server) readyHandler(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.assembler.CountTokens(ctx, "ready"); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	if s.cache != nil {
		if _, err := s.cache.Stats(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"encoding": s.assembler.Service().Name(),
	})
}

// Assembly handlers

func (s *Server) assembleHandler(c *gin.Context) {
	var req acontext.AssembleRequest
	if !s.bindJSON(c, &req) {
		return
	}

	out, err := s.assembler.Assemble(c.Request.Context(), &req)
	if err != nil {
		s.handleAssemblyError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) trimHandler(c *gin.Context) {
	var req acontext.TrimRequest
	if !s.bindJSON(c, &req) {
		return
	}

	out, err := s.assembler.Trim(c.Request.Context(), &req)
	if err != nil {
		s.handleAssemblyError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) tokensHandler(c *gin.Context) {
	var req TokensRequest
	if !s.bindJSON(c, &req) {
		return
	}

	tokens, err := s.assembler.CountTokens(c.Request.Context(), req.Text)
	if err != nil {
		s.handleAssemblyError(c, err)
		return
	}
	c.JSON(http.StatusOK, TokensResponse{
		Encoding: s.assembler.Service().Name(),
		Tokens:   tokens,
		Count:    len(tokens),
	})
}

// Error handling

func (s *Server) bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	if isBodyTooLarge(err) {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "request body too large",
			Code:  "BODY_TOO_LARGE",
		})
		return false
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid request body",
		Code:    "INVALID_INPUT",
		Details: err.Error(),
	})
	return false
}

func (s *Server) handleAssemblyError(c *gin.Context, err error) {
	var invalid *acontext.ErrInvalidEntry

	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_ENTRY",
		})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Error: "context assembly timed out",
			Code:  "TIMEOUT",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, ErrorResponse{
			Error: "request canceled",
			Code:  "CANCELED",
		})
	default:
		s.logger.Error("assembly error",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString("request_id")),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  "INTERNAL_ERROR",
		})
	}
}

func (s *Server) handleStorageError(c *gin.Context, err error) {
	var invalidInput *storage.ErrInvalidInput
	var closed *storage.ErrClosed

	switch {
	case errors.As(err, &invalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_INPUT",
		})
	case errors.As(err, &closed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: err.Error(),
			Code:  "UNAVAILABLE",
		})
	default:
		s.logger.Error("storage error",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  "INTERNAL_ERROR",
		})
	}
}
