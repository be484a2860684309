package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// gcRunner is implemented by caches that can reclaim disk space.
type gcRunner interface {
	RunGC(discardRatio float64) error
}

// CacheStatsResponse reports on the persistent token cache.
type CacheStatsResponse struct {
	Encoding         string `json:"encoding"`
	Records          int    `json:"records"`
	StorageSizeBytes int64  `json:"storage_size_bytes"`
}

// cacheStats handles GET /admin/cache/stats.
func (s *Server) cacheStats(c *gin.Context) {
	stats, err := s.cache.Stats(c.Request.Context())
	if err != nil {
		s.handleStorageError(c, err)
		return
	}

	c.JSON(http.StatusOK, CacheStatsResponse{
		Encoding:         s.assembler.Service().Name(),
		Records:          stats.Records,
		StorageSizeBytes: stats.StorageSizeBytes,
	})
}

// purgeCache handles DELETE /admin/cache. The optional prefix query
// parameter limits the purge, for example to one encoding with "cl100k_base:".
func (s *Server) purgeCache(c *gin.Context) {
	prefix := c.Query("prefix")

	n, err := s.cache.Purge(c.Request.Context(), prefix)
	if err != nil {
		s.handleStorageError(c, err)
		return
	}

	s.logger.Info("token cache purged",
		zap.String("prefix", prefix),
		zap.Int("records", n),
	)
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

// collectCache handles POST /admin/cache/gc.
func (s *Server) collectCache(c *gin.Context) {
	gc, ok := s.cache.(gcRunner)
	if !ok {
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error: "token cache does not support garbage collection",
			Code:  "NOT_SUPPORTED",
		})
		return
	}

	ratio := 0.5
	if v := c.Query("discard_ratio"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 || r >= 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "discard_ratio must be between 0 and 1",
				Code:  "INVALID_INPUT",
			})
			return
		}
		ratio = r
	}

	if err := gc.RunGC(ratio); err != nil {
		s.handleStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "discard_ratio": ratio})
}
