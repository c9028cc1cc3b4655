package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/chronograph"
)

// Build information - can be set at build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// readinessGroup is the partition read by the readiness probe.
const readinessGroup = "health-check"

// HealthHandler handles health check requests
type HealthHandler struct {
	episodes chronograph.EpisodeManager
	timeout  time.Duration
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(episodes chronograph.EpisodeManager) *HealthHandler {
	return &HealthHandler{
		episodes: episodes,
		timeout:  5 * time.Second,
	}
}

// HealthCheck handles GET /health - basic liveness check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"service":    "chronograph",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": GoVersion,
	})
}

// ReadinessCheck handles GET /ready. The store is ready when a read
// completes within the probe timeout.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.episodes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"checks": gin.H{"store": gin.H{"status": "unhealthy", "error": "client not initialized"}},
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	start := time.Now()
	_, err := h.episodes.GetEpisodes(ctx, readinessGroup, 1)
	check := gin.H{"status": "healthy", "duration": time.Since(start).String()}
	status := http.StatusOK
	overall := "ready"
	if err != nil {
		check["status"] = "unhealthy"
		check["error"] = err.Error()
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}

	c.JSON(status, gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    gin.H{"store": check},
	})
}
