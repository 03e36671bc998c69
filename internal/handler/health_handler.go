package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/broker"
)

// HealthHandler reports database and broker state.
type HealthHandler struct {
	pingDB func(ctx context.Context) error
	broker interface{ State() broker.State }
}

// NewHealthHandler creates a health handler. The broker connects lazily, so its state is
// reported but never fails the check.
func NewHealthHandler(pingDB func(ctx context.Context) error, b interface{ State() broker.State }) *HealthHandler {
	return &HealthHandler{pingDB: pingDB, broker: b}
}

// Health health check
func (h *HealthHandler) Health(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "healthy"
	if err := h.pingDB(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = "unhealthy: " + err.Error()
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":   overall,
		"database": dbStatus,
		"broker":   h.broker.State().String(),
	})
}

// Ping liveness probe
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
