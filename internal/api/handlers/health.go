package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/squadforge/squad-optimizer/internal/websocket"
	"github.com/squadforge/squad-optimizer/pkg/types"
)

// HealthHandler serves health and readiness probes.
type HealthHandler struct {
	redisClient *redis.Client
	hub         *websocket.Hub
	logger      *logrus.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(redisClient *redis.Client, hub *websocket.Hub, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		redisClient: redisClient,
		hub:         hub,
		logger:      logger,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	checks := make(map[string]string)
	if h.hub != nil {
		checks["websocket_connections"] = strconv.Itoa(h.hub.GetConnectionCount())
	}

	c.JSON(http.StatusOK, types.HealthStatus{
		Status:    "healthy",
		Service:   "squad-optimizer",
		Timestamp: time.Now(),
		Checks:    checks,
	})
}

// Ready handles GET /ready. It verifies the redis dependency; the solver
// itself is stateless and always ready.
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := make(map[string]string)
	status := "ready"
	code := http.StatusOK

	if h.redisClient != nil {
		if err := h.redisClient.Ping(c.Request.Context()).Err(); err != nil {
			h.logger.WithError(err).Warn("Redis readiness check failed")
			checks["redis"] = "unavailable"
			status = "not_ready"
			code = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "disabled"
	}

	c.JSON(code, types.HealthStatus{
		Status:    status,
		Service:   "squad-optimizer",
		Timestamp: time.Now(),
		Checks:    checks,
	})
}
