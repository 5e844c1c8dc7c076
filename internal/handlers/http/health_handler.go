package http

import (
	"net/http"
	"time"

	"roomwatch/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker  *monitoring.HealthChecker
	sessions func() int
	started  time.Time
}

// NewHealthHandler serves liveness and readiness. sessions reports the
// number of monitored sessions.
func NewHealthHandler(checker *monitoring.HealthChecker, sessions func() int) *HealthHandler {
	return &HealthHandler{
		checker:  checker,
		sessions: sessions,
		started:  time.Now(),
	}
}

func (h *HealthHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"uptime_seconds":  int64(time.Since(h.started).Seconds()),
		"active_sessions": h.sessions(),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
