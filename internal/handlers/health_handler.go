package handlers

import (
	"net/http"
	"time"

	"github.com/carrental/booking-hold/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// HealthHandler reports service health
type HealthHandler struct {
	db       *sqlx.DB // nil when the relay is not running
	sessions *services.SessionManager
	version  string
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *sqlx.DB, sessions *services.SessionManager, version string) *HealthHandler {
	return &HealthHandler{
		db:       db,
		sessions: sessions,
		version:  version,
	}
}

// Check returns the health of the service - GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"version":   h.version,
		"sessions":  h.sessions.Len(),
		"timestamp": time.Now().Unix(),
	}

	if h.db != nil {
		if err := h.db.PingContext(c.Request.Context()); err != nil {
			resp["status"] = "unhealthy"
			resp["database"] = "unhealthy"
			resp["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "healthy"
	}

	c.JSON(http.StatusOK, resp)
}
