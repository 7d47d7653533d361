package handlers

import (
	"errors"
	"net/http"

	"github.com/carrental/booking-hold/internal/database"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HoldHandler serves the relay's reservation API
type HoldHandler struct {
	holds  *services.HoldService
	logger *logrus.Logger
}

// NewHoldHandler creates a new HoldHandler
func NewHoldHandler(holds *services.HoldService, logger *logrus.Logger) *HoldHandler {
	return &HoldHandler{
		holds:  holds,
		logger: logger,
	}
}

// RegisterRoutes mounts the hold routes on rg
func (h *HoldHandler) RegisterRoutes(rg *gin.RouterGroup) {
	holds := rg.Group("/holds")
	{
		holds.POST("", h.CreateHold)
		holds.GET("", h.ListActive)
		holds.GET("/:booking_id", h.GetHold)
		holds.DELETE("/:booking_id", h.ReleaseHold)
		holds.GET("/:booking_id/payment-status", h.PaymentStatus)
	}
}

// CreateHold claims a car for a date range - POST /api/v1/holds
func (h *HoldHandler) CreateHold(c *gin.Context) {
	var req models.CreateHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	resp, err := h.holds.CreateHold(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidHold):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, database.ErrHoldConflict):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.WithError(err).WithFields(logrus.Fields{
				"room":   req.Room,
				"car_id": req.CarID,
			}).Error("Failed to create hold")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create hold"})
		}
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ListActive returns every active hold - GET /api/v1/holds
func (h *HoldHandler) ListActive(c *gin.Context) {
	holds, err := h.holds.ListActive(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list holds")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list holds"})
		return
	}
	if holds == nil {
		holds = []*models.HoldRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"holds": holds, "count": len(holds)})
}

// GetHold returns one hold - GET /api/v1/holds/:booking_id
func (h *HoldHandler) GetHold(c *gin.Context) {
	hold, err := h.holds.GetHold(c.Request.Context(), c.Param("booking_id"))
	if err != nil {
		h.notFoundOr500(c, err, "failed to get hold")
		return
	}
	c.JSON(http.StatusOK, hold)
}

// ReleaseHold gives a hold back - DELETE /api/v1/holds/:booking_id
func (h *HoldHandler) ReleaseHold(c *gin.Context) {
	if err := h.holds.ReleaseHold(c.Request.Context(), c.Param("booking_id")); err != nil {
		h.notFoundOr500(c, err, "failed to release hold")
		return
	}
	c.Status(http.StatusNoContent)
}

// PaymentStatus returns the recorded verdict - GET /api/v1/holds/:booking_id/payment-status
func (h *HoldHandler) PaymentStatus(c *gin.Context) {
	resp, err := h.holds.PaymentStatus(c.Request.Context(), c.Param("booking_id"))
	if err != nil {
		h.notFoundOr500(c, err, "failed to get payment status")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HoldHandler) notFoundOr500(c *gin.Context, err error, message string) {
	if services.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "hold not found"})
		return
	}
	h.logger.WithError(err).WithField("booking_id", c.Param("booking_id")).Error(message)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}
