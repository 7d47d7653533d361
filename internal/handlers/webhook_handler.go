package handlers

import (
	"io"
	"net/http"

	"github.com/carrental/booking-hold/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives payment gateway webhooks
type WebhookHandler struct {
	relay  *services.PaymentRelayService
	logger *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(relay *services.PaymentRelayService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		relay:  relay,
		logger: logger,
	}
}

// HandleWebhook relays a gateway verdict to the booking's room - POST /api/v1/payments/webhook
//
// Unsigned or malformed bodies get 400. Unknown bookings are acknowledged so
// the gateway stops redelivering; storage failures return 500 so it retries.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	result, err := h.relay.HandleWebhook(c.Request.Context(), body, c.Request.Header)
	if err != nil {
		switch {
		case services.IsInvalidWebhook(err):
			h.logger.WithError(err).WithField("ip", c.ClientIP()).Warn("Rejected webhook")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		case services.IsNotFound(err):
			h.logger.WithError(err).Warn("Webhook for an unknown booking")
			c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
		default:
			h.logger.WithError(err).Error("Failed to process webhook")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "acknowledged",
		"result": result,
	})
}
