package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/carrental/booking-hold/internal/gateway"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/services"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const streamKeepAlive = 15 * time.Second

// SessionHandler exposes booking sessions to the thin client
type SessionHandler struct {
	sessions  *services.SessionManager
	logger    *logrus.Logger
	keepAlive time.Duration
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions *services.SessionManager, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		logger:    logger,
		keepAlive: streamKeepAlive,
	}
}

type openSessionRequest struct {
	Room string `json:"room"`
}

type selectCarRequest struct {
	CarID string `json:"car_id" binding:"required"`
}

type waitRequest struct {
	BookingID string `json:"booking_id"`
}

// RegisterRoutes mounts the session routes on rg
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Open)
		sessions.GET("/:room", h.Get)
		sessions.GET("/:room/stream", h.Stream)
		sessions.POST("/:room/car", h.SelectCar)
		sessions.POST("/:room/draft", h.CreateDraft)
		sessions.POST("/:room/hold/continue", h.Continue)
		sessions.POST("/:room/hold/decline", h.Decline)
		sessions.POST("/:room/payments", h.Pay)
		sessions.POST("/:room/payments/retry", h.Retry)
		sessions.POST("/:room/waiting", h.Wait)
		sessions.DELETE("/:room/booking", h.Abandon)
	}
}

// ============================================================================
// SESSION LIFECYCLE
// ============================================================================

// Open creates or resumes a session - POST /api/v1/sessions
func (h *SessionHandler) Open(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, err := h.sessions.Open(c.Request.Context(), req.Room)
	if err != nil {
		h.fail(c, "", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room": session.Room()})
}

// Get returns the session snapshot - GET /api/v1/sessions/:room
func (h *SessionHandler) Get(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.respondSnapshot(c, session)
}

// Stream sends view updates as Server-Sent Events - GET /api/v1/sessions/:room/stream
func (h *SessionHandler) Stream(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	updates, cancel := session.Outbox().Listen()
	defer cancel()

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	log := h.logger.WithField("room", session.Room())
	log.Debug("View stream opened")

	for {
		select {
		case <-c.Request.Context().Done():
			log.Debug("View stream closed by client")
			return
		case update, ok := <-updates:
			if !ok {
				log.Debug("View stream ended with the session")
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{Event: string(update.Kind), Data: update}); err != nil {
				log.WithError(err).Warn("Failed to write view update")
				return
			}
			c.Writer.Flush()
		case <-keepAlive.C:
			if err := sse.Encode(c.Writer, sse.Event{Event: "ping", Data: time.Now().Unix()}); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// ============================================================================
// BOOKING ACTIONS
// ============================================================================

// SelectCar changes the selected car - POST /api/v1/sessions/:room/car
func (h *SessionHandler) SelectCar(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req selectCarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "car_id is required"})
		return
	}

	if err := session.SelectCar(c.Request.Context(), req.CarID); err != nil {
		h.fail(c, session.Room(), err)
		return
	}
	h.respondSnapshot(c, session)
}

// CreateDraft stores the draft and acquires a hold - POST /api/v1/sessions/:room/draft
func (h *SessionHandler) CreateDraft(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req models.CreateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	draft, hold, err := session.CreateDraft(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, session.Room(), err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"draft": draft,
		"hold":  hold,
	})
}

// Continue answers the expiry prompt with continue - POST /api/v1/sessions/:room/hold/continue
func (h *SessionHandler) Continue(c *gin.Context) {
	h.action(c, func(ctx context.Context, s *services.BookingSession) error { return s.Continue(ctx) })
}

// Decline answers the expiry prompt with decline - POST /api/v1/sessions/:room/hold/decline
func (h *SessionHandler) Decline(c *gin.Context) {
	h.action(c, func(ctx context.Context, s *services.BookingSession) error { return s.Decline(ctx) })
}

// Abandon gives the booking up - DELETE /api/v1/sessions/:room/booking
func (h *SessionHandler) Abandon(c *gin.Context) {
	h.action(c, func(ctx context.Context, s *services.BookingSession) error { return s.Abandon(ctx) })
}

// ============================================================================
// PAYMENT
// ============================================================================

// Pay creates a payment intent for the current draft - POST /api/v1/sessions/:room/payments
func (h *SessionHandler) Pay(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req models.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	intent, intentReq, err := session.Pay(c.Request.Context(), req.Billing)
	if err != nil {
		h.fail(c, session.Room(), err)
		return
	}

	c.JSON(http.StatusCreated, models.PaymentResponse{
		IntentID:    intent.ID,
		CheckoutURL: intent.CheckoutURL,
		BookingID:   intentReq.BookingID(),
		Amount:      intentReq.Amount,
		Currency:    intentReq.Currency,
	})
}

// Retry repeats the last payment attempt - POST /api/v1/sessions/:room/payments/retry
func (h *SessionHandler) Retry(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	intent, err := session.Retry(c.Request.Context())
	if err != nil {
		h.fail(c, session.Room(), err)
		return
	}

	resp := models.PaymentResponse{
		IntentID:    intent.ID,
		CheckoutURL: intent.CheckoutURL,
	}
	if payload := session.Store().RetryPayload(); payload != nil {
		resp.BookingID = payload.Request.BookingID()
		resp.Amount = payload.Request.Amount
		resp.Currency = payload.Request.Currency
	}
	c.JSON(http.StatusCreated, resp)
}

// Wait starts waiting for the payment verdict - POST /api/v1/sessions/:room/waiting
func (h *SessionHandler) Wait(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req waitRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.BookingID == "" {
		req.BookingID = c.Query("bookingId")
	}

	if err := session.Wait(c.Request.Context(), req.BookingID); err != nil {
		h.fail(c, session.Room(), err)
		return
	}
	h.respondSnapshot(c, session)
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *SessionHandler) session(c *gin.Context) (*services.BookingSession, bool) {
	session, err := h.sessions.Get(c.Param("room"))
	if err != nil {
		h.fail(c, c.Param("room"), err)
		return nil, false
	}
	return session, true
}

func (h *SessionHandler) action(c *gin.Context, fn func(ctx context.Context, s *services.BookingSession) error) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), session); err != nil {
		h.fail(c, session.Room(), err)
		return
	}
	h.respondSnapshot(c, session)
}

func (h *SessionHandler) respondSnapshot(c *gin.Context, session *services.BookingSession) {
	snap, err := session.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, session.Room(), err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// fail maps session errors to HTTP status codes
func (h *SessionHandler) fail(c *gin.Context, room string, err error) {
	status := sessionErrorStatus(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"room":   room,
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Session request failed")
	} else {
		entry.Warn("Session request rejected")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, services.ErrInvalidDraft):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRetryInFlight):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrCarUnavailable),
		errors.Is(err, services.ErrNoPendingWarning),
		errors.Is(err, services.ErrHoldWarningPending),
		errors.Is(err, services.ErrNoDraft),
		errors.Is(err, services.ErrNoActiveHold),
		errors.Is(err, services.ErrNoRetryPayload),
		errors.Is(err, services.ErrNothingToWaitFor):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrGatewayRejected):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
