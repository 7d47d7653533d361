package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/gateway"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/realtime"
	"github.com/sirupsen/logrus"
)

// WebhookParser verifies a gateway webhook and extracts the verdict
type WebhookParser interface {
	Name() string
	ParseWebhook(body []byte, header http.Header) (*gateway.WebhookVerdict, error)
}

// AuditLog records every payment event the relay sees
type AuditLog interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	CheckDuplicate(ctx context.Context, eventType models.PaymentEventType, idempotencyKey string) (bool, error)
}

// QueuePublisher publishes a message to a durable queue
type QueuePublisher interface {
	Publish(ctx context.Context, queue, msgType string, body []byte) error
}

// BookingConfirmed is published to the booking.confirmed queue for downstream consumers
type BookingConfirmed struct {
	BookingID   string    `json:"booking_id"`
	Room        string    `json:"room"`
	CarID       string    `json:"car_id"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	PaymentID   string    `json:"payment_id"`
	Provider    string    `json:"provider"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// WebhookResult describes what the relay did with a webhook
type WebhookResult struct {
	BookingID string               `json:"booking_id,omitempty"`
	Status    models.PaymentStatus `json:"status,omitempty"`
	Relayed   bool                 `json:"relayed"`
	Duplicate bool                 `json:"duplicate,omitempty"`
}

// PaymentRelayService turns gateway webhooks into payment_status_updated events
type PaymentRelayService struct {
	parser    WebhookParser
	holds     HoldStore
	audits    AuditLog
	publisher realtime.Publisher
	queue     QueuePublisher
	clock     clock.Clock
	logger    *logrus.Logger
}

// NewPaymentRelayService creates the relay; queue may be nil when RabbitMQ is not configured
func NewPaymentRelayService(
	parser WebhookParser,
	holds HoldStore,
	audits AuditLog,
	publisher realtime.Publisher,
	queue QueuePublisher,
	clk clock.Clock,
	logger *logrus.Logger,
) *PaymentRelayService {
	return &PaymentRelayService{
		parser:    parser,
		holds:     holds,
		audits:    audits,
		publisher: publisher,
		queue:     queue,
		clock:     clk,
		logger:    logger,
	}
}

// HandleWebhook verifies, deduplicates, records and relays one webhook
func (s *PaymentRelayService) HandleWebhook(ctx context.Context, body []byte, header http.Header) (*WebhookResult, error) {
	provider := s.parser.Name()

	// 1. Verify
	verdict, err := s.parser.ParseWebhook(body, header)
	if err != nil {
		s.safeLog(ctx, s.newAudit(models.PaymentEventError, models.PaymentSourceGatewayWebhook).
			WithPayload(body).
			WithError(err))
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"provider":   provider,
		"booking_id": verdict.BookingID,
		"payment_id": verdict.PaymentID,
		"status":     verdict.Status,
	})

	if !verdict.IsFinal() {
		s.safeLog(ctx, s.newAudit(models.PaymentEventWebhookReceived, models.PaymentSourceGatewayWebhook).
			ForPayment(verdict.BookingID, verdict.PaymentID).
			WithTransaction(verdict.TransactionID).
			WithPayload(body))
		log.Info("Webhook carries no final verdict, acknowledged")
		return &WebhookResult{BookingID: verdict.BookingID}, nil
	}

	eventType := models.PaymentEventFailed
	if verdict.Status == models.PaymentStatusPaid {
		eventType = models.PaymentEventSuccess
	}
	key := models.DedupeKey(provider, verdict.BookingID, verdict.PaymentID, verdict.Status)

	// 2. Deduplicate
	duplicate, err := s.audits.CheckDuplicate(ctx, eventType, key)
	if err != nil {
		return nil, err
	}
	if duplicate {
		s.safeLog(ctx, s.newAudit(eventType, models.PaymentSourceGatewayWebhook).
			ForPayment(verdict.BookingID, verdict.PaymentID).
			WithKey(key).
			Duplicate())
		log.Info("Duplicate webhook ignored")
		return &WebhookResult{BookingID: verdict.BookingID, Status: verdict.Status, Duplicate: true}, nil
	}

	// 3. Resolve the hold
	hold, err := s.holds.GetByID(ctx, verdict.BookingID)
	if err != nil {
		s.safeLog(ctx, s.newAudit(models.PaymentEventError, models.PaymentSourceGatewayWebhook).
			ForPayment(verdict.BookingID, verdict.PaymentID).
			WithPayload(body).
			WithError(err))
		return nil, err
	}

	audit := s.newAudit(eventType, models.PaymentSourceGatewayWebhook).
		ForPayment(verdict.BookingID, verdict.PaymentID).
		WithTransaction(verdict.TransactionID).
		WithStatus(verdict.Status).
		WithPayload(body).
		WithKey(key)
	if verdict.Status == models.PaymentStatusPaid && !audit.CompareAmounts(hold.Amount, verdict.Amount, verdict.Currency) {
		log.WithFields(logrus.Fields{
			"expected_amount": hold.Amount,
			"received_amount": verdict.Amount,
		}).Warn("Paid amount differs from the held amount")
		mismatch := s.newAudit(models.PaymentEventAmountMismatch, models.PaymentSourceRelay).
			ForPayment(verdict.BookingID, verdict.PaymentID)
		mismatch.CompareAmounts(hold.Amount, verdict.Amount, verdict.Currency)
		s.safeLog(ctx, mismatch)
	}

	// 4. Record the verdict for polling clients
	now := s.clock.Now()
	if err := s.holds.RecordPaymentStatus(ctx, verdict.BookingID, verdict.Status, verdict.PaymentID, now); err != nil {
		return nil, err
	}

	// 5. Push to the room; a lost push is covered by status polling
	event := models.PaymentStatusUpdated{
		BookingID: verdict.BookingID,
		Status:    verdict.Status,
		PaymentID: verdict.PaymentID,
		Reason:    verdict.Reason,
	}
	if verdict.Status == models.PaymentStatusPaid {
		amount := verdict.Amount
		event.Amount = &amount
	}
	relayed := true
	if err := s.publisher.Publish(ctx, hold.Room, event); err != nil {
		relayed = false
		log.WithError(err).Warn("Failed to publish payment_status_updated")
	}

	if err := s.audits.Log(ctx, audit); err != nil {
		log.WithError(err).Error("Failed to record payment audit")
	}

	// 6. Notify downstream consumers
	if verdict.Status == models.PaymentStatusPaid {
		s.publishConfirmed(ctx, hold, verdict, provider, now)
	}

	log.WithField("relayed", relayed).Info("Payment verdict relayed")
	return &WebhookResult{BookingID: verdict.BookingID, Status: verdict.Status, Relayed: relayed}, nil
}

func (s *PaymentRelayService) publishConfirmed(ctx context.Context, hold *models.HoldRecord, verdict *gateway.WebhookVerdict, provider string, now time.Time) {
	if s.queue == nil {
		return
	}

	msg := BookingConfirmed{
		BookingID:   hold.BookingID,
		Room:        hold.Room,
		CarID:       hold.CarID,
		StartDate:   hold.StartDate.Format(models.DateLayout),
		EndDate:     hold.EndDate.Format(models.DateLayout),
		Amount:      verdict.Amount,
		Currency:    verdict.Currency,
		PaymentID:   verdict.PaymentID,
		Provider:    provider,
		ConfirmedAt: now,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal booking.confirmed message")
		return
	}
	if err := s.queue.Publish(ctx, realtime.BookingConfirmedQueue, "booking_confirmed", body); err != nil {
		s.logger.WithError(err).WithField("booking_id", hold.BookingID).Warn("Failed to publish booking.confirmed")
	}
}

func (s *PaymentRelayService) newAudit(eventType models.PaymentEventType, source models.PaymentEventSource) *models.PaymentAudit {
	audit := models.NewPaymentAudit(eventType, source)
	audit.CreatedAt = s.clock.Now()
	return audit
}

func (s *PaymentRelayService) safeLog(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audits.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Error("Failed to record payment audit")
	}
}

// IsInvalidWebhook reports whether err means the webhook failed verification
func IsInvalidWebhook(err error) bool {
	return errors.Is(err, gateway.ErrInvalidWebhook)
}
