package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType classifies a payment audit row
type PaymentEventType string

const (
	PaymentEventWebhookReceived PaymentEventType = "webhook_received" // verified, no final verdict yet
	PaymentEventSuccess         PaymentEventType = "payment_success"
	PaymentEventFailed          PaymentEventType = "payment_failed"
	PaymentEventAmountMismatch  PaymentEventType = "amount_mismatch"
	PaymentEventError           PaymentEventType = "error"
)

// PaymentEventSource is who produced the audit row
type PaymentEventSource string

const (
	PaymentSourceGatewayWebhook PaymentEventSource = "gateway_webhook"
	PaymentSourceRelay          PaymentEventSource = "relay"
)

// amountTolerance absorbs rounding between gateway minor units and stored amounts
const amountTolerance = 0.01

// PaymentAudit is one append-only row per webhook the relay handled
type PaymentAudit struct {
	ID        uuid.UUID `json:"id" db:"id"`
	BookingID *string   `json:"booking_id,omitempty" db:"booking_id"`
	PaymentID *string   `json:"payment_id,omitempty" db:"payment_id"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string  `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`
	TransactionID *string `json:"transaction_id,omitempty" db:"transaction_id"`
	Payload       *string `json:"payload,omitempty" db:"payload"`
	ErrorMessage  *string `json:"error_message,omitempty" db:"error_message"`

	IsDuplicate    bool    `json:"is_duplicate" db:"is_duplicate"`
	IdempotencyKey *string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DedupeKey identifies one verdict of one payment at one provider
func DedupeKey(provider, bookingID, paymentID string, status PaymentStatus) string {
	return fmt.Sprintf("%s:%s:%s:%s", provider, bookingID, paymentID, status)
}

// NewPaymentAudit starts an audit row
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ForPayment ties the row to a booking and, when known, a gateway payment
func (a *PaymentAudit) ForPayment(bookingID, paymentID string) *PaymentAudit {
	a.BookingID = optional(bookingID)
	a.PaymentID = optional(paymentID)
	return a
}

// WithTransaction records the gateway's transaction reference
func (a *PaymentAudit) WithTransaction(id string) *PaymentAudit {
	a.TransactionID = optional(id)
	return a
}

// WithStatus records the verdict carried by the webhook
func (a *PaymentAudit) WithStatus(status PaymentStatus) *PaymentAudit {
	a.PaymentStatus = optional(string(status))
	return a
}

// WithPayload keeps the raw webhook body
func (a *PaymentAudit) WithPayload(body []byte) *PaymentAudit {
	a.Payload = optional(string(body))
	return a
}

// WithError records why the webhook could not be processed
func (a *PaymentAudit) WithError(err error) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		a.ErrorMessage = &msg
	}
	return a
}

// WithKey sets the dedupe key
func (a *PaymentAudit) WithKey(key string) *PaymentAudit {
	a.IdempotencyKey = optional(key)
	return a
}

// Duplicate flags the row as a redelivery
func (a *PaymentAudit) Duplicate() *PaymentAudit {
	a.IsDuplicate = true
	return a
}

// CompareAmounts stores both amounts and reports whether they agree
func (a *PaymentAudit) CompareAmounts(expected, received float64, currency string) bool {
	match := math.Abs(expected-received) < amountTolerance
	a.ExpectedAmount = &expected
	a.ReceivedAmount = &received
	a.Currency = optional(currency)
	a.AmountsMatch = &match
	return match
}
