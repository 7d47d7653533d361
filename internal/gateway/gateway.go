// Package gateway contains the HTTP collaborators of a booking session:
// hosted payment gateways and the reservation service.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/carrental/booking-hold/internal/models"
)

var (
	// ErrGatewayRejected is returned when the gateway answered but refused the intent
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
	// ErrInvalidWebhook is returned for malformed or unsigned webhook bodies
	ErrInvalidWebhook = errors.New("invalid webhook payload")
)

// PaymentGateway creates hosted checkout pages and reads their webhooks
type PaymentGateway interface {
	Name() string
	CreatePaymentIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error)
	ParseWebhook(body []byte, header http.Header) (*WebhookVerdict, error)
}

// WebhookVerdict is the provider-neutral outcome of a gateway webhook.
// Status is empty for notifications that carry no final verdict.
type WebhookVerdict struct {
	BookingID     string
	PaymentID     string
	TransactionID string
	Status        models.PaymentStatus
	Amount        float64
	Currency      string
	Reason        string
}

// IsFinal reports whether the webhook settled the payment
func (v *WebhookVerdict) IsFinal() bool {
	return v.Status == models.PaymentStatusPaid || v.Status == models.PaymentStatusFailed
}

// withQuery appends key=value to a base URL, keeping any existing query
func withQuery(base, key, value string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", base, err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// returnURLs builds the waiting and cancel targets handed to the gateway
func returnURLs(returnURL, cancelURL, bookingID string) (string, string, error) {
	success, err := withQuery(returnURL, "bookingId", bookingID)
	if err != nil {
		return "", "", err
	}
	cancel, err := withQuery(cancelURL, "booking_id", bookingID)
	if err != nil {
		return "", "", err
	}
	return success, cancel, nil
}
