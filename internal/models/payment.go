package models

import (
	"errors"
	"strings"
	"time"
)

// PaymentStatus is the final verdict of a gateway checkout
type PaymentStatus string

const (
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusFailed PaymentStatus = "failed"
)

// Metadata keys linking a payment back to the booking
const (
	MetadataBookingID = "booking_id"
	MetadataCarID     = "car_id"
	MetadataRoom      = "room"
)

// BillingAddress is the billing address passed to the gateway
type BillingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// BillingDetails identifies the payer
type BillingDetails struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Phone   string         `json:"phone"`
	Address BillingAddress `json:"address"`
}

// IntentRequest is the exact request sent to create a payment intent
type IntentRequest struct {
	Amount   float64           `json:"amount"`
	Currency string            `json:"currency"`
	Billing  BillingDetails    `json:"billing"`
	Metadata map[string]string `json:"metadata"`
}

// Validate validates the intent request
func (r *IntentRequest) Validate() error {
	if r.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if strings.TrimSpace(r.Currency) == "" {
		return errors.New("currency is required")
	}
	if r.Metadata[MetadataBookingID] == "" {
		return errors.New("metadata.booking_id is required")
	}
	return nil
}

// BookingID returns the booking this payment belongs to
func (r *IntentRequest) BookingID() string {
	return r.Metadata[MetadataBookingID]
}

// Clone returns a deep copy so callers cannot mutate a saved snapshot
func (r IntentRequest) Clone() IntentRequest {
	out := r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// RetryPayload is the snapshot of the last dispatched payment attempt
type RetryPayload struct {
	Request IntentRequest `json:"request"`
	SavedAt time.Time     `json:"saved_at"`
}

// NewRetryPayload snapshots a request
func NewRetryPayload(req IntentRequest, now time.Time) *RetryPayload {
	return &RetryPayload{Request: req.Clone(), SavedAt: now}
}

// Clone returns a deep copy of the payload
func (p *RetryPayload) Clone() *RetryPayload {
	if p == nil {
		return nil
	}
	return &RetryPayload{Request: p.Request.Clone(), SavedAt: p.SavedAt}
}

// PaymentIntent is the transient value returned by the gateway
type PaymentIntent struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"status"`
}

// PayRequest is posted by the client to pay for the current draft
type PayRequest struct {
	Billing BillingDetails `json:"billing"`
}

// PaymentResponse is returned after a checkout URL was obtained
type PaymentResponse struct {
	IntentID    string  `json:"intent_id"`
	CheckoutURL string  `json:"checkout_url"`
	BookingID   string  `json:"booking_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}
