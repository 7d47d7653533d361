package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/carrental/booking-hold/internal/config"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Stripe webhook event types the relay acts on
const (
	stripeSessionCompleted    = "checkout.session.completed"
	stripeAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
	stripeAsyncPaymentFailed  = "checkout.session.async_payment_failed"
	stripeSessionExpired      = "checkout.session.expired"
	stripeSignatureHeader     = "Stripe-Signature"
	stripeCheckoutModePayment = "payment"
)

// StripeGateway creates Stripe Checkout Sessions
type StripeGateway struct {
	api    *client.API
	config *config.PaymentConfig
	logger *logrus.Logger
}

// NewStripeGateway creates a gateway on the default Stripe backends
func NewStripeGateway(cfg *config.PaymentConfig, logger *logrus.Logger) *StripeGateway {
	return NewStripeGatewayWithBackends(cfg, nil, logger)
}

// NewStripeGatewayWithBackends creates a gateway on custom backends (tests, proxies)
func NewStripeGatewayWithBackends(cfg *config.PaymentConfig, backends *stripe.Backends, logger *logrus.Logger) *StripeGateway {
	return &StripeGateway{
		api:    client.New(cfg.StripeSecret, backends),
		config: cfg,
		logger: logger,
	}
}

// Name identifies the provider in logs and audit rows
func (g *StripeGateway) Name() string {
	return config.ProviderStripe
}

// toMinorUnits converts a decimal amount to cents
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreatePaymentIntent opens a Checkout Session in payment mode
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error) {
	bookingID := req.BookingID()

	successURL, cancelURL, err := returnURLs(g.config.ReturnURL, g.config.CancelURL, bookingID)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(stripeCheckoutModePayment),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(bookingID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(toMinorUnits(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Car rental %s", req.Metadata[models.MetadataCarID])),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.Billing.Email != "" {
		params.CustomerEmail = stripe.String(req.Billing.Email)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500 {
			return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, stripeErr.Msg)
		}
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, fmt.Errorf("%w: no checkout URL returned", ErrGatewayRejected)
	}

	g.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"booking_id": bookingID,
		"amount":     req.Amount,
	}).Info("Stripe checkout session created")

	return &models.PaymentIntent{
		ID:          sess.ID,
		CheckoutURL: sess.URL,
		Status:      string(sess.Status),
	}, nil
}

// ParseWebhook verifies the Stripe signature and maps checkout events to a verdict
func (g *StripeGateway) ParseWebhook(body []byte, header http.Header) (*WebhookVerdict, error) {
	event, err := webhook.ConstructEvent(body, header.Get(stripeSignatureHeader), g.config.StripeWebhook)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	bookingID := sess.Metadata[models.MetadataBookingID]
	if bookingID == "" {
		bookingID = sess.ClientReferenceID
	}
	if bookingID == "" {
		return nil, fmt.Errorf("%w: session %s carries no booking id", ErrInvalidWebhook, sess.ID)
	}

	verdict := &WebhookVerdict{
		BookingID:     bookingID,
		PaymentID:     sess.ID,
		TransactionID: event.ID,
		Amount:        float64(sess.AmountTotal) / 100,
		Currency:      string(sess.Currency),
	}
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		verdict.PaymentID = sess.PaymentIntent.ID
	}

	switch string(event.Type) {
	case stripeSessionCompleted, stripeAsyncPaymentSuccess:
		// Delayed methods complete the session while still unpaid
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			verdict.Status = models.PaymentStatusPaid
		}
	case stripeAsyncPaymentFailed:
		verdict.Status = models.PaymentStatusFailed
		verdict.Reason = "async_payment_failed"
	case stripeSessionExpired:
		verdict.Status = models.PaymentStatusFailed
		verdict.Reason = "session_expired"
	}

	g.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"booking_id": bookingID,
		"status":     verdict.Status,
	}).Info("Stripe webhook verified")

	return verdict, nil
}
