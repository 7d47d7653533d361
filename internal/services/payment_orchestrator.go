package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/gateway"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrRetryInFlight is returned while a previous retry has not finished
	ErrRetryInFlight = errors.New("a payment retry is already in progress")
	// ErrNoRetryPayload is returned when there is no saved attempt to retry
	ErrNoRetryPayload = errors.New("no payment attempt to retry")
	// ErrNoDraft is returned when paying without a booking draft
	ErrNoDraft = errors.New("no booking draft")
	// ErrNoActiveHold is returned when paying without an active hold
	ErrNoActiveHold = errors.New("no active hold for the booking")
	// ErrHoldWarningPending is returned while the expiry prompt awaits an answer
	ErrHoldWarningPending = errors.New("hold expiry prompt must be answered first")
)

// IntentCreator creates a payment intent at the payment gateway
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error)
}

// PaymentOrchestrator creates payment intents and keeps the retry payload.
// It is safe for concurrent use.
type PaymentOrchestrator struct {
	room      string
	store     *store.BookingStore
	gateway   IntentCreator
	navigator Navigator
	notifier  Notifier
	clock     clock.Clock
	logger    *logrus.Logger

	// commit runs the post-gateway step where hold state cannot change underneath it
	commit func(ctx context.Context, fn func() error) error

	retrying atomic.Bool
}

// NewPaymentOrchestrator creates an orchestrator for a room
func NewPaymentOrchestrator(
	room string,
	bookingStore *store.BookingStore,
	gw IntentCreator,
	navigator Navigator,
	notifier Notifier,
	clk clock.Clock,
	logger *logrus.Logger,
) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		room:      room,
		store:     bookingStore,
		gateway:   gw,
		navigator: navigator,
		notifier:  notifier,
		clock:     clk,
		logger:    logger,
		commit: func(_ context.Context, fn func() error) error {
			return fn()
		},
	}
}

// commitOn routes the save-and-redirect step through run
func (o *PaymentOrchestrator) commitOn(run func(ctx context.Context, fn func() error) error) {
	o.commit = run
}

// requireActiveHold fails with ErrNoActiveHold unless bookingID still holds the car
func (o *PaymentOrchestrator) requireActiveHold(bookingID string) error {
	hold := o.store.Hold()
	if !hold.IsActive() || hold.BookingID != bookingID {
		return ErrNoActiveHold
	}
	return nil
}

// CreatePaymentIntent sends req to the gateway. On success the exact request is
// saved as the retry payload before the customer is sent to the checkout URL.
// On failure the customer is notified and nothing else changes. The hold of
// req must be active before the call and still active when it returns.
func (o *PaymentOrchestrator) CreatePaymentIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	log := o.logger.WithFields(logrus.Fields{
		"room":       o.room,
		"booking_id": req.BookingID(),
		"amount":     req.Amount,
		"currency":   req.Currency,
	})

	if err := o.requireActiveHold(req.BookingID()); err != nil {
		return nil, err
	}

	intent, err := o.gateway.CreatePaymentIntent(ctx, req)
	if err == nil && intent.CheckoutURL == "" {
		err = fmt.Errorf("%w: no checkout URL returned", gateway.ErrGatewayRejected)
	}
	if err != nil {
		log.WithError(err).Error("Failed to create payment intent")
		o.notifier.NotifyError(paymentErrorMessage(err))
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	err = o.commit(ctx, func() error {
		// An expiry that landed during the gateway call wins
		if err := o.requireActiveHold(req.BookingID()); err != nil {
			log.WithField("intent_id", intent.ID).Warn("Hold ended while creating payment intent, dropping checkout")
			return err
		}
		if err := o.store.Dispatch(ctx, store.SaveRetryPayload{Payload: models.NewRetryPayload(req, o.clock.Now())}); err != nil {
			log.WithError(err).Error("Failed to save retry payload")
			o.notifier.NotifyError("We could not save your payment details. Please try again.")
			return err
		}
		log.WithField("intent_id", intent.ID).Info("Payment intent created, redirecting to checkout")
		o.navigator.Navigate(models.ExternalRoute(intent.CheckoutURL))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return intent, nil
}

// RetryPayment resends the saved request verbatim while its hold is active.
// Concurrent calls while one is in flight fail with ErrRetryInFlight.
func (o *PaymentOrchestrator) RetryPayment(ctx context.Context) (*models.PaymentIntent, error) {
	if !o.retrying.CompareAndSwap(false, true) {
		return nil, ErrRetryInFlight
	}
	defer o.retrying.Store(false)

	payload := o.store.RetryPayload()
	if payload == nil {
		return nil, ErrNoRetryPayload
	}
	// The payload stays so the customer can start again from a new hold
	if err := o.requireActiveHold(payload.Request.BookingID()); err != nil {
		return nil, err
	}
	if o.store.Hold().Status == models.HoldStatusWarning {
		return nil, ErrHoldWarningPending
	}

	o.logger.WithFields(logrus.Fields{
		"room":       o.room,
		"booking_id": payload.Request.BookingID(),
		"saved_at":   payload.SavedAt,
	}).Info("Retrying payment")

	return o.CreatePaymentIntent(ctx, payload.Request)
}

// PayForDraft builds the intent request from the draft and the active hold
func (o *PaymentOrchestrator) PayForDraft(ctx context.Context, billing models.BillingDetails) (*models.PaymentIntent, *models.IntentRequest, error) {
	draft := o.store.Draft()
	if draft == nil {
		return nil, nil, ErrNoDraft
	}
	hold := o.store.Hold()
	if !hold.IsActive() {
		return nil, nil, ErrNoActiveHold
	}
	if hold.Status == models.HoldStatusWarning {
		return nil, nil, ErrHoldWarningPending
	}

	if billing.Name == "" {
		billing.Name = draft.PersonalInfo.FullName
	}
	if billing.Email == "" {
		billing.Email = draft.PersonalInfo.Email
	}
	if billing.Phone == "" {
		billing.Phone = draft.PersonalInfo.Phone
	}

	req := models.IntentRequest{
		Amount:   draft.Pricing.Total,
		Currency: draft.Pricing.Currency,
		Billing:  billing,
		Metadata: map[string]string{
			models.MetadataBookingID: hold.BookingID,
			models.MetadataCarID:     draft.CarID,
			models.MetadataRoom:      o.room,
		},
	}

	intent, err := o.CreatePaymentIntent(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return intent, &req, nil
}

// paymentErrorMessage maps a gateway error to a customer-facing message
func paymentErrorMessage(err error) string {
	if errors.Is(err, gateway.ErrGatewayRejected) {
		return "The payment could not be started. Please check your details and try again."
	}
	return "The payment service is unavailable right now. Please try again."
}
