package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/gateway"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSaveRepo struct {
	*store.MemoryRetryRepository
}

func (r failingSaveRepo) Save(context.Context, string, *models.RetryPayload) error {
	return fmt.Errorf("redis: connection reset")
}

type orchestratorFixture struct {
	store        *store.BookingStore
	outbox       *ViewOutbox
	gateway      *fakeGateway
	orchestrator *PaymentOrchestrator
}

func newOrchestratorFixture(t *testing.T, repo store.RetryPayloadRepository) *orchestratorFixture {
	t.Helper()
	logger := testLogger()
	clk := clock.NewFake(testStart)
	if repo == nil {
		repo = store.NewMemoryRetryRepository()
	}
	f := &orchestratorFixture{
		store:   store.NewBookingStore("room-1", repo, logger),
		outbox:  NewViewOutbox(clk, logger),
		gateway: &fakeGateway{},
	}
	f.orchestrator = NewPaymentOrchestrator("room-1", f.store, f.gateway, f.outbox, f.outbox, clk, logger)
	return f
}

func (f *orchestratorFixture) seedBooking(t *testing.T, status models.HoldStatus) {
	t.Helper()
	ctx := context.Background()
	dates, err := models.ParseDateRange("2026-02-01", "2026-02-03")
	require.NoError(t, err)
	require.NoError(t, f.store.Dispatch(ctx, store.SetDraft{Draft: &models.BookingDraft{
		CarID:        "C1",
		DateRange:    dates,
		Fulfillment:  models.FulfillmentPickup,
		PersonalInfo: models.PersonalInfo{FullName: "Ana Cruz", Email: "ana@example.com", Phone: "+15550100"},
		Pricing:      models.NewPricingSnapshot(100, dates.Days(), 0, "usd", testStart),
	}}))
	require.NoError(t, f.store.Dispatch(ctx, store.HoldAcquired{Hold: &models.Hold{
		BookingID: "BK-1",
		CarID:     "C1",
		DateRange: dates,
		ExpiresAt: testStart.Add(10 * time.Minute),
		Status:    status,
	}}))
}

func sampleIntentRequest() models.IntentRequest {
	return models.IntentRequest{
		Amount:   500,
		Currency: "usd",
		Billing: models.BillingDetails{
			Name:  "Ana Cruz",
			Email: "ana@example.com",
			Phone: "+15550100",
			Address: models.BillingAddress{
				Line1:      "1 Main St",
				City:       "Springfield",
				PostalCode: "12345",
				Country:    "US",
			},
		},
		Metadata: map[string]string{
			models.MetadataBookingID: "BK-1",
			models.MetadataCarID:     "C1",
			models.MetadataRoom:      "room-1",
		},
	}
}

func TestPaymentOrchestrator_CreatePaymentIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("Success saves payload and redirects", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		req := sampleIntentRequest()

		intent, err := f.orchestrator.CreatePaymentIntent(ctx, req)
		require.NoError(t, err)

		payload := f.store.RetryPayload()
		require.NotNil(t, payload)
		assert.Equal(t, req, payload.Request)
		assert.Equal(t, testStart, payload.SavedAt)

		nav := f.outbox.LastNavigation()
		require.NotNil(t, nav)
		assert.True(t, nav.External)
		assert.Equal(t, intent.CheckoutURL, nav.Path)
	})

	t.Run("Gateway failure notifies and changes nothing", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		f.gateway.setErr(fmt.Errorf("%w: card declined", gateway.ErrGatewayRejected))

		intent, err := f.orchestrator.CreatePaymentIntent(ctx, sampleIntentRequest())
		assert.Error(t, err)
		assert.ErrorIs(t, err, gateway.ErrGatewayRejected)
		assert.Nil(t, intent)
		assert.Nil(t, f.store.RetryPayload())
		assert.Empty(t, f.outbox.Navigations())

		history := f.outbox.History()
		require.Len(t, history, 1)
		assert.Equal(t, models.ViewError, history[0].Kind)
		assert.NotEmpty(t, history[0].Message)
	})

	t.Run("Network failure is reported", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		f.gateway.setErr(errNetwork)

		_, err := f.orchestrator.CreatePaymentIntent(ctx, sampleIntentRequest())
		assert.ErrorIs(t, err, errNetwork)
		assert.Contains(t, err.Error(), "failed to create payment intent")
	})

	t.Run("Persistence failure blocks the redirect", func(t *testing.T) {
		f := newOrchestratorFixture(t, failingSaveRepo{store.NewMemoryRetryRepository()})
		f.seedBooking(t, models.HoldStatusHeld)

		_, err := f.orchestrator.CreatePaymentIntent(ctx, sampleIntentRequest())
		assert.Error(t, err)
		assert.Nil(t, f.store.RetryPayload())
		assert.Empty(t, f.outbox.Navigations())
	})

	t.Run("No active hold never reaches the gateway", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)

		_, err := f.orchestrator.CreatePaymentIntent(ctx, sampleIntentRequest())
		assert.ErrorIs(t, err, ErrNoActiveHold)
		assert.Empty(t, f.gateway.Requests())
		assert.Nil(t, f.store.RetryPayload())
	})

	t.Run("Hold ending during the gateway call drops the checkout", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		f.gateway.entered = make(chan struct{}, 1)
		f.gateway.release = make(chan struct{})

		done := make(chan error, 1)
		go func() {
			_, err := f.orchestrator.CreatePaymentIntent(ctx, sampleIntentRequest())
			done <- err
		}()
		<-f.gateway.entered

		require.NoError(t, f.store.Dispatch(ctx, store.ClearBooking{Outcome: models.HoldStatusExpired}))
		close(f.gateway.release)

		assert.ErrorIs(t, <-done, ErrNoActiveHold)
		assert.Nil(t, f.store.RetryPayload())
		assert.Empty(t, f.outbox.Navigations())
	})

	t.Run("Invalid request never reaches the gateway", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		req := sampleIntentRequest()
		req.Amount = 0

		_, err := f.orchestrator.CreatePaymentIntent(ctx, req)
		assert.Error(t, err)
		assert.Empty(t, f.gateway.Requests())
	})
}

func TestPaymentOrchestrator_RetryPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Retry reproduces the original request", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		original := sampleIntentRequest()

		f.gateway.setErr(nil)
		_, err := f.orchestrator.CreatePaymentIntent(ctx, original)
		require.NoError(t, err)

		_, err = f.orchestrator.RetryPayment(ctx)
		require.NoError(t, err)

		requests := f.gateway.Requests()
		require.Len(t, requests, 2)
		assert.Equal(t, original.Amount, requests[1].Amount)
		assert.Equal(t, original.Billing, requests[1].Billing)
		assert.Equal(t, original.Metadata, requests[1].Metadata)
		assert.Equal(t, original, requests[1])
	})

	t.Run("No payload", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)

		_, err := f.orchestrator.RetryPayment(ctx)
		assert.ErrorIs(t, err, ErrNoRetryPayload)
		assert.Empty(t, f.gateway.Requests())
	})

	t.Run("Second retry while first is in flight is a no-op", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		_, err := f.orchestrator.CreatePaymentIntent(ctx, sampleIntentRequest())
		require.NoError(t, err)

		f.gateway.mu.Lock()
		f.gateway.entered = make(chan struct{}, 1)
		f.gateway.release = make(chan struct{})
		f.gateway.mu.Unlock()

		done := make(chan error, 1)
		go func() {
			_, err := f.orchestrator.RetryPayment(ctx)
			done <- err
		}()
		<-f.gateway.entered

		_, err = f.orchestrator.RetryPayment(ctx)
		assert.ErrorIs(t, err, ErrRetryInFlight)

		close(f.gateway.release)
		require.NoError(t, <-done)
		assert.Len(t, f.gateway.Requests(), 2)
	})

	t.Run("Expired hold blocks the retry and keeps the payload", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		_, err := f.orchestrator.CreatePaymentIntent(ctx, sampleIntentRequest())
		require.NoError(t, err)
		require.NoError(t, f.store.Dispatch(ctx, store.ClearBooking{Outcome: models.HoldStatusExpired}))

		_, err = f.orchestrator.RetryPayment(ctx)
		assert.ErrorIs(t, err, ErrNoActiveHold)
		assert.Len(t, f.gateway.Requests(), 1)
		assert.Len(t, f.outbox.Navigations(), 1)
		require.NotNil(t, f.store.RetryPayload())
		assert.Equal(t, sampleIntentRequest(), f.store.RetryPayload().Request)
	})

	t.Run("Pending warning blocks the retry", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		_, err := f.orchestrator.CreatePaymentIntent(ctx, sampleIntentRequest())
		require.NoError(t, err)
		require.NoError(t, f.store.Dispatch(ctx, store.HoldStatusChanged{Status: models.HoldStatusWarning}))

		_, err = f.orchestrator.RetryPayment(ctx)
		assert.ErrorIs(t, err, ErrHoldWarningPending)
		assert.Len(t, f.gateway.Requests(), 1)
	})

	t.Run("Failed retry keeps the payload", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		_, err := f.orchestrator.CreatePaymentIntent(ctx, sampleIntentRequest())
		require.NoError(t, err)

		f.gateway.setErr(errNetwork)
		_, err = f.orchestrator.RetryPayment(ctx)
		assert.Error(t, err)
		require.NotNil(t, f.store.RetryPayload())
		assert.Equal(t, sampleIntentRequest(), f.store.RetryPayload().Request)
	})
}

func TestPaymentOrchestrator_PayForDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("Builds the request from draft and hold", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)

		_, req, err := f.orchestrator.PayForDraft(ctx, models.BillingDetails{
			Address: models.BillingAddress{Line1: "1 Main St", City: "Springfield", Country: "US"},
		})
		require.NoError(t, err)

		assert.Equal(t, 300.0, req.Amount)
		assert.Equal(t, "usd", req.Currency)
		assert.Equal(t, "Ana Cruz", req.Billing.Name)
		assert.Equal(t, "ana@example.com", req.Billing.Email)
		assert.Equal(t, "BK-1", req.BookingID())
		assert.Equal(t, "C1", req.Metadata[models.MetadataCarID])
		assert.Equal(t, "room-1", req.Metadata[models.MetadataRoom])
		assert.Equal(t, *req, f.store.RetryPayload().Request)
	})

	t.Run("No draft", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)

		_, _, err := f.orchestrator.PayForDraft(ctx, models.BillingDetails{})
		assert.ErrorIs(t, err, ErrNoDraft)
	})

	t.Run("Pending warning must be answered first", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusWarning)

		_, _, err := f.orchestrator.PayForDraft(ctx, models.BillingDetails{})
		assert.ErrorIs(t, err, ErrHoldWarningPending)
		assert.Empty(t, f.gateway.Requests())
	})

	t.Run("Released hold", func(t *testing.T) {
		f := newOrchestratorFixture(t, nil)
		f.seedBooking(t, models.HoldStatusHeld)
		require.NoError(t, f.store.Dispatch(ctx, store.HoldStatusChanged{Status: models.HoldStatusReleased}))

		_, _, err := f.orchestrator.PayForDraft(ctx, models.BillingDetails{})
		assert.ErrorIs(t, err, ErrNoActiveHold)
	})
}
