package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/realtime"
	"github.com/carrental/booking-hold/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionClosed is returned for actions on a closed session
	ErrSessionClosed = errors.New("booking session is closed")
	// ErrInvalidDraft wraps draft validation failures
	ErrInvalidDraft = errors.New("invalid booking draft")
	// ErrNothingToWaitFor is returned when waiting without a known booking
	ErrNothingToWaitFor = errors.New("no booking to wait for")
)

// ReservationService is the reservation API a session talks to
type ReservationService interface {
	HoldReleaser
	PaymentStatusChecker
	CreateHold(ctx context.Context, req *models.CreateHoldRequest) (*models.CreateHoldResponse, error)
}

// SessionDeps holds everything a booking session is built from
type SessionDeps struct {
	Subscriber   realtime.Subscriber
	Commands     realtime.CommandSender
	Reservations ReservationService
	Gateway      IntentCreator
	RetryRepo    store.RetryPayloadRepository
	Clock        clock.Clock
	Logger       *logrus.Logger
	Currency     string
	Hold         HoldCoordinatorConfig
	Confirmation ConfirmationConfig
}

// SessionSnapshot is the externally visible state of a session
type SessionSnapshot struct {
	Room       string      `json:"room"`
	State      store.State `json:"state"`
	Countdown  *int        `json:"countdown,omitempty"`
	WaitingFor string      `json:"waiting_for,omitempty"`
}

// BookingSession is the client-side booking flow of one room. Channel events,
// timers and user actions are serialized through a single event loop.
type BookingSession struct {
	room   string
	deps   SessionDeps
	logger *logrus.Logger

	store        *store.BookingStore
	outbox       *ViewOutbox
	coordinator  *HoldCoordinator
	orchestrator *PaymentOrchestrator
	listener     *ConfirmationListener
	sub          *realtime.Subscription

	actions    chan func()
	done       chan struct{}
	closeOnce  sync.Once
	loopDone   chan struct{}
	polls      sync.WaitGroup
	draftMu    sync.Mutex
	lastActive atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBookingSession restores persisted state, subscribes to the room and
// starts the event loop
func NewBookingSession(ctx context.Context, room string, deps SessionDeps) (*BookingSession, error) {
	logger := deps.Logger

	bookingStore := store.NewBookingStore(room, deps.RetryRepo, logger)
	if err := bookingStore.Load(ctx); err != nil {
		logger.WithError(err).WithField("room", room).Warn("Starting session without persisted retry payload")
	}

	sub, err := deps.Subscriber.Subscribe(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to room: %w", err)
	}

	outbox := NewViewOutbox(deps.Clock, logger)
	coordinator := NewHoldCoordinator(room, bookingStore, deps.Commands, deps.Reservations, outbox, outbox, deps.Clock, deps.Hold, logger)

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &BookingSession{
		room:         room,
		deps:         deps,
		logger:       logger,
		store:        bookingStore,
		outbox:       outbox,
		coordinator:  coordinator,
		orchestrator: NewPaymentOrchestrator(room, bookingStore, deps.Gateway, outbox, outbox, deps.Clock, logger),
		listener:     NewConfirmationListener(bookingStore, coordinator, deps.Reservations, outbox, deps.Clock, deps.Confirmation, logger),
		sub:          sub,
		actions:      make(chan func()),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		ctx:          loopCtx,
		cancel:       cancel,
	}
	s.orchestrator.commitOn(s.do)
	s.touch()

	go s.loop()

	logger.WithField("room", room).Info("Booking session opened")
	return s, nil
}

// ============================================================================
// EVENT LOOP
// ============================================================================

func (s *BookingSession) loop() {
	defer close(s.loopDone)

	events := s.sub.Events()
	subDone := s.sub.Done()

	for {
		select {
		case <-s.done:
			s.teardown()
			return
		case <-subDone:
			s.logger.WithField("room", s.room).Warn("Room subscription ended, no further server events")
			events, subDone = nil, nil
		case ev := <-events:
			s.handleEvent(ev)
		case <-s.coordinator.Ticks():
			s.coordinator.Tick()
		case <-s.listener.Ticks():
			s.pollIfDue()
		case fn := <-s.actions:
			fn()
		}
	}
}

func (s *BookingSession) handleEvent(ev models.Event) {
	s.logger.WithFields(logrus.Fields{
		"room":  s.room,
		"event": ev.EventType(),
	}).Debug("Channel event received")

	switch e := ev.(type) {
	case models.HoldWarning:
		s.coordinator.HandleWarning(s.ctx, e)
	case models.HoldExpired:
		s.coordinator.HandleExpired(s.ctx)
	case models.PaymentStatusUpdated:
		s.listener.HandlePaymentStatus(s.ctx, e)
	}
}

// pollIfDue starts a status poll off the loop and posts the result back
func (s *BookingSession) pollIfDue() {
	bookingID, due := s.listener.Tick()
	if !due {
		return
	}
	s.polls.Add(1)
	go func() {
		defer s.polls.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.deps.Confirmation.PollInterval)
		defer cancel()
		resp, err := s.listener.Lookup(ctx, bookingID)
		s.post(func() {
			s.listener.ApplyPoll(s.ctx, bookingID, resp, err)
		})
	}()
}

// post queues fn on the loop without waiting for it
func (s *BookingSession) post(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.done:
	}
}

// do runs fn on the loop and waits for its result
func (s *BookingSession) do(ctx context.Context, fn func() error) error {
	s.touch()
	result := make(chan error, 1)
	select {
	case s.actions <- func() { result <- fn() }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *BookingSession) teardown() {
	s.coordinator.Teardown()
	s.listener.Stop()
	s.sub.Close()
	s.cancel()
	s.outbox.Close()
}

// ============================================================================
// ACTIONS
// ============================================================================

// SelectCar records the chosen car. Choosing another car while a hold is
// active releases that hold without navigating.
func (s *BookingSession) SelectCar(ctx context.Context, carID string) error {
	return s.do(ctx, func() error {
		if hold := s.store.Hold(); hold.IsActive() && hold.CarID != carID {
			s.coordinator.Release(ctx, "car_changed")
		}
		return s.store.Dispatch(ctx, store.SelectCar{CarID: carID})
	})
}

// CreateDraft prices the draft, claims a hold for it and stores both.
// An active hold on the same car and dates is reused.
func (s *BookingSession) CreateDraft(ctx context.Context, req *models.CreateDraftRequest) (*models.BookingDraft, *models.Hold, error) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	draft, err := req.ToDraft(s.deps.Currency, s.deps.Clock.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}

	// 1. Reuse or give up the current hold
	var existing *models.Hold
	err = s.do(ctx, func() error {
		hold := s.store.Hold()
		if !hold.IsActive() {
			return nil
		}
		if hold.Status == models.HoldStatusWarning {
			return ErrHoldWarningPending
		}
		if hold.CarID == draft.CarID &&
			hold.DateRange.Start.Equal(draft.DateRange.Start) &&
			hold.DateRange.End.Equal(draft.DateRange.End) {
			existing = hold
			if err := s.store.Dispatch(ctx, store.SetDraft{Draft: draft}); err != nil {
				return err
			}
			return nil
		}
		s.coordinator.Release(ctx, "draft_changed")
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return draft, existing, nil
	}

	// 2. Claim a new hold off the loop
	resp, err := s.deps.Reservations.CreateHold(ctx, &models.CreateHoldRequest{
		Room:      s.room,
		CarID:     draft.CarID,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Amount:    draft.Pricing.Total,
		Currency:  draft.Pricing.Currency,
	})
	if err != nil {
		return nil, nil, err
	}

	hold := &models.Hold{
		BookingID: resp.BookingID,
		CarID:     draft.CarID,
		DateRange: draft.DateRange,
		ExpiresAt: resp.ExpiresAt,
		Status:    models.HoldStatusHeld,
	}

	// 3. Store draft and hold together
	err = s.do(ctx, func() error {
		for _, action := range []store.Action{
			store.SelectCar{CarID: draft.CarID},
			store.SetDraft{Draft: draft},
			store.HoldAcquired{Hold: hold},
		} {
			if err := s.store.Dispatch(ctx, action); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"room":       s.room,
		"booking_id": hold.BookingID,
		"car_id":     hold.CarID,
		"expires_at": hold.ExpiresAt,
		"total":      draft.Pricing.Total,
	}).Info("Booking draft created")

	return draft, hold, nil
}

// Continue answers the expiry prompt with "keep my hold"
func (s *BookingSession) Continue(ctx context.Context) error {
	return s.do(ctx, func() error {
		return s.coordinator.Continue(ctx)
	})
}

// Decline answers the expiry prompt with "release my hold"
func (s *BookingSession) Decline(ctx context.Context) error {
	return s.do(ctx, func() error {
		return s.coordinator.Decline(ctx)
	})
}

// Pay creates a payment intent for the current draft
func (s *BookingSession) Pay(ctx context.Context, billing models.BillingDetails) (*models.PaymentIntent, *models.IntentRequest, error) {
	s.touch()
	return s.orchestrator.PayForDraft(ctx, billing)
}

// Retry resends the last payment attempt
func (s *BookingSession) Retry(ctx context.Context) (*models.PaymentIntent, error) {
	s.touch()
	return s.orchestrator.RetryPayment(ctx)
}

// Wait starts listening for the verdict of bookingID. An empty id falls back
// to the booking of the saved retry payload.
func (s *BookingSession) Wait(ctx context.Context, bookingID string) error {
	return s.do(ctx, func() error {
		if bookingID == "" {
			if p := s.store.RetryPayload(); p != nil {
				bookingID = p.Request.BookingID()
			}
		}
		if bookingID == "" {
			return ErrNothingToWaitFor
		}
		s.listener.Begin(bookingID)
		return nil
	})
}

// Abandon drops the booking flow: the hold is released, the retry payload is
// discarded and the customer returns to the entry view
func (s *BookingSession) Abandon(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.listener.Stop()
		s.coordinator.Release(ctx, "abandoned")
		if err := s.store.Dispatch(ctx, store.ClearRetryPayload{}); err != nil {
			return err
		}
		if s.store.Draft() != nil {
			if err := s.store.Dispatch(ctx, store.ClearBooking{Outcome: models.HoldStatusReleased}); err != nil {
				return err
			}
		}
		s.outbox.Navigate(models.EntryRoute())
		return nil
	})
}

// Snapshot returns the current state including loop-owned timers
func (s *BookingSession) Snapshot(ctx context.Context) (*SessionSnapshot, error) {
	var snap *SessionSnapshot
	err := s.do(ctx, func() error {
		snap = &SessionSnapshot{
			Room:       s.room,
			State:      s.store.Snapshot(),
			WaitingFor: s.listener.BookingID(),
		}
		if s.coordinator.PromptOpen() {
			n := s.coordinator.Remaining()
			snap.Countdown = &n
		}
		return nil
	})
	return snap, err
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Room returns the client identifier of the session
func (s *BookingSession) Room() string {
	return s.room
}

// Outbox returns the view update stream of the session
func (s *BookingSession) Outbox() *ViewOutbox {
	return s.outbox
}

// Store exposes the session's booking store for read access
func (s *BookingSession) Store() *store.BookingStore {
	return s.store
}

// LastActive returns the time of the last user action
func (s *BookingSession) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load()).UTC()
}

func (s *BookingSession) touch() {
	s.lastActive.Store(s.deps.Clock.Now().UnixNano())
}

// Close stops the loop, waits for background work and ends view streams
func (s *BookingSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.loopDone
		s.polls.Wait()
		s.logger.WithField("room", s.room).Info("Booking session closed")
	})
}
