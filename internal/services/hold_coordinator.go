package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/realtime"
	"github.com/carrental/booking-hold/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrNoPendingWarning is returned when Continue or Decline is called without an open prompt
var ErrNoPendingWarning = errors.New("no hold warning is pending")

// HoldReleaser gives a hold back to the reservation service
type HoldReleaser interface {
	ReleaseHold(ctx context.Context, bookingID string) error
}

// HoldCoordinatorConfig holds configuration for the hold coordinator
type HoldCoordinatorConfig struct {
	CountdownInterval time.Duration // Prompt countdown step
	ReleaseTimeout    time.Duration // Upper bound of a background release or extend call
}

// DefaultHoldCoordinatorConfig returns default configuration
func DefaultHoldCoordinatorConfig() HoldCoordinatorConfig {
	return HoldCoordinatorConfig{
		CountdownInterval: time.Second,
		ReleaseTimeout:    10 * time.Second,
	}
}

// HoldCoordinator drives the hold state machine of one room.
// It is confined to the session event loop and is not safe for concurrent use,
// except for the background release/extend calls it tracks.
type HoldCoordinator struct {
	room      string
	store     *store.BookingStore
	commands  realtime.CommandSender
	releaser  HoldReleaser
	prompter  Prompter
	navigator Navigator
	clock     clock.Clock
	config    HoldCoordinatorConfig
	logger    *logrus.Logger

	countdown  clock.Ticker
	remaining  int
	promptOpen bool
	inflight   sync.WaitGroup
}

// NewHoldCoordinator creates a coordinator for a room
func NewHoldCoordinator(
	room string,
	bookingStore *store.BookingStore,
	commands realtime.CommandSender,
	releaser HoldReleaser,
	prompter Prompter,
	navigator Navigator,
	clk clock.Clock,
	config HoldCoordinatorConfig,
	logger *logrus.Logger,
) *HoldCoordinator {
	return &HoldCoordinator{
		room:      room,
		store:     bookingStore,
		commands:  commands,
		releaser:  releaser,
		prompter:  prompter,
		navigator: navigator,
		clock:     clk,
		config:    config,
		logger:    logger,
	}
}

// ============================================================================
// STATE
// ============================================================================

// Status returns the status of the current hold, or "" without one
func (c *HoldCoordinator) Status() models.HoldStatus {
	hold := c.store.Hold()
	if hold == nil {
		return ""
	}
	return hold.Status
}

// Ticks returns the countdown channel while a warning is pending, nil otherwise
func (c *HoldCoordinator) Ticks() <-chan time.Time {
	if c.countdown == nil {
		return nil
	}
	return c.countdown.C()
}

// Remaining returns the seconds left on the prompt countdown
func (c *HoldCoordinator) Remaining() int {
	return c.remaining
}

// PromptOpen reports whether the expiry prompt is showing
func (c *HoldCoordinator) PromptOpen() bool {
	return c.promptOpen
}

// ============================================================================
// SERVER EVENTS
// ============================================================================

// HandleWarning opens (or refreshes) the prompt and restarts the countdown
func (c *HoldCoordinator) HandleWarning(ctx context.Context, w models.HoldWarning) {
	hold := c.store.Hold()
	if !hold.IsActive() {
		c.logger.WithField("room", c.room).Debug("Ignoring hold warning without an active hold")
		return
	}

	c.dispatch(ctx, store.HoldStatusChanged{Status: models.HoldStatusWarning, ExpiresAt: w.ExpiresAt})

	c.stopCountdown()
	c.remaining = w.SecondsRemaining
	if c.remaining < 0 {
		c.remaining = 0
	}

	if c.promptOpen {
		c.prompter.UpdatePrompt(c.remaining)
	} else {
		c.prompter.OpenPrompt(c.remaining)
		c.promptOpen = true
	}

	if c.remaining > 0 {
		c.countdown = c.clock.NewTicker(c.config.CountdownInterval)
	}

	c.logger.WithFields(logrus.Fields{
		"room":              c.room,
		"booking_id":        hold.BookingID,
		"seconds_remaining": c.remaining,
	}).Info("Hold warning received")
}

// Tick advances the prompt countdown by one step. The countdown stops at zero;
// the hold stays in warning until the server expires it or the customer answers.
func (c *HoldCoordinator) Tick() {
	if c.countdown == nil {
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	c.prompter.UpdatePrompt(c.remaining)
	if c.remaining == 0 {
		c.stopCountdown()
	}
}

// HandleExpired ends the hold locally and sends the customer to the entry view
func (c *HoldCoordinator) HandleExpired(ctx context.Context) {
	hold := c.store.Hold()
	c.stopCountdown()
	c.closePrompt()

	if !hold.IsActive() {
		c.logger.WithField("room", c.room).Debug("Ignoring hold expiry without an active hold")
		return
	}

	c.dispatch(ctx, store.HoldStatusChanged{Status: models.HoldStatusExpired})
	c.dispatch(ctx, store.ClearBooking{Outcome: models.HoldStatusExpired})
	c.navigator.Navigate(models.ExpiredRoute())

	c.logger.WithFields(logrus.Fields{
		"room":       c.room,
		"booking_id": hold.BookingID,
	}).Info("Hold expired")
}

// ============================================================================
// CUSTOMER DECISIONS
// ============================================================================

// Continue asks the server to extend the hold. The command is fire-and-forget:
// the hold returns to held as soon as the command is handed off.
func (c *HoldCoordinator) Continue(ctx context.Context) error {
	hold := c.store.Hold()
	if hold == nil || hold.Status != models.HoldStatusWarning {
		return ErrNoPendingWarning
	}

	c.stopCountdown()
	c.closePrompt()
	c.dispatch(ctx, store.HoldStatusChanged{Status: models.HoldStatusExtended})

	c.background(func(bg context.Context) {
		if err := c.commands.Send(bg, models.ExtendHold{Room: c.room}); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"room":       c.room,
				"booking_id": hold.BookingID,
			}).Error("Failed to send extend_hold")
		}
	})

	c.dispatch(ctx, store.HoldStatusChanged{Status: models.HoldStatusHeld})

	c.logger.WithFields(logrus.Fields{
		"room":       c.room,
		"booking_id": hold.BookingID,
	}).Info("Hold extension requested")
	return nil
}

// Decline releases the hold and returns the customer to the entry view
func (c *HoldCoordinator) Decline(ctx context.Context) error {
	hold := c.store.Hold()
	if hold == nil || hold.Status != models.HoldStatusWarning {
		return ErrNoPendingWarning
	}
	c.release(ctx, hold, "declined")
	c.navigator.Navigate(models.EntryRoute())
	return nil
}

// Release gives up the active hold without navigating. No-op without one.
func (c *HoldCoordinator) Release(ctx context.Context, reason string) {
	hold := c.store.Hold()
	if !hold.IsActive() {
		return
	}
	c.release(ctx, hold, reason)
}

// Confirm marks the hold as converted into a booking
func (c *HoldCoordinator) Confirm(ctx context.Context) {
	hold := c.store.Hold()
	c.stopCountdown()
	c.closePrompt()
	if !hold.IsActive() {
		return
	}
	c.dispatch(ctx, store.HoldStatusChanged{Status: models.HoldStatusConfirmed})

	c.logger.WithFields(logrus.Fields{
		"room":       c.room,
		"booking_id": hold.BookingID,
	}).Info("Hold confirmed")
}

// Teardown stops the countdown and waits for background calls
func (c *HoldCoordinator) Teardown() {
	c.stopCountdown()
	c.inflight.Wait()
}

// Wait blocks until background release/extend calls finish
func (c *HoldCoordinator) Wait() {
	c.inflight.Wait()
}

// ============================================================================
// HELPERS
// ============================================================================

// release stops the countdown, calls the reservation service in the background
// and clears the booking locally without waiting for the answer
func (c *HoldCoordinator) release(ctx context.Context, hold *models.Hold, reason string) {
	c.stopCountdown()
	c.closePrompt()

	bookingID := hold.BookingID
	c.background(func(bg context.Context) {
		if err := c.releaser.ReleaseHold(bg, bookingID); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"room":       c.room,
				"booking_id": bookingID,
			}).Warn("Failed to release hold, server expiry will reclaim it")
		}
	})

	c.dispatch(ctx, store.HoldStatusChanged{Status: models.HoldStatusReleased})
	c.dispatch(ctx, store.ClearBooking{Outcome: models.HoldStatusReleased})

	c.logger.WithFields(logrus.Fields{
		"room":       c.room,
		"booking_id": bookingID,
		"reason":     reason,
	}).Info("Hold released")
}

func (c *HoldCoordinator) background(fn func(ctx context.Context)) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ReleaseTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *HoldCoordinator) stopCountdown() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *HoldCoordinator) closePrompt() {
	if c.promptOpen {
		c.prompter.ClosePrompt()
		c.promptOpen = false
	}
	c.remaining = 0
}

func (c *HoldCoordinator) dispatch(ctx context.Context, action store.Action) {
	if err := c.store.Dispatch(ctx, action); err != nil {
		c.logger.WithError(err).WithField("room", c.room).Error("Failed to update booking store")
	}
}
