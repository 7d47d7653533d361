package services

import (
	"context"
	"time"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/store"
	"github.com/sirupsen/logrus"
)

// PaymentStatusChecker looks up the recorded verdict of a booking
type PaymentStatusChecker interface {
	PaymentStatus(ctx context.Context, bookingID string) (*models.PaymentStatusResponse, error)
}

// HoldConfirmer marks a hold as converted into a booking
type HoldConfirmer interface {
	Confirm(ctx context.Context)
}

// ConfirmationConfig holds configuration for the waiting view
type ConfirmationConfig struct {
	WaitTimeout  time.Duration // Time to wait for a pushed verdict before polling
	PollInterval time.Duration // Interval between status polls
	MaxPolls     int           // Polls before giving up with confirmation_timeout
}

// DefaultConfirmationConfig returns default configuration
func DefaultConfirmationConfig() ConfirmationConfig {
	return ConfirmationConfig{
		WaitTimeout:  60 * time.Second,
		PollInterval: 5 * time.Second,
		MaxPolls:     10,
	}
}

// ConfirmationListener waits for the payment verdict of one booking.
// It is confined to the session event loop; Lookup may run on any goroutine.
type ConfirmationListener struct {
	store     *store.BookingStore
	confirmer HoldConfirmer
	checker   PaymentStatusChecker
	navigator Navigator
	clock     clock.Clock
	config    ConfirmationConfig
	logger    *logrus.Logger

	bookingID string
	waiting   bool
	ticker    clock.Ticker
	deadline  time.Time
	polls     int
	polling   bool
}

// NewConfirmationListener creates an idle listener
func NewConfirmationListener(
	bookingStore *store.BookingStore,
	confirmer HoldConfirmer,
	checker PaymentStatusChecker,
	navigator Navigator,
	clk clock.Clock,
	config ConfirmationConfig,
	logger *logrus.Logger,
) *ConfirmationListener {
	return &ConfirmationListener{
		store:     bookingStore,
		confirmer: confirmer,
		checker:   checker,
		navigator: navigator,
		clock:     clk,
		config:    config,
		logger:    logger,
	}
}

// Begin starts waiting for the verdict of bookingID. Calling it again for the
// same booking keeps the running wait.
func (l *ConfirmationListener) Begin(bookingID string) {
	if l.waiting && l.bookingID == bookingID {
		return
	}
	l.Stop()

	l.bookingID = bookingID
	l.waiting = true
	l.polls = 0
	l.deadline = l.clock.Now().Add(l.config.WaitTimeout)
	l.ticker = l.clock.NewTicker(l.config.PollInterval)

	l.logger.WithFields(logrus.Fields{
		"booking_id":   bookingID,
		"wait_timeout": l.config.WaitTimeout.String(),
	}).Info("Waiting for payment confirmation")
}

// Waiting reports whether a verdict is awaited
func (l *ConfirmationListener) Waiting() bool {
	return l.waiting
}

// BookingID returns the booking being waited on
func (l *ConfirmationListener) BookingID() string {
	if !l.waiting {
		return ""
	}
	return l.bookingID
}

// Ticks returns the poll timer channel while waiting, nil otherwise
func (l *ConfirmationListener) Ticks() <-chan time.Time {
	if l.ticker == nil {
		return nil
	}
	return l.ticker.C()
}

// Tick decides whether a status poll is due. It returns the booking to poll.
func (l *ConfirmationListener) Tick() (string, bool) {
	if !l.waiting || l.polling {
		return "", false
	}
	if l.clock.Now().Before(l.deadline) {
		return "", false
	}
	if l.polls >= l.config.MaxPolls {
		l.fail(models.ReasonConfirmationTimeout)
		return "", false
	}
	l.polls++
	l.polling = true
	return l.bookingID, true
}

// Lookup fetches the recorded verdict. Safe to call off the event loop.
func (l *ConfirmationListener) Lookup(ctx context.Context, bookingID string) (*models.PaymentStatusResponse, error) {
	return l.checker.PaymentStatus(ctx, bookingID)
}

// ApplyPoll feeds a poll result back in. Results for a stale booking are dropped.
func (l *ConfirmationListener) ApplyPoll(ctx context.Context, bookingID string, resp *models.PaymentStatusResponse, err error) {
	if !l.waiting || bookingID != l.bookingID {
		return
	}
	l.polling = false

	log := l.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"poll":       l.polls,
	})

	if err != nil {
		log.WithError(err).Warn("Payment status poll failed")
	} else if resp != nil && resp.Status != nil {
		ev := models.PaymentStatusUpdated{
			BookingID: bookingID,
			Status:    *resp.Status,
			PaymentID: resp.PaymentID,
		}
		if resp.Amount > 0 {
			amount := resp.Amount
			ev.Amount = &amount
		}
		log.WithField("status", ev.Status).Info("Payment verdict found by polling")
		l.HandlePaymentStatus(ctx, ev)
		return
	}

	if l.polls >= l.config.MaxPolls {
		l.fail(models.ReasonConfirmationTimeout)
	}
}

// HandlePaymentStatus applies a verdict. It reports whether the verdict matched
// the awaited booking.
func (l *ConfirmationListener) HandlePaymentStatus(ctx context.Context, ev models.PaymentStatusUpdated) bool {
	if !l.waiting || ev.BookingID != l.bookingID {
		l.logger.WithFields(logrus.Fields{
			"booking_id": ev.BookingID,
			"awaiting":   l.BookingID(),
		}).Debug("Ignoring payment status for another booking")
		return false
	}

	switch ev.Status {
	case models.PaymentStatusPaid:
		amount := l.confirmedAmount(ev)
		l.Stop()
		if err := l.store.Dispatch(ctx, store.ClearRetryPayload{}); err != nil {
			l.logger.WithError(err).Warn("Failed to clear retry payload")
		}
		l.confirmer.Confirm(ctx)
		l.navigator.Navigate(models.SuccessRoute(ev.BookingID, ev.PaymentID, amount))

		l.logger.WithFields(logrus.Fields{
			"booking_id": ev.BookingID,
			"payment_id": ev.PaymentID,
			"amount":     amount,
		}).Info("Payment confirmed")
	case models.PaymentStatusFailed:
		reason := ev.Reason
		if reason == "" {
			reason = models.ReasonPaymentFailed
		}
		l.fail(reason)
	default:
		l.logger.WithField("status", ev.Status).Warn("Unknown payment status")
		return false
	}
	return true
}

// Stop cancels the wait
func (l *ConfirmationListener) Stop() {
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
	l.waiting = false
	l.polling = false
}

// fail sends the customer to the failed view; the retry payload is kept
func (l *ConfirmationListener) fail(reason string) {
	bookingID := l.bookingID
	l.Stop()
	l.navigator.Navigate(models.FailedRoute(bookingID, reason))

	l.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"reason":     reason,
	}).Warn("Payment not confirmed")
}

// confirmedAmount prefers the amount on the verdict, then the attempted amount
func (l *ConfirmationListener) confirmedAmount(ev models.PaymentStatusUpdated) float64 {
	if ev.Amount != nil {
		return *ev.Amount
	}
	if p := l.store.RetryPayload(); p != nil && p.Request.BookingID() == ev.BookingID {
		return p.Request.Amount
	}
	if d := l.store.Draft(); d != nil {
		return d.Pricing.Total
	}
	return 0
}
