package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/database"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/realtime"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// HoldNotifierConfig holds configuration for the hold notifier
type HoldNotifierConfig struct {
	TTL           time.Duration // Renewal granted by extend_hold
	WarningLead   time.Duration // Warn this long before expiry
	SweepInterval time.Duration // How often holds are checked
}

// DefaultHoldNotifierConfig returns default configuration
func DefaultHoldNotifierConfig() HoldNotifierConfig {
	return HoldNotifierConfig{
		TTL:           10 * time.Minute,
		WarningLead:   30 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

// SweepStats reports the work of one sweep
type SweepStats struct {
	Warned  int `json:"warned"`
	Expired int `json:"expired"`
}

// HoldNotifierService warns rooms about lapsing holds, expires them and
// renews holds on extend_hold commands
type HoldNotifierService struct {
	holds     HoldStore
	publisher realtime.Publisher
	commands  realtime.CommandConsumer
	clock     clock.Clock
	config    HoldNotifierConfig
	logger    *logrus.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHoldNotifierService creates a new hold notifier
func NewHoldNotifierService(
	holds HoldStore,
	publisher realtime.Publisher,
	commands realtime.CommandConsumer,
	clk clock.Clock,
	config HoldNotifierConfig,
	logger *logrus.Logger,
) *HoldNotifierService {
	return &HoldNotifierService{
		holds:     holds,
		publisher: publisher,
		commands:  commands,
		clock:     clk,
		config:    config,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules the sweep and starts consuming commands
func (s *HoldNotifierService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	spec := fmt.Sprintf("@every %s", s.config.SweepInterval)
	if _, err := s.cron.AddFunc(spec, func() { s.sweepJob(ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule hold sweep: %w", err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.commands.Consume(ctx, s.HandleCommand); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Error("Hold command consumer stopped")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"schedule":     spec,
		"warning_lead": s.config.WarningLead.String(),
		"ttl":          s.config.TTL.String(),
	}).Info("Hold notifier started")
	return nil
}

// Stop stops the schedule and the command consumer
func (s *HoldNotifierService) Stop() {
	<-s.cron.Stop().Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Hold notifier stopped")
}

func (s *HoldNotifierService) sweepJob(ctx context.Context) {
	stats, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Hold sweep failed")
		return
	}
	if stats.Warned > 0 || stats.Expired > 0 {
		s.logger.WithFields(logrus.Fields{
			"warned":  stats.Warned,
			"expired": stats.Expired,
		}).Info("Hold sweep completed")
	}
}

// RunOnce expires due holds and warns holds entering the warning lead.
// An event is published before the row is marked, so a failed publish is
// retried on the next sweep.
func (s *HoldNotifierService) RunOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.clock.Now()

	// 1. Expire
	expired, err := s.holds.ListExpired(ctx, now)
	if err != nil {
		return stats, err
	}
	for _, hold := range expired {
		if err := s.publisher.Publish(ctx, hold.Room, models.HoldExpired{}); err != nil {
			s.logger.WithError(err).WithField("booking_id", hold.BookingID).Warn("Failed to publish hold_expired")
			continue
		}
		marked, err := s.holds.MarkExpired(ctx, hold.BookingID, now)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", hold.BookingID).Error("Failed to mark hold expired")
			continue
		}
		if marked {
			stats.Expired++
		}
	}

	// 2. Warn
	due, err := s.holds.ListDueForWarning(ctx, now, s.config.WarningLead)
	if err != nil {
		return stats, err
	}
	for _, hold := range due {
		expiresAt := hold.ExpiresAt
		warning := models.HoldWarning{
			SecondsRemaining: secondsUntil(now, expiresAt),
			ExpiresAt:        &expiresAt,
		}
		if err := s.publisher.Publish(ctx, hold.Room, warning); err != nil {
			s.logger.WithError(err).WithField("booking_id", hold.BookingID).Warn("Failed to publish hold_warning")
			continue
		}
		marked, err := s.holds.MarkWarned(ctx, hold.BookingID, now)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", hold.BookingID).Error("Failed to mark hold warned")
			continue
		}
		if marked {
			stats.Warned++
		}
	}

	return stats, nil
}

// HandleCommand processes a client command
func (s *HoldNotifierService) HandleCommand(ctx context.Context, cmd models.Command) error {
	switch c := cmd.(type) {
	case models.ExtendHold:
		return s.extend(ctx, c.Room)
	default:
		return fmt.Errorf("unsupported command %q", cmd.CommandType())
	}
}

func (s *HoldNotifierService) extend(ctx context.Context, room string) error {
	now := s.clock.Now()
	hold, err := s.holds.ExtendByRoom(ctx, room, now.Add(s.config.TTL), now)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.logger.WithField("room", room).Warn("extend_hold for a room without an active hold")
			return nil
		}
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"room":       room,
		"booking_id": hold.BookingID,
		"expires_at": hold.ExpiresAt,
	}).Info("Hold extended")
	return nil
}

// secondsUntil rounds up so a warning never under-reports the time left
func secondsUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
