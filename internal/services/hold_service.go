package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/database"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidHold wraps hold request validation failures
var ErrInvalidHold = errors.New("invalid hold request")

// HoldStore is the relay's persistent hold table
type HoldStore interface {
	Create(ctx context.Context, hold *models.HoldRecord) error
	GetByID(ctx context.Context, bookingID string) (*models.HoldRecord, error)
	ListActive(ctx context.Context) ([]*models.HoldRecord, error)
	ListDueForWarning(ctx context.Context, now time.Time, lead time.Duration) ([]*models.HoldRecord, error)
	ListExpired(ctx context.Context, now time.Time) ([]*models.HoldRecord, error)
	MarkWarned(ctx context.Context, bookingID string, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, bookingID string, at time.Time) (bool, error)
	Release(ctx context.Context, bookingID string, at time.Time) (bool, error)
	ExtendByRoom(ctx context.Context, room string, expiresAt, at time.Time) (*models.HoldRecord, error)
	RecordPaymentStatus(ctx context.Context, bookingID string, status models.PaymentStatus, paymentID string, at time.Time) error
}

// HoldService is the relay side of the reservation API
type HoldService struct {
	holds  HoldStore
	ttl    time.Duration
	clock  clock.Clock
	logger *logrus.Logger
}

// NewHoldService creates a hold service granting holds of the given TTL
func NewHoldService(holds HoldStore, ttl time.Duration, clk clock.Clock, logger *logrus.Logger) *HoldService {
	return &HoldService{
		holds:  holds,
		ttl:    ttl,
		clock:  clk,
		logger: logger,
	}
}

// CreateHold claims a car for a date range
func (s *HoldService) CreateHold(ctx context.Context, req *models.CreateHoldRequest) (*models.CreateHoldResponse, error) {
	if strings.TrimSpace(req.Room) == "" || strings.TrimSpace(req.CarID) == "" {
		return nil, fmt.Errorf("%w: room and car_id are required", ErrInvalidHold)
	}
	dates, err := models.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHold, err)
	}

	now := s.clock.Now()
	record := &models.HoldRecord{
		BookingID: uuid.NewString(),
		Room:      req.Room,
		CarID:     req.CarID,
		StartDate: dates.Start,
		EndDate:   dates.End,
		Amount:    req.Amount,
		Currency:  strings.ToLower(req.Currency),
		Status:    models.HoldStatusHeld,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.holds.Create(ctx, record); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": record.BookingID,
		"room":       record.Room,
		"car_id":     record.CarID,
		"expires_at": record.ExpiresAt,
	}).Info("Hold created")

	return &models.CreateHoldResponse{
		BookingID:  record.BookingID,
		ExpiresAt:  record.ExpiresAt,
		TTLSeconds: int(s.ttl.Seconds()),
	}, nil
}

// ReleaseHold gives a hold back. Releasing a finished hold is a no-op;
// an unknown booking returns database.ErrNotFound.
func (s *HoldService) ReleaseHold(ctx context.Context, bookingID string) error {
	released, err := s.holds.Release(ctx, bookingID, s.clock.Now())
	if err != nil {
		return err
	}
	if !released {
		if _, err := s.holds.GetByID(ctx, bookingID); err != nil {
			return err
		}
		return nil
	}

	s.logger.WithField("booking_id", bookingID).Info("Hold released")
	return nil
}

// PaymentStatus returns the recorded verdict of a booking
func (s *HoldService) PaymentStatus(ctx context.Context, bookingID string) (*models.PaymentStatusResponse, error) {
	hold, err := s.holds.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	resp := &models.PaymentStatusResponse{
		BookingID: hold.BookingID,
		Status:    hold.PaymentStatus,
	}
	if hold.PaymentID != nil {
		resp.PaymentID = *hold.PaymentID
	}
	if hold.PaymentStatus != nil && *hold.PaymentStatus == models.PaymentStatusPaid {
		resp.Amount = hold.Amount
	}
	return resp, nil
}

// GetHold returns a stored hold
func (s *HoldService) GetHold(ctx context.Context, bookingID string) (*models.HoldRecord, error) {
	return s.holds.GetByID(ctx, bookingID)
}

// ListActive returns every hold that still blocks its car
func (s *HoldService) ListActive(ctx context.Context) ([]*models.HoldRecord, error) {
	return s.holds.ListActive(ctx)
}

// IsNotFound reports whether err means the booking is unknown
func IsNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}
