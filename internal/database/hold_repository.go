package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/jmoiron/sqlx"
)

// ErrHoldConflict is returned when the car is already held for overlapping dates
var ErrHoldConflict = errors.New("car is already held for overlapping dates")

const holdColumns = `booking_id, room, car_id, start_date, end_date, amount, currency,
	status, expires_at, warned_at, payment_status, payment_id, created_at, updated_at`

// HoldRepository handles the relay's holds table
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository creates a new HoldRepository
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// ============================================================================
// CREATE / READ
// ============================================================================

// Create inserts a hold unless an active or confirmed hold overlaps it
func (r *HoldRepository) Create(ctx context.Context, hold *models.HoldRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Overlap check on the same car
	var overlapping int
	err = tx.GetContext(ctx, &overlapping, `
		SELECT COUNT(*) FROM holds
		WHERE car_id = $1
		  AND start_date <= $3 AND end_date >= $2
		  AND (status = 'confirmed' OR (status IN ('held', 'warning', 'extended') AND expires_at > $4))`,
		hold.CarID, hold.StartDate, hold.EndDate, hold.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to check overlapping holds: %w", err)
	}
	if overlapping > 0 {
		return ErrHoldConflict
	}

	// 2. Insert
	_, err = tx.ExecContext(ctx, `
		INSERT INTO holds (
			booking_id, room, car_id, start_date, end_date, amount, currency,
			status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		hold.BookingID, hold.Room, hold.CarID, hold.StartDate, hold.EndDate, hold.Amount, hold.Currency,
		hold.Status, hold.ExpiresAt, hold.CreatedAt, hold.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create hold: %w", err)
	}

	return tx.Commit()
}

// GetByID returns a hold or ErrNotFound
func (r *HoldRepository) GetByID(ctx context.Context, bookingID string) (*models.HoldRecord, error) {
	var hold models.HoldRecord
	err := r.db.GetContext(ctx, &hold, `SELECT `+holdColumns+` FROM holds WHERE booking_id = $1`, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	return &hold, nil
}

// ListActive returns every hold that still blocks its car, soonest expiry first
func (r *HoldRepository) ListActive(ctx context.Context) ([]*models.HoldRecord, error) {
	var holds []*models.HoldRecord
	err := r.db.SelectContext(ctx, &holds, `
		SELECT `+holdColumns+` FROM holds
		WHERE status IN ('held', 'warning', 'extended')
		ORDER BY expires_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active holds: %w", err)
	}
	return holds, nil
}

// ============================================================================
// EXPIRY SWEEP
// ============================================================================

// ListDueForWarning returns active, not yet warned holds expiring within lead
func (r *HoldRepository) ListDueForWarning(ctx context.Context, now time.Time, lead time.Duration) ([]*models.HoldRecord, error) {
	var holds []*models.HoldRecord
	err := r.db.SelectContext(ctx, &holds, `
		SELECT `+holdColumns+` FROM holds
		WHERE status IN ('held', 'extended')
		  AND warned_at IS NULL
		  AND expires_at > $1
		  AND expires_at <= $2
		ORDER BY expires_at ASC`,
		now, now.Add(lead))
	if err != nil {
		return nil, fmt.Errorf("failed to list holds due for warning: %w", err)
	}
	return holds, nil
}

// ListExpired returns active holds whose expiry has passed
func (r *HoldRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.HoldRecord, error) {
	var holds []*models.HoldRecord
	err := r.db.SelectContext(ctx, &holds, `
		SELECT `+holdColumns+` FROM holds
		WHERE status IN ('held', 'warning', 'extended')
		  AND expires_at <= $1
		ORDER BY expires_at ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	return holds, nil
}

// MarkWarned records that the warning was published
func (r *HoldRepository) MarkWarned(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	return r.update(ctx, `
		UPDATE holds SET status = 'warning', warned_at = $2, updated_at = $2
		WHERE booking_id = $1 AND status IN ('held', 'extended') AND warned_at IS NULL`,
		bookingID, at)
}

// MarkExpired moves an active hold to expired
func (r *HoldRepository) MarkExpired(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	return r.update(ctx, `
		UPDATE holds SET status = 'expired', updated_at = $2
		WHERE booking_id = $1 AND status IN ('held', 'warning', 'extended')`,
		bookingID, at)
}

// ============================================================================
// CUSTOMER DRIVEN CHANGES
// ============================================================================

// Release gives an active hold back. It reports whether a row changed.
func (r *HoldRepository) Release(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	return r.update(ctx, `
		UPDATE holds SET status = 'released', updated_at = $2
		WHERE booking_id = $1 AND status IN ('held', 'warning', 'extended')`,
		bookingID, at)
}

// ExtendByRoom renews the active hold of a room. The expiry is never moved
// backwards and the warning is re-armed.
func (r *HoldRepository) ExtendByRoom(ctx context.Context, room string, expiresAt, at time.Time) (*models.HoldRecord, error) {
	var hold models.HoldRecord
	err := r.db.GetContext(ctx, &hold, `
		UPDATE holds
		SET expires_at = GREATEST(expires_at, $2), warned_at = NULL, status = 'held', updated_at = $3
		WHERE room = $1 AND status IN ('held', 'warning', 'extended') AND expires_at > $3
		RETURNING `+holdColumns,
		room, expiresAt, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to extend hold: %w", err)
	}
	return &hold, nil
}

// RecordPaymentStatus stores the gateway verdict; a paid verdict confirms an active hold
func (r *HoldRepository) RecordPaymentStatus(ctx context.Context, bookingID string, status models.PaymentStatus, paymentID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE holds
		SET payment_status = $2,
		    payment_id = $3,
		    status = CASE WHEN $2 = 'paid' AND status IN ('held', 'warning', 'extended') THEN 'confirmed'::hold_status ELSE status END,
		    updated_at = $4
		WHERE booking_id = $1`,
		bookingID, string(status), paymentID, at)
	if err != nil {
		return fmt.Errorf("failed to record payment status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *HoldRepository) update(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update hold: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
