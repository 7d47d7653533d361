package models

import (
	"errors"
	"time"
)

// ============================================================================
// HOLD STATUSES
// ============================================================================

// HoldStatus represents where a hold is in its lifecycle
// Matches PostgreSQL ENUM: hold_status
type HoldStatus string

const (
	HoldStatusHeld      HoldStatus = "held"      // Car/date range claimed, no prompt shown
	HoldStatusWarning   HoldStatus = "warning"   // Server warned that the hold is about to lapse
	HoldStatusExtended  HoldStatus = "extended"  // Customer asked to continue, extend_hold sent
	HoldStatusExpired   HoldStatus = "expired"   // Server enforced expiry
	HoldStatusReleased  HoldStatus = "released"  // Customer gave the hold back
	HoldStatusConfirmed HoldStatus = "confirmed" // Payment confirmed, hold converted to a booking
)

// IsTerminal reports whether no further transition is allowed
func (s HoldStatus) IsTerminal() bool {
	switch s {
	case HoldStatusExpired, HoldStatusReleased, HoldStatusConfirmed:
		return true
	}
	return false
}

// DateLayout is the wire format for rental dates
const DateLayout = "2006-01-02"

// DateRange is the rental period of a hold
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseDateRange parses two YYYY-MM-DD dates
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, errors.New("invalid start date, expected YYYY-MM-DD")
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, errors.New("invalid end date, expected YYYY-MM-DD")
	}
	r := DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate checks the range is not inverted
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("start and end dates are required")
	}
	if r.End.Before(r.Start) {
		return errors.New("end date must not be before start date")
	}
	return nil
}

// Days returns the number of billable rental days (inclusive range, minimum 1)
func (r DateRange) Days() int {
	days := int(r.End.Sub(r.Start).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// ============================================================================
// HOLD (client-side view)
// ============================================================================

// Hold is a temporary exclusive claim on a car for a date range
type Hold struct {
	BookingID string     `json:"booking_id"`
	CarID     string     `json:"car_id"`
	DateRange DateRange  `json:"date_range"`
	ExpiresAt time.Time  `json:"expires_at"` // Server-set, never shortened locally
	Status    HoldStatus `json:"status"`
}

// IsActive returns true while the hold still blocks the car
func (h *Hold) IsActive() bool {
	return h != nil && !h.Status.IsTerminal()
}

// ============================================================================
// HOLD RECORD (relay hold table)
// ============================================================================

// HoldRecord is a row of the holds table owned by the relay
type HoldRecord struct {
	BookingID string     `json:"booking_id" db:"booking_id"`
	Room      string     `json:"room" db:"room"`
	CarID     string     `json:"car_id" db:"car_id"`
	StartDate time.Time  `json:"start_date" db:"start_date"`
	EndDate   time.Time  `json:"end_date" db:"end_date"`
	Amount    float64    `json:"amount" db:"amount"`
	Currency  string     `json:"currency" db:"currency"`
	Status    HoldStatus `json:"status" db:"status"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	WarnedAt  *time.Time `json:"warned_at,omitempty" db:"warned_at"`

	PaymentStatus *PaymentStatus `json:"payment_status,omitempty" db:"payment_status"`
	PaymentID     *string        `json:"payment_id,omitempty" db:"payment_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ToHold converts a stored record to the client-facing hold
func (r *HoldRecord) ToHold() *Hold {
	return &Hold{
		BookingID: r.BookingID,
		CarID:     r.CarID,
		DateRange: DateRange{Start: r.StartDate, End: r.EndDate},
		ExpiresAt: r.ExpiresAt,
		Status:    r.Status,
	}
}

// CreateHoldRequest asks the reservation service to hold a car
type CreateHoldRequest struct {
	Room      string  `json:"room" binding:"required"`
	CarID     string  `json:"car_id" binding:"required"`
	StartDate string  `json:"start_date" binding:"required"` // "2026-02-01"
	EndDate   string  `json:"end_date" binding:"required"`   // "2026-02-03"
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

// CreateHoldResponse is returned by the reservation service
type CreateHoldResponse struct {
	BookingID  string    `json:"booking_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

// PaymentStatusResponse is returned when polling the verdict of a booking
type PaymentStatusResponse struct {
	BookingID string         `json:"booking_id"`
	Status    *PaymentStatus `json:"status,omitempty"` // nil while still pending
	PaymentID string         `json:"payment_id,omitempty"`
	Amount    float64        `json:"amount,omitempty"`
}
