package store

import (
	"time"

	"github.com/carrental/booking-hold/internal/models"
)

// State is everything a booking session remembers about the customer's booking
type State struct {
	Draft *models.BookingDraft `json:"draft,omitempty"`
	Hold  *models.Hold         `json:"hold,omitempty"`
	Retry *models.RetryPayload `json:"retry_payload,omitempty"`

	// Outcome is the terminal status of the last hold that was cleared
	Outcome models.HoldStatus `json:"outcome,omitempty"`
}

// Action is a state transition request handled by Reduce
type Action interface {
	actionName() string
}

// SelectCar records the car the customer is looking at; a different car drops the draft
type SelectCar struct{ CarID string }

// SetDraft replaces the booking draft
type SetDraft struct{ Draft *models.BookingDraft }

// HoldAcquired records the hold granted by the reservation service
type HoldAcquired struct{ Hold *models.Hold }

// HoldStatusChanged moves the active hold to a new status.
// ExpiresAt is applied only when it extends the current expiry.
type HoldStatusChanged struct {
	Status    models.HoldStatus
	ExpiresAt *time.Time
}

// ClearBooking drops draft and hold once the hold reached a terminal status
type ClearBooking struct{ Outcome models.HoldStatus }

// SaveRetryPayload stores the snapshot of a dispatched payment attempt
type SaveRetryPayload struct{ Payload *models.RetryPayload }

// ClearRetryPayload forgets the last payment attempt
type ClearRetryPayload struct{}

func (SelectCar) actionName() string         { return "select_car" }
func (SetDraft) actionName() string          { return "set_draft" }
func (HoldAcquired) actionName() string      { return "hold_acquired" }
func (HoldStatusChanged) actionName() string { return "hold_status_changed" }
func (ClearBooking) actionName() string      { return "clear_booking" }
func (SaveRetryPayload) actionName() string  { return "save_retry_payload" }
func (ClearRetryPayload) actionName() string { return "clear_retry_payload" }

// Reduce computes the next state. It never mutates s.
func Reduce(s State, a Action) State {
	next := s.clone()

	switch act := a.(type) {
	case SelectCar:
		if next.Draft != nil && next.Draft.CarID != act.CarID {
			next.Draft = nil
		}

	case SetDraft:
		next.Draft = cloneDraft(act.Draft)
		next.Outcome = ""

	case HoldAcquired:
		next.Hold = cloneHold(act.Hold)
		next.Outcome = ""

	case HoldStatusChanged:
		if next.Hold == nil || next.Hold.Status.IsTerminal() {
			return next
		}
		next.Hold.Status = act.Status
		if act.ExpiresAt != nil && act.ExpiresAt.After(next.Hold.ExpiresAt) {
			next.Hold.ExpiresAt = *act.ExpiresAt
		}

	case ClearBooking:
		next.Draft = nil
		next.Hold = nil
		next.Outcome = act.Outcome

	case SaveRetryPayload:
		next.Retry = act.Payload.Clone()

	case ClearRetryPayload:
		next.Retry = nil
	}

	return next
}

func (s State) clone() State {
	return State{
		Draft:   cloneDraft(s.Draft),
		Hold:    cloneHold(s.Hold),
		Retry:   s.Retry.Clone(),
		Outcome: s.Outcome,
	}
}

func cloneDraft(d *models.BookingDraft) *models.BookingDraft {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

func cloneHold(h *models.Hold) *models.Hold {
	if h == nil {
		return nil
	}
	out := *h
	return &out
}
