package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingStore owns the draft, hold and retry payload of one room.
// All mutation goes through Dispatch; it is safe for concurrent use.
type BookingStore struct {
	room   string
	repo   RetryPayloadRepository
	logger *logrus.Logger

	mu    sync.RWMutex
	state State
}

// NewBookingStore creates a store for a room
func NewBookingStore(room string, repo RetryPayloadRepository, logger *logrus.Logger) *BookingStore {
	return &BookingStore{
		room:   room,
		repo:   repo,
		logger: logger,
	}
}

// Room returns the client identifier the store belongs to
func (s *BookingStore) Room() string {
	return s.room
}

// Load restores a persisted retry payload
func (s *BookingStore) Load(ctx context.Context) error {
	payload, err := s.repo.Load(ctx, s.room)
	if err != nil {
		return fmt.Errorf("failed to load retry payload: %w", err)
	}

	s.mu.Lock()
	s.state = Reduce(s.state, SaveRetryPayload{Payload: payload})
	s.mu.Unlock()

	if payload != nil {
		s.logger.WithFields(logrus.Fields{
			"room":       s.room,
			"booking_id": payload.Request.BookingID(),
		}).Info("Restored retry payload")
	}
	return nil
}

// Dispatch applies an action. Retry payload changes are persisted first;
// a failed save leaves the state untouched.
func (s *BookingStore) Dispatch(ctx context.Context, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch act := action.(type) {
	case SaveRetryPayload:
		if act.Payload == nil {
			return fmt.Errorf("retry payload cannot be nil")
		}
		if err := s.repo.Save(ctx, s.room, act.Payload); err != nil {
			return fmt.Errorf("failed to persist retry payload: %w", err)
		}
	case ClearRetryPayload:
		if err := s.repo.Delete(ctx, s.room); err != nil {
			// Local state is cleared anyway; a stale copy is only visible after a restart
			s.logger.WithError(err).WithField("room", s.room).Warn("Failed to delete persisted retry payload")
		}
	}

	s.state = Reduce(s.state, action)

	s.logger.WithFields(logrus.Fields{
		"room":   s.room,
		"action": action.actionName(),
	}).Debug("Booking store updated")

	return nil
}

// Snapshot returns a deep copy of the current state
func (s *BookingStore) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Draft returns a copy of the current draft, or nil
func (s *BookingStore) Draft() *models.BookingDraft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDraft(s.state.Draft)
}

// Hold returns a copy of the current hold, or nil
func (s *BookingStore) Hold() *models.Hold {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHold(s.state.Hold)
}

// RetryPayload returns a copy of the saved retry payload, or nil
func (s *BookingStore) RetryPayload() *models.RetryPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Retry.Clone()
}
