package store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type failingRepo struct {
	*MemoryRetryRepository
	saveErr   error
	deleteErr error
}

func (r *failingRepo) Save(ctx context.Context, room string, p *models.RetryPayload) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.MemoryRetryRepository.Save(ctx, room, p)
}

func (r *failingRepo) Delete(ctx context.Context, room string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.MemoryRetryRepository.Delete(ctx, room)
}

func sampleHold(expires time.Time) *models.Hold {
	return &models.Hold{
		BookingID: "bk_1",
		CarID:     "car_42",
		DateRange: models.DateRange{
			Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
		},
		ExpiresAt: expires,
		Status:    models.HoldStatusHeld,
	}
}

func samplePayload() *models.RetryPayload {
	req := models.IntentRequest{
		Amount:   500,
		Currency: "usd",
		Metadata: map[string]string{models.MetadataBookingID: "bk_1", models.MetadataCarID: "car_42"},
	}
	return models.NewRetryPayload(req, time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC))
}

func TestReduce(t *testing.T) {
	expires := time.Date(2026, 1, 30, 10, 15, 0, 0, time.UTC)

	t.Run("Status change never shortens expiry", func(t *testing.T) {
		s := Reduce(State{}, HoldAcquired{Hold: sampleHold(expires)})

		earlier := expires.Add(-5 * time.Minute)
		s = Reduce(s, HoldStatusChanged{Status: models.HoldStatusWarning, ExpiresAt: &earlier})
		assert.Equal(t, models.HoldStatusWarning, s.Hold.Status)
		assert.Equal(t, expires, s.Hold.ExpiresAt)

		later := expires.Add(5 * time.Minute)
		s = Reduce(s, HoldStatusChanged{Status: models.HoldStatusExtended, ExpiresAt: &later})
		assert.Equal(t, later, s.Hold.ExpiresAt)
	})

	t.Run("Terminal hold ignores further changes", func(t *testing.T) {
		s := Reduce(State{}, HoldAcquired{Hold: sampleHold(expires)})
		s = Reduce(s, HoldStatusChanged{Status: models.HoldStatusExpired})
		s = Reduce(s, HoldStatusChanged{Status: models.HoldStatusHeld})
		assert.Equal(t, models.HoldStatusExpired, s.Hold.Status)
	})

	t.Run("Status change without hold is a no-op", func(t *testing.T) {
		s := Reduce(State{}, HoldStatusChanged{Status: models.HoldStatusWarning})
		assert.Nil(t, s.Hold)
	})

	t.Run("Selecting another car drops the draft", func(t *testing.T) {
		s := Reduce(State{}, SetDraft{Draft: &models.BookingDraft{CarID: "car_42"}})
		s = Reduce(s, SelectCar{CarID: "car_42"})
		require.NotNil(t, s.Draft)

		s = Reduce(s, SelectCar{CarID: "car_7"})
		assert.Nil(t, s.Draft)
	})

	t.Run("ClearBooking keeps the retry payload", func(t *testing.T) {
		s := Reduce(State{}, SetDraft{Draft: &models.BookingDraft{CarID: "car_42"}})
		s = Reduce(s, HoldAcquired{Hold: sampleHold(expires)})
		s = Reduce(s, SaveRetryPayload{Payload: samplePayload()})
		s = Reduce(s, ClearBooking{Outcome: models.HoldStatusExpired})

		assert.Nil(t, s.Draft)
		assert.Nil(t, s.Hold)
		assert.NotNil(t, s.Retry)
		assert.Equal(t, models.HoldStatusExpired, s.Outcome)
	})

	t.Run("Input state is not mutated", func(t *testing.T) {
		s := Reduce(State{}, HoldAcquired{Hold: sampleHold(expires)})
		_ = Reduce(s, HoldStatusChanged{Status: models.HoldStatusWarning})
		assert.Equal(t, models.HoldStatusHeld, s.Hold.Status)
	})
}

func TestBookingStore_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Retry payload is persisted before returning", func(t *testing.T) {
		repo := NewMemoryRetryRepository()
		s := NewBookingStore("room-1", repo, testLogger())

		require.NoError(t, s.Dispatch(ctx, SaveRetryPayload{Payload: samplePayload()}))

		persisted, err := repo.Load(ctx, "room-1")
		require.NoError(t, err)
		require.NotNil(t, persisted)
		assert.Equal(t, "bk_1", persisted.Request.BookingID())
		assert.Equal(t, persisted, s.RetryPayload())
	})

	t.Run("Failed save leaves state unchanged", func(t *testing.T) {
		repo := &failingRepo{MemoryRetryRepository: NewMemoryRetryRepository(), saveErr: errors.New("redis down")}
		s := NewBookingStore("room-1", repo, testLogger())

		err := s.Dispatch(ctx, SaveRetryPayload{Payload: samplePayload()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to persist retry payload")
		assert.Nil(t, s.RetryPayload())
	})

	t.Run("Failed delete still clears local state", func(t *testing.T) {
		repo := &failingRepo{MemoryRetryRepository: NewMemoryRetryRepository()}
		s := NewBookingStore("room-1", repo, testLogger())
		require.NoError(t, s.Dispatch(ctx, SaveRetryPayload{Payload: samplePayload()}))

		repo.deleteErr = errors.New("redis down")
		require.NoError(t, s.Dispatch(ctx, ClearRetryPayload{}))
		assert.Nil(t, s.RetryPayload())
	})

	t.Run("Load restores persisted payload", func(t *testing.T) {
		repo := NewMemoryRetryRepository()
		require.NoError(t, repo.Save(ctx, "room-2", samplePayload()))

		s := NewBookingStore("room-2", repo, testLogger())
		require.NoError(t, s.Load(ctx))
		require.NotNil(t, s.RetryPayload())
		assert.Equal(t, 500.0, s.RetryPayload().Request.Amount)
	})

	t.Run("Snapshot is a copy", func(t *testing.T) {
		s := NewBookingStore("room-3", NewMemoryRetryRepository(), testLogger())
		require.NoError(t, s.Dispatch(ctx, HoldAcquired{Hold: sampleHold(time.Now())}))
		require.NoError(t, s.Dispatch(ctx, SaveRetryPayload{Payload: samplePayload()}))

		snap := s.Snapshot()
		snap.Hold.Status = models.HoldStatusReleased
		snap.Retry.Request.Metadata[models.MetadataBookingID] = "changed"

		assert.Equal(t, models.HoldStatusHeld, s.Hold().Status)
		assert.Equal(t, "bk_1", s.RetryPayload().Request.BookingID())
	})
}
