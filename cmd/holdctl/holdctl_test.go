package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarningEvent(t *testing.T) {
	ev, err := warningEvent(30, "")
	require.NoError(t, err)
	assert.Equal(t, 30, ev.SecondsRemaining)
	assert.Nil(t, ev.ExpiresAt)

	ev, err = warningEvent(30, "2026-02-01T10:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, ev.ExpiresAt)
	assert.True(t, ev.ExpiresAt.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)))

	_, err = warningEvent(0, "")
	assert.Error(t, err)

	_, err = warningEvent(30, "tomorrow")
	assert.Error(t, err)
}

func TestPaymentEvent(t *testing.T) {
	ev, err := paymentEvent("BK-1", "paid", "PI-1", 250, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, ev.Status)
	require.NotNil(t, ev.Amount)
	assert.Equal(t, 250.0, *ev.Amount)

	ev, err = paymentEvent("BK-1", "failed", "", 0, "card_declined")
	require.NoError(t, err)
	assert.Nil(t, ev.Amount)
	assert.Equal(t, "card_declined", ev.Reason)

	_, err = paymentEvent("BK-1", "pending", "", 0, "")
	assert.Error(t, err)
}

func TestFetchHolds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/holds", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"holds":[{"booking_id":"BK-1","room":"room-1","car_id":"C1","status":"held"}],"count":1}`))
	}))
	defer srv.Close()

	list, err := fetchHolds(context.Background(), srv.URL+"/api/v1/")
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Holds, 1)
	assert.Equal(t, "BK-1", list.Holds[0].BookingID)
}

func TestFetchHoldsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchHolds(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestPrintHolds(t *testing.T) {
	now := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)

	var empty bytes.Buffer
	require.NoError(t, printHolds(&empty, nil, now))
	assert.Equal(t, "No active holds\n", empty.String())

	var out bytes.Buffer
	require.NoError(t, printHolds(&out, []*models.HoldRecord{{
		BookingID: "BK-1",
		Room:      "room-1",
		CarID:     "C1",
		StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
		Status:    models.HoldStatusWarning,
		ExpiresAt: now.Add(90 * time.Second),
	}}, now))

	assert.Contains(t, out.String(), "BOOKING")
	assert.Contains(t, out.String(), "2026-02-01..2026-02-03")
	assert.Contains(t, out.String(), "1m30s")
}
