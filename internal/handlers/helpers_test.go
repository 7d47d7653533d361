package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/gateway"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRouter() (*gin.Engine, *gin.RouterGroup) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	return router, router.Group("/api/v1")
}

func setupTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// stubReservations grants every hold unless unavailable is set
type stubReservations struct {
	mu          sync.Mutex
	clock       clock.Clock
	next        int
	unavailable bool
	released    []string
}

func (s *stubReservations) CreateHold(_ context.Context, _ *models.CreateHoldRequest) (*models.CreateHoldResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, gateway.ErrCarUnavailable
	}
	s.next++
	return &models.CreateHoldResponse{
		BookingID:  fmt.Sprintf("BK-%d", s.next),
		ExpiresAt:  s.clock.Now().Add(10 * time.Minute),
		TTLSeconds: 600,
	}, nil
}

func (s *stubReservations) ReleaseHold(_ context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, bookingID)
	return nil
}

func (s *stubReservations) PaymentStatus(_ context.Context, bookingID string) (*models.PaymentStatusResponse, error) {
	return &models.PaymentStatusResponse{BookingID: bookingID}, nil
}

type stubGateway struct{}

func (stubGateway) CreatePaymentIntent(_ context.Context, req models.IntentRequest) (*models.PaymentIntent, error) {
	id := "PI-" + req.BookingID()
	return &models.PaymentIntent{ID: id, CheckoutURL: "https://pay.example.com/" + id, Status: "open"}, nil
}
