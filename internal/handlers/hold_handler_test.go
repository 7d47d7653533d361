package handlers

import (
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/database"
	"github.com/carrental/booking-hold/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var holdColumns = []string{
	"booking_id", "room", "car_id", "start_date", "end_date", "amount", "currency",
	"status", "expires_at", "warned_at", "payment_status", "payment_id", "created_at", "updated_at",
}

func holdRow(bookingID, room string, paymentStatus interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(holdColumns).AddRow(
		bookingID, room, "C1",
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
		300.0, "usd", "held", testNow.Add(10*time.Minute), nil, paymentStatus, nil, testNow, testNow,
	)
}

func setupHoldRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := setupTestDB(t)
	svc := services.NewHoldService(database.NewHoldRepository(db), 10*time.Minute, clock.NewFake(testNow), testLogger())
	router, v1 := newTestRouter()
	NewHoldHandler(svc, testLogger()).RegisterRoutes(v1)
	return router, mock
}

const holdBody = `{"room":"room-1","car_id":"C1","start_date":"2026-02-01","end_date":"2026-02-03","amount":300,"currency":"usd"}`

func TestHoldHandler_CreateHold(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		router, mock := setupHoldRouter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM holds`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`INSERT INTO holds`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := doJSON(router, http.MethodPost, "/api/v1/holds", holdBody)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		body := decode(t, w)
		assert.NotEmpty(t, body["booking_id"])
		assert.Equal(t, 600.0, body["ttl_seconds"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Conflict", func(t *testing.T) {
		router, mock := setupHoldRouter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM holds`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		w := doJSON(router, http.MethodPost, "/api/v1/holds", holdBody)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Missing fields", func(t *testing.T) {
		router, _ := setupHoldRouter(t)

		w := doJSON(router, http.MethodPost, "/api/v1/holds", `{"room":"room-1"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Inverted dates", func(t *testing.T) {
		router, _ := setupHoldRouter(t)

		w := doJSON(router, http.MethodPost, "/api/v1/holds",
			`{"room":"room-1","car_id":"C1","start_date":"2026-02-03","end_date":"2026-02-01"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHoldHandler_ReleaseHold(t *testing.T) {
	t.Run("Released", func(t *testing.T) {
		router, mock := setupHoldRouter(t)
		mock.ExpectExec(`UPDATE holds SET status = 'released'`).
			WithArgs("BK-1", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := doJSON(router, http.MethodDelete, "/api/v1/holds/BK-1", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Unknown booking", func(t *testing.T) {
		router, mock := setupHoldRouter(t)
		mock.ExpectExec(`UPDATE holds SET status = 'released'`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE booking_id = \$1`).
			WithArgs("BK-404").
			WillReturnError(sql.ErrNoRows)

		w := doJSON(router, http.MethodDelete, "/api/v1/holds/BK-404", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHoldHandler_PaymentStatus(t *testing.T) {
	t.Run("Paid", func(t *testing.T) {
		router, mock := setupHoldRouter(t)
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE booking_id = \$1`).
			WithArgs("BK-1").
			WillReturnRows(holdRow("BK-1", "room-1", "paid"))

		w := doJSON(router, http.MethodGet, "/api/v1/holds/BK-1/payment-status", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "paid", body["status"])
		assert.Equal(t, 300.0, body["amount"])
	})

	t.Run("Pending", func(t *testing.T) {
		router, mock := setupHoldRouter(t)
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE booking_id = \$1`).
			WillReturnRows(holdRow("BK-1", "room-1", nil))

		w := doJSON(router, http.MethodGet, "/api/v1/holds/BK-1/payment-status", "")
		require.Equal(t, http.StatusOK, w.Code)
		_, hasStatus := decode(t, w)["status"]
		assert.False(t, hasStatus)
	})

	t.Run("Unknown booking", func(t *testing.T) {
		router, mock := setupHoldRouter(t)
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE booking_id = \$1`).
			WillReturnError(sql.ErrNoRows)

		w := doJSON(router, http.MethodGet, "/api/v1/holds/BK-404/payment-status", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHoldHandler_ListActive(t *testing.T) {
	router, mock := setupHoldRouter(t)
	mock.ExpectQuery(`SELECT (.+) FROM holds\s+WHERE status IN`).
		WillReturnRows(holdRow("BK-1", "room-1", nil))

	w := doJSON(router, http.MethodGet, "/api/v1/holds", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["count"])
}
