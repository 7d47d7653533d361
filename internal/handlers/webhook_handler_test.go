package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/database"
	"github.com/carrental/booking-hold/internal/gateway"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/realtime"
	"github.com/carrental/booking-hold/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedParser trusts bodies that carry the test signature header
type signedParser struct{}

func (signedParser) Name() string { return "test" }

func (signedParser) ParseWebhook(body []byte, header http.Header) (*gateway.WebhookVerdict, error) {
	if header.Get("X-Test-Signature") != "ok" {
		return nil, gateway.ErrInvalidWebhook
	}
	var payload struct {
		BookingID string  `json:"booking_id"`
		PaymentID string  `json:"payment_id"`
		Status    string  `json:"status"`
		Amount    float64 `json:"amount"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, gateway.ErrInvalidWebhook
	}
	return &gateway.WebhookVerdict{
		BookingID: payload.BookingID,
		PaymentID: payload.PaymentID,
		Status:    models.PaymentStatus(payload.Status),
		Amount:    payload.Amount,
		Currency:  "usd",
	}, nil
}

func setupWebhookRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *realtime.Hub) {
	t.Helper()
	db, mock := setupTestDB(t)
	hub := realtime.NewHub(testLogger())
	relay := services.NewPaymentRelayService(
		signedParser{},
		database.NewHoldRepository(db),
		database.NewPaymentAuditRepository(db, testLogger()),
		hub,
		nil,
		clock.NewFake(testNow),
		testLogger(),
	)
	router, v1 := newTestRouter()
	v1.POST("/payments/webhook", NewWebhookHandler(relay, testLogger()).HandleWebhook)
	return router, mock, hub
}

func postWebhook(router *gin.Engine, body string, signed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(body))
	if signed {
		req.Header.Set("X-Test-Signature", "ok")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_PaidIsRelayed(t *testing.T) {
	router, mock, hub := setupWebhookRouter(t)
	sub, err := hub.Subscribe(context.Background(), "room-a")
	require.NoError(t, err)
	defer sub.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_audits`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT (.+) FROM holds WHERE booking_id = \$1`).
		WithArgs("BK-1").
		WillReturnRows(holdRow("BK-1", "room-a", nil))
	mock.ExpectExec(`UPDATE holds\s+SET payment_status`).
		WithArgs("BK-1", "paid", "PI-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

	w := postWebhook(router, `{"booking_id":"BK-1","payment_id":"PI-1","status":"paid","amount":300}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, true, result["relayed"])

	select {
	case ev := <-sub.Events():
		update, ok := ev.(models.PaymentStatusUpdated)
		require.True(t, ok)
		assert.Equal(t, models.PaymentStatusPaid, update.Status)
		assert.Equal(t, "PI-1", update.PaymentID)
	case <-time.After(2 * time.Second):
		t.Fatal("payment_status_updated was not published")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookHandler_Rejections(t *testing.T) {
	t.Run("Unsigned body", func(t *testing.T) {
		router, mock, _ := setupWebhookRouter(t)
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		w := postWebhook(router, `{"booking_id":"BK-1"}`, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown booking is acknowledged", func(t *testing.T) {
		router, mock, _ := setupWebhookRouter(t)
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_audits`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE booking_id = \$1`).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		w := postWebhook(router, `{"booking_id":"BK-404","payment_id":"PI-1","status":"failed"}`, true)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "acknowledged", decode(t, w)["status"])
	})

	t.Run("Storage failure asks for redelivery", func(t *testing.T) {
		router, mock, _ := setupWebhookRouter(t)
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_audits`).
			WillReturnError(sql.ErrConnDone)

		w := postWebhook(router, `{"booking_id":"BK-1","payment_id":"PI-1","status":"paid","amount":300}`, true)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
