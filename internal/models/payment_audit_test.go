package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeKey(t *testing.T) {
	assert.Equal(t, "stripe:BK-1:PI-1:paid", DedupeKey("stripe", "BK-1", "PI-1", PaymentStatusPaid))
	assert.NotEqual(t,
		DedupeKey("stripe", "BK-1", "PI-1", PaymentStatusPaid),
		DedupeKey("stripe", "BK-1", "PI-1", PaymentStatusFailed))
}

func TestPaymentAuditBuilder(t *testing.T) {
	audit := NewPaymentAudit(PaymentEventSuccess, PaymentSourceGatewayWebhook).
		ForPayment("BK-1", "").
		WithTransaction("").
		WithStatus(PaymentStatusPaid).
		WithPayload([]byte(`{"ok":true}`)).
		WithError(nil).
		WithKey("k")

	require.NotNil(t, audit.BookingID)
	assert.Equal(t, "BK-1", *audit.BookingID)
	assert.Nil(t, audit.PaymentID)
	assert.Nil(t, audit.TransactionID)
	assert.Nil(t, audit.ErrorMessage)
	assert.Equal(t, "paid", *audit.PaymentStatus)
	assert.Equal(t, `{"ok":true}`, *audit.Payload)
	assert.False(t, audit.IsDuplicate)

	audit.WithError(errors.New("boom")).Duplicate()
	assert.Equal(t, "boom", *audit.ErrorMessage)
	assert.True(t, audit.IsDuplicate)
}

func TestPaymentAudit_CompareAmounts(t *testing.T) {
	audit := NewPaymentAudit(PaymentEventSuccess, PaymentSourceRelay)

	assert.True(t, audit.CompareAmounts(300, 300.004, "usd"))
	assert.True(t, *audit.AmountsMatch)

	assert.False(t, audit.CompareAmounts(300, 250, "usd"))
	assert.False(t, *audit.AmountsMatch)
	assert.Equal(t, 300.0, *audit.ExpectedAmount)
	assert.Equal(t, 250.0, *audit.ReceivedAmount)
	assert.Equal(t, "usd", *audit.Currency)
}
