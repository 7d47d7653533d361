package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carrental/booking-hold/internal/config"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/sirupsen/logrus"
)

// CheckoutGateway integrates the hosted checkout IPG (signed JSON API)
type CheckoutGateway struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
}

// CheckoutPaymentRequest represents the request sent to the IPG.
// NOTE: merchantToken is NOT sent; it is only used for checkValue calculation.
type CheckoutPaymentRequest struct {
	MerchantKey string `json:"merchantKey"`

	// URLs
	LogoURL    string `json:"logoUrl,omitempty"`
	ReturnURL  string `json:"returnUrl"`
	CancelURL  string `json:"cancelUrl"`
	WebhookURL string `json:"webhookUrl,omitempty"`

	// Payment details
	PaymentType  int    `json:"paymentType"` // 1 = one-time
	InvoiceID    string `json:"invoiceId"`
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`

	OrderDescription string `json:"orderDescription,omitempty"`

	// Customer details
	CustomerFirstName   string `json:"customerFirstName"`
	CustomerLastName    string `json:"customerLastName"`
	CustomerEmail       string `json:"customerEmail"`
	CustomerMobilePhone string `json:"customerMobilePhone"`

	// Billing address
	BillingAddressStreet      string `json:"billingAddressStreet"`
	BillingAddressCity        string `json:"billingAddressCity"`
	BillingAddressCountry     string `json:"billingAddressCountry"`
	BillingAddressPostcodeZip string `json:"billingAddressPostcodeZip"`

	// Echoed back on the webhook
	Metadata map[string]string `json:"metadata,omitempty"`

	CheckValue string `json:"checkValue"`
}

// CheckoutPaymentResponse represents the response from the IPG
type CheckoutPaymentResponse struct {
	Status          string `json:"status"` // "success"/"PENDING" or "error"
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
	PaymentPage     string `json:"paymentPage"`
	Message         string `json:"message,omitempty"`
}

// CheckoutWebhookPayload represents the webhook payload from the IPG
type CheckoutWebhookPayload struct {
	Status        string            `json:"status"`
	UID           string            `json:"uid"`
	InvoiceID     string            `json:"invoiceId"`
	Amount        string            `json:"amount"`
	CurrencyCode  string            `json:"currencyCode"`
	PaymentStatus string            `json:"paymentStatus"` // "SUCCESS", "FAILED", "CANCELLED", "PENDING"
	TransactionID string            `json:"transactionId,omitempty"`
	StatusMessage string            `json:"statusMessage,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CheckValue    string            `json:"checkValue"`
}

// NewCheckoutGateway creates the IPG integration
func NewCheckoutGateway(cfg *config.PaymentConfig, logger *logrus.Logger) *CheckoutGateway {
	return &CheckoutGateway{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name identifies the provider in logs and audit rows
func (g *CheckoutGateway) Name() string {
	return config.ProviderCheckout
}

// GenerateCheckValue creates the SHA-512 checkValue
// Step 1: hash1 = SHA512(merchantToken) uppercase hex
// Step 2: hash2 = SHA512("merchantKey|invoiceId|amount|currencyCode|hash1") uppercase hex
func (g *CheckoutGateway) GenerateCheckValue(invoiceID, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(g.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		g.config.MerchantKey,
		invoiceID,
		amount,
		currencyCode,
		hash1Hex,
	)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// CreatePaymentIntent registers the payment and returns the hosted payment page
func (g *CheckoutGateway) CreatePaymentIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	bookingID := req.BookingID()
	amount := strconv.FormatFloat(req.Amount, 'f', 2, 64)
	currency := strings.ToUpper(req.Currency)

	returnURL, cancelURL, err := returnURLs(g.config.ReturnURL, g.config.CancelURL, bookingID)
	if err != nil {
		return nil, err
	}

	firstName, lastName := splitName(req.Billing.Name)
	if lastName == "" {
		lastName = "." // IPG requires a last name
	}

	request := &CheckoutPaymentRequest{
		MerchantKey:               g.config.MerchantKey,
		LogoURL:                   g.config.LogoURL,
		ReturnURL:                 returnURL,
		CancelURL:                 cancelURL,
		WebhookURL:                g.config.WebhookURL,
		PaymentType:               1,
		InvoiceID:                 bookingID,
		Amount:                    amount,
		CurrencyCode:              currency,
		OrderDescription:          fmt.Sprintf("Car rental %s", req.Metadata[models.MetadataCarID]),
		CustomerFirstName:         firstName,
		CustomerLastName:          lastName,
		CustomerEmail:             req.Billing.Email,
		CustomerMobilePhone:       req.Billing.Phone,
		BillingAddressStreet:      strings.TrimSpace(req.Billing.Address.Line1 + " " + req.Billing.Address.Line2),
		BillingAddressCity:        req.Billing.Address.City,
		BillingAddressCountry:     req.Billing.Address.Country,
		BillingAddressPostcodeZip: req.Billing.Address.PostalCode,
		Metadata:                  req.Metadata,
		CheckValue:                g.GenerateCheckValue(bookingID, amount, currency),
	}

	jsonBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"amount":     amount,
		"currency":   currency,
		"endpoint":   g.config.CheckoutAPIURL,
	}).Info("Initiating checkout payment")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.CheckoutAPIURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger.WithError(err).Error("Failed to call checkout endpoint")
		return nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"booking_id":  bookingID,
	}).Debug("Checkout response received")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var paymentResp CheckoutPaymentResponse
	if err := json.Unmarshal(body, &paymentResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// "PENDING" means the payment page is ready for the customer
	if paymentResp.Status != "success" && paymentResp.Status != "PENDING" {
		errMsg := paymentResp.Message
		if errMsg == "" {
			errMsg = fmt.Sprintf("status=%s", paymentResp.Status)
		}
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, errMsg)
	}

	if paymentResp.PaymentPage == "" {
		return nil, fmt.Errorf("%w: no payment page URL returned", ErrGatewayRejected)
	}

	g.logger.WithFields(logrus.Fields{
		"uid":        paymentResp.UID,
		"booking_id": bookingID,
	}).Info("Checkout payment initiated")

	return &models.PaymentIntent{
		ID:          paymentResp.UID,
		CheckoutURL: paymentResp.PaymentPage,
		Status:      paymentResp.Status,
	}, nil
}

// VerifyWebhook parses a webhook body and checks its checkValue
func (g *CheckoutGateway) VerifyWebhook(body []byte) (*CheckoutWebhookPayload, error) {
	var payload CheckoutWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	if payload.UID == "" || payload.InvoiceID == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrInvalidWebhook)
	}

	expected := g.GenerateCheckValue(payload.InvoiceID, payload.Amount, payload.CurrencyCode)
	if subtle.ConstantTimeCompare([]byte(strings.ToUpper(payload.CheckValue)), []byte(expected)) != 1 {
		return nil, fmt.Errorf("%w: check value mismatch", ErrInvalidWebhook)
	}

	g.logger.WithFields(logrus.Fields{
		"uid":            payload.UID,
		"invoice_id":     payload.InvoiceID,
		"payment_status": payload.PaymentStatus,
		"amount":         payload.Amount,
	}).Info("Webhook payload verified")

	return &payload, nil
}

// ParseWebhook verifies the body and maps it to a verdict
func (g *CheckoutGateway) ParseWebhook(body []byte, _ http.Header) (*WebhookVerdict, error) {
	payload, err := g.VerifyWebhook(body)
	if err != nil {
		return nil, err
	}

	amount, err := strconv.ParseFloat(payload.Amount, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q", ErrInvalidWebhook, payload.Amount)
	}

	verdict := &WebhookVerdict{
		BookingID:     payload.InvoiceID,
		PaymentID:     payload.UID,
		TransactionID: payload.TransactionID,
		Amount:        amount,
		Currency:      strings.ToLower(payload.CurrencyCode),
	}

	switch strings.ToUpper(payload.PaymentStatus) {
	case "SUCCESS":
		verdict.Status = models.PaymentStatusPaid
	case "FAILED", "CANCELLED":
		verdict.Status = models.PaymentStatusFailed
		verdict.Reason = strings.ToLower(payload.PaymentStatus)
		if payload.StatusMessage != "" {
			verdict.Reason = payload.StatusMessage
		}
	}

	return verdict, nil
}

// IsConfigured returns true if the gateway has merchant credentials
func (g *CheckoutGateway) IsConfigured() bool {
	return g.config.MerchantKey != "" && g.config.MerchantToken != ""
}

// splitName splits a full name into first and last name
func splitName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "Customer", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
