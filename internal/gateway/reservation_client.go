package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCarUnavailable is returned when another customer holds the car for the range
	ErrCarUnavailable = errors.New("car is not available for the requested dates")
	// ErrHoldNotFound is returned when the reservation service does not know a booking
	ErrHoldNotFound = errors.New("hold not found")
)

// ReservationClient talks to the reservation service's hold API
type ReservationClient struct {
	baseURL string
	logger  *logrus.Logger
	client  *http.Client
}

// NewReservationClient creates a client for baseURL (scheme://host[:port])
func NewReservationClient(baseURL string, logger *logrus.Logger) *ReservationClient {
	return &ReservationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateHold claims a car for a date range
func (c *ReservationClient) CreateHold(ctx context.Context, req *models.CreateHoldRequest) (*models.CreateHoldResponse, error) {
	var resp models.CreateHoldResponse
	status, err := c.do(ctx, http.MethodPost, "/api/v1/holds", req, &resp)
	if err != nil {
		if status == http.StatusConflict {
			return nil, ErrCarUnavailable
		}
		return nil, fmt.Errorf("failed to create hold: %w", err)
	}
	return &resp, nil
}

// ReleaseHold gives a hold back. Releasing an unknown or finished hold is not an error.
func (c *ReservationClient) ReleaseHold(ctx context.Context, bookingID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/api/v1/holds/"+url.PathEscape(bookingID), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return fmt.Errorf("failed to release hold: %w", err)
	}
	return nil
}

// PaymentStatus returns the recorded gateway verdict of a booking; Status is nil while pending
func (c *ReservationClient) PaymentStatus(ctx context.Context, bookingID string) (*models.PaymentStatusResponse, error) {
	var resp models.PaymentStatusResponse
	status, err := c.do(ctx, http.MethodGet, "/api/v1/holds/"+url.PathEscape(bookingID)+"/payment-status", nil, &resp)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, ErrHoldNotFound
		}
		return nil, fmt.Errorf("failed to fetch payment status: %w", err)
	}
	return &resp, nil
}

// do performs a JSON request and returns the HTTP status alongside any error
func (c *ReservationClient) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
	}).Debug("Reservation service call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return resp.StatusCode, fmt.Errorf("reservation service returned status %d: %s", resp.StatusCode, msg)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
