package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/carrental/booking-hold/internal/database"
	"github.com/carrental/booking-hold/internal/gateway"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/sirupsen/logrus"
)

var testStart = time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ============================================================================
// RESERVATION SERVICE
// ============================================================================

type fakeReservations struct {
	mu         sync.Mutex
	nextID     int
	ttl        time.Duration
	now        func() time.Time
	createErr  error
	releaseErr error
	created    []*models.CreateHoldRequest
	released   []string
	statuses   map[string]*models.PaymentStatusResponse
	statusErr  error
	lookups    int
}

func newFakeReservations(now func() time.Time) *fakeReservations {
	return &fakeReservations{
		ttl:      10 * time.Minute,
		now:      now,
		statuses: make(map[string]*models.PaymentStatusResponse),
	}
}

func (f *fakeReservations) CreateHold(_ context.Context, req *models.CreateHoldRequest) (*models.CreateHoldResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	f.created = append(f.created, req)
	return &models.CreateHoldResponse{
		BookingID:  fmt.Sprintf("BK-%d", f.nextID),
		ExpiresAt:  f.now().Add(f.ttl),
		TTLSeconds: int(f.ttl.Seconds()),
	}, nil
}

func (f *fakeReservations) ReleaseHold(_ context.Context, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, bookingID)
	return f.releaseErr
}

func (f *fakeReservations) PaymentStatus(_ context.Context, bookingID string) (*models.PaymentStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if resp, ok := f.statuses[bookingID]; ok {
		return resp, nil
	}
	return &models.PaymentStatusResponse{BookingID: bookingID}, nil
}

func (f *fakeReservations) setStatus(bookingID string, status models.PaymentStatus, paymentID string, amount float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[bookingID] = &models.PaymentStatusResponse{
		BookingID: bookingID,
		Status:    &status,
		PaymentID: paymentID,
		Amount:    amount,
	}
}

func (f *fakeReservations) setReleaseErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseErr = err
}

func (f *fakeReservations) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func (f *fakeReservations) Lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

// ============================================================================
// PAYMENT GATEWAY
// ============================================================================

type fakeGateway struct {
	mu       sync.Mutex
	requests []models.IntentRequest
	err      error
	entered  chan struct{}
	release  chan struct{}
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req.Clone())
	n := len(g.requests)
	err := g.err
	entered, release := g.entered, g.release
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("PI-%d", n)
	return &models.PaymentIntent{
		ID:          id,
		CheckoutURL: "https://pay.example.com/checkout/" + id,
		Status:      "open",
	}, nil
}

func (g *fakeGateway) setErr(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func (g *fakeGateway) Requests() []models.IntentRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.IntentRequest(nil), g.requests...)
}

// ============================================================================
// RELAY COLLABORATORS
// ============================================================================

type memHoldStore struct {
	mu    sync.Mutex
	holds map[string]*models.HoldRecord
	err   error
}

func newMemHoldStore() *memHoldStore {
	return &memHoldStore{holds: make(map[string]*models.HoldRecord)}
}

func isActiveStatus(s models.HoldStatus) bool {
	return s == models.HoldStatusHeld || s == models.HoldStatusWarning || s == models.HoldStatusExtended
}

func (m *memHoldStore) put(h *models.HoldRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.holds[h.BookingID] = &cp
}

func (m *memHoldStore) get(id string) *models.HoldRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}

func (m *memHoldStore) Create(_ context.Context, hold *models.HoldRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, h := range m.holds {
		overlaps := !h.StartDate.After(hold.EndDate) && !h.EndDate.Before(hold.StartDate)
		blocking := h.Status == models.HoldStatusConfirmed || (isActiveStatus(h.Status) && h.ExpiresAt.After(hold.CreatedAt))
		if h.CarID == hold.CarID && overlaps && blocking {
			return database.ErrHoldConflict
		}
	}
	cp := *hold
	m.holds[hold.BookingID] = &cp
	return nil
}

func (m *memHoldStore) GetByID(_ context.Context, id string) (*models.HoldRecord, error) {
	if h := m.get(id); h != nil {
		return h, nil
	}
	return nil, database.ErrNotFound
}

func (m *memHoldStore) filter(fn func(h *models.HoldRecord) bool) []*models.HoldRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.HoldRecord
	for _, h := range m.holds {
		if fn(h) {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (m *memHoldStore) ListActive(_ context.Context) ([]*models.HoldRecord, error) {
	return m.filter(func(h *models.HoldRecord) bool { return isActiveStatus(h.Status) }), nil
}

func (m *memHoldStore) ListDueForWarning(_ context.Context, now time.Time, lead time.Duration) ([]*models.HoldRecord, error) {
	return m.filter(func(h *models.HoldRecord) bool {
		return (h.Status == models.HoldStatusHeld || h.Status == models.HoldStatusExtended) &&
			h.WarnedAt == nil && h.ExpiresAt.After(now) && !h.ExpiresAt.After(now.Add(lead))
	}), nil
}

func (m *memHoldStore) ListExpired(_ context.Context, now time.Time) ([]*models.HoldRecord, error) {
	return m.filter(func(h *models.HoldRecord) bool {
		return isActiveStatus(h.Status) && !h.ExpiresAt.After(now)
	}), nil
}

func (m *memHoldStore) MarkWarned(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok || h.WarnedAt != nil || !(h.Status == models.HoldStatusHeld || h.Status == models.HoldStatusExtended) {
		return false, nil
	}
	h.Status = models.HoldStatusWarning
	h.WarnedAt = &at
	return true, nil
}

func (m *memHoldStore) setStatus(id string, status models.HoldStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok || !isActiveStatus(h.Status) {
		return false
	}
	h.Status = status
	return true
}

func (m *memHoldStore) MarkExpired(_ context.Context, id string, _ time.Time) (bool, error) {
	return m.setStatus(id, models.HoldStatusExpired), nil
}

func (m *memHoldStore) Release(_ context.Context, id string, _ time.Time) (bool, error) {
	return m.setStatus(id, models.HoldStatusReleased), nil
}

func (m *memHoldStore) ExtendByRoom(_ context.Context, room string, expiresAt, at time.Time) (*models.HoldRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.holds {
		if h.Room == room && isActiveStatus(h.Status) && h.ExpiresAt.After(at) {
			if expiresAt.After(h.ExpiresAt) {
				h.ExpiresAt = expiresAt
			}
			h.WarnedAt = nil
			h.Status = models.HoldStatusHeld
			cp := *h
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memHoldStore) RecordPaymentStatus(_ context.Context, id string, status models.PaymentStatus, paymentID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok {
		return database.ErrNotFound
	}
	h.PaymentStatus = &status
	h.PaymentID = &paymentID
	if status == models.PaymentStatusPaid && isActiveStatus(h.Status) {
		h.Status = models.HoldStatusConfirmed
	}
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (a *fakeAudit) Log(_ context.Context, audit *models.PaymentAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, audit)
	return nil
}

func (a *fakeAudit) CheckDuplicate(_ context.Context, eventType models.PaymentEventType, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.EventType == eventType && e.IdempotencyKey != nil && *e.IdempotencyKey == key && !e.IsDuplicate {
			return true, nil
		}
	}
	return false, nil
}

func (a *fakeAudit) count(eventType models.PaymentEventType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type queuedMessage struct {
	queue   string
	msgType string
	body    []byte
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []queuedMessage
	err      error
}

func (q *fakeQueue) Publish(_ context.Context, queue, msgType string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, queuedMessage{queue: queue, msgType: msgType, body: body})
	return nil
}

// fakeParser returns a fixed verdict regardless of the body
type fakeParser struct {
	verdict *gateway.WebhookVerdict
	err     error
}

func (p *fakeParser) Name() string { return "fake" }

func (p *fakeParser) ParseWebhook(_ []byte, _ http.Header) (*gateway.WebhookVerdict, error) {
	if p.err != nil {
		return nil, p.err
	}
	v := *p.verdict
	return &v, nil
}

var errNetwork = errors.New("connection refused")
