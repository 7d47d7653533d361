package services

import (
	"sync"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/models"
	"github.com/sirupsen/logrus"
)

// Prompter shows the blocking hold-expiry prompt
type Prompter interface {
	OpenPrompt(secondsRemaining int)
	UpdatePrompt(secondsRemaining int)
	ClosePrompt()
}

// Navigator moves the client to another view or an external page
type Navigator interface {
	Navigate(route models.Route)
}

// Notifier surfaces a user-visible failure message
type Notifier interface {
	NotifyError(message string)
}

const (
	listenerBuffer = 32
	historyLimit   = 256
)

// ViewOutbox turns UI instructions into ViewUpdates and fans them out to
// stream listeners. A late listener first receives the latest update.
type ViewOutbox struct {
	clock  clock.Clock
	logger *logrus.Logger

	mu        sync.Mutex
	listeners map[int]chan models.ViewUpdate
	nextID    int
	history   []models.ViewUpdate
	closed    bool
}

// NewViewOutbox creates an outbox with no listeners
func NewViewOutbox(clk clock.Clock, logger *logrus.Logger) *ViewOutbox {
	return &ViewOutbox{
		clock:     clk,
		logger:    logger,
		listeners: make(map[int]chan models.ViewUpdate),
	}
}

// OpenPrompt shows the hold expiry prompt
func (o *ViewOutbox) OpenPrompt(secondsRemaining int) {
	n := secondsRemaining
	o.publish(models.ViewUpdate{Kind: models.ViewPromptOpen, SecondsRemaining: &n})
}

// UpdatePrompt refreshes the prompt countdown
func (o *ViewOutbox) UpdatePrompt(secondsRemaining int) {
	n := secondsRemaining
	o.publish(models.ViewUpdate{Kind: models.ViewPromptUpdate, SecondsRemaining: &n})
}

// ClosePrompt dismisses the prompt
func (o *ViewOutbox) ClosePrompt() {
	o.publish(models.ViewUpdate{Kind: models.ViewPromptClose})
}

// Navigate sends the customer to route
func (o *ViewOutbox) Navigate(route models.Route) {
	r := route
	o.publish(models.ViewUpdate{Kind: models.ViewNavigate, Route: &r, URL: route.String()})
}

// NotifyError shows a customer-facing error message
func (o *ViewOutbox) NotifyError(message string) {
	o.publish(models.ViewUpdate{Kind: models.ViewError, Message: message})
}

func (o *ViewOutbox) publish(update models.ViewUpdate) {
	update.At = o.clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	o.history = append(o.history, update)
	if len(o.history) > historyLimit {
		o.history = o.history[len(o.history)-historyLimit:]
	}

	for id, ch := range o.listeners {
		select {
		case ch <- update:
		default:
			o.logger.WithFields(logrus.Fields{
				"listener": id,
				"kind":     update.Kind,
			}).Warn("View listener is slow, dropping update")
		}
	}
}

// Listen registers a stream listener. The returned cancel func must be called
// once the listener goes away. The channel is closed when the outbox closes.
func (o *ViewOutbox) Listen() (<-chan models.ViewUpdate, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan models.ViewUpdate, listenerBuffer)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	if n := len(o.history); n > 0 {
		ch <- o.history[n-1]
	}

	id := o.nextID
	o.nextID++
	o.listeners[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if c, ok := o.listeners[id]; ok {
				delete(o.listeners, id)
				close(c)
			}
		})
	}
}

// Listeners returns the number of connected listeners
func (o *ViewOutbox) Listeners() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.listeners)
}

// History returns the retained updates, oldest first
func (o *ViewOutbox) History() []models.ViewUpdate {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.ViewUpdate, len(o.history))
	copy(out, o.history)
	return out
}

// Navigations returns every navigation target in order
func (o *ViewOutbox) Navigations() []models.Route {
	var routes []models.Route
	for _, u := range o.History() {
		if u.Kind == models.ViewNavigate && u.Route != nil {
			routes = append(routes, *u.Route)
		}
	}
	return routes
}

// LastNavigation returns the most recent navigation, or nil
func (o *ViewOutbox) LastNavigation() *models.Route {
	routes := o.Navigations()
	if len(routes) == 0 {
		return nil
	}
	return &routes[len(routes)-1]
}

// Close ends every listener stream
func (o *ViewOutbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for id, ch := range o.listeners {
		delete(o.listeners, id)
		close(ch)
	}
}
