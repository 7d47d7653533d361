package realtime

import (
	"context"
	"sync"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	hubCommandBuffer = 256
	sentHistory      = 64 // commands kept for Sent
)

// Hub is an in-process channel implementing every role.
// Used when CHANNEL_TRANSPORT=memory and in tests.
type Hub struct {
	logger *logrus.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	commands chan models.Command
	sentMu   sync.Mutex
	sent     []models.Command
}

// NewHub creates an empty hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:   logger,
		subs:     make(map[string]map[*Subscription]struct{}),
		commands: make(chan models.Command, hubCommandBuffer),
	}
}

// Subscribe registers a listener on room
func (h *Hub) Subscribe(_ context.Context, room string) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(room, func() { h.remove(room, sub) })

	h.mu.Lock()
	if h.subs[room] == nil {
		h.subs[room] = make(map[*Subscription]struct{})
	}
	h.subs[room][sub] = struct{}{}
	h.mu.Unlock()

	return sub, nil
}

func (h *Hub) remove(room string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[room], sub)
	if len(h.subs[room]) == 0 {
		delete(h.subs, room)
	}
}

// Subscribers returns how many listeners a room has
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[room])
}

// Publish delivers ev to every current subscriber of room
func (h *Hub) Publish(ctx context.Context, room string, ev models.Event) error {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[room]))
	for sub := range h.subs[room] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(ctx, ev)
	}

	h.logger.WithFields(logrus.Fields{
		"room":        room,
		"event":       ev.EventType(),
		"subscribers": len(targets),
	}).Debug("Event published")

	return ctx.Err()
}

// Send queues a command for Consume
func (h *Hub) Send(ctx context.Context, cmd models.Command) error {
	h.sentMu.Lock()
	if len(h.sent) == sentHistory {
		copy(h.sent, h.sent[1:])
		h.sent = h.sent[:sentHistory-1]
	}
	h.sent = append(h.sent, cmd)
	h.sentMu.Unlock()

	select {
	case h.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent returns the most recent commands, oldest first
func (h *Hub) Sent() []models.Command {
	h.sentMu.Lock()
	defer h.sentMu.Unlock()
	out := make([]models.Command, len(h.sent))
	copy(out, h.sent)
	return out
}

// Consume hands queued commands to handler until ctx is cancelled
func (h *Hub) Consume(ctx context.Context, handler CommandHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-h.commands:
			if err := handler(ctx, cmd); err != nil {
				h.logger.WithError(err).WithField("command", cmd.CommandType()).Warn("Command handler failed")
			}
		}
	}
}
