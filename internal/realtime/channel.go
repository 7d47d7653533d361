// Package realtime is the push channel between the relay and booking sessions.
// Events flow relay -> room, commands flow session -> relay.
package realtime

import (
	"context"
	"sync"

	"github.com/carrental/booking-hold/internal/models"
)

// Subscriber opens a stream of events for one room
type Subscriber interface {
	Subscribe(ctx context.Context, room string) (*Subscription, error)
}

// Publisher pushes an event to every subscriber of a room
type Publisher interface {
	Publish(ctx context.Context, room string, ev models.Event) error
}

// CommandSender emits client commands
type CommandSender interface {
	Send(ctx context.Context, cmd models.Command) error
}

// CommandHandler processes one command on the relay side
type CommandHandler func(ctx context.Context, cmd models.Command) error

// CommandConsumer delivers commands to a handler until ctx is cancelled
type CommandConsumer interface {
	Consume(ctx context.Context, handler CommandHandler) error
}

const subscriptionBuffer = 64

// Subscription is one listener on a room. Events are delivered in publish order.
type Subscription struct {
	room    string
	events  chan models.Event
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func newSubscription(room string, onClose func()) *Subscription {
	return &Subscription{
		room:    room,
		events:  make(chan models.Event, subscriptionBuffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Room returns the room this subscription listens on
func (s *Subscription) Room() string { return s.room }

// Events returns the event stream. It is never closed; watch Done.
func (s *Subscription) Events() <-chan models.Event { return s.events }

// Done is closed once the subscription ended
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// deliver blocks until the event is queued, the subscription closes or ctx ends
func (s *Subscription) deliver(ctx context.Context, ev models.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}
