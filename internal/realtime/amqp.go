package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Queue names
const (
	HoldCommandQueue      = "hold.commands"
	BookingConfirmedQueue = "booking.confirmed"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// AMQPPublisher publishes persistent JSON messages to durable queues over a
// lazily dialled connection. A failed publish drops the connection so the
// next call redials.
type AMQPPublisher struct {
	url    string
	logger *logrus.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewAMQPPublisher creates a publisher; nothing is dialled until the first publish
func NewAMQPPublisher(url string, logger *logrus.Logger) *AMQPPublisher {
	return &AMQPPublisher{url: url, logger: logger, declared: make(map[string]bool)}
}

// Publish sends body to queue with the default exchange
func (p *AMQPPublisher) Publish(ctx context.Context, queue, msgType string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	if !p.declared[queue] {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			p.resetLocked()
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		p.declared[queue] = true
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         msgType,
		Body:         body,
	})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

func (p *AMQPPublisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	p.declared = make(map[string]bool)
}

// Close releases the connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// sleepBackoff waits d or until ctx ends; returns false when ctx ended
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d < maxBackoff {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
