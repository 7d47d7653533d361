package realtime

import (
	"context"
	"fmt"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const roomChannelPrefix = "room:"

// RoomChannel returns the pub/sub channel name of a room
func RoomChannel(room string) string {
	return roomChannelPrefix + room
}

// RedisBus carries room events over Redis pub/sub so the relay and the
// session gateway can run as separate processes
type RedisBus struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// NewRedisBus creates a bus on an existing client
func NewRedisBus(rdb *redis.Client, logger *logrus.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, logger: logger}
}

// Publish sends ev to the room channel
func (b *RedisBus) Publish(ctx context.Context, room string, ev models.Event) error {
	data, err := EncodeEvent(room, ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, RoomChannel(room), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.EventType(), err)
	}
	return nil
}

// Subscribe listens on the room channel. The subscription is confirmed
// before returning so no event published afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context, room string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, RoomChannel(room))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to room %s: %w", room, err)
	}

	sub := newSubscription(room, func() { _ = ps.Close() })
	go b.pump(ps, sub)
	return sub, nil
}

func (b *RedisBus) pump(ps *redis.PubSub, sub *Subscription) {
	defer sub.Close()

	for msg := range ps.Channel() {
		msgRoom, ev, err := DecodeEvent([]byte(msg.Payload))
		if err != nil {
			b.logger.WithError(err).WithField("channel", msg.Channel).Warn("Dropping undecodable event")
			continue
		}
		if msgRoom != "" && msgRoom != sub.Room() {
			continue
		}
		if !sub.deliver(context.Background(), ev) {
			return
		}
	}
}
