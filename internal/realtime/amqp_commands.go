package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/carrental/booking-hold/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// AMQPCommands carries client commands over the durable hold.commands queue
type AMQPCommands struct {
	url       string
	publisher *AMQPPublisher
	logger    *logrus.Logger
}

// NewAMQPCommands creates a sender/consumer pair on one broker
func NewAMQPCommands(url string, publisher *AMQPPublisher, logger *logrus.Logger) *AMQPCommands {
	return &AMQPCommands{url: url, publisher: publisher, logger: logger}
}

// Send publishes cmd
func (a *AMQPCommands) Send(ctx context.Context, cmd models.Command) error {
	body, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return a.publisher.Publish(ctx, HoldCommandQueue, string(cmd.CommandType()), body)
}

// Consume dials the broker and hands every command to handler, reconnecting
// with exponential backoff until ctx is cancelled
func (a *AMQPCommands) Consume(ctx context.Context, handler CommandHandler) error {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := amqp.Dial(a.url)
		if err != nil {
			a.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("Command consumer failed to dial broker")
			if !sleepBackoff(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff

		err = a.consumeLoop(ctx, conn, handler)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		a.logger.WithError(err).Warn("Command consume loop ended, reconnecting")
		if !sleepBackoff(ctx, 2*initialBackoff) {
			return nil
		}
	}
}

func (a *AMQPCommands) consumeLoop(ctx context.Context, conn *amqp.Connection, handler CommandHandler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		a.logger.WithError(err).Warn("Failed to set QoS")
	}

	if _, err := ch.QueueDeclare(HoldCommandQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(HoldCommandQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	a.logger.WithField("queue", HoldCommandQueue).Info("Command consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			cmd, err := DecodeCommand(d.Body)
			if err != nil {
				a.logger.WithError(err).Warn("Rejecting undecodable command")
				_ = d.Nack(false, false)
				continue
			}
			if err := handler(ctx, cmd); err != nil {
				// Not requeued; a lost extend is corrected by the next warning or expiry
				a.logger.WithError(err).WithField("command", cmd.CommandType()).Warn("Command handler failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
