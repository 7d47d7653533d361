package main

import (
	"context"
	"fmt"
	"time"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/realtime"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func eventCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Publish a room event over Redis",
	}
	cmd.AddCommand(warnCmd(opts))
	cmd.AddCommand(expireCmd(opts))
	cmd.AddCommand(paymentCmd(opts))
	return cmd
}

func warnCmd(opts *options) *cobra.Command {
	var seconds int
	var extendTo string

	cmd := &cobra.Command{
		Use:   "warn [room]",
		Short: "Send hold_warning to a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := warningEvent(seconds, extendTo)
			if err != nil {
				return err
			}
			return publish(cmd.Context(), opts, args[0], ev)
		},
	}

	cmd.Flags().IntVarP(&seconds, "seconds", "s", 60, "Seconds remaining shown in the prompt")
	cmd.Flags().StringVar(&extendTo, "expires-at", "", "Optional new expiry (RFC3339)")
	return cmd
}

func expireCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "expire [room]",
		Short: "Send hold_expired to a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return publish(cmd.Context(), opts, args[0], models.HoldExpired{})
		},
	}
}

func paymentCmd(opts *options) *cobra.Command {
	var (
		status    string
		paymentID string
		amount    float64
		reason    string
	)

	cmd := &cobra.Command{
		Use:   "payment [room] [booking-id]",
		Short: "Send payment_status_updated to a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := paymentEvent(args[1], status, paymentID, amount, reason)
			if err != nil {
				return err
			}
			return publish(cmd.Context(), opts, args[0], ev)
		},
	}

	cmd.Flags().StringVar(&status, "status", "paid", "Payment status (paid, failed)")
	cmd.Flags().StringVar(&paymentID, "payment-id", "", "Gateway payment id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Settled amount, omitted when zero")
	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason")
	return cmd
}

func warningEvent(seconds int, expiresAt string) (models.HoldWarning, error) {
	if seconds <= 0 {
		return models.HoldWarning{}, fmt.Errorf("seconds must be positive, got %d", seconds)
	}
	ev := models.HoldWarning{SecondsRemaining: seconds}
	if expiresAt != "" {
		t, err := time.Parse(time.RFC3339, expiresAt)
		if err != nil {
			return models.HoldWarning{}, fmt.Errorf("invalid --expires-at: %w", err)
		}
		ev.ExpiresAt = &t
	}
	return ev, nil
}

func paymentEvent(bookingID, status, paymentID string, amount float64, reason string) (models.PaymentStatusUpdated, error) {
	ps := models.PaymentStatus(status)
	if ps != models.PaymentStatusPaid && ps != models.PaymentStatusFailed {
		return models.PaymentStatusUpdated{}, fmt.Errorf("status must be paid or failed, got %q", status)
	}
	ev := models.PaymentStatusUpdated{
		BookingID: bookingID,
		Status:    ps,
		PaymentID: paymentID,
		Reason:    reason,
	}
	if amount > 0 {
		ev.Amount = &amount
	}
	return ev, nil
}

func publish(ctx context.Context, opts *options, room string, ev models.Event) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.redisAddr,
		Password: opts.redisPass,
		DB:       opts.redisDB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bus := realtime.NewRedisBus(rdb, quietLogger())
	if err := bus.Publish(ctx, room, ev); err != nil {
		return err
	}
	fmt.Printf("Published %s to %s\n", ev.EventType(), realtime.RoomChannel(room))
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}
