package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/carrental/booking-hold/internal/models"
	"github.com/carrental/booking-hold/internal/realtime"
	"github.com/spf13/cobra"
)

func extendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "extend [room]",
		Short: "Send extend_hold for a room over RabbitMQ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			publisher := realtime.NewAMQPPublisher(opts.rabbitmqURL, quietLogger())
			defer publisher.Close()

			commands := realtime.NewAMQPCommands(opts.rabbitmqURL, publisher, quietLogger())
			if err := commands.Send(ctx, models.ExtendHold{Room: args[0]}); err != nil {
				return err
			}
			fmt.Printf("Sent extend_hold for %s\n", args[0])
			return nil
		},
	}
}

type holdList struct {
	Holds []*models.HoldRecord `json:"holds"`
	Count int                  `json:"count"`
}

func holdsCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "holds",
		Short: "List active holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := fetchHolds(cmd.Context(), opts.apiURL)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			return printHolds(os.Stdout, list.Holds, time.Now())
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func fetchHolds(ctx context.Context, apiURL string) (*holdList, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/holds", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list holds: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("failed to list holds: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list holdList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode holds: %w", err)
	}
	return &list, nil
}

func printHolds(w io.Writer, holds []*models.HoldRecord, now time.Time) error {
	if len(holds) == 0 {
		_, err := fmt.Fprintln(w, "No active holds")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BOOKING\tROOM\tCAR\tDATES\tSTATUS\tEXPIRES IN")
	for _, h := range holds {
		remaining := h.ExpiresAt.Sub(now).Truncate(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s..%s\t%s\t%s\n",
			h.BookingID, h.Room, h.CarID,
			h.StartDate.Format("2006-01-02"), h.EndDate.Format("2006-01-02"),
			h.Status, remaining)
	}
	return tw.Flush()
}
