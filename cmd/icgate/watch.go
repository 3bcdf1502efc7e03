package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/icgate/internal/client"
	"github.com/alfredjeanlab/icgate/internal/events"
	"github.com/alfredjeanlab/icgate/internal/model"
)

var watchCmd = &cobra.Command{
	Use:   "watch [deal-id]",
	Short: "Follow workflow events as they commit",
	Long: `Follow workflow events. With a NATS URL (--nats, ICGATE_NATS_URL or the
active remote) every committed action is printed as it is published.
Without one, watch polls the audit history of the given deal.`,
	GroupID: "views",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dealID := ""
		if len(args) == 1 {
			dealID = args[0]
		}
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = os.Getenv("ICGATE_NATS_URL")
		}
		if natsURL == "" {
			natsURL = activeRemote().NATSURL
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if natsURL != "" {
			return watchNATS(ctx, cmd.OutOrStdout(), natsURL, dealID)
		}
		if dealID == "" {
			return fmt.Errorf("polling needs a deal id; pass one or configure NATS")
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		since, _ := cmd.Flags().GetInt64("since")
		return watchPoll(ctx, cmd.OutOrStdout(), icClient, dealID, since, interval)
	},
}

// watchNATS prints every event on the workflow topics, optionally only
// those of one deal.
func watchNATS(ctx context.Context, w io.Writer, natsURL, dealID string) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if dealID != "" && msg.DealID != dealID {
				continue
			}
			printEvent(w, msg)
		}
	}
}

func printEvent(w io.Writer, msg events.Message) {
	if jsonOutput {
		fmt.Fprintln(w, string(msg.Data))
		return
	}
	fmt.Fprintf(w, "%s  %-28s %s #%d\n", time.Now().Format(timeLayout), msg.Topic, msg.DealID, msg.Seq)
	if msg.Topic == events.TopicGateAdvanced {
		var ev events.GateAdvanced
		if json.Unmarshal(msg.Data, &ev) == nil {
			fmt.Fprintf(w, "    %s -> %s by %s\n", ev.From.DisplayName(), ev.To.DisplayName(), ev.Actor)
		}
	}
}

// watchPoll prints new audit entries of one deal every interval.
func watchPoll(ctx context.Context, w io.Writer, c client.Client, dealID string, since int64, interval time.Duration) error {
	for {
		next, err := pollOnce(ctx, w, c, dealID, since)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		since = next

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// pollOnce prints every entry after since and returns the new cursor.
func pollOnce(ctx context.Context, w io.Writer, c client.Client, dealID string, since int64) (int64, error) {
	entries, err := fetchAudit(ctx, c, &client.AuditRequest{DealID: dealID, Since: since}, true)
	if err != nil {
		return since, err
	}
	if len(entries) == 0 {
		return since, nil
	}
	if jsonOutput {
		for _, e := range entries {
			data, _ := json.Marshal(e)
			fmt.Fprintln(w, string(data))
		}
	} else {
		printAuditTable(w, entries)
	}
	return lastSeq(entries, since), nil
}

func lastSeq(entries []*model.AuditEntry, fallback int64) int64 {
	if len(entries) == 0 {
		return fallback
	}
	return entries[len(entries)-1].Seq
}

func init() {
	watchCmd.Flags().String("nats", "", "NATS URL to subscribe to")
	watchCmd.Flags().Duration("interval", 5*time.Second, "polling interval without NATS")
	watchCmd.Flags().Int64("since", 0, "start polling after this sequence number")
}
