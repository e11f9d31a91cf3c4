package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	Sweep bool
}

// PendingEntry is one buffered event in the pending report.
type PendingEntry struct {
	Key        string    `json:"key"`
	Sequence   int64     `json:"sequence"`
	Event      string    `json:"event"`
	BufferedAt time.Time `json:"buffered_at"`
}

// PendingResult is the JSON payload of the pending command.
type PendingResult struct {
	Stats   engine.PendingStats `json:"stats"`
	Events  []PendingEntry      `json:"events"`
	Evicted int                 `json:"evicted,omitempty"`
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List buffered out-of-order events",
		Long: `List events waiting in the buffer for an earlier event to arrive.

With --sweep, events older than buffer.retention are evicted first.

Example:
  loyalty pending --db ./ledger.db
  loyalty pending --db ./ledger.db --config ./loyalty.cue --sweep`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Sweep, "sweep", false, "evict events older than buffer.retention first")

	return cmd
}

func runPending(opts *PendingOptions, cmd *cobra.Command) error {
	ev, err := opts.openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer ev.Close()

	ctx := commandContext(cmd)
	var result PendingResult

	if opts.Sweep {
		evicted, err := ev.engine.SweepExpired(ctx)
		if err != nil {
			return storeError(err)
		}
		result.Evicted = len(evicted)
	}

	result.Stats, err = ev.engine.BufferStats(ctx)
	if err != nil {
		return storeError(err)
	}
	pending, err := ev.store.PendingEvents(ctx)
	if err != nil {
		return storeError(err)
	}
	result.Events = make([]PendingEntry, 0, len(pending))
	for _, p := range pending {
		result.Events = append(result.Events, PendingEntry{
			Key:        p.Key.String(),
			Sequence:   p.Sequence,
			Event:      p.Event.String(),
			BufferedAt: p.BufferedAt.UTC(),
		})
	}

	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())
	return out.Success(result, func(w io.Writer) { writePendingText(w, result) })
}

func writePendingText(w io.Writer, result PendingResult) {
	if result.Evicted > 0 {
		fmt.Fprintf(w, "Evicted %d expired event(s)\n", result.Evicted)
	}
	if result.Stats.Total == 0 {
		fmt.Fprintln(w, "No buffered events.")
		return
	}

	fmt.Fprintf(w, "%d buffered event(s), oldest %s\n", result.Stats.Total, result.Stats.Oldest.UTC().Format(time.RFC3339))
	for _, lane := range []event.Lane{event.LaneCustomer, event.LanePlacement, event.LaneOrder} {
		if n := result.Stats.ByLane[lane]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", lane, n)
		}
	}
	fmt.Fprintln(w)
	for _, p := range result.Events {
		fmt.Fprintf(w, "%s #%d %s (since %s)\n", p.Key, p.Sequence, p.Event, p.BufferedAt.Format(time.RFC3339))
	}
}
