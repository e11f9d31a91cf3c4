package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/ledger"
)

// PointsOptions holds flags shared by the points and consume commands.
type PointsOptions struct {
	*RootOptions
	AsOf string
}

// PointsResult is the JSON payload of the points and consume commands.
type PointsResult struct {
	Customer        string    `json:"customer"`
	PointsAvailable int64     `json:"pointsAvailable"`
	Consumed        int64     `json:"consumed,omitempty"`
	AsOf            time.Time `json:"as_of"`
}

// NewPointsCommand creates the points command.
func NewPointsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PointsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "points <customer>",
		Short: "Show a customer's available points",
		Long: `Show the points a customer can redeem: the sum of unexpired awards.

Exit codes:
  0 - Customer found
  1 - Customer unknown or deleted
  2 - Command error

Example:
  loyalty points --db ./ledger.db c1
  loyalty points --db ./ledger.db c1 --as-of 2025-07-01T00:00:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoints(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "evaluate expiry at this RFC 3339 time (default now)")

	return cmd
}

// NewConsumeCommand creates the consume command.
func NewConsumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PointsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "consume <customer> <points>",
		Short: "Redeem points from a customer's oldest awards",
		Long: `Redeem points, oldest unexpired award first.

The redemption is all or nothing: with too few points available nothing
is deducted.

Exit codes:
  0 - Points redeemed
  1 - Customer unknown, invalid amount or insufficient points
  2 - Command error

Example:
  loyalty consume --db ./ledger.db c1 10`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsume(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "evaluate expiry at this RFC 3339 time (default now)")

	return cmd
}

func (o *PointsOptions) asOf() (time.Time, error) {
	if o.AsOf == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, o.AsOf)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "invalid --as-of", err)
	}
	return t.UTC(), nil
}

func runPoints(opts *PointsOptions, customer string, cmd *cobra.Command) error {
	asOf, err := opts.asOf()
	if err != nil {
		return err
	}
	ev, err := opts.openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer ev.Close()

	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())
	available, err := ev.engine.AvailablePoints(commandContext(cmd), customer, asOf)
	if err != nil {
		return queryFailure(out, customer, err)
	}

	result := PointsResult{Customer: customer, PointsAvailable: available, AsOf: asOf}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %d point(s) available\n", customer, available)
	})
}

func runConsume(opts *PointsOptions, customer, amount string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())

	points, err := strconv.ParseInt(amount, 10, 64)
	if err != nil || points <= 0 {
		return out.Fail(ExitFailure, CodeInvalidPoints, fmt.Sprintf("invalid points value %q", amount), nil, nil)
	}
	asOf, err := opts.asOf()
	if err != nil {
		return err
	}
	ev, err := opts.openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer ev.Close()

	remaining, err := ev.engine.Consume(commandContext(cmd), customer, points, asOf)
	if err != nil {
		return queryFailure(out, customer, err)
	}

	result := PointsResult{Customer: customer, PointsAvailable: remaining, Consumed: points, AsOf: asOf}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s: redeemed %d point(s), %d available\n", customer, points, remaining)
	})
}

// queryFailure reports a points query error. Domain errors exit 1, store
// errors exit 2.
func queryFailure(out *OutputFormatter, customer string, err error) error {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return out.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("customer %s not found", customer), nil, nil)
	case errors.Is(err, ledger.ErrInsufficientPoints):
		return out.Fail(ExitFailure, CodeInsufficient, "insufficient points", nil, nil)
	case errors.Is(err, ledger.ErrInvalidPoints):
		return out.Fail(ExitFailure, CodeInvalidPoints, "invalid points value", nil, nil)
	default:
		return storeError(err)
	}
}
