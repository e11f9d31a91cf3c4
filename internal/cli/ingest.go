package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/loyalty/internal/source/file"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Strict bool
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Submit events from a JSON-lines file",
		Long: `Submit every event in a JSON-lines file, in file order.

Each non-blank line is one event envelope; lines starting with '#' are
skipped. Use "-" to read from stdin. Invalid events and contract
violations are counted and skipped unless --strict is set.

Exit codes:
  0 - All lines processed
  1 - A line was rejected in strict mode
  2 - Command error (file not found, database error, etc.)

Example:
  loyalty ingest --db ./ledger.db events.jsonl
  cat events.jsonl | loyalty ingest --db ./ledger.db --strict -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "stop at the first rejected line")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open events file", err)
		}
		defer f.Close()
		r = f
	}

	ev, err := opts.openEnv(cmd, false)
	if err != nil {
		return err
	}
	defer ev.Close()

	in := file.NewIngester(ev.engine, ev.logger)
	in.Strict = opts.Strict

	stats, err := in.Ingest(commandContext(cmd), r)
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())

	var lineErr *file.LineError
	switch {
	case errors.As(err, &lineErr):
		return out.Fail(ExitFailure, CodeIngest, lineErr.Error(), stats, map[string]int{"line": lineErr.Line})
	case err != nil:
		return storeError(err)
	}

	return out.Success(stats, func(w io.Writer) {
		fmt.Fprintf(w, "Ingested %d line(s): %d applied, %d buffered, %d duplicate, %d dropped\n",
			stats.Lines, stats.Applied, stats.Buffered, stats.Duplicates, stats.Dropped)
		fmt.Fprintf(w, "  replayed from buffer: %d\n", stats.Replayed)
		if stats.Invalid > 0 || stats.Rejected > 0 {
			fmt.Fprintf(w, "  skipped: %d invalid, %d rejected\n", stats.Invalid, stats.Rejected)
		}
	})
}
