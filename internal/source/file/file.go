// Package file reads loyalty events from JSON-lines files.
//
// Each non-blank line is one webhook envelope. Lines starting with '#' are
// comments.
package file

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
)

// maxLineBytes bounds a single envelope.
const maxLineBytes = 1 << 20

// Stats counts what happened to the lines of one file.
type Stats struct {
	Lines      int `json:"lines"`
	Applied    int `json:"applied"`
	Buffered   int `json:"buffered"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
	Replayed   int `json:"replayed"`
	Invalid    int `json:"invalid"`
	Rejected   int `json:"rejected"`
}

// LineError reports a line that could not be processed.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Lines calls fn with every non-blank, non-comment line of r. Line numbers
// start at 1. Iteration stops at the first error returned by fn.
func Lines(r io.Reader, fn func(line int, data []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	n := 0
	for sc.Scan() {
		n++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 || data[0] == '#' {
			continue
		}
		if err := fn(n, data); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read line %d: %w", n+1, err)
	}
	return nil
}

// Ingester submits file events to an engine.
type Ingester struct {
	engine *engine.Engine
	logger *slog.Logger
	// Strict stops at the first invalid event or contract violation.
	Strict bool
}

// NewIngester creates an Ingester over e.
func NewIngester(e *engine.Engine, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{engine: e, logger: logger}
}

// Ingest submits every event in r in file order.
//
// Invalid lines and contract violations are counted and logged. They become
// a *LineError when Strict is set. Store failures always stop ingestion.
func (in *Ingester) Ingest(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	err := Lines(r, func(line int, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Lines++

		ev, err := event.Decode(data)
		if err != nil {
			stats.Invalid++
			in.logger.Warn("skipping invalid line", "line", line, "error", err)
			if in.Strict {
				return &LineError{Line: line, Err: err}
			}
			return nil
		}

		out, err := in.engine.Submit(ctx, ev)
		stats.Replayed += out.Replayed
		switch {
		case err == nil:
		case engine.IsContractError(err):
			stats.Rejected++
			in.logger.Error("event rejected", "line", line, "event", ev.String(), "error", err)
			if in.Strict {
				return &LineError{Line: line, Err: err}
			}
			return nil
		default:
			return &LineError{Line: line, Err: err}
		}

		switch out.Classification {
		case event.InOrder:
			stats.Applied++
		case event.OutOfOrder:
			stats.Buffered++
		case event.Duplicate:
			stats.Duplicates++
		case event.Drop:
			stats.Dropped++
		}
		return nil
	})
	return stats, err
}
