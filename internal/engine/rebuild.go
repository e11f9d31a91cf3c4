package engine

import (
	"cmp"
	"context"
	"slices"

	"github.com/roach88/loyalty/internal/event"
)

// RebuildStats counts what happened to each event during a rebuild.
type RebuildStats struct {
	Events     int `json:"events"`
	Applied    int `json:"applied"`
	Buffered   int `json:"buffered"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
	Replayed   int `json:"replayed"`
	Rejected   int `json:"rejected"`
}

// Rebuild feeds inbox entries, in receipt order, through a fresh engine
// over target. Contract violations are counted in Rejected and do not stop
// the rebuild; any other error does.
//
// The inbox must not be set in opts, or the rebuild would re-record every
// event.
func Rebuild(ctx context.Context, entries []InboxEntry, target Store, opts ...Option) (RebuildStats, error) {
	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(a, b InboxEntry) int { return cmp.Compare(a.Receipt, b.Receipt) })

	e := New(target, opts...)
	e.inbox = nil

	var stats RebuildStats
	for _, entry := range ordered {
		stats.Events++
		out, err := e.Submit(ctx, entry.Event)
		stats.Replayed += out.Replayed
		if err != nil {
			if IsContractError(err) {
				stats.Rejected++
				continue
			}
			return stats, err
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
	}
	return stats, nil
}
