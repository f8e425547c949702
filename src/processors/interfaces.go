package processors

import (
	"context"
	"time"

	"github.com/username/binnaculum/backend/src/models"
)

// LinkResult is the option linker's output: the open/close pairings plus the
// full recomputed link state of every option movement it saw.
type LinkResult struct {
	Links   []models.OptionLink
	Updated []models.Movement
	// Unlinked counts closing legs that found no candidate opener. A warning,
	// not a failure: the opening leg may live in another account or file.
	Unlinked int
}

// OptionLinker matches each closing option transaction to the still-open
// opening transactions it closes, FIFO by transaction timestamp.
type OptionLinker interface {
	Link(movements []models.Movement) *LinkResult
}

// SnapshotEngine recomputes every daily snapshot from the dirty date through
// today, for every dependent entity, in dependency order.
type SnapshotEngine interface {
	Recompute(ctx context.Context, dirtyDate time.Time) error
}

// CurrencyAggregator reduces the per-currency snapshots of one entity and one
// date to a primary-plus-others record.
type CurrencyAggregator interface {
	Aggregate(snaps []models.DailySnapshot) (*models.FinancialRecord, error)
}

// NotificationSink is signaled exactly once per cascade run, after the run
// fully completes, so observers never read partially recomputed snapshots.
type NotificationSink interface {
	Notify(from, to time.Time)
}

// NopSink discards notifications.
type NopSink struct{}

func (NopSink) Notify(from, to time.Time) {}
