package services

import (
	"context"
	"io"
	"time"

	"github.com/username/binnaculum/backend/src/models"
)

// ImportService runs the two-phase import pipeline: parse and persist
// movements chunk by chunk, then recompute the snapshot cascade. At most one
// import runs at a time; starting a new one cancels and waits out the
// previous run.
type ImportService interface {
	// ImportFile stages the uploaded file (csv or zip of csvs), creates an
	// import session and processes it to a terminal state. It blocks until
	// the session completes, fails or is cancelled.
	ImportFile(ctx context.Context, accountID int64, fileName string, file io.Reader) (*models.ImportResult, error)
	// ResumeImport picks up the account's non-terminal session, re-running
	// only its Pending and Failed chunks, then phase 2.
	ResumeImport(ctx context.Context, accountID int64) (*models.ImportResult, error)
	// CancelImport requests cancellation of the running import. It reports
	// whether there was anything to cancel; the import itself stops at the
	// next chunk boundary.
	CancelImport() bool
	IsImportInProgress() bool
	// CurrentStatus reports the running import's progress, or the last known
	// state when nothing is running.
	CurrentStatus() *models.ImportStatus
}

// SnapshotService is the read side of the snapshot store: per-entity
// financial records with the multi-currency reduction applied, cached until
// the next cascade run touches them.
type SnapshotService interface {
	// FinancialRecordOn returns the entity's record for the given date.
	FinancialRecordOn(level models.SnapshotLevel, ticker string, accountID int64, broker string, date time.Time) (*models.FinancialRecord, error)
	// LatestFinancialRecord returns the entity's record for the most recent
	// snapshotted date.
	LatestFinancialRecord(level models.SnapshotLevel, ticker string, accountID int64, broker string) (*models.FinancialRecord, error)
	// FinancialSeries returns one record per snapshotted date in [from, to].
	FinancialSeries(level models.SnapshotLevel, ticker string, accountID int64, broker string, from, to time.Time) ([]models.FinancialRecord, error)
	// Notify implements the cascade's notification sink; it drops cached
	// records so readers never see stale aggregates.
	Notify(from, to time.Time)
}
