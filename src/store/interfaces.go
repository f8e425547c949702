package store

import (
	"time"

	"github.com/username/binnaculum/backend/src/models"
)

// AccountStore manages the broker account registry.
type AccountStore interface {
	CreateAccount(a *models.BrokerAccount) error
	GetAccount(id int64) (*models.BrokerAccount, error)
	ListAccounts() ([]models.BrokerAccount, error)
}

// SessionStore persists import sessions. FindResumableSession returns the
// account's most recent session that can still be resumed (any state other
// than Completed or Cancelled), or nil.
type SessionStore interface {
	CreateSession(s *models.ImportSession) error
	UpdateSession(s *models.ImportSession) error
	GetSession(id string) (*models.ImportSession, error)
	FindResumableSession(accountID int64) (*models.ImportSession, error)
	FindSessionByFileHash(accountID int64, hash string) (*models.ImportSession, error)
}

// ChunkStore persists the chunk plan of a session. InsertChunks writes the
// whole plan in one transaction so a crash never leaves a partial plan.
type ChunkStore interface {
	InsertChunks(chunks []models.ImportSessionChunk) error
	// RunnableChunks returns the session's Pending and Failed chunks ordered
	// by chunk number. Completed chunks are never returned.
	RunnableChunks(sessionID string) ([]models.ImportSessionChunk, error)
	// ResetStaleChunks demotes InProgress chunks (crash artifacts) to Failed
	// so the runnable query picks them up again.
	ResetStaleChunks(sessionID string) (int, error)
	UpdateChunk(c *models.ImportSessionChunk) error
	ChunksForSession(sessionID string) ([]models.ImportSessionChunk, error)
}

// MovementStore persists canonical transactions as movements. InsertMovements
// runs in one transaction and silently skips rows whose (account, hash)
// already exists, so re-running a chunk never double-counts.
type MovementStore interface {
	InsertMovements(ms []models.Movement) (int, error)
	MovementsFrom(from time.Time) ([]models.Movement, error)
	OptionMovements(accountID int64) ([]models.Movement, error)
	// ExistingTickers returns the distinct non-empty tickers the account
	// already holds movements for.
	ExistingTickers(accountID int64) (map[string]bool, error)
	// ApplyOptionLinks persists the linker's output in one transaction: the
	// link rows plus the updated open/close state of the touched movements.
	ApplyOptionLinks(links []models.OptionLink, updated []models.Movement) error
}

// SnapshotStore persists daily snapshots. Writes happen only through the
// cascade engine; ReplaceSnapshotsForDate is all-or-nothing for one date.
type SnapshotStore interface {
	SnapshotsOnDate(date time.Time) ([]models.DailySnapshot, error)
	ReplaceSnapshotsForDate(date time.Time, snaps []models.DailySnapshot) error
	SnapshotsForEntity(level models.SnapshotLevel, ticker string, accountID int64, broker string, from, to time.Time) ([]models.DailySnapshot, error)
	LatestSnapshotDate() (time.Time, bool, error)
}

// Store is the full persistence surface consumed by the import engine.
type Store interface {
	AccountStore
	SessionStore
	ChunkStore
	MovementStore
	SnapshotStore
}
