package models

import "time"

// SessionState is the lifecycle state of one import session.
type SessionState string

const (
	SessionNotStarted SessionState = "NOT_STARTED"
	SessionAnalyzing  SessionState = "ANALYZING"
	SessionPhase1     SessionState = "PHASE1_PERSISTING_MOVEMENTS"
	SessionPhase2     SessionState = "PHASE2_CALCULATING_SNAPSHOTS"
	SessionCompleted  SessionState = "COMPLETED"
	SessionFailed     SessionState = "FAILED"
	SessionCancelled  SessionState = "CANCELLED"
)

// IsTerminal reports whether the state is final. A session in a terminal
// state is never resumed.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// ImportSession tracks one attempted import of one file into one broker
// account. It is the unit of crash recovery: a non-terminal session found at
// startup is resumed rather than restarted.
type ImportSession struct {
	ID        string `json:"id"` // uuid
	AccountID int64  `json:"account_id"`

	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	FileHash string `json:"file_hash"` // sha256 of content, detects re-imports

	State SessionState `json:"state"`

	TotalChunks        int `json:"total_chunks"`
	ChunksCompleted    int `json:"chunks_completed"`
	MovementsPersisted int `json:"movements_persisted"`

	// Date bounds covering all transactions in the file.
	MinDate time.Time `json:"min_date"`
	MaxDate time.Time `json:"max_date"`

	CreatedAt       time.Time  `json:"created_at"`
	Phase1StartedAt *time.Time `json:"phase1_started_at,omitempty"`
	Phase2StartedAt *time.Time `json:"phase2_started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// ChunkState is the lifecycle state of one import chunk.
type ChunkState string

const (
	ChunkPending    ChunkState = "PENDING"
	ChunkInProgress ChunkState = "IN_PROGRESS"
	ChunkCompleted  ChunkState = "COMPLETED"
	ChunkFailed     ChunkState = "FAILED"
)

// ImportSessionChunk is one date-bounded slice of a session's work. The full
// chunk plan is persisted before chunk 0 starts, so a crash mid-import always
// leaves a complete, resumable plan.
type ImportSessionChunk struct {
	ID          int64      `json:"id,omitempty"`
	SessionID   string     `json:"session_id"`
	ChunkNumber int        `json:"chunk_number"` // contiguous from 0, defines processing order
	StartDate   time.Time  `json:"start_date"`   // inclusive
	EndDate     time.Time  `json:"end_date"`     // exclusive

	EstimatedMovements int        `json:"estimated_movements"`
	ActualMovements    int        `json:"actual_movements"`
	State              ChunkState `json:"state"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	DurationMs         int64      `json:"duration_ms,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// ImportStatus is the caller-facing view of the current import.
type ImportStatus struct {
	State     SessionState `json:"state"`
	SessionID string       `json:"session_id,omitempty"`
	FileName  string       `json:"file_name,omitempty"`

	TotalChunks        int `json:"total_chunks"`
	ChunksCompleted    int `json:"chunks_completed"`
	MovementsPersisted int `json:"movements_persisted"`
}
