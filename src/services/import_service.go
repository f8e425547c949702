package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/models"
	"github.com/username/binnaculum/backend/src/parsers"
	"github.com/username/binnaculum/backend/src/processors"
	"github.com/username/binnaculum/backend/src/store"
	"github.com/username/binnaculum/backend/src/utils"
)

type importServiceImpl struct {
	store      store.Store
	linker     processors.OptionLinker
	cascade    processors.SnapshotEngine
	scratchDir string
	chunkLimit int

	mu        sync.Mutex
	running   *runningImport
	lastRunID string
}

// runningImport is the cancellation handle of the import in flight.
// Cancellation is observed at chunk boundaries, never mid-chunk, so a
// cancelled session still has only fully persisted chunks.
type runningImport struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewImportService creates a new instance of ImportService.
func NewImportService(st store.Store, linker processors.OptionLinker, cascade processors.SnapshotEngine, scratchDir string, chunkLimit int) ImportService {
	return &importServiceImpl{
		store:      st,
		linker:     linker,
		cascade:    cascade,
		scratchDir: scratchDir,
		chunkLimit: chunkLimit,
	}
}

func (s *importServiceImpl) ImportFile(ctx context.Context, accountID int64, fileName string, file io.Reader) (*models.ImportResult, error) {
	startTime := time.Now()
	logger.L.Info("ImportFile START", "accountID", accountID, "fileName", fileName)

	staged, err := stageUpload(s.scratchDir, fileName, file)
	if err != nil {
		return failedResult(startTime, err), err
	}

	prior, err := s.store.FindSessionByFileHash(accountID, staged.FileHash)
	if err != nil {
		staged.Cleanup()
		return failedResult(startTime, err), fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if prior != nil {
		if prior.State == models.SessionCompleted {
			staged.Cleanup()
			logger.L.Info("Duplicate import rejected", "accountID", accountID, "sessionID", prior.ID, "hash", staged.FileHash)
			return nil, fmt.Errorf("%w: session %s", ErrDuplicateImport, prior.ID)
		}
		if !prior.State.IsTerminal() || prior.State == models.SessionFailed {
			staged.Cleanup()
			return nil, fmt.Errorf("%w: resumable session %s exists for this file", ErrImportInProgress, prior.ID)
		}
	}

	parsed, perFile, parseErrs := s.parseStaged(staged)
	if len(parsed) == 0 {
		staged.Cleanup()
		result := failedResult(startTime, ErrParsingFailed)
		result.PerFileResults = perFile
		result.Errors = parseErrs
		return result, fmt.Errorf("%w: no parseable transactions", ErrParsingFailed)
	}

	runCtx, finish := s.acquireRunSlot(ctx)
	defer finish()

	session, err := s.createSession(accountID, fileName, staged, parsed)
	if err != nil {
		staged.Cleanup()
		return failedResult(startTime, err), err
	}
	s.setRunningSession(session.ID)

	result, err := s.processSession(runCtx, session, staged, parsed)
	result.PerFileResults = perFile
	result.Errors = append(parseErrs, result.Errors...)
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return result, err
}

func (s *importServiceImpl) ResumeImport(ctx context.Context, accountID int64) (*models.ImportResult, error) {
	startTime := time.Now()

	session, err := s.store.FindResumableSession(accountID)
	if err != nil {
		return failedResult(startTime, err), fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if session == nil {
		return nil, ErrNoResumableSession
	}
	logger.L.Info("Resuming import session", "sessionID", session.ID, "state", session.State,
		"chunksCompleted", session.ChunksCompleted, "totalChunks", session.TotalChunks)

	staged, err := restageUpload(session.FilePath)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			s.markFailed(session, "source file no longer on disk")
		}
		return failedResult(startTime, err), err
	}
	if staged.FileHash != session.FileHash {
		err := fmt.Errorf("%w: staged file hash does not match session", ErrValidationFailed)
		s.markFailed(session, err.Error())
		return failedResult(startTime, err), err
	}

	if demoted, err := s.store.ResetStaleChunks(session.ID); err != nil {
		return failedResult(startTime, err), fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	} else if demoted > 0 {
		logger.L.Warn("Demoted stale in-progress chunks", "sessionID", session.ID, "count", demoted)
	}

	parsed, perFile, parseErrs := s.parseStaged(staged)

	runCtx, finish := s.acquireRunSlot(ctx)
	defer finish()
	s.setRunningSession(session.ID)

	// A failed session is revived into phase 1 so the terminal-state guards
	// on the transition helpers apply to the new run.
	if session.State != models.SessionPhase2 {
		now := time.Now().UTC()
		session.State = models.SessionPhase1
		session.LastError = ""
		session.FinishedAt = nil
		if session.Phase1StartedAt == nil {
			session.Phase1StartedAt = &now
		}
		if err := s.store.UpdateSession(session); err != nil {
			return failedResult(startTime, err), fmt.Errorf("%w: reviving session: %v", ErrPersistenceFailed, err)
		}
	}

	// A session that failed before its chunk plan was written restarts the
	// planning step; the plan insert is all-or-nothing so this never
	// duplicates chunks.
	if session.TotalChunks == 0 {
		if err := s.planAndPersistChunks(session, parsed); err != nil {
			s.markFailed(session, err.Error())
			return failedResult(startTime, err), err
		}
	}

	result, err := s.processSession(runCtx, session, staged, parsed)
	result.PerFileResults = perFile
	result.Errors = append(parseErrs, result.Errors...)
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return result, err
}

func (s *importServiceImpl) CancelImport() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return false
	}
	logger.L.Info("Cancellation requested", "sessionID", s.running.sessionID)
	s.running.cancel()
	return true
}

func (s *importServiceImpl) IsImportInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running != nil
}

func (s *importServiceImpl) CurrentStatus() *models.ImportStatus {
	s.mu.Lock()
	id := s.lastRunID
	if s.running != nil {
		id = s.running.sessionID
	}
	s.mu.Unlock()

	if id == "" {
		return &models.ImportStatus{State: models.SessionNotStarted}
	}
	session, err := s.store.GetSession(id)
	if err != nil || session == nil {
		return &models.ImportStatus{State: models.SessionNotStarted}
	}
	return &models.ImportStatus{
		State:              session.State,
		SessionID:          session.ID,
		FileName:           session.FileName,
		TotalChunks:        session.TotalChunks,
		ChunksCompleted:    session.ChunksCompleted,
		MovementsPersisted: session.MovementsPersisted,
	}
}

// acquireRunSlot cancels any import in flight, waits for it to stop at its
// next chunk boundary and installs this run as the current one.
func (s *importServiceImpl) acquireRunSlot(ctx context.Context) (context.Context, func()) {
	s.mu.Lock()
	for s.running != nil {
		prior := s.running
		logger.L.Info("New import supersedes running one, cancelling", "sessionID", prior.sessionID)
		prior.cancel()
		s.mu.Unlock()
		<-prior.done
		s.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &runningImport{cancel: cancel, done: make(chan struct{})}
	s.running = run
	s.mu.Unlock()

	finish := func() {
		cancel()
		s.mu.Lock()
		if s.running == run {
			s.lastRunID = run.sessionID
			s.running = nil
		}
		s.mu.Unlock()
		close(run.done)
	}
	return runCtx, finish
}

func (s *importServiceImpl) setRunningSession(id string) {
	s.mu.Lock()
	if s.running != nil {
		s.running.sessionID = id
	}
	s.mu.Unlock()
}

// parseStaged parses every csv of the staged upload, collecting the canonical
// transactions and per-file row errors.
func (s *importServiceImpl) parseStaged(staged *StagedUpload) ([]models.CanonicalTransaction, []models.FileImportResult, []models.ImportError) {
	var parsed []models.CanonicalTransaction
	var perFile []models.FileImportResult
	var importErrs []models.ImportError

	parser, err := parsers.GetParser("canonical")
	if err != nil {
		return nil, nil, []models.ImportError{{Message: err.Error()}}
	}

	for _, f := range staged.Files {
		fileResult := models.FileImportResult{FileName: f.Name}
		content, err := openStagedFile(f.Path)
		if err != nil {
			fileResult.Errors = append(fileResult.Errors, models.ImportError{Message: err.Error()})
			perFile = append(perFile, fileResult)
			continue
		}
		res, err := parser.Parse(content)
		content.Close()
		if err != nil {
			fileResult.Errors = append(fileResult.Errors, models.ImportError{Message: err.Error()})
			perFile = append(perFile, fileResult)
			continue
		}
		for _, re := range res.RowErrors {
			e := models.ImportError{Message: re.Reason, LineNumber: re.Line}
			fileResult.Errors = append(fileResult.Errors, e)
			importErrs = append(importErrs, e)
		}
		fileResult.ProcessedRecords = len(res.Transactions)
		parsed = append(parsed, res.Transactions...)
		perFile = append(perFile, fileResult)
	}
	return parsed, perFile, importErrs
}

func (s *importServiceImpl) createSession(accountID int64, fileName string, staged *StagedUpload, parsed []models.CanonicalTransaction) (*models.ImportSession, error) {
	minDate, maxDate := dateBounds(parsed)
	session := &models.ImportSession{
		ID:        uuid.NewString(),
		AccountID: accountID,
		FileName:  fileName,
		FilePath:  staged.OriginalPath,
		FileHash:  staged.FileHash,
		State:     models.SessionAnalyzing,
		MinDate:   minDate,
		MaxDate:   maxDate,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(session); err != nil {
		// The partial unique index allows one non-terminal session per account.
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
			return nil, fmt.Errorf("%w: another session is active for account %d", ErrImportInProgress, accountID)
		}
		return nil, fmt.Errorf("%w: creating session: %v", ErrPersistenceFailed, err)
	}

	if err := s.planAndPersistChunks(session, parsed); err != nil {
		s.markFailed(session, err.Error())
		return nil, err
	}
	s.advancePhase(session, models.SessionPhase1)
	return session, nil
}

// planAndPersistChunks writes the full chunk plan before any chunk runs, so a
// crash at any later point leaves a complete plan to resume from.
func (s *importServiceImpl) planAndPersistChunks(session *models.ImportSession, parsed []models.CanonicalTransaction) error {
	chunks := planChunks(session.ID, parsed, s.chunkLimit)
	if err := s.store.InsertChunks(chunks); err != nil {
		return fmt.Errorf("%w: persisting chunk plan: %v", ErrPersistenceFailed, err)
	}
	session.TotalChunks = len(chunks)
	if err := s.store.UpdateSession(session); err != nil {
		return fmt.Errorf("%w: updating session: %v", ErrPersistenceFailed, err)
	}
	logger.L.Info("Chunk plan persisted", "sessionID", session.ID, "chunks", len(chunks),
		"movements", len(parsed), "chunkLimit", s.chunkLimit)
	return nil
}

// processSession drives a session from its current state to a terminal one:
// runnable chunks first, then option linking, then the snapshot cascade.
func (s *importServiceImpl) processSession(ctx context.Context, session *models.ImportSession, staged *StagedUpload, parsed []models.CanonicalTransaction) (*models.ImportResult, error) {
	result := &models.ImportResult{SessionID: session.ID, ProcessedRecords: len(parsed)}

	newTickers, err := s.countNewTickers(session.AccountID, parsed)
	if err != nil {
		logger.L.Warn("Could not count new tickers", "sessionID", session.ID, "error", err)
	}

	runnable, err := s.store.RunnableChunks(session.ID)
	if err != nil {
		s.markFailed(session, err.Error())
		result.Resumable = true
		return result, fmt.Errorf("%w: loading runnable chunks: %v", ErrPersistenceFailed, err)
	}

	for i := range runnable {
		chunk := &runnable[i]
		if err := ctx.Err(); err != nil {
			s.markCancelled(session)
			staged.Cleanup()
			return result, fmt.Errorf("%w: before chunk %d", ErrImportCancelled, chunk.ChunkNumber)
		}
		inserted, err := s.runChunk(session, chunk, parsed)
		if err != nil {
			s.markFailed(session, err.Error())
			result.Resumable = true
			return result, err
		}
		session.ChunksCompleted++
		session.MovementsPersisted += inserted
		if err := s.store.UpdateSession(session); err != nil {
			s.markFailed(session, err.Error())
			result.Resumable = true
			return result, fmt.Errorf("%w: updating session progress: %v", ErrPersistenceFailed, err)
		}
	}

	if err := s.relinkOptions(session.AccountID); err != nil {
		s.markFailed(session, err.Error())
		result.Resumable = true
		return result, err
	}

	s.advancePhase(session, models.SessionPhase2)
	if err := s.cascade.Recompute(ctx, session.MinDate); err != nil {
		if errors.Is(err, context.Canceled) {
			s.markCancelled(session)
			staged.Cleanup()
			return result, fmt.Errorf("%w: during snapshot recompute", ErrImportCancelled)
		}
		s.markFailed(session, err.Error())
		result.Resumable = true
		return result, err
	}

	s.markCompleted(session)
	staged.Cleanup()

	result.Success = true
	result.ImportedCounts = countByKind(parsed, newTickers)
	logger.L.Info("Import session completed", "sessionID", session.ID,
		"chunks", session.ChunksCompleted, "movementsPersisted", session.MovementsPersisted)
	return result, nil
}

// runChunk persists one chunk's movements in a single transaction. Rows whose
// dedupe hash already exists are skipped, so re-running a chunk after a crash
// never double-counts.
func (s *importServiceImpl) runChunk(session *models.ImportSession, chunk *models.ImportSessionChunk, parsed []models.CanonicalTransaction) (int, error) {
	started := time.Now().UTC()
	chunk.State = models.ChunkInProgress
	chunk.StartedAt = &started
	chunk.Error = ""
	if err := s.store.UpdateChunk(chunk); err != nil {
		return 0, fmt.Errorf("%w: marking chunk %d in progress: %v", ErrPersistenceFailed, chunk.ChunkNumber, err)
	}

	movements := movementsForChunk(session.AccountID, chunk, parsed)
	inserted, err := s.store.InsertMovements(movements)
	finished := time.Now().UTC()
	chunk.FinishedAt = &finished
	chunk.DurationMs = finished.Sub(started).Milliseconds()

	if err != nil {
		chunk.State = models.ChunkFailed
		chunk.Error = err.Error()
		if uerr := s.store.UpdateChunk(chunk); uerr != nil {
			logger.L.Error("Failed to record chunk failure", "sessionID", session.ID, "chunk", chunk.ChunkNumber, "error", uerr)
		}
		return 0, fmt.Errorf("%w: chunk %d: %v", ErrPersistenceFailed, chunk.ChunkNumber, err)
	}

	chunk.State = models.ChunkCompleted
	chunk.ActualMovements = inserted
	if err := s.store.UpdateChunk(chunk); err != nil {
		return 0, fmt.Errorf("%w: marking chunk %d completed: %v", ErrPersistenceFailed, chunk.ChunkNumber, err)
	}
	logger.L.Debug("Chunk completed", "sessionID", session.ID, "chunk", chunk.ChunkNumber,
		"inserted", inserted, "of", len(movements), "durationMs", chunk.DurationMs)
	return inserted, nil
}

// relinkOptions recomputes the account's option pairings from scratch. The
// linker's output is a pure function of the movement history, so running it
// after every import converges to the same state.
func (s *importServiceImpl) relinkOptions(accountID int64) error {
	options, err := s.store.OptionMovements(accountID)
	if err != nil {
		return fmt.Errorf("%w: loading option movements: %v", ErrPersistenceFailed, err)
	}
	if len(options) == 0 {
		return nil
	}
	linkRes := s.linker.Link(options)
	if err := s.store.ApplyOptionLinks(linkRes.Links, linkRes.Updated); err != nil {
		return fmt.Errorf("%w: applying option links: %v", ErrPersistenceFailed, err)
	}
	logger.L.Info("Option linking applied", "accountID", accountID,
		"links", len(linkRes.Links), "unlinked", linkRes.Unlinked)
	return nil
}

func (s *importServiceImpl) countNewTickers(accountID int64, parsed []models.CanonicalTransaction) (int, error) {
	existing, err := s.store.ExistingTickers(accountID)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	for _, tx := range parsed {
		t := tx.Ticker
		if tx.TransactionType == models.TypeOption {
			t = tx.Underlying
		}
		if t != "" && !existing[t] {
			seen[t] = true
		}
	}
	return len(seen), nil
}

// State transitions. Each is idempotent: a session already terminal stays as
// it is, so racing cancel/fail/complete paths cannot flip a final state.

func (s *importServiceImpl) advancePhase(session *models.ImportSession, state models.SessionState) {
	if session.State.IsTerminal() || session.State == state {
		return
	}
	now := time.Now().UTC()
	session.State = state
	switch state {
	case models.SessionPhase1:
		if session.Phase1StartedAt == nil {
			session.Phase1StartedAt = &now
		}
	case models.SessionPhase2:
		session.Phase2StartedAt = &now
	}
	if err := s.store.UpdateSession(session); err != nil {
		logger.L.Error("Failed to advance session phase", "sessionID", session.ID, "state", state, "error", err)
	}
}

func (s *importServiceImpl) markCompleted(session *models.ImportSession) {
	s.markTerminal(session, models.SessionCompleted, "")
}

func (s *importServiceImpl) markFailed(session *models.ImportSession, reason string) {
	s.markTerminal(session, models.SessionFailed, reason)
}

func (s *importServiceImpl) markCancelled(session *models.ImportSession) {
	s.markTerminal(session, models.SessionCancelled, "cancelled by request")
}

func (s *importServiceImpl) markTerminal(session *models.ImportSession, state models.SessionState, reason string) {
	if session.State.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	session.State = state
	session.FinishedAt = &now
	session.LastError = reason
	if err := s.store.UpdateSession(session); err != nil {
		logger.L.Error("Failed to mark session terminal", "sessionID", session.ID, "state", state, "error", err)
		return
	}
	logger.L.Info("Import session reached terminal state", "sessionID", session.ID, "state", state, "reason", reason)
}

// planChunks slices the parsed transactions into date-bounded chunks of at
// most limit movements each. A chunk boundary never splits a calendar day; a
// single day larger than the limit becomes one oversized chunk.
func planChunks(sessionID string, parsed []models.CanonicalTransaction, limit int) []models.ImportSessionChunk {
	perDay := make(map[time.Time]int)
	for _, tx := range parsed {
		perDay[utils.DateOnly(tx.TransactionDate)]++
	}
	days := make([]time.Time, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var chunks []models.ImportSessionChunk
	var current *models.ImportSessionChunk
	for _, day := range days {
		count := perDay[day]
		if current != nil && current.EstimatedMovements+count > limit {
			chunks = append(chunks, *current)
			current = nil
		}
		if current == nil {
			current = &models.ImportSessionChunk{
				SessionID:   sessionID,
				ChunkNumber: len(chunks),
				StartDate:   day,
				State:       models.ChunkPending,
			}
		}
		current.EndDate = day.AddDate(0, 0, 1)
		current.EstimatedMovements += count
	}
	if current != nil {
		chunks = append(chunks, *current)
	}
	return chunks
}

// movementsForChunk selects the transactions in the chunk's [start, end) date
// window and shapes them into persistable movements.
func movementsForChunk(accountID int64, chunk *models.ImportSessionChunk, parsed []models.CanonicalTransaction) []models.Movement {
	var out []models.Movement
	for _, tx := range parsed {
		day := utils.DateOnly(tx.TransactionDate)
		if day.Before(chunk.StartDate) || !day.Before(chunk.EndDate) {
			continue
		}
		out = append(out, models.Movement{
			AccountID:            accountID,
			CanonicalTransaction: tx,
			HashID:               movementHash(&tx),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransactionDate.Before(out[j].TransactionDate)
	})
	return out
}

// movementHash is the dedupe key of one transaction. It is a pure function of
// the transaction's content, so the same row in a re-imported file hashes the
// same and is skipped by the unique constraint.
func movementHash(tx *models.CanonicalTransaction) string {
	return utils.HashStrings(
		tx.TransactionDate.UTC().Format(time.RFC3339),
		tx.TransactionType,
		tx.TransactionSubType,
		tx.Ticker,
		strconv.FormatInt(tx.Quantity, 10),
		tx.Price.String(),
		tx.Amount.String(),
		tx.Currency,
		tx.BuySell,
		tx.OrderID,
		tx.Underlying,
		string(tx.OptionCode),
		tx.Strike.String(),
	)
}

func dateBounds(parsed []models.CanonicalTransaction) (time.Time, time.Time) {
	var min, max time.Time
	for _, tx := range parsed {
		d := utils.DateOnly(tx.TransactionDate)
		if min.IsZero() || d.Before(min) {
			min = d
		}
		if max.IsZero() || d.After(max) {
			max = d
		}
	}
	return min, max
}

func countByKind(parsed []models.CanonicalTransaction, newTickers int) models.ImportedCounts {
	counts := models.ImportedCounts{NewTickers: newTickers}
	for _, tx := range parsed {
		switch tx.TransactionType {
		case models.TypeTrade:
			counts.Trades++
		case models.TypeOption:
			counts.OptionTrades++
		case models.TypeDividend, models.TypeDividendTax:
			counts.Dividends++
		case models.TypeCash:
			counts.BrokerMovements++
		}
	}
	return counts
}

func failedResult(startTime time.Time, err error) *models.ImportResult {
	return &models.ImportResult{
		Success:          false,
		Errors:           []models.ImportError{{Message: err.Error()}},
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
	}
}
