package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/models"
	"github.com/username/binnaculum/backend/src/utils"
)

// sqliteStore implements Store on top of database/sql with the modernc
// sqlite driver. Money columns are stored as decimal strings so values
// round-trip exactly.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database handle.
func NewSQLiteStore(db *sql.DB) Store {
	return &sqliteStore{db: db}
}

// --- helpers ---

func fmtTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func scanTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func scanDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.L.Warn("Invalid decimal value in database, treating as zero", "value", s)
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// --- accounts ---

func (s *sqliteStore) CreateAccount(a *models.BrokerAccount) error {
	res, err := s.db.Exec(
		`INSERT INTO broker_accounts (broker_name, name, currency) VALUES (?, ?, ?)`,
		a.BrokerName, a.Name, a.Currency)
	if err != nil {
		return fmt.Errorf("error inserting broker account %q: %w", a.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("error reading broker account id: %w", err)
	}
	a.ID = id
	return nil
}

func (s *sqliteStore) GetAccount(id int64) (*models.BrokerAccount, error) {
	var a models.BrokerAccount
	err := s.db.QueryRow(
		`SELECT id, broker_name, name, currency FROM broker_accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.BrokerName, &a.Name, &a.Currency)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying broker account %d: %w", id, err)
	}
	return &a, nil
}

func (s *sqliteStore) ListAccounts() ([]models.BrokerAccount, error) {
	rows, err := s.db.Query(`SELECT id, broker_name, name, currency FROM broker_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error querying broker accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.BrokerAccount
	for rows.Next() {
		var a models.BrokerAccount
		if err := rows.Scan(&a.ID, &a.BrokerName, &a.Name, &a.Currency); err != nil {
			return nil, fmt.Errorf("error scanning broker account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- sessions ---

const sessionColumns = `id, account_id, file_name, file_path, file_hash, state,
	total_chunks, chunks_completed, movements_persisted, min_date, max_date,
	created_at, phase1_started_at, phase2_started_at, finished_at, last_error`

func (s *sqliteStore) CreateSession(sess *models.ImportSession) error {
	_, err := s.db.Exec(
		`INSERT INTO import_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AccountID, sess.FileName, sess.FilePath, sess.FileHash, string(sess.State),
		sess.TotalChunks, sess.ChunksCompleted, sess.MovementsPersisted,
		utils.FormatDate(sess.MinDate), utils.FormatDate(sess.MaxDate),
		sess.CreatedAt.UTC().Format(time.RFC3339),
		fmtTimePtr(sess.Phase1StartedAt), fmtTimePtr(sess.Phase2StartedAt), fmtTimePtr(sess.FinishedAt),
		sess.LastError)
	if err != nil {
		return fmt.Errorf("error inserting import session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *sqliteStore) UpdateSession(sess *models.ImportSession) error {
	_, err := s.db.Exec(
		`UPDATE import_sessions SET state = ?, total_chunks = ?, chunks_completed = ?,
		 movements_persisted = ?, min_date = ?, max_date = ?,
		 phase1_started_at = ?, phase2_started_at = ?, finished_at = ?, last_error = ?
		 WHERE id = ?`,
		string(sess.State), sess.TotalChunks, sess.ChunksCompleted,
		sess.MovementsPersisted, utils.FormatDate(sess.MinDate), utils.FormatDate(sess.MaxDate),
		fmtTimePtr(sess.Phase1StartedAt), fmtTimePtr(sess.Phase2StartedAt), fmtTimePtr(sess.FinishedAt),
		sess.LastError, sess.ID)
	if err != nil {
		return fmt.Errorf("error updating import session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *sqliteStore) scanSession(row interface{ Scan(...interface{}) error }) (*models.ImportSession, error) {
	var sess models.ImportSession
	var state, minDate, maxDate, createdAt string
	var phase1, phase2, finished sql.NullString
	err := row.Scan(&sess.ID, &sess.AccountID, &sess.FileName, &sess.FilePath, &sess.FileHash, &state,
		&sess.TotalChunks, &sess.ChunksCompleted, &sess.MovementsPersisted, &minDate, &maxDate,
		&createdAt, &phase1, &phase2, &finished, &sess.LastError)
	if err != nil {
		return nil, err
	}
	sess.State = models.SessionState(state)
	sess.MinDate = utils.ParseDate(minDate)
	sess.MaxDate = utils.ParseDate(maxDate)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		sess.CreatedAt = t
	}
	sess.Phase1StartedAt = scanTimePtr(phase1)
	sess.Phase2StartedAt = scanTimePtr(phase2)
	sess.FinishedAt = scanTimePtr(finished)
	return &sess, nil
}

func (s *sqliteStore) GetSession(id string) (*models.ImportSession, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM import_sessions WHERE id = ?`, id)
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying import session %s: %w", id, err)
	}
	return sess, nil
}

func (s *sqliteStore) FindResumableSession(accountID int64) (*models.ImportSession, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM import_sessions
		 WHERE account_id = ? AND state NOT IN (?, ?)
		 ORDER BY created_at DESC LIMIT 1`,
		accountID, string(models.SessionCompleted), string(models.SessionCancelled))
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying resumable session for account %d: %w", accountID, err)
	}
	return sess, nil
}

func (s *sqliteStore) FindSessionByFileHash(accountID int64, hash string) (*models.ImportSession, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM import_sessions
		 WHERE account_id = ? AND file_hash = ? ORDER BY created_at DESC LIMIT 1`,
		accountID, hash)
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying session by file hash for account %d: %w", accountID, err)
	}
	return sess, nil
}

// --- chunks ---

func (s *sqliteStore) InsertChunks(chunks []models.ImportSessionChunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning chunk plan transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO import_session_chunks
		 (session_id, chunk_number, start_date, end_date, estimated_movements, state)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing chunk insert statement: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		c := &chunks[i]
		res, err := stmt.Exec(c.SessionID, c.ChunkNumber,
			utils.FormatDate(c.StartDate), utils.FormatDate(c.EndDate),
			c.EstimatedMovements, string(models.ChunkPending))
		if err != nil {
			return fmt.Errorf("error inserting chunk %d: %w", c.ChunkNumber, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			c.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing chunk plan: %w", err)
	}
	return nil
}

const chunkColumns = `id, session_id, chunk_number, start_date, end_date,
	estimated_movements, actual_movements, state, started_at, finished_at, duration_ms, error`

func scanChunk(rows *sql.Rows) (models.ImportSessionChunk, error) {
	var c models.ImportSessionChunk
	var startDate, endDate, state string
	var startedAt, finishedAt sql.NullString
	err := rows.Scan(&c.ID, &c.SessionID, &c.ChunkNumber, &startDate, &endDate,
		&c.EstimatedMovements, &c.ActualMovements, &state, &startedAt, &finishedAt, &c.DurationMs, &c.Error)
	if err != nil {
		return c, err
	}
	c.StartDate = utils.ParseDate(startDate)
	c.EndDate = utils.ParseDate(endDate)
	c.State = models.ChunkState(state)
	c.StartedAt = scanTimePtr(startedAt)
	c.FinishedAt = scanTimePtr(finishedAt)
	return c, nil
}

func (s *sqliteStore) queryChunks(query string, args ...interface{}) ([]models.ImportSessionChunk, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ImportSessionChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *sqliteStore) RunnableChunks(sessionID string) ([]models.ImportSessionChunk, error) {
	return s.queryChunks(
		`SELECT `+chunkColumns+` FROM import_session_chunks
		 WHERE session_id = ? AND state IN (?, ?) ORDER BY chunk_number`,
		sessionID, string(models.ChunkPending), string(models.ChunkFailed))
}

func (s *sqliteStore) ChunksForSession(sessionID string) ([]models.ImportSessionChunk, error) {
	return s.queryChunks(
		`SELECT `+chunkColumns+` FROM import_session_chunks
		 WHERE session_id = ? ORDER BY chunk_number`, sessionID)
}

func (s *sqliteStore) ResetStaleChunks(sessionID string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE import_session_chunks SET state = ?, error = 'interrupted'
		 WHERE session_id = ? AND state = ?`,
		string(models.ChunkFailed), sessionID, string(models.ChunkInProgress))
	if err != nil {
		return 0, fmt.Errorf("error resetting stale chunks for session %s: %w", sessionID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) UpdateChunk(c *models.ImportSessionChunk) error {
	_, err := s.db.Exec(
		`UPDATE import_session_chunks SET state = ?, actual_movements = ?,
		 started_at = ?, finished_at = ?, duration_ms = ?, error = ? WHERE id = ?`,
		string(c.State), c.ActualMovements,
		fmtTimePtr(c.StartedAt), fmtTimePtr(c.FinishedAt), c.DurationMs, c.Error, c.ID)
	if err != nil {
		return fmt.Errorf("error updating chunk %d of session %s: %w", c.ChunkNumber, c.SessionID, err)
	}
	return nil
}

// --- movements ---

const movementColumns = `id, account_id, source, transaction_date, ticker, isin,
	quantity, price, amount, commission, fee, currency, order_id, raw_text,
	transaction_type, transaction_subtype, buy_sell,
	underlying, option_code, option_type, strike, expiration_date,
	remaining_quantity, is_open, linked_open_id, unlinked, realized_amount, hash_id`

func (s *sqliteStore) InsertMovements(ms []models.Movement) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("error beginning movement transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO movements (account_id, source, transaction_date, date, ticker, isin,
		 quantity, price, amount, commission, fee, currency, order_id, raw_text,
		 transaction_type, transaction_subtype, buy_sell,
		 underlying, option_code, option_type, strike, expiration_date,
		 remaining_quantity, is_open, unlinked, realized_amount, hash_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("error preparing movement insert statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range ms {
		m := &ms[i]
		expiration := ""
		if !m.ExpirationDate.IsZero() {
			expiration = utils.FormatDate(m.ExpirationDate)
		}
		_, err := stmt.Exec(m.AccountID, m.Source,
			m.TransactionDate.UTC().Format(time.RFC3339), utils.FormatDate(m.TransactionDate),
			m.Ticker, m.ISIN, m.Quantity, m.Price.String(), m.Amount.String(),
			m.Commission.String(), m.Fee.String(), m.Currency, m.OrderID, m.RawText,
			m.TransactionType, m.TransactionSubType, m.BuySell,
			m.Underlying, string(m.OptionCode), m.OptionType, m.Strike.String(), expiration,
			m.RemainingQuantity, m.IsOpen, m.Unlinked, m.RealizedAmount.String(), m.HashID)
		if err != nil {
			if isUniqueConstraintErr(err) {
				logger.L.Debug("Skipping duplicate movement on insert", "accountID", m.AccountID, "hash_id", m.HashID)
				continue
			}
			return 0, fmt.Errorf("error inserting movement (OrderID: %s): %w", m.OrderID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing movements: %w", err)
	}
	return inserted, nil
}

func scanMovement(rows *sql.Rows) (models.Movement, error) {
	var m models.Movement
	var txDate, price, amount, commission, fee, strike, expiration, realized string
	var optionCode string
	var linkedOpenID sql.NullInt64
	err := rows.Scan(&m.ID, &m.AccountID, &m.Source, &txDate, &m.Ticker, &m.ISIN,
		&m.Quantity, &price, &amount, &commission, &fee, &m.Currency, &m.OrderID, &m.RawText,
		&m.TransactionType, &m.TransactionSubType, &m.BuySell,
		&m.Underlying, &optionCode, &m.OptionType, &strike, &expiration,
		&m.RemainingQuantity, &m.IsOpen, &linkedOpenID, &m.Unlinked, &realized, &m.HashID)
	if err != nil {
		return m, err
	}
	if t, err := time.Parse(time.RFC3339, txDate); err == nil {
		m.TransactionDate = t
	}
	m.Price = scanDecimal(price)
	m.Amount = scanDecimal(amount)
	m.Commission = scanDecimal(commission)
	m.Fee = scanDecimal(fee)
	m.Strike = scanDecimal(strike)
	m.RealizedAmount = scanDecimal(realized)
	m.OptionCode = models.OptionCode(optionCode)
	if expiration != "" {
		m.ExpirationDate = utils.ParseDate(expiration)
	}
	if linkedOpenID.Valid {
		id := linkedOpenID.Int64
		m.LinkedOpenID = &id
	}
	return m, nil
}

func (s *sqliteStore) queryMovements(query string, args ...interface{}) ([]models.Movement, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying movements: %w", err)
	}
	defer rows.Close()

	var movements []models.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning movement row: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *sqliteStore) MovementsFrom(from time.Time) ([]models.Movement, error) {
	return s.queryMovements(
		`SELECT `+movementColumns+` FROM movements
		 WHERE date >= ? ORDER BY transaction_date ASC, id ASC`,
		utils.FormatDate(from))
}

func (s *sqliteStore) OptionMovements(accountID int64) ([]models.Movement, error) {
	return s.queryMovements(
		`SELECT `+movementColumns+` FROM movements
		 WHERE account_id = ? AND transaction_type = ?
		 ORDER BY transaction_date ASC, id ASC`,
		accountID, models.TypeOption)
}

func (s *sqliteStore) ExistingTickers(accountID int64) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT ticker FROM movements WHERE account_id = ? AND ticker != ''`, accountID)
	if err != nil {
		return nil, fmt.Errorf("error querying tickers for account %d: %w", accountID, err)
	}
	defer rows.Close()

	tickers := make(map[string]bool)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("error scanning ticker: %w", err)
		}
		tickers[t] = true
	}
	return tickers, rows.Err()
}

func (s *sqliteStore) ApplyOptionLinks(links []models.OptionLink, updated []models.Movement) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning option link transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range updated {
		m := &updated[i]
		var linkedID interface{}
		if m.LinkedOpenID != nil {
			linkedID = *m.LinkedOpenID
		}
		if _, err := tx.Exec(
			`UPDATE movements SET remaining_quantity = ?, is_open = ?, linked_open_id = ?,
			 unlinked = ?, realized_amount = ? WHERE id = ?`,
			m.RemainingQuantity, m.IsOpen, linkedID, m.Unlinked, m.RealizedAmount.String(), m.ID); err != nil {
			return fmt.Errorf("error updating option movement %d: %w", m.ID, err)
		}
		// Links are a pure function of the movement history; wipe and rewrite
		// so re-linking stays idempotent.
		if _, err := tx.Exec(`DELETE FROM option_links WHERE close_movement_id = ?`, m.ID); err != nil {
			return fmt.Errorf("error clearing option links for movement %d: %w", m.ID, err)
		}
	}

	stmt, err := tx.Prepare(
		`INSERT INTO option_links (close_movement_id, open_movement_id, quantity, realized_amount)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing option link insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range links {
		if _, err := stmt.Exec(l.CloseMovementID, l.OpenMovementID, l.Quantity, l.RealizedAmount.String()); err != nil {
			return fmt.Errorf("error inserting option link %d -> %d: %w", l.CloseMovementID, l.OpenMovementID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing option links: %w", err)
	}
	return nil
}

// --- snapshots ---

const snapshotColumns = `id, level, ticker, account_id, broker, currency, date,
	invested, realized_gains, realized_pct, unrealized_gains, unrealized_pct,
	commissions, fees, deposited, withdrawn, dividends_received,
	options_income, other_income, open_trades, open_options, movement_counter`

func scanSnapshot(rows *sql.Rows) (models.DailySnapshot, error) {
	var sn models.DailySnapshot
	var level, date string
	var invested, realized, realizedPct, unrealized, unrealizedPct string
	var commissions, fees, deposited, withdrawn, dividends, optionsIncome, otherIncome string
	err := rows.Scan(&sn.ID, &level, &sn.Ticker, &sn.AccountID, &sn.Broker, &sn.Currency, &date,
		&invested, &realized, &realizedPct, &unrealized, &unrealizedPct,
		&commissions, &fees, &deposited, &withdrawn, &dividends,
		&optionsIncome, &otherIncome, &sn.OpenTrades, &sn.OpenOptions, &sn.MovementCounter)
	if err != nil {
		return sn, err
	}
	sn.Level = models.SnapshotLevel(level)
	sn.Date = utils.ParseDate(date)
	sn.Invested = scanDecimal(invested)
	sn.RealizedGains = scanDecimal(realized)
	sn.RealizedPct = scanDecimal(realizedPct)
	sn.UnrealizedGains = scanDecimal(unrealized)
	sn.UnrealizedPct = scanDecimal(unrealizedPct)
	sn.Commissions = scanDecimal(commissions)
	sn.Fees = scanDecimal(fees)
	sn.Deposited = scanDecimal(deposited)
	sn.Withdrawn = scanDecimal(withdrawn)
	sn.DividendsReceived = scanDecimal(dividends)
	sn.OptionsIncome = scanDecimal(optionsIncome)
	sn.OtherIncome = scanDecimal(otherIncome)
	return sn, nil
}

func (s *sqliteStore) querySnapshots(query string, args ...interface{}) ([]models.DailySnapshot, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.DailySnapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning snapshot row: %w", err)
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

func (s *sqliteStore) SnapshotsOnDate(date time.Time) ([]models.DailySnapshot, error) {
	return s.querySnapshots(
		`SELECT `+snapshotColumns+` FROM daily_snapshots WHERE date = ? ORDER BY level, ticker, account_id, broker, currency`,
		utils.FormatDate(date))
}

func (s *sqliteStore) ReplaceSnapshotsForDate(date time.Time, snaps []models.DailySnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM daily_snapshots WHERE date = ?`, utils.FormatDate(date)); err != nil {
		return fmt.Errorf("error clearing snapshots for %s: %w", utils.FormatDate(date), err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO daily_snapshots (level, ticker, account_id, broker, currency, date,
		 invested, realized_gains, realized_pct, unrealized_gains, unrealized_pct,
		 commissions, fees, deposited, withdrawn, dividends_received,
		 options_income, other_income, open_trades, open_options, movement_counter)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing snapshot insert: %w", err)
	}
	defer stmt.Close()

	for i := range snaps {
		sn := &snaps[i]
		if _, err := stmt.Exec(string(sn.Level), sn.Ticker, sn.AccountID, sn.Broker, sn.Currency,
			utils.FormatDate(sn.Date),
			sn.Invested.String(), sn.RealizedGains.String(), sn.RealizedPct.String(),
			sn.UnrealizedGains.String(), sn.UnrealizedPct.String(),
			sn.Commissions.String(), sn.Fees.String(), sn.Deposited.String(), sn.Withdrawn.String(),
			sn.DividendsReceived.String(), sn.OptionsIncome.String(), sn.OtherIncome.String(),
			sn.OpenTrades, sn.OpenOptions, sn.MovementCounter); err != nil {
			return fmt.Errorf("error inserting snapshot (%s %s %s): %w", sn.Level, sn.EntityKey(), sn.Currency, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing snapshots for %s: %w", utils.FormatDate(date), err)
	}
	return nil
}

func (s *sqliteStore) SnapshotsForEntity(level models.SnapshotLevel, ticker string, accountID int64, broker string, from, to time.Time) ([]models.DailySnapshot, error) {
	return s.querySnapshots(
		`SELECT `+snapshotColumns+` FROM daily_snapshots
		 WHERE level = ? AND ticker = ? AND account_id = ? AND broker = ?
		 AND date >= ? AND date <= ? ORDER BY date, currency`,
		string(level), ticker, accountID, broker, utils.FormatDate(from), utils.FormatDate(to))
}

func (s *sqliteStore) LatestSnapshotDate() (time.Time, bool, error) {
	var date sql.NullString
	err := s.db.QueryRow(`SELECT MAX(date) FROM daily_snapshots`).Scan(&date)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("error querying latest snapshot date: %w", err)
	}
	if !date.Valid || date.String == "" {
		return time.Time{}, false, nil
	}
	return utils.ParseDate(date.String), true, nil
}
