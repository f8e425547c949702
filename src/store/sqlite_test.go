package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/binnaculum/backend/src/database"
	"github.com/username/binnaculum/backend/src/models"
)

func testStore(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store-test.db")
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return NewSQLiteStore(db)
}

func testAccount(t *testing.T, st Store) int64 {
	t.Helper()
	account := &models.BrokerAccount{BrokerName: "IBKR", Name: "main", Currency: "USD"}
	if err := st.CreateAccount(account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account.ID
}

func testSession(accountID int64, id string, state models.SessionState) *models.ImportSession {
	return &models.ImportSession{
		ID:        id,
		AccountID: accountID,
		FileName:  "export.csv",
		FilePath:  "/tmp/export.csv",
		FileHash:  "hash-" + id,
		State:     state,
		MinDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		MaxDate:   time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		CreatedAt: time.Now().UTC(),
	}
}

func testMovement(accountID int64, hash string, date time.Time) models.Movement {
	return models.Movement{
		AccountID: accountID,
		HashID:    hash,
		CanonicalTransaction: models.CanonicalTransaction{
			TransactionDate: date,
			TransactionType: models.TypeTrade,
			Ticker:          "AAPL",
			Quantity:        10,
			Price:           decimal.RequireFromString("100"),
			Amount:          decimal.RequireFromString("-1000"),
			Currency:        "USD",
			BuySell:         models.SideBuy,
		},
	}
}

func TestSessionRoundTrip(t *testing.T) {
	st := testStore(t)
	accountID := testAccount(t, st)

	sess := testSession(accountID, "s1", models.SessionAnalyzing)
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	sess.State = models.SessionPhase1
	sess.TotalChunks = 4
	sess.Phase1StartedAt = &now
	if err := st.UpdateSession(sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := st.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("session not found")
	}
	if got.State != models.SessionPhase1 || got.TotalChunks != 4 {
		t.Errorf("got state=%s totalChunks=%d", got.State, got.TotalChunks)
	}
	if got.Phase1StartedAt == nil || !got.Phase1StartedAt.Equal(now) {
		t.Errorf("phase1 timestamp = %v, want %v", got.Phase1StartedAt, now)
	}
	if !got.MinDate.Equal(sess.MinDate) {
		t.Errorf("min date = %v, want %v", got.MinDate, sess.MinDate)
	}
}

func TestOnlyOneActiveSessionPerAccount(t *testing.T) {
	st := testStore(t)
	accountID := testAccount(t, st)

	if err := st.CreateSession(testSession(accountID, "s1", models.SessionPhase1)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.CreateSession(testSession(accountID, "s2", models.SessionAnalyzing)); err == nil {
		t.Fatal("second active session for the same account was accepted")
	}

	// A terminal session does not block a new one.
	first, _ := st.GetSession("s1")
	first.State = models.SessionCancelled
	if err := st.UpdateSession(first); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if err := st.CreateSession(testSession(accountID, "s3", models.SessionAnalyzing)); err != nil {
		t.Fatalf("new session after terminal one rejected: %v", err)
	}
}

func TestFindResumableSession(t *testing.T) {
	st := testStore(t)
	accountID := testAccount(t, st)

	if got, err := st.FindResumableSession(accountID); err != nil || got != nil {
		t.Fatalf("expected no resumable session, got %v (err %v)", got, err)
	}

	sess := testSession(accountID, "s1", models.SessionPhase1)
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := st.FindResumableSession(accountID)
	if err != nil || got == nil || got.ID != "s1" {
		t.Fatalf("resumable session = %v (err %v), want s1", got, err)
	}

	// Failed sessions stay resumable; cancelled ones do not.
	sess.State = models.SessionFailed
	if err := st.UpdateSession(sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got, _ := st.FindResumableSession(accountID); got == nil || got.ID != "s1" {
		t.Error("failed session no longer resumable")
	}

	sess.State = models.SessionCancelled
	if err := st.UpdateSession(sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got, _ := st.FindResumableSession(accountID); got != nil {
		t.Errorf("cancelled session reported resumable: %v", got)
	}
}

func TestFindSessionByFileHash(t *testing.T) {
	st := testStore(t)
	accountID := testAccount(t, st)

	sess := testSession(accountID, "s1", models.SessionCompleted)
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := st.FindSessionByFileHash(accountID, "hash-s1")
	if err != nil || got == nil || got.ID != "s1" {
		t.Fatalf("by hash = %v (err %v), want s1", got, err)
	}
	if got, _ := st.FindSessionByFileHash(accountID, "other-hash"); got != nil {
		t.Errorf("unexpected session for unknown hash: %v", got)
	}
}

func TestChunkPlanLifecycle(t *testing.T) {
	st := testStore(t)
	accountID := testAccount(t, st)
	sess := testSession(accountID, "s1", models.SessionPhase1)
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	chunks := []models.ImportSessionChunk{
		{SessionID: "s1", ChunkNumber: 0, StartDate: day(1), EndDate: day(3), EstimatedMovements: 10},
		{SessionID: "s1", ChunkNumber: 1, StartDate: day(3), EndDate: day(4), EstimatedMovements: 7},
		{SessionID: "s1", ChunkNumber: 2, StartDate: day(4), EndDate: day(6), EstimatedMovements: 5},
	}
	if err := st.InsertChunks(chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	runnable, err := st.RunnableChunks("s1")
	if err != nil {
		t.Fatalf("RunnableChunks: %v", err)
	}
	if len(runnable) != 3 {
		t.Fatalf("runnable = %d, want 3", len(runnable))
	}

	// Complete chunk 0, leave chunk 1 stuck in progress (a crash artifact).
	started := time.Now().UTC().Truncate(time.Second)
	runnable[0].State = models.ChunkCompleted
	runnable[0].ActualMovements = 10
	runnable[0].StartedAt = &started
	if err := st.UpdateChunk(&runnable[0]); err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}
	runnable[1].State = models.ChunkInProgress
	runnable[1].StartedAt = &started
	if err := st.UpdateChunk(&runnable[1]); err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}

	demoted, err := st.ResetStaleChunks("s1")
	if err != nil {
		t.Fatalf("ResetStaleChunks: %v", err)
	}
	if demoted != 1 {
		t.Errorf("demoted = %d, want 1", demoted)
	}

	runnable, err = st.RunnableChunks("s1")
	if err != nil {
		t.Fatalf("RunnableChunks: %v", err)
	}
	if len(runnable) != 2 {
		t.Fatalf("runnable after completion = %d, want 2", len(runnable))
	}
	if runnable[0].ChunkNumber != 1 || runnable[1].ChunkNumber != 2 {
		t.Errorf("runnable order = %d,%d, want 1,2", runnable[0].ChunkNumber, runnable[1].ChunkNumber)
	}
	if runnable[0].State != models.ChunkFailed {
		t.Errorf("stale chunk state = %s, want FAILED", runnable[0].State)
	}
}

func TestInsertMovementsDeduplicates(t *testing.T) {
	st := testStore(t)
	accountID := testAccount(t, st)
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	first, err := st.InsertMovements([]models.Movement{
		testMovement(accountID, "h1", date),
		testMovement(accountID, "h2", date),
	})
	if err != nil {
		t.Fatalf("InsertMovements: %v", err)
	}
	if first != 2 {
		t.Errorf("first insert = %d, want 2", first)
	}

	// Re-running the same chunk inserts nothing new.
	second, err := st.InsertMovements([]models.Movement{
		testMovement(accountID, "h1", date),
		testMovement(accountID, "h3", date),
	})
	if err != nil {
		t.Fatalf("InsertMovements (rerun): %v", err)
	}
	if second != 1 {
		t.Errorf("second insert = %d, want 1 (h1 deduped)", second)
	}

	all, err := st.MovementsFrom(date.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("MovementsFrom: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("stored movements = %d, want 3", len(all))
	}
}

func TestApplyOptionLinksIsIdempotent(t *testing.T) {
	st := testStore(t)
	accountID := testAccount(t, st)
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	open := testMovement(accountID, "h1", date)
	open.TransactionType = models.TypeOption
	open.Underlying = "AAPL"
	open.OptionCode = models.SellToOpen
	open.OptionType = models.OptionPut
	open.Strike = decimal.RequireFromString("170")
	open.ExpirationDate = date.AddDate(0, 3, 0)
	open.Quantity = 2
	open.Amount = decimal.RequireFromString("200")

	closeLeg := open
	closeLeg.HashID = "h2"
	closeLeg.TransactionDate = date.AddDate(0, 0, 5)
	closeLeg.OptionCode = models.BuyToClose
	closeLeg.Amount = decimal.RequireFromString("-80")

	if _, err := st.InsertMovements([]models.Movement{open, closeLeg}); err != nil {
		t.Fatalf("InsertMovements: %v", err)
	}

	stored, err := st.OptionMovements(accountID)
	if err != nil {
		t.Fatalf("OptionMovements: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("option movements = %d, want 2", len(stored))
	}

	openID, closeID := stored[0].ID, stored[1].ID
	links := []models.OptionLink{{
		CloseMovementID: closeID,
		OpenMovementID:  openID,
		Quantity:        2,
		RealizedAmount:  decimal.RequireFromString("120"),
	}}
	stored[0].RemainingQuantity = 0
	stored[0].IsOpen = false
	stored[1].LinkedOpenID = &openID
	stored[1].RealizedAmount = decimal.RequireFromString("120")

	for i := 0; i < 2; i++ {
		if err := st.ApplyOptionLinks(links, stored); err != nil {
			t.Fatalf("ApplyOptionLinks run %d: %v", i, err)
		}
	}

	after, err := st.OptionMovements(accountID)
	if err != nil {
		t.Fatalf("OptionMovements: %v", err)
	}
	if after[0].IsOpen {
		t.Error("opener still marked open after linking")
	}
	if after[1].LinkedOpenID == nil || *after[1].LinkedOpenID != openID {
		t.Errorf("closer linked to %v, want %d", after[1].LinkedOpenID, openID)
	}
	if !after[1].RealizedAmount.Equal(decimal.RequireFromString("120")) {
		t.Errorf("closer realized = %s, want 120", after[1].RealizedAmount)
	}
}

func TestExistingTickers(t *testing.T) {
	st := testStore(t)
	accountID := testAccount(t, st)
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	other := testMovement(accountID, "h2", date)
	other.Ticker = "MSFT"
	cash := testMovement(accountID, "h3", date)
	cash.Ticker = ""
	cash.TransactionType = models.TypeCash
	cash.TransactionSubType = models.SubTypeDeposit

	if _, err := st.InsertMovements([]models.Movement{testMovement(accountID, "h1", date), other, cash}); err != nil {
		t.Fatalf("InsertMovements: %v", err)
	}

	tickers, err := st.ExistingTickers(accountID)
	if err != nil {
		t.Fatalf("ExistingTickers: %v", err)
	}
	if len(tickers) != 2 || !tickers["AAPL"] || !tickers["MSFT"] {
		t.Errorf("tickers = %v, want AAPL and MSFT", tickers)
	}
}

func TestReplaceSnapshotsForDate(t *testing.T) {
	st := testStore(t)
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	snap := models.DailySnapshot{
		Level:           models.LevelOverview,
		Currency:        "USD",
		Date:            date,
		Invested:        decimal.RequireFromString("1000"),
		MovementCounter: 1,
	}
	if err := st.ReplaceSnapshotsForDate(date, []models.DailySnapshot{snap}); err != nil {
		t.Fatalf("ReplaceSnapshotsForDate: %v", err)
	}

	snap.Invested = decimal.RequireFromString("2500")
	snap.MovementCounter = 2
	if err := st.ReplaceSnapshotsForDate(date, []models.DailySnapshot{snap}); err != nil {
		t.Fatalf("ReplaceSnapshotsForDate (rewrite): %v", err)
	}

	got, err := st.SnapshotsOnDate(date)
	if err != nil {
		t.Fatalf("SnapshotsOnDate: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("snapshots = %d, want 1 (old row replaced)", len(got))
	}
	if !got[0].Invested.Equal(decimal.RequireFromString("2500")) || got[0].MovementCounter != 2 {
		t.Errorf("snapshot = %+v, want rewritten values", got[0])
	}

	latest, ok, err := st.LatestSnapshotDate()
	if err != nil || !ok {
		t.Fatalf("LatestSnapshotDate: ok=%v err=%v", ok, err)
	}
	if !latest.Equal(date) {
		t.Errorf("latest date = %v, want %v", latest, date)
	}
}

func TestSnapshotsForEntityRange(t *testing.T) {
	st := testStore(t)

	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	for d := 10; d <= 14; d++ {
		snap := models.DailySnapshot{
			Level:           models.LevelTicker,
			Ticker:          "AAPL",
			Currency:        "USD",
			Date:            day(d),
			Invested:        decimal.NewFromInt(int64(d * 100)),
			MovementCounter: int64(d),
		}
		if err := st.ReplaceSnapshotsForDate(day(d), []models.DailySnapshot{snap}); err != nil {
			t.Fatalf("ReplaceSnapshotsForDate(%d): %v", d, err)
		}
	}

	got, err := st.SnapshotsForEntity(models.LevelTicker, "AAPL", 0, "", day(11), day(13))
	if err != nil {
		t.Fatalf("SnapshotsForEntity: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("snapshots in range = %d, want 3", len(got))
	}
	for i, sn := range got {
		if !sn.Date.Equal(day(11 + i)) {
			t.Errorf("snapshot %d date = %v, want %v", i, sn.Date, day(11+i))
		}
	}
}
