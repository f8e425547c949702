package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNetCashFlowIdentity(t *testing.T) {
	s := DailySnapshot{
		Level:             LevelOverview,
		Currency:          "USD",
		Date:              time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Commissions:       decimal.RequireFromString("12.50"),
		Fees:              decimal.RequireFromString("3.75"),
		Deposited:         decimal.RequireFromString("5000"),
		Withdrawn:         decimal.RequireFromString("1200"),
		DividendsReceived: decimal.RequireFromString("84.20"),
		OptionsIncome:     decimal.RequireFromString("310"),
		OtherIncome:       decimal.RequireFromString("1.05"),
	}

	want := decimal.RequireFromString("4179")
	if got := s.NetCashFlow(); !got.Equal(want) {
		t.Errorf("NetCashFlow = %s, want %s", got, want)
	}
}

func TestSessionStateIsTerminal(t *testing.T) {
	terminal := []SessionState{SessionCompleted, SessionFailed, SessionCancelled}
	for _, state := range terminal {
		if !state.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", state)
		}
	}
	active := []SessionState{SessionNotStarted, SessionAnalyzing, SessionPhase1, SessionPhase2}
	for _, state := range active {
		if state.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", state)
		}
	}
}

func TestEntityKeyDistinguishesLevels(t *testing.T) {
	a := DailySnapshot{Level: LevelTicker, Ticker: "AAPL"}
	b := DailySnapshot{Level: LevelTickerCurrency, Ticker: "AAPL"}
	if a.EntityKey() == b.EntityKey() {
		t.Errorf("ticker and ticker-currency share entity key %q", a.EntityKey())
	}

	c := DailySnapshot{Level: LevelAccount, AccountID: 7}
	d := DailySnapshot{Level: LevelAccount, AccountID: 8}
	if c.EntityKey() == d.EntityKey() {
		t.Errorf("different accounts share entity key %q", c.EntityKey())
	}
}

func TestParseOptionCode(t *testing.T) {
	for _, valid := range []string{"BUY_TO_OPEN", "SELL_TO_OPEN", "BUY_TO_CLOSE", "SELL_TO_CLOSE", "EXPIRED"} {
		if _, err := ParseOptionCode(valid); err != nil {
			t.Errorf("ParseOptionCode(%q) failed: %v", valid, err)
		}
	}
	if _, err := ParseOptionCode("ASSIGNED_MAYBE"); err == nil {
		t.Error("ParseOptionCode accepted an unknown code")
	}
}
