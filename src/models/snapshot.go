package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotLevel identifies the aggregation level of a daily snapshot. Levels
// form a dependency chain: each level for a day is computed from the level
// before it (ticker-currency upward).
type SnapshotLevel string

const (
	LevelTickerCurrency SnapshotLevel = "TICKER_CURRENCY"
	LevelTicker         SnapshotLevel = "TICKER"
	LevelAccount        SnapshotLevel = "ACCOUNT"
	LevelBroker         SnapshotLevel = "BROKER"
	LevelOverview       SnapshotLevel = "OVERVIEW"
)

// CascadeLevels lists the snapshot levels in dependency order.
var CascadeLevels = []SnapshotLevel{
	LevelTickerCurrency,
	LevelTicker,
	LevelAccount,
	LevelBroker,
	LevelOverview,
}

// DailySnapshot is one per-currency financial snapshot for one entity and one
// calendar date. Snapshots are created and overwritten only by the cascade
// engine; a snapshot for date D is valid only once every movement with
// timestamp <= D has been applied in chronological order.
type DailySnapshot struct {
	ID    int64         `json:"id,omitempty"`
	Level SnapshotLevel `json:"level"`

	// Entity identity; which fields are set depends on Level.
	Ticker    string `json:"ticker,omitempty"`
	AccountID int64  `json:"account_id,omitempty"`
	Broker    string `json:"broker,omitempty"`

	Currency string    `json:"currency"`
	Date     time.Time `json:"date"`

	Invested          decimal.Decimal `json:"invested"`
	RealizedGains     decimal.Decimal `json:"realized_gains"`
	RealizedPct       decimal.Decimal `json:"realized_pct"`
	UnrealizedGains   decimal.Decimal `json:"unrealized_gains"`
	UnrealizedPct     decimal.Decimal `json:"unrealized_pct"`
	Commissions       decimal.Decimal `json:"commissions"`
	Fees              decimal.Decimal `json:"fees"`
	Deposited         decimal.Decimal `json:"deposited"`
	Withdrawn         decimal.Decimal `json:"withdrawn"`
	DividendsReceived decimal.Decimal `json:"dividends_received"`
	OptionsIncome     decimal.Decimal `json:"options_income"`
	OtherIncome       decimal.Decimal `json:"other_income"`

	OpenTrades      int   `json:"open_trades"`  // stock shares held
	OpenOptions     int   `json:"open_options"` // option contracts open, counted apart from shares
	MovementCounter int64 `json:"movement_counter"` // cumulative movements up to and including Date
}

// NetCashFlow is derived, never stored, so the identity holds by
// construction: Deposited - Withdrawn - Commissions - Fees +
// DividendsReceived + OptionsIncome + OtherIncome.
func (s *DailySnapshot) NetCashFlow() decimal.Decimal {
	return s.Deposited.
		Sub(s.Withdrawn).
		Sub(s.Commissions).
		Sub(s.Fees).
		Add(s.DividendsReceived).
		Add(s.OptionsIncome).
		Add(s.OtherIncome)
}

// EntityKey identifies the snapshot's entity irrespective of currency and
// date. Snapshots sharing an EntityKey form one per-currency series.
func (s *DailySnapshot) EntityKey() string {
	switch s.Level {
	case LevelTickerCurrency, LevelTicker:
		return fmt.Sprintf("%s|%s", s.Level, s.Ticker)
	case LevelAccount:
		return fmt.Sprintf("%s|%d", s.Level, s.AccountID)
	case LevelBroker:
		return fmt.Sprintf("%s|%s", s.Level, s.Broker)
	default:
		return string(s.Level)
	}
}

// FinancialRecord is the caller-facing shape for one entity and one date:
// the primary per-currency snapshot plus every other currency's snapshot for
// the same date.
type FinancialRecord struct {
	Financial                DailySnapshot   `json:"financial"`
	FinancialOtherCurrencies []DailySnapshot `json:"financial_other_currencies"`
}
