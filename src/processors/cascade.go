package processors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/models"
	"github.com/username/binnaculum/backend/src/store"
	"github.com/username/binnaculum/backend/src/utils"
)

// ErrCascadeComputation marks a failed cascade run. Movement data committed
// in phase 1 is never rolled back by a cascade failure; the last fully
// written date remains the baseline for the next run.
var ErrCascadeComputation = errors.New("cascade computation failed")

var oneHundred = decimal.NewFromInt(100)

// cascadeEngineImpl implements SnapshotEngine. It folds each day's movements
// onto the previous day's per-(account, ticker, currency) snapshots, then
// aggregates upward level by level, writing one all-or-nothing batch per
// calendar date.
type cascadeEngineImpl struct {
	store store.Store
	sink  NotificationSink
	now   func() time.Time
}

// NewSnapshotCascadeEngine creates a new instance of SnapshotEngine.
func NewSnapshotCascadeEngine(st store.Store, sink NotificationSink) SnapshotEngine {
	if sink == nil {
		sink = NopSink{}
	}
	return &cascadeEngineImpl{store: st, sink: sink, now: time.Now}
}

// leafKey identifies one fold series: an account's position in one ticker and
// one currency. Ticker "" is the account's cash bucket.
type leafKey struct {
	AccountID int64
	Ticker    string
	Currency  string
}

func (e *cascadeEngineImpl) Recompute(ctx context.Context, dirtyDate time.Time) error {
	from := utils.DateOnly(dirtyDate)
	today := utils.DateOnly(e.now())
	if from.After(today) {
		logger.L.Debug("Cascade skipped, dirty date is in the future", "dirtyDate", utils.FormatDate(from))
		return nil
	}

	accounts, err := e.store.ListAccounts()
	if err != nil {
		return fmt.Errorf("%w: loading accounts: %v", ErrCascadeComputation, err)
	}
	brokerOf := make(map[int64]string, len(accounts))
	for _, a := range accounts {
		brokerOf[a.ID] = a.BrokerName
	}

	movements, err := e.store.MovementsFrom(from)
	if err != nil {
		return fmt.Errorf("%w: loading movements: %v", ErrCascadeComputation, err)
	}
	byDay := make(map[string][]models.Movement)
	for _, m := range movements {
		day := utils.FormatDate(utils.DateOnly(m.TransactionDate))
		byDay[day] = append(byDay[day], m)
	}

	baseline, err := e.store.SnapshotsOnDate(from.AddDate(0, 0, -1))
	if err != nil {
		return fmt.Errorf("%w: loading baseline snapshots: %v", ErrCascadeComputation, err)
	}
	leafs := make(map[leafKey]models.DailySnapshot)
	for _, sn := range baseline {
		if sn.Level == models.LevelTickerCurrency {
			leafs[leafKey{AccountID: sn.AccountID, Ticker: sn.Ticker, Currency: sn.Currency}] = sn
		}
	}

	logger.L.Info("Cascade recompute starting",
		"from", utils.FormatDate(from), "to", utils.FormatDate(today),
		"baselineSeries", len(leafs), "movementDays", len(byDay))

	for day := from; !day.After(today); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cascade interrupted at %s: %w", utils.FormatDate(day), err)
		}

		// Carry every series forward, then fold the day's movements in.
		next := make(map[leafKey]models.DailySnapshot, len(leafs))
		for key, prev := range leafs {
			sn := prev
			sn.ID = 0
			sn.Date = day
			next[key] = sn
		}
		for _, m := range byDay[utils.FormatDate(day)] {
			key := leafKey{AccountID: m.AccountID, Ticker: tickerOf(&m), Currency: m.Currency}
			sn, ok := next[key]
			if !ok {
				sn = newLeafSnapshot(key, day)
			}
			foldMovement(&sn, &m)
			next[key] = sn
		}

		rows := e.buildLevels(next, brokerOf, day)
		if err := e.store.ReplaceSnapshotsForDate(day, rows); err != nil {
			return fmt.Errorf("%w: writing snapshots for %s: %v", ErrCascadeComputation, utils.FormatDate(day), err)
		}
		leafs = next
	}

	logger.L.Info("Cascade recompute finished", "from", utils.FormatDate(from), "to", utils.FormatDate(today))
	e.sink.Notify(from, today)
	return nil
}

func tickerOf(m *models.Movement) string {
	if m.TransactionType == models.TypeOption {
		return m.Underlying
	}
	return m.Ticker
}

func newLeafSnapshot(key leafKey, day time.Time) models.DailySnapshot {
	return models.DailySnapshot{
		Level:     models.LevelTickerCurrency,
		AccountID: key.AccountID,
		Ticker:    key.Ticker,
		Currency:  key.Currency,
		Date:      day,
	}
}

// foldMovement applies one movement to a leaf snapshot's cumulative figures.
func foldMovement(sn *models.DailySnapshot, m *models.Movement) {
	sn.MovementCounter++
	sn.Commissions = sn.Commissions.Add(m.Commission)
	sn.Fees = sn.Fees.Add(m.Fee)

	switch m.TransactionType {
	case models.TypeTrade:
		foldTrade(sn, m)
	case models.TypeOption:
		// Option contracts are counted apart from stock shares: a leaf series
		// keyed by the underlying may also hold the stock, and the share count
		// feeds the average-cost math in foldTrade.
		if m.OptionCode.IsOpening() {
			sn.OpenOptions += int(m.Quantity)
		} else {
			sn.OptionsIncome = sn.OptionsIncome.Add(m.RealizedAmount)
			sn.RealizedGains = sn.RealizedGains.Add(m.RealizedAmount)
			closed := utils.MinInt(int(m.Quantity), sn.OpenOptions)
			sn.OpenOptions -= closed
		}
	case models.TypeDividend:
		sn.DividendsReceived = sn.DividendsReceived.Add(m.Amount.Abs())
	case models.TypeDividendTax:
		sn.DividendsReceived = sn.DividendsReceived.Sub(m.Amount.Abs())
	case models.TypeCash:
		switch m.TransactionSubType {
		case models.SubTypeDeposit:
			sn.Deposited = sn.Deposited.Add(m.Amount.Abs())
		case models.SubTypeWithdrawal:
			sn.Withdrawn = sn.Withdrawn.Add(m.Amount.Abs())
		case models.SubTypeFee:
			sn.Fees = sn.Fees.Add(m.Amount.Abs())
		case models.SubTypeOtherIncome:
			sn.OtherIncome = sn.OtherIncome.Add(m.Amount.Abs())
		}
	}

	finalizePercentages(sn)
}

// foldTrade applies a stock trade using average cost for realized amounts.
// Unrealized gains are marked to the most recent traded price seen in the
// movement stream, so the snapshot stays a pure function of movements <= D.
func foldTrade(sn *models.DailySnapshot, m *models.Movement) {
	qty := m.Quantity
	if m.BuySell == models.SideBuy {
		sn.Invested = sn.Invested.Add(m.Amount.Abs())
		sn.OpenTrades += int(qty)
	} else {
		held := int64(sn.OpenTrades)
		proceeds := m.Amount.Abs()
		if held > 0 {
			soldQty := utils.MinInt64(qty, held)
			avgCost := sn.Invested.Div(decimal.NewFromInt(held))
			costOfSold := avgCost.Mul(decimal.NewFromInt(soldQty))
			sn.RealizedGains = sn.RealizedGains.Add(proceeds.Sub(costOfSold))
			sn.Invested = sn.Invested.Sub(costOfSold)
			sn.OpenTrades -= int(soldQty)
		} else {
			// Sell with nothing held; proceeds count as realized outright.
			sn.RealizedGains = sn.RealizedGains.Add(proceeds)
		}
	}

	if sn.OpenTrades > 0 && !m.Price.IsZero() {
		market := m.Price.Mul(decimal.NewFromInt(int64(sn.OpenTrades)))
		sn.UnrealizedGains = market.Sub(sn.Invested)
	} else if sn.OpenTrades == 0 {
		sn.UnrealizedGains = decimal.Zero
	}
}

func finalizePercentages(sn *models.DailySnapshot) {
	if sn.Invested.IsPositive() {
		sn.RealizedPct = sn.RealizedGains.Div(sn.Invested).Mul(oneHundred)
		sn.UnrealizedPct = sn.UnrealizedGains.Div(sn.Invested).Mul(oneHundred)
	} else {
		sn.RealizedPct = decimal.Zero
		sn.UnrealizedPct = decimal.Zero
	}
}

// buildLevels aggregates the day's leaf snapshots upward: ticker-currency ->
// ticker -> account -> broker -> overview. Every level keeps per-currency
// rows; the multi-currency reduction happens on the read side.
func (e *cascadeEngineImpl) buildLevels(leafs map[leafKey]models.DailySnapshot, brokerOf map[int64]string, day time.Time) []models.DailySnapshot {
	var rows []models.DailySnapshot

	leafKeys := make([]leafKey, 0, len(leafs))
	for key := range leafs {
		leafKeys = append(leafKeys, key)
	}
	sort.Slice(leafKeys, func(i, j int) bool {
		a, b := leafKeys[i], leafKeys[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		return a.Currency < b.Currency
	})

	tickerRows := make(map[string]*models.DailySnapshot)
	accountRows := make(map[string]*models.DailySnapshot)
	brokerRows := make(map[string]*models.DailySnapshot)
	overviewRows := make(map[string]*models.DailySnapshot)
	var tickerOrder, accountOrder, brokerOrder, overviewOrder []string

	for _, key := range leafKeys {
		leaf := leafs[key]
		rows = append(rows, leaf)

		if key.Ticker != "" {
			k := key.Ticker + "|" + key.Currency
			if _, ok := tickerRows[k]; !ok {
				tickerRows[k] = &models.DailySnapshot{Level: models.LevelTicker, Ticker: key.Ticker, Currency: key.Currency, Date: day}
				tickerOrder = append(tickerOrder, k)
			}
			sumInto(tickerRows[k], &leaf)
		}

		k := fmt.Sprintf("%d|%s", key.AccountID, key.Currency)
		if _, ok := accountRows[k]; !ok {
			accountRows[k] = &models.DailySnapshot{Level: models.LevelAccount, AccountID: key.AccountID, Currency: key.Currency, Date: day}
			accountOrder = append(accountOrder, k)
		}
		sumInto(accountRows[k], &leaf)
	}

	for _, k := range accountOrder {
		row := accountRows[k]
		broker := brokerOf[row.AccountID]
		bk := broker + "|" + row.Currency
		if _, ok := brokerRows[bk]; !ok {
			brokerRows[bk] = &models.DailySnapshot{Level: models.LevelBroker, Broker: broker, Currency: row.Currency, Date: day}
			brokerOrder = append(brokerOrder, bk)
		}
		sumInto(brokerRows[bk], row)
	}

	for _, k := range brokerOrder {
		row := brokerRows[k]
		if _, ok := overviewRows[row.Currency]; !ok {
			overviewRows[row.Currency] = &models.DailySnapshot{Level: models.LevelOverview, Currency: row.Currency, Date: day}
			overviewOrder = append(overviewOrder, row.Currency)
		}
		sumInto(overviewRows[row.Currency], row)
	}

	for _, k := range tickerOrder {
		finalizePercentages(tickerRows[k])
		rows = append(rows, *tickerRows[k])
	}
	for _, k := range accountOrder {
		finalizePercentages(accountRows[k])
		rows = append(rows, *accountRows[k])
	}
	for _, k := range brokerOrder {
		finalizePercentages(brokerRows[k])
		rows = append(rows, *brokerRows[k])
	}
	for _, k := range overviewOrder {
		finalizePercentages(overviewRows[k])
		rows = append(rows, *overviewRows[k])
	}

	return rows
}

// sumInto adds one snapshot's cumulative figures into an aggregate row.
// Percentages are recomputed by the caller once the sum is complete.
func sumInto(dst *models.DailySnapshot, src *models.DailySnapshot) {
	dst.Invested = dst.Invested.Add(src.Invested)
	dst.RealizedGains = dst.RealizedGains.Add(src.RealizedGains)
	dst.UnrealizedGains = dst.UnrealizedGains.Add(src.UnrealizedGains)
	dst.Commissions = dst.Commissions.Add(src.Commissions)
	dst.Fees = dst.Fees.Add(src.Fees)
	dst.Deposited = dst.Deposited.Add(src.Deposited)
	dst.Withdrawn = dst.Withdrawn.Add(src.Withdrawn)
	dst.DividendsReceived = dst.DividendsReceived.Add(src.DividendsReceived)
	dst.OptionsIncome = dst.OptionsIncome.Add(src.OptionsIncome)
	dst.OtherIncome = dst.OtherIncome.Add(src.OtherIncome)
	dst.OpenTrades += src.OpenTrades
	dst.OpenOptions += src.OpenOptions
	dst.MovementCounter += src.MovementCounter
}
