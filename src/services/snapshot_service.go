package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/models"
	"github.com/username/binnaculum/backend/src/processors"
	"github.com/username/binnaculum/backend/src/store"
	"github.com/username/binnaculum/backend/src/utils"
)

const ckFinancialRecord = "record_%s_%s_%d_%s_%s"

type snapshotServiceImpl struct {
	store       store.SnapshotStore
	aggregator  processors.CurrencyAggregator
	recordCache *cache.Cache
}

// NewSnapshotService creates a new instance of SnapshotService.
func NewSnapshotService(st store.SnapshotStore, aggregator processors.CurrencyAggregator, recordCache *cache.Cache) SnapshotService {
	return &snapshotServiceImpl{
		store:       st,
		aggregator:  aggregator,
		recordCache: recordCache,
	}
}

func (s *snapshotServiceImpl) FinancialRecordOn(level models.SnapshotLevel, ticker string, accountID int64, broker string, date time.Time) (*models.FinancialRecord, error) {
	date = utils.DateOnly(date)
	key := fmt.Sprintf(ckFinancialRecord, level, ticker, accountID, broker, utils.FormatDate(date))
	if cached, found := s.recordCache.Get(key); found {
		if record, ok := cached.(*models.FinancialRecord); ok {
			return record, nil
		}
	}

	snaps, err := s.store.SnapshotsForEntity(level, ticker, accountID, broker, date, date)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	record, err := s.aggregator.Aggregate(snaps)
	if err != nil {
		return nil, err
	}
	s.recordCache.Set(key, record, cache.DefaultExpiration)
	return record, nil
}

func (s *snapshotServiceImpl) LatestFinancialRecord(level models.SnapshotLevel, ticker string, accountID int64, broker string) (*models.FinancialRecord, error) {
	date, ok, err := s.store.LatestSnapshotDate()
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot date: %w", err)
	}
	if !ok {
		return nil, processors.ErrNoSnapshots
	}
	return s.FinancialRecordOn(level, ticker, accountID, broker, date)
}

func (s *snapshotServiceImpl) FinancialSeries(level models.SnapshotLevel, ticker string, accountID int64, broker string, from, to time.Time) ([]models.FinancialRecord, error) {
	snaps, err := s.store.SnapshotsForEntity(level, ticker, accountID, broker, utils.DateOnly(from), utils.DateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}

	byDate := make(map[string][]models.DailySnapshot)
	var order []string
	for _, sn := range snaps {
		day := utils.FormatDate(sn.Date)
		if _, seen := byDate[day]; !seen {
			order = append(order, day)
		}
		byDate[day] = append(byDate[day], sn)
	}
	sort.Strings(order)

	records := make([]models.FinancialRecord, 0, len(order))
	for _, day := range order {
		record, err := s.aggregator.Aggregate(byDate[day])
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// Notify implements processors.NotificationSink. The cascade fires it once
// per run, after every affected date is fully rewritten.
func (s *snapshotServiceImpl) Notify(from, to time.Time) {
	logger.L.Info("Snapshots recomputed, flushing record cache",
		"from", utils.FormatDate(from), "to", utils.FormatDate(to))
	s.recordCache.Flush()
}
