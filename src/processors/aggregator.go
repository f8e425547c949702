package processors

import (
	"errors"
	"sort"

	"github.com/username/binnaculum/backend/src/models"
)

// ErrNoSnapshots is returned when an aggregation is asked for an empty set.
var ErrNoSnapshots = errors.New("no snapshots to aggregate")

// currencyAggregatorImpl implements the CurrencyAggregator interface.
type currencyAggregatorImpl struct{}

// NewCurrencyAggregator creates a new instance of CurrencyAggregator.
func NewCurrencyAggregator() CurrencyAggregator {
	return &currencyAggregatorImpl{}
}

// Aggregate picks the currency with the most movements as the primary and
// carries the rest as-is. Currency values are never converted or summed
// across currencies.
func (a *currencyAggregatorImpl) Aggregate(snaps []models.DailySnapshot) (*models.FinancialRecord, error) {
	if len(snaps) == 0 {
		return nil, ErrNoSnapshots
	}

	ordered := make([]models.DailySnapshot, len(snaps))
	copy(ordered, snaps)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].MovementCounter != ordered[j].MovementCounter {
			return ordered[i].MovementCounter > ordered[j].MovementCounter
		}
		return ordered[i].Currency < ordered[j].Currency
	})

	record := &models.FinancialRecord{Financial: ordered[0]}
	if len(ordered) > 1 {
		record.FinancialOtherCurrencies = ordered[1:]
	}
	return record, nil
}
