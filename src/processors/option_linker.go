package processors

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/models"
	"github.com/username/binnaculum/backend/src/utils"
)

// optionLinkerImpl implements the OptionLinker interface.
type optionLinkerImpl struct{}

// NewOptionLinker creates a new instance of OptionLinker.
func NewOptionLinker() OptionLinker {
	return &optionLinkerImpl{}
}

// acceptableOpeners maps a closing code to the opening codes it may consume,
// in the order they are tried. Expiration carries no inherent direction in
// the source data, so it tries both.
var acceptableOpeners = map[models.OptionCode][]models.OptionCode{
	models.BuyToClose:  {models.SellToOpen},
	models.SellToClose: {models.BuyToOpen},
	models.Expired:     {models.SellToOpen, models.BuyToOpen},
}

// contractKey groups legs that belong to the same option contract.
func contractKey(m *models.Movement) string {
	return fmt.Sprintf("%s|%s|%s|%s", m.Underlying, utils.FormatDate(m.ExpirationDate), m.Strike.String(), m.OptionType)
}

// Link recomputes the open/close pairing of the given option movements from
// scratch. The result is a pure function of the movement history, so running
// it again over the same input produces the same links.
func (p *optionLinkerImpl) Link(movements []models.Movement) *LinkResult {
	byContract := make(map[string][]*models.Movement)
	var order []string
	result := &LinkResult{}

	for i := range movements {
		m := &movements[i]
		if m.TransactionType != models.TypeOption {
			continue
		}
		if m.Quantity <= 0 {
			logger.L.Warn("Skipping option movement with non-positive quantity", "movementID", m.ID, "quantity", m.Quantity)
			continue
		}
		key := contractKey(m)
		if _, seen := byContract[key]; !seen {
			order = append(order, key)
		}
		byContract[key] = append(byContract[key], m)
	}

	for _, key := range order {
		legs := byContract[key]
		sort.SliceStable(legs, func(i, j int) bool {
			if legs[i].TransactionDate.Equal(legs[j].TransactionDate) {
				return legs[i].ID < legs[j].ID
			}
			return legs[i].TransactionDate.Before(legs[j].TransactionDate)
		})
		p.linkContract(legs, result)
	}

	for _, legs := range byContract {
		for _, m := range legs {
			result.Updated = append(result.Updated, *m)
		}
	}
	return result
}

// linkContract walks one contract's legs chronologically, opening positions
// and consuming them FIFO as closing legs arrive.
func (p *optionLinkerImpl) linkContract(legs []*models.Movement, result *LinkResult) {
	var open []*models.Movement

	for _, leg := range legs {
		if leg.OptionCode.IsOpening() {
			leg.RemainingQuantity = leg.Quantity
			leg.IsOpen = true
			leg.LinkedOpenID = nil
			leg.Unlinked = false
			leg.RealizedAmount = decimal.Zero
			open = append(open, leg)
			continue
		}

		openers, ok := acceptableOpeners[leg.OptionCode]
		if !ok {
			logger.L.Warn("Option movement with unknown closing code", "movementID", leg.ID, "code", leg.OptionCode)
			continue
		}

		leg.LinkedOpenID = nil
		leg.Unlinked = false
		leg.RealizedAmount = decimal.Zero
		remaining := leg.Quantity

		for _, wantCode := range openers {
			if remaining == 0 {
				break
			}
			for _, candidate := range open {
				if remaining == 0 {
					break
				}
				if candidate.OptionCode != wantCode || candidate.RemainingQuantity == 0 {
					continue
				}

				matchQty := utils.MinInt64(remaining, candidate.RemainingQuantity)
				realized := realizedForMatch(candidate, leg, matchQty)

				result.Links = append(result.Links, models.OptionLink{
					CloseMovementID: leg.ID,
					OpenMovementID:  candidate.ID,
					Quantity:        matchQty,
					RealizedAmount:  realized,
				})
				leg.RealizedAmount = leg.RealizedAmount.Add(realized)
				if leg.LinkedOpenID == nil {
					id := candidate.ID
					leg.LinkedOpenID = &id
				}

				candidate.RemainingQuantity -= matchQty
				if candidate.RemainingQuantity == 0 {
					candidate.IsOpen = false
				}
				remaining -= matchQty
			}
		}

		if remaining > 0 {
			leg.Unlinked = true
			result.Unlinked++
			logger.L.Warn("Closing option leg has no open candidate for full quantity",
				"movementID", leg.ID, "underlying", leg.Underlying, "unmatchedQuantity", remaining)
		}
	}
}

// realizedForMatch computes the realized amount for the matched quantity,
// prorating both legs' signed amounts per contract. An expired leg carries no
// amount of its own, so the realized amount is the opening premium portion.
func realizedForMatch(openLeg, closeLeg *models.Movement, quantity int64) decimal.Decimal {
	qty := decimal.NewFromInt(quantity)

	openPerUnit := decimal.Zero
	if openLeg.Quantity != 0 {
		openPerUnit = openLeg.Amount.Div(decimal.NewFromInt(openLeg.Quantity))
	}
	closePerUnit := decimal.Zero
	if closeLeg.OptionCode != models.Expired && closeLeg.Quantity != 0 {
		closePerUnit = closeLeg.Amount.Div(decimal.NewFromInt(closeLeg.Quantity))
	}

	return openPerUnit.Add(closePerUnit).Mul(qty)
}
