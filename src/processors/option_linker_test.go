package processors

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/binnaculum/backend/src/models"
)

func optionLeg(id int64, day int, code models.OptionCode, qty int64, amount string) models.Movement {
	return models.Movement{
		ID:        id,
		AccountID: 1,
		CanonicalTransaction: models.CanonicalTransaction{
			TransactionDate: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
			TransactionType: models.TypeOption,
			Quantity:        qty,
			Amount:          decimal.RequireFromString(amount),
			Currency:        "USD",
			Underlying:      "AAPL",
			OptionCode:      code,
			OptionType:      models.OptionPut,
			Strike:          decimal.RequireFromString("170"),
			ExpirationDate:  time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestLinkMatchesCloseToOpen(t *testing.T) {
	linker := NewOptionLinker()

	movements := []models.Movement{
		optionLeg(1, 1, models.SellToOpen, 1, "100"),
		optionLeg(2, 5, models.BuyToClose, 1, "-40"),
	}

	result := linker.Link(movements)

	if len(result.Links) != 1 {
		t.Fatalf("links = %d, want 1", len(result.Links))
	}
	link := result.Links[0]
	if link.OpenMovementID != 1 || link.CloseMovementID != 2 {
		t.Errorf("link pairing = open %d close %d, want open 1 close 2", link.OpenMovementID, link.CloseMovementID)
	}
	if got := link.RealizedAmount.String(); got != "60" {
		t.Errorf("realized = %s, want 60", got)
	}
	if result.Unlinked != 0 {
		t.Errorf("unlinked = %d, want 0", result.Unlinked)
	}

	for _, m := range result.Updated {
		switch m.ID {
		case 1:
			if m.IsOpen || m.RemainingQuantity != 0 {
				t.Errorf("opener still open: isOpen=%v remaining=%d", m.IsOpen, m.RemainingQuantity)
			}
		case 2:
			if m.LinkedOpenID == nil || *m.LinkedOpenID != 1 {
				t.Errorf("closer not linked to opener 1: %v", m.LinkedOpenID)
			}
			if got := m.RealizedAmount.String(); got != "60" {
				t.Errorf("closer realized = %s, want 60", got)
			}
		}
	}
}

func TestLinkConsumesOpenersFIFO(t *testing.T) {
	linker := NewOptionLinker()

	movements := []models.Movement{
		optionLeg(1, 1, models.SellToOpen, 10, "1000"),
		optionLeg(2, 2, models.SellToOpen, 10, "800"),
		optionLeg(3, 9, models.BuyToClose, 15, "-750"),
	}

	result := linker.Link(movements)

	if len(result.Links) != 2 {
		t.Fatalf("links = %d, want 2", len(result.Links))
	}
	if result.Links[0].OpenMovementID != 1 || result.Links[0].Quantity != 10 {
		t.Errorf("first link = open %d qty %d, want open 1 qty 10", result.Links[0].OpenMovementID, result.Links[0].Quantity)
	}
	if result.Links[1].OpenMovementID != 2 || result.Links[1].Quantity != 5 {
		t.Errorf("second link = open %d qty %d, want open 2 qty 5", result.Links[1].OpenMovementID, result.Links[1].Quantity)
	}

	// opener premium 100/contract, close cost 50/contract -> 50/contract gain
	if got := result.Links[0].RealizedAmount.String(); got != "500" {
		t.Errorf("first link realized = %s, want 500", got)
	}
	// opener premium 80/contract -> 30/contract gain on 5
	if got := result.Links[1].RealizedAmount.String(); got != "150" {
		t.Errorf("second link realized = %s, want 150", got)
	}

	for _, m := range result.Updated {
		if m.ID == 2 {
			if !m.IsOpen || m.RemainingQuantity != 5 {
				t.Errorf("second opener: isOpen=%v remaining=%d, want open with 5", m.IsOpen, m.RemainingQuantity)
			}
		}
	}
}

func TestLinkPartialClosesDrainOneOpener(t *testing.T) {
	linker := NewOptionLinker()

	movements := []models.Movement{
		optionLeg(1, 1, models.SellToOpen, 10, "1000"),
		optionLeg(2, 4, models.BuyToClose, 4, "-200"),
		optionLeg(3, 8, models.BuyToClose, 6, "-300"),
	}

	result := linker.Link(movements)

	if len(result.Links) != 2 {
		t.Fatalf("links = %d, want 2", len(result.Links))
	}
	if result.Links[0].OpenMovementID != 1 || result.Links[0].CloseMovementID != 2 || result.Links[0].Quantity != 4 {
		t.Errorf("first link = %+v, want open 1 close 2 qty 4", result.Links[0])
	}
	if result.Links[1].OpenMovementID != 1 || result.Links[1].CloseMovementID != 3 || result.Links[1].Quantity != 6 {
		t.Errorf("second link = %+v, want open 1 close 3 qty 6", result.Links[1])
	}

	// premium 100/contract, both closes cost 50/contract -> 50/contract gain
	if got := result.Links[0].RealizedAmount.String(); got != "200" {
		t.Errorf("first link realized = %s, want 200", got)
	}
	if got := result.Links[1].RealizedAmount.String(); got != "300" {
		t.Errorf("second link realized = %s, want 300", got)
	}
	if result.Unlinked != 0 {
		t.Errorf("unlinked = %d, want 0", result.Unlinked)
	}

	for _, m := range result.Updated {
		if m.ID == 1 {
			if m.IsOpen || m.RemainingQuantity != 0 {
				t.Errorf("opener not fully consumed: isOpen=%v remaining=%d", m.IsOpen, m.RemainingQuantity)
			}
		}
	}
}

func TestLinkExpirationPrefersShortLegs(t *testing.T) {
	linker := NewOptionLinker()

	movements := []models.Movement{
		optionLeg(1, 1, models.BuyToOpen, 2, "-200"),
		optionLeg(2, 2, models.SellToOpen, 2, "300"),
		optionLeg(3, 20, models.Expired, 2, "0"),
	}

	result := linker.Link(movements)

	if len(result.Links) != 1 {
		t.Fatalf("links = %d, want 1", len(result.Links))
	}
	if result.Links[0].OpenMovementID != 2 {
		t.Errorf("expiration consumed opener %d, want the sell-to-open leg 2", result.Links[0].OpenMovementID)
	}
	// Expired leg carries no amount: realized is the opening premium alone.
	if got := result.Links[0].RealizedAmount.String(); got != "300" {
		t.Errorf("realized = %s, want 300", got)
	}
}

func TestLinkCloseWithoutOpenerIsFlagged(t *testing.T) {
	linker := NewOptionLinker()

	movements := []models.Movement{
		optionLeg(1, 3, models.BuyToClose, 1, "-40"),
	}

	result := linker.Link(movements)

	if len(result.Links) != 0 {
		t.Fatalf("links = %d, want 0", len(result.Links))
	}
	if result.Unlinked != 1 {
		t.Errorf("unlinked = %d, want 1", result.Unlinked)
	}
	if len(result.Updated) != 1 || !result.Updated[0].Unlinked {
		t.Errorf("closing leg not marked unlinked: %+v", result.Updated)
	}
}

func TestLinkSeparatesContracts(t *testing.T) {
	linker := NewOptionLinker()

	other := optionLeg(2, 1, models.SellToOpen, 1, "100")
	other.Strike = decimal.RequireFromString("180")

	movements := []models.Movement{
		optionLeg(1, 1, models.SellToOpen, 1, "100"),
		other,
		optionLeg(3, 5, models.BuyToClose, 1, "-40"),
	}

	result := linker.Link(movements)

	if len(result.Links) != 1 {
		t.Fatalf("links = %d, want 1", len(result.Links))
	}
	if result.Links[0].OpenMovementID != 1 {
		t.Errorf("close matched opener %d from a different strike, want 1", result.Links[0].OpenMovementID)
	}
}

func TestLinkIsIdempotent(t *testing.T) {
	linker := NewOptionLinker()

	movements := []models.Movement{
		optionLeg(1, 1, models.SellToOpen, 10, "1000"),
		optionLeg(2, 2, models.SellToOpen, 10, "800"),
		optionLeg(3, 9, models.BuyToClose, 15, "-750"),
	}

	first := linker.Link(movements)
	second := linker.Link(movements)

	if len(first.Links) != len(second.Links) {
		t.Fatalf("link counts differ: %d vs %d", len(first.Links), len(second.Links))
	}
	for i := range first.Links {
		a, b := first.Links[i], second.Links[i]
		if a.OpenMovementID != b.OpenMovementID || a.Quantity != b.Quantity || !a.RealizedAmount.Equal(b.RealizedAmount) {
			t.Errorf("link %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
}
