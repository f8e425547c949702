package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types produced by the broker parsers.
const (
	TypeTrade       = "TRADE"
	TypeOption      = "OPTION"
	TypeDividend    = "DIVIDEND"
	TypeDividendTax = "DIVIDEND_TAX"
	TypeCash        = "CASH"
)

// Cash movement subtypes.
const (
	SubTypeDeposit     = "DEPOSIT"
	SubTypeWithdrawal  = "WITHDRAWAL"
	SubTypeFee         = "FEE"
	SubTypeOtherIncome = "OTHER_INCOME"
)

// Trade direction.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// OptionCode is the closed set of option transaction kinds. Parsers must emit
// one of these; nothing downstream matches on free-form description text.
type OptionCode string

const (
	BuyToOpen   OptionCode = "BUY_TO_OPEN"
	SellToOpen  OptionCode = "SELL_TO_OPEN"
	BuyToClose  OptionCode = "BUY_TO_CLOSE"
	SellToClose OptionCode = "SELL_TO_CLOSE"
	Expired     OptionCode = "EXPIRED"
)

// ParseOptionCode validates a string against the closed option code set.
func ParseOptionCode(s string) (OptionCode, error) {
	switch OptionCode(s) {
	case BuyToOpen, SellToOpen, BuyToClose, SellToClose, Expired:
		return OptionCode(s), nil
	default:
		return "", fmt.Errorf("unknown option code %q", s)
	}
}

// IsOpening reports whether the code opens a position.
func (c OptionCode) IsOpening() bool {
	return c == BuyToOpen || c == SellToOpen
}

// Option contract kind.
const (
	OptionCall = "CALL"
	OptionPut  = "PUT"
)

// CanonicalTransaction is the unified, intermediate representation of a
// transaction. Each parser is responsible for populating as many of these
// fields as possible directly from the source file, including the initial
// classification.
type CanonicalTransaction struct {
	Source             string          `json:"source"`
	TransactionDate    time.Time       `json:"transaction_date"`
	Ticker             string          `json:"ticker"`
	ISIN               string          `json:"isin"`
	Quantity           int64           `json:"quantity"`
	Price              decimal.Decimal `json:"price"`
	Amount             decimal.Decimal `json:"amount"` // gross amount in original currency, signed
	Commission         decimal.Decimal `json:"commission"`
	Fee                decimal.Decimal `json:"fee"`
	Currency           string          `json:"currency"`
	OrderID            string          `json:"order_id"`
	RawText            string          `json:"raw_text"`
	TransactionType    string          `json:"transaction_type"`     // e.g. "TRADE", "OPTION", "DIVIDEND"
	TransactionSubType string          `json:"transaction_sub_type"` // e.g. "DEPOSIT", "CALL"
	BuySell            string          `json:"buy_sell"`

	// Option contract identity, set when TransactionType is OPTION.
	Underlying     string          `json:"underlying,omitempty"`
	OptionCode     OptionCode      `json:"option_code,omitempty"`
	OptionType     string          `json:"option_type,omitempty"` // CALL or PUT
	Strike         decimal.Decimal `json:"strike,omitempty"`
	ExpirationDate time.Time       `json:"expiration_date,omitempty"`
}

// Movement is a CanonicalTransaction as persisted for one broker account,
// plus the open/close linkage state maintained by the option linker.
type Movement struct {
	ID        int64 `json:"id,omitempty"`
	AccountID int64 `json:"account_id"`
	CanonicalTransaction
	HashID string `json:"hash_id"` // dedupe key, stable across re-imports

	// Option linkage state. RemainingQuantity counts the unconsumed contracts
	// of an opening leg; LinkedOpenID points a closing leg at the earliest
	// opening leg that absorbed it.
	RemainingQuantity int64           `json:"remaining_quantity,omitempty"`
	IsOpen            bool            `json:"is_open,omitempty"`
	LinkedOpenID      *int64          `json:"linked_open_id,omitempty"`
	Unlinked          bool            `json:"unlinked,omitempty"` // closing leg with no candidate opener
	RealizedAmount    decimal.Decimal `json:"realized_amount"`    // total realized by this closing leg
}

// OptionLink records one FIFO pairing of a closing option leg with an opening
// leg, for the quantity the opener absorbed.
type OptionLink struct {
	ID              int64           `json:"id,omitempty"`
	CloseMovementID int64           `json:"close_movement_id"`
	OpenMovementID  int64           `json:"open_movement_id"`
	Quantity        int64           `json:"quantity"`
	RealizedAmount  decimal.Decimal `json:"realized_amount"`
}

// BrokerAccount is the owning entity for sessions, movements and snapshots.
type BrokerAccount struct {
	ID         int64  `json:"id"`
	BrokerName string `json:"broker_name"`
	Name       string `json:"name"`
	Currency   string `json:"currency"` // account base currency
}
