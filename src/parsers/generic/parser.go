package generic

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/binnaculum/backend/src/models"
)

// Parser reads the application's canonical CSV export format:
//
//	date,type,subtype,ticker,isin,quantity,price,amount,commission,fee,
//	currency,buy_sell,order_id,underlying,option_code,option_type,strike,expiration
//
// Broker-specific grammars live in their own parser packages behind the same
// factory; this one exists so round-trips of the app's own exports work.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

const minFields = 13

func (p *Parser) Parse(file io.Reader) (*models.ParseResult, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	result := &models.ParseResult{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.RowErrors = append(result.RowErrors, models.RowError{Line: line, Reason: err.Error()})
			continue
		}
		if len(record) < minFields {
			result.RowErrors = append(result.RowErrors, models.RowError{
				Line: line, Reason: fmt.Sprintf("expected at least %d fields, got %d", minFields, len(record))})
			continue
		}

		tx, rowErr := parseRecord(record)
		if rowErr != "" {
			result.RowErrors = append(result.RowErrors, models.RowError{Line: line, Reason: rowErr})
			continue
		}
		result.Transactions = append(result.Transactions, tx)
	}

	return result, nil
}

func parseRecord(record []string) (models.CanonicalTransaction, string) {
	var tx models.CanonicalTransaction
	tx.Source = "canonical"

	date, err := parseTimestamp(record[0])
	if err != nil {
		return tx, fmt.Sprintf("invalid date %q", record[0])
	}
	tx.TransactionDate = date

	txType := strings.ToUpper(strings.TrimSpace(record[1]))
	switch txType {
	case models.TypeTrade, models.TypeOption, models.TypeDividend, models.TypeDividendTax, models.TypeCash:
		tx.TransactionType = txType
	default:
		return tx, fmt.Sprintf("unknown transaction type %q", record[1])
	}

	tx.TransactionSubType = strings.ToUpper(strings.TrimSpace(record[2]))
	tx.Ticker = strings.TrimSpace(record[3])
	tx.ISIN = strings.TrimSpace(record[4])

	if record[5] != "" {
		qty, err := strconv.ParseInt(record[5], 10, 64)
		if err != nil {
			return tx, fmt.Sprintf("invalid quantity %q", record[5])
		}
		if qty < 0 {
			qty = -qty
		}
		tx.Quantity = qty
	}

	var rowErr string
	tx.Price, rowErr = parseDecimalField(record[6], "price")
	if rowErr != "" {
		return tx, rowErr
	}
	tx.Amount, rowErr = parseDecimalField(record[7], "amount")
	if rowErr != "" {
		return tx, rowErr
	}
	tx.Commission, rowErr = parseDecimalField(record[8], "commission")
	if rowErr != "" {
		return tx, rowErr
	}
	tx.Fee, rowErr = parseDecimalField(record[9], "fee")
	if rowErr != "" {
		return tx, rowErr
	}

	tx.Currency = strings.ToUpper(strings.TrimSpace(record[10]))
	if tx.Currency == "" {
		return tx, "missing currency"
	}
	tx.BuySell = strings.ToUpper(strings.TrimSpace(record[11]))
	tx.OrderID = strings.TrimSpace(record[12])

	switch tx.TransactionType {
	case models.TypeTrade:
		if tx.Quantity == 0 {
			return tx, "trade with zero quantity"
		}
		if tx.BuySell != models.SideBuy && tx.BuySell != models.SideSell {
			return tx, fmt.Sprintf("trade with invalid buy_sell %q", record[11])
		}
	case models.TypeOption:
		if len(record) < 18 {
			return tx, "option row missing contract fields"
		}
		tx.Underlying = strings.TrimSpace(record[13])
		if tx.Underlying == "" {
			return tx, "option row missing underlying"
		}
		code, err := models.ParseOptionCode(strings.ToUpper(strings.TrimSpace(record[14])))
		if err != nil {
			return tx, err.Error()
		}
		tx.OptionCode = code
		tx.OptionType = strings.ToUpper(strings.TrimSpace(record[15]))
		if tx.OptionType != models.OptionCall && tx.OptionType != models.OptionPut {
			return tx, fmt.Sprintf("invalid option type %q", record[15])
		}
		tx.Strike, rowErr = parseDecimalField(record[16], "strike")
		if rowErr != "" {
			return tx, rowErr
		}
		expiration, err := parseTimestamp(record[17])
		if err != nil {
			return tx, fmt.Sprintf("invalid expiration %q", record[17])
		}
		tx.ExpirationDate = expiration
		if tx.Quantity == 0 {
			return tx, "option row with zero quantity"
		}
	case models.TypeCash:
		switch tx.TransactionSubType {
		case models.SubTypeDeposit, models.SubTypeWithdrawal, models.SubTypeFee, models.SubTypeOtherIncome:
		default:
			return tx, fmt.Sprintf("unknown cash subtype %q", record[2])
		}
	}

	return tx, ""
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseDecimalField(s, name string) (decimal.Decimal, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ""
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Sprintf("invalid %s %q", name, s)
	}
	return d, ""
}
