package generic

import (
	"strings"
	"testing"
	"time"

	"github.com/username/binnaculum/backend/src/models"
)

const csvHeader = "date,type,subtype,ticker,isin,quantity,price,amount,commission,fee,currency,buy_sell,order_id,underlying,option_code,option_type,strike,expiration\n"

func parse(t *testing.T, body string) *models.ParseResult {
	t.Helper()
	p := NewParser()
	result, err := p.Parse(strings.NewReader(csvHeader + body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return result
}

func TestParseTrade(t *testing.T) {
	result := parse(t, "2024-03-10,TRADE,,AAPL,US0378331005,10,170.50,-1705.00,1.00,0.35,USD,BUY,ord-1\n")

	if len(result.RowErrors) != 0 {
		t.Fatalf("row errors: %+v", result.RowErrors)
	}
	if len(result.Transactions) != 1 {
		t.Fatalf("transactions = %d, want 1", len(result.Transactions))
	}
	tx := result.Transactions[0]
	if tx.TransactionType != models.TypeTrade || tx.Ticker != "AAPL" || tx.BuySell != models.SideBuy {
		t.Errorf("unexpected trade: %+v", tx)
	}
	if tx.Quantity != 10 || tx.Price.String() != "170.5" || tx.Currency != "USD" {
		t.Errorf("unexpected trade values: qty=%d price=%s currency=%s", tx.Quantity, tx.Price, tx.Currency)
	}
	want := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if !tx.TransactionDate.Equal(want) {
		t.Errorf("date = %s, want %s", tx.TransactionDate, want)
	}
}

func TestParseOptionRow(t *testing.T) {
	result := parse(t, "2024-03-10T14:30:00Z,OPTION,,,,2,1.50,300,0.70,0,USD,SELL,ord-2,AAPL,SELL_TO_OPEN,PUT,170,2024-06-21\n")

	if len(result.RowErrors) != 0 {
		t.Fatalf("row errors: %+v", result.RowErrors)
	}
	tx := result.Transactions[0]
	if tx.Underlying != "AAPL" || tx.OptionCode != models.SellToOpen || tx.OptionType != models.OptionPut {
		t.Errorf("unexpected option fields: %+v", tx)
	}
	if tx.Strike.String() != "170" {
		t.Errorf("strike = %s, want 170", tx.Strike)
	}
	if tx.ExpirationDate.IsZero() {
		t.Error("expiration not parsed")
	}
}

func TestParseRejectsBadRowsWithLineNumbers(t *testing.T) {
	body := "2024-03-10,TRADE,,AAPL,,10,170,-1700,0,0,USD,BUY,ord-1\n" +
		"not-a-date,TRADE,,AAPL,,10,170,-1700,0,0,USD,BUY,ord-2\n" +
		"2024-03-12,MYSTERY,,AAPL,,10,170,-1700,0,0,USD,BUY,ord-3\n" +
		"2024-03-13,TRADE,,AAPL,,0,170,0,0,0,USD,BUY,ord-4\n" +
		"2024-03-14,TRADE,,AAPL,,5,170,-850,0,0,,BUY,ord-5\n"
	result := parse(t, body)

	if len(result.Transactions) != 1 {
		t.Fatalf("transactions = %d, want 1 good row", len(result.Transactions))
	}
	if len(result.RowErrors) != 4 {
		t.Fatalf("row errors = %d, want 4: %+v", len(result.RowErrors), result.RowErrors)
	}
	// Header is line 1; the first bad row is line 3.
	wantLines := []int{3, 4, 5, 6}
	for i, re := range result.RowErrors {
		if re.Line != wantLines[i] {
			t.Errorf("row error %d at line %d, want %d (%s)", i, re.Line, wantLines[i], re.Reason)
		}
	}
}

func TestParseOptionRowMissingContractFields(t *testing.T) {
	result := parse(t, "2024-03-10,OPTION,,,,2,1.50,300,0,0,USD,SELL,ord-2\n")

	if len(result.Transactions) != 0 {
		t.Fatalf("option row without contract fields was accepted")
	}
	if len(result.RowErrors) != 1 {
		t.Fatalf("row errors = %d, want 1", len(result.RowErrors))
	}
}

func TestParseCashSubtypes(t *testing.T) {
	body := "2024-03-10,CASH,DEPOSIT,,,,,%s,0,0,USD,,ord-1\n"
	result := parse(t, strings.ReplaceAll(body, "%s", "1000"))
	if len(result.Transactions) != 1 || result.Transactions[0].TransactionSubType != models.SubTypeDeposit {
		t.Fatalf("deposit row not parsed: %+v", result)
	}

	bad := parse(t, "2024-03-10,CASH,GIFT,,,,,50,0,0,USD,,ord-2\n")
	if len(bad.RowErrors) != 1 {
		t.Fatalf("unknown cash subtype was accepted: %+v", bad)
	}
}

func TestParseEmptyFile(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse(strings.NewReader("")); err == nil {
		t.Error("Parse of empty input returned nil error, want header error")
	}
}
