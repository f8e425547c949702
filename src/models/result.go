package models

// RowError is a per-row parse or validation failure, keyed by the 1-based
// line number in the source file.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ParseResult carries the rows a parser could classify plus the rows it
// rejected.
type ParseResult struct {
	Transactions []CanonicalTransaction `json:"transactions"`
	RowErrors    []RowError             `json:"row_errors,omitempty"`
}

// ImportedCounts breaks the persisted movements down by kind.
type ImportedCounts struct {
	Trades          int `json:"trades"`
	BrokerMovements int `json:"brokerMovements"`
	Dividends       int `json:"dividends"`
	OptionTrades    int `json:"optionTrades"`
	NewTickers      int `json:"newTickers"`
}

// ImportError is one caller-facing error from an import run.
type ImportError struct {
	Message    string `json:"message"`
	LineNumber int    `json:"lineNumber,omitempty"`
}

// FileImportResult reports one file of a (possibly zipped, multi-file)
// import.
type FileImportResult struct {
	FileName         string        `json:"fileName"`
	ProcessedRecords int           `json:"processedRecords"`
	Errors           []ImportError `json:"errors,omitempty"`
}

// ImportResult is the structured outcome of one import run. It always
// distinguishes "nothing imported", "partially imported with N errors" and
// "fully imported", and carries the session's resumability for retries.
type ImportResult struct {
	Success          bool               `json:"success"`
	SessionID        string             `json:"sessionId,omitempty"`
	ProcessedRecords int                `json:"processedRecords"`
	ImportedCounts   ImportedCounts     `json:"importedCounts"`
	PerFileResults   []FileImportResult `json:"perFileResults,omitempty"`
	Errors           []ImportError      `json:"errors,omitempty"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
	Resumable        bool               `json:"resumable"`
}
