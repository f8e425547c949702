package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/models"
	"github.com/username/binnaculum/backend/src/processors"
	"github.com/username/binnaculum/backend/src/services"
	"github.com/username/binnaculum/backend/src/utils"
)

type SnapshotHandler struct {
	snapshotService services.SnapshotService
}

func NewSnapshotHandler(service services.SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{
		snapshotService: service,
	}
}

// entityQuery identifies one snapshot entity from request query parameters.
type entityQuery struct {
	level     models.SnapshotLevel
	ticker    string
	accountID int64
	broker    string
}

func parseEntityQuery(r *http.Request) (*entityQuery, error) {
	q := r.URL.Query()
	level := models.SnapshotLevel(q.Get("level"))

	eq := &entityQuery{
		level:  level,
		ticker: q.Get("ticker"),
		broker: q.Get("broker"),
	}
	if raw := q.Get("accountId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid accountId %q", raw)
		}
		eq.accountID = id
	}

	switch level {
	case models.LevelTickerCurrency:
		if eq.ticker == "" || eq.accountID == 0 {
			return nil, errors.New("level TICKER_CURRENCY requires ticker and accountId")
		}
	case models.LevelTicker:
		if eq.ticker == "" {
			return nil, errors.New("level TICKER requires ticker")
		}
	case models.LevelAccount:
		if eq.accountID == 0 {
			return nil, errors.New("level ACCOUNT requires accountId")
		}
	case models.LevelBroker:
		if eq.broker == "" {
			return nil, errors.New("level BROKER requires broker")
		}
	case models.LevelOverview:
	default:
		return nil, fmt.Errorf("unknown level %q", q.Get("level"))
	}
	return eq, nil
}

// HandleGetFinancialRecord returns one entity's financial record, for the
// requested date or the latest snapshotted one, with ETag support.
func (h *SnapshotHandler) HandleGetFinancialRecord(w http.ResponseWriter, r *http.Request) {
	eq, err := parseEntityQuery(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var record *models.FinancialRecord
	if rawDate := r.URL.Query().Get("date"); rawDate != "" {
		date := utils.ParseDate(rawDate)
		if date.IsZero() {
			utils.SendJSONError(w, fmt.Sprintf("invalid date %q", rawDate), http.StatusBadRequest)
			return
		}
		record, err = h.snapshotService.FinancialRecordOn(eq.level, eq.ticker, eq.accountID, eq.broker, date)
	} else {
		record, err = h.snapshotService.LatestFinancialRecord(eq.level, eq.ticker, eq.accountID, eq.broker)
	}
	if err != nil {
		if errors.Is(err, processors.ErrNoSnapshots) {
			utils.SendJSONError(w, "No snapshots for the requested entity and date.", http.StatusNotFound)
			return
		}
		logger.L.Error("Error retrieving financial record", "level", eq.level, "error", err)
		utils.SendJSONError(w, "Error retrieving financial record.", http.StatusInternalServerError)
		return
	}

	h.writeWithETag(w, r, record)
}

// HandleGetFinancialSeries returns one record per snapshotted date in the
// requested range.
func (h *SnapshotHandler) HandleGetFinancialSeries(w http.ResponseWriter, r *http.Request) {
	eq, err := parseEntityQuery(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	from := utils.ParseDate(r.URL.Query().Get("from"))
	if from.IsZero() {
		utils.SendJSONError(w, "invalid or missing from date", http.StatusBadRequest)
		return
	}
	to := utils.ParseDate(r.URL.Query().Get("to"))
	if to.IsZero() {
		to = time.Now().UTC()
	}

	records, err := h.snapshotService.FinancialSeries(eq.level, eq.ticker, eq.accountID, eq.broker, from, to)
	if err != nil {
		logger.L.Error("Error retrieving financial series", "level", eq.level, "error", err)
		utils.SendJSONError(w, "Error retrieving financial series.", http.StatusInternalServerError)
		return
	}

	h.writeWithETag(w, r, records)
}

func (h *SnapshotHandler) writeWithETag(w http.ResponseWriter, r *http.Request, payload interface{}) {
	etag, err := utils.GenerateETag(payload)
	if err != nil {
		logger.L.Error("Error generating ETag", "error", err)
		writeJSON(w, http.StatusOK, payload)
		return
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, payload)
}
