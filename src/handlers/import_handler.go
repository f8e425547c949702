package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/username/binnaculum/backend/src/config"
	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/services"
	"github.com/username/binnaculum/backend/src/utils"
)

type ImportHandler struct {
	importService services.ImportService
}

func NewImportHandler(service services.ImportService) *ImportHandler {
	return &ImportHandler{
		importService: service,
	}
}

func accountIDFromURL(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "accountID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id %q", raw)
	}
	return id, nil
}

// HandleImport accepts a multipart upload (csv or zip of csvs) and runs the
// import pipeline to a terminal state before responding.
func (h *ImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromURL(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "accountID", accountID, "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "accountID", accountID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		logger.L.Warn("Uploaded file too large", "accountID", accountID, "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	logger.L.Info("Processing import request", "accountID", accountID, "filename", fileHeader.Filename)
	result, err := h.importService.ImportFile(r.Context(), accountID, fileHeader.Filename, file)
	if err != nil && !errors.Is(err, services.ErrImportCancelled) {
		h.writeImportError(w, accountID, fileHeader.Filename, result, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleResume picks up the account's interrupted session and re-runs only
// the chunks that never completed.
func (h *ImportHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromURL(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger.L.Info("Processing resume request", "accountID", accountID)
	result, err := h.importService.ResumeImport(r.Context(), accountID)
	if err != nil && !errors.Is(err, services.ErrImportCancelled) {
		if errors.Is(err, services.ErrNoResumableSession) {
			utils.SendJSONError(w, "No resumable import session for this account.", http.StatusNotFound)
			return
		}
		h.writeImportError(w, accountID, "", result, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ImportHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := h.importService.CancelImport()
	if !cancelled {
		utils.SendJSONError(w, "No import in progress.", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"cancelled": true})
}

func (h *ImportHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.importService.CurrentStatus())
}

func (h *ImportHandler) writeImportError(w http.ResponseWriter, accountID int64, fileName string, result interface{}, err error) {
	switch {
	case errors.Is(err, services.ErrDuplicateImport):
		logger.L.Info("Duplicate import rejected", "accountID", accountID, "filename", fileName)
		utils.SendJSONError(w, "This file was already imported.", http.StatusConflict)
	case errors.Is(err, services.ErrImportInProgress):
		logger.L.Warn("Import rejected, another one is pending", "accountID", accountID, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrUnsupportedFileType):
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrParsingFailed), errors.Is(err, services.ErrValidationFailed):
		logger.L.Warn("Import failed on file content", "accountID", accountID, "filename", fileName, "error", err)
		writeJSON(w, http.StatusBadRequest, result)
	case errors.Is(err, services.ErrFileNotFound):
		utils.SendJSONError(w, err.Error(), http.StatusNotFound)
	default:
		logger.L.Error("Internal error processing import", "accountID", accountID, "filename", fileName, "error", err)
		utils.SendJSONError(w, "An internal error occurred while processing the file. Please try again later.", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Error("Error encoding JSON response", "error", err)
	}
}
