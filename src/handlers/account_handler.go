package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/models"
	"github.com/username/binnaculum/backend/src/store"
	"github.com/username/binnaculum/backend/src/utils"
)

type AccountHandler struct {
	accounts store.AccountStore
}

func NewAccountHandler(accounts store.AccountStore) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

func (h *AccountHandler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var account models.BrokerAccount
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		utils.SendJSONError(w, "Invalid request body.", http.StatusBadRequest)
		return
	}
	account.BrokerName = strings.TrimSpace(account.BrokerName)
	account.Name = strings.TrimSpace(account.Name)
	account.Currency = strings.ToUpper(strings.TrimSpace(account.Currency))
	if account.BrokerName == "" || account.Name == "" {
		utils.SendJSONError(w, "broker_name and name are required.", http.StatusBadRequest)
		return
	}

	if err := h.accounts.CreateAccount(&account); err != nil {
		logger.L.Error("Error creating broker account", "broker", account.BrokerName, "error", err)
		utils.SendJSONError(w, "Error creating account.", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.ListAccounts()
	if err != nil {
		logger.L.Error("Error listing broker accounts", "error", err)
		utils.SendJSONError(w, "Error listing accounts.", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountIDFromURL(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	account, err := h.accounts.GetAccount(id)
	if err != nil {
		logger.L.Error("Error loading broker account", "accountID", id, "error", err)
		utils.SendJSONError(w, "Error loading account.", http.StatusInternalServerError)
		return
	}
	if account == nil {
		utils.SendJSONError(w, "Account not found.", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
