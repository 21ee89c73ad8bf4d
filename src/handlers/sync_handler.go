// backend/src/handlers/sync_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/services"
)

type SyncHandler struct {
	brokerClient services.BrokerClient
	syncService  *services.SyncService
}

func NewSyncHandler(brokerClient services.BrokerClient, syncService *services.SyncService) *SyncHandler {
	return &SyncHandler{brokerClient: brokerClient, syncService: syncService}
}

func (h *SyncHandler) HandleConnectBroker(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	conn, err := h.brokerClient.Connect(r.Context(), userID, payload.RefreshToken)
	if err != nil {
		ctxLogger.Warn("Broker connect failed", "error", err)
		sendJSONError(w, "Could not connect to broker: check the refresh token", http.StatusBadGateway)
		return
	}
	sendJSON(w, conn, http.StatusOK)
}

func (h *SyncHandler) HandleDisconnectBroker(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	if err := h.brokerClient.Disconnect(r.Context(), userID); err != nil {
		logger.FromContext(r.Context()).Error("Broker disconnect failed", "error", err)
		sendJSONError(w, "Failed to disconnect broker", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SyncHandler) HandleListBrokerAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	accounts, err := h.brokerClient.Accounts(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrBrokerNotConnected) {
			sendJSONError(w, "No broker connection on file", http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Broker account listing failed", "error", err)
		sendJSONError(w, "Failed to list broker accounts", http.StatusBadGateway)
		return
	}
	sendJSON(w, map[string]any{"accounts": accounts}, http.StatusOK)
}

// HandleSyncPortfolio runs a reconciliation of the portfolio against the
// given broker account. Concurrent runs for the same portfolio are rejected.
func (h *SyncHandler) HandleSyncPortfolio(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	portfolio, ok := portfolioFromRequest(w, r)
	if !ok {
		return
	}

	var payload struct {
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.AccountID == "" {
		sendJSONError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	summary, err := h.syncService.Run(r.Context(), userID, portfolio.ID, payload.AccountID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSyncInProgress):
			sendJSONError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, services.ErrBrokerNotConnected):
			sendJSONError(w, "No broker connection on file", http.StatusNotFound)
		default:
			ctxLogger.Error("Portfolio sync failed", "portfolioID", portfolio.ID, "error", err)
			sendJSONError(w, "Sync failed; no changes were applied", http.StatusBadGateway)
		}
		return
	}
	sendJSON(w, summary, http.StatusOK)
}
