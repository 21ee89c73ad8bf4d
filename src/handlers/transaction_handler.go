// backend/src/handlers/transaction_handler.go
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/username/maplefolio/backend/src/database"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/services"
)

type TransactionHandler struct {
	portfolioService *services.PortfolioService
}

func NewTransactionHandler(portfolioService *services.PortfolioService) *TransactionHandler {
	return &TransactionHandler{portfolioService: portfolioService}
}

func (h *TransactionHandler) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	portfolio, ok := portfolioFromRequest(w, r)
	if !ok {
		return
	}

	var input services.CreateTransactionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	input.PortfolioID = portfolio.ID

	created, err := h.portfolioService.CreateTransaction(r.Context(), portfolio.UserID, input)
	if err != nil {
		if errors.Is(err, services.ErrInvalidTransaction) {
			sendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctxLogger.Error("Failed to create transaction", "portfolioID", portfolio.ID, "error", err)
		sendJSONError(w, "Failed to create transaction", http.StatusInternalServerError)
		return
	}
	sendJSON(w, created, http.StatusCreated)
}

func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	portfolio, ok := portfolioFromRequest(w, r)
	if !ok {
		return
	}

	transactions, err := model.ListTransactionsByPortfolio(r.Context(), database.DB, portfolio.ID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list transactions", "portfolioID", portfolio.ID, "error", err)
		sendJSONError(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}
	sendJSON(w, transactions, http.StatusOK)
}

func (h *TransactionHandler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	transactionID, err := strconv.ParseInt(chi.URLParam(r, "transactionID"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}

	if err := h.portfolioService.DeleteTransaction(r.Context(), userID, transactionID); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows), errors.Is(err, services.ErrPortfolioNotFound), errors.Is(err, services.ErrNotOwner):
			sendJSONError(w, "Transaction not found", http.StatusNotFound)
		default:
			logger.FromContext(r.Context()).Error("Failed to delete transaction", "transactionID", transactionID, "error", err)
			sendJSONError(w, "Failed to delete transaction", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
