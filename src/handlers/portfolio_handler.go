// backend/src/handlers/portfolio_handler.go
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/username/maplefolio/backend/src/database"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/models"
	"github.com/username/maplefolio/backend/src/security/validation"
	"github.com/username/maplefolio/backend/src/services"
)

type PortfolioHandler struct {
	valuationService *services.ValuationService
}

func NewPortfolioHandler(valuationService *services.ValuationService) *PortfolioHandler {
	return &PortfolioHandler{valuationService: valuationService}
}

// portfolioFromRequest resolves the {portfolioID} URL param and enforces
// ownership. A portfolio belonging to someone else reads as not found.
func portfolioFromRequest(w http.ResponseWriter, r *http.Request) (models.Portfolio, bool) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return models.Portfolio{}, false
	}

	portfolioID, err := strconv.ParseInt(chi.URLParam(r, "portfolioID"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid portfolio ID", http.StatusBadRequest)
		return models.Portfolio{}, false
	}

	portfolio, err := model.GetPortfolioByID(r.Context(), database.DB, portfolioID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			sendJSONError(w, "Portfolio not found", http.StatusNotFound)
		} else {
			logger.FromContext(r.Context()).Error("Failed to load portfolio", "portfolioID", portfolioID, "error", err)
			sendJSONError(w, "Failed to load portfolio", http.StatusInternalServerError)
		}
		return models.Portfolio{}, false
	}
	if portfolio.UserID != userID {
		sendJSONError(w, "Portfolio not found", http.StatusNotFound)
		return models.Portfolio{}, false
	}
	return portfolio, true
}

func (h *PortfolioHandler) HandleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	name := validation.SanitizeText(strings.TrimSpace(payload.Name))
	if name == "" {
		sendJSONError(w, "Portfolio name is required", http.StatusBadRequest)
		return
	}
	description := validation.SanitizeText(strings.TrimSpace(payload.Description))

	portfolio, err := model.CreatePortfolio(r.Context(), database.DB, userID, name, description)
	if err != nil {
		ctxLogger.Error("Failed to create portfolio", "error", err)
		sendJSONError(w, "Failed to create portfolio (name may already be in use)", http.StatusConflict)
		return
	}

	ctxLogger.Info("Portfolio created", "portfolioID", portfolio.ID)
	sendJSON(w, portfolio, http.StatusCreated)
}

func (h *PortfolioHandler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	portfolios, err := model.ListPortfoliosByUser(r.Context(), database.DB, userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list portfolios", "error", err)
		sendJSONError(w, "Failed to list portfolios", http.StatusInternalServerError)
		return
	}
	sendJSON(w, portfolios, http.StatusOK)
}

func (h *PortfolioHandler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, ok := portfolioFromRequest(w, r)
	if !ok {
		return
	}

	holdings, err := model.ListHoldingsByPortfolio(r.Context(), database.DB, portfolio.ID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list holdings", "portfolioID", portfolio.ID, "error", err)
		sendJSONError(w, "Failed to load holdings", http.StatusInternalServerError)
		return
	}

	sendJSON(w, map[string]any{
		"portfolio": portfolio,
		"holdings":  holdings,
	}, http.StatusOK)
}

func (h *PortfolioHandler) HandleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, ok := portfolioFromRequest(w, r)
	if !ok {
		return
	}

	if err := model.DeletePortfolio(r.Context(), database.DB, portfolio.ID, portfolio.UserID); err != nil {
		logger.FromContext(r.Context()).Error("Failed to delete portfolio", "portfolioID", portfolio.ID, "error", err)
		sendJSONError(w, "Failed to delete portfolio", http.StatusInternalServerError)
		return
	}

	logger.FromContext(r.Context()).Info("Portfolio deleted", "portfolioID", portfolio.ID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetValuation returns the CAD valuation of the portfolio. Unpriced
// symbols degrade to stale entries instead of failing the whole request.
func (h *PortfolioHandler) HandleGetValuation(w http.ResponseWriter, r *http.Request) {
	portfolio, ok := portfolioFromRequest(w, r)
	if !ok {
		return
	}

	_, valuation, err := h.valuationService.GetPortfolioValuation(r.Context(), portfolio.ID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to value portfolio", "portfolioID", portfolio.ID, "error", err)
		sendJSONError(w, "Failed to value portfolio", http.StatusInternalServerError)
		return
	}
	sendJSON(w, valuation, http.StatusOK)
}
