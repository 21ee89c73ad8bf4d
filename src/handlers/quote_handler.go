// backend/src/handlers/quote_handler.go
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/models"
	"github.com/username/maplefolio/backend/src/services"
)

type QuoteHandler struct {
	priceService services.PriceService
}

func NewQuoteHandler(priceService services.PriceService) *QuoteHandler {
	return &QuoteHandler{priceService: priceService}
}

func (h *QuoteHandler) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	if symbol == "" {
		sendJSONError(w, "Symbol is required", http.StatusBadRequest)
		return
	}

	info, err := h.priceService.GetPrice(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, services.ErrPriceUnavailable) {
			sendJSONError(w, "No quote available for "+symbol, http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Quote lookup failed", "symbol", symbol, "error", err)
		sendJSONError(w, "Failed to fetch quote", http.StatusBadGateway)
		return
	}
	sendJSON(w, info, http.StatusOK)
}

// HandleGetFxRate returns the current USD to CAD rate from the quote provider.
func (h *QuoteHandler) HandleGetFxRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.priceService.GetFxRate(r.Context(), models.USD, models.CAD)
	if err != nil {
		if errors.Is(err, services.ErrRateUnavailable) {
			sendJSONError(w, "Exchange rate unavailable", http.StatusServiceUnavailable)
			return
		}
		logger.FromContext(r.Context()).Error("FX rate lookup failed", "error", err)
		sendJSONError(w, "Failed to fetch exchange rate", http.StatusBadGateway)
		return
	}
	sendJSON(w, map[string]any{"from": models.USD, "to": models.CAD, "rate": rate}, http.StatusOK)
}
