// backend/src/services/valuation_service.go
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/models"
)

// cashUSDStaleMarker flags a valuation whose USD cash balance could not be
// converted and was left out of total_value_with_cash.
const cashUSDStaleMarker = "CASH:USD"

var oneHundred = decimal.NewFromInt(100)

// ValuationService combines holdings, live prices and currency conversion
// into a single-currency (CAD) view of a portfolio. Valuation is best-effort:
// a missed quote or FX rate degrades that holding to stale instead of failing
// the whole request.
type ValuationService struct {
	db              *sql.DB
	priceService    PriceService
	currencyService *CurrencyService
	locks           *PortfolioLocker
}

func NewValuationService(db *sql.DB, priceService PriceService, currencyService *CurrencyService, locks *PortfolioLocker) *ValuationService {
	return &ValuationService{
		db:              db,
		priceService:    priceService,
		currencyService: currencyService,
		locks:           locks,
	}
}

// GetPortfolioValuation loads a portfolio and its holdings under the shared
// portfolio lock (so a concurrent sync cannot expose half-updated rows),
// fetches quotes, and values everything in CAD.
func (s *ValuationService) GetPortfolioValuation(ctx context.Context, portfolioID int64) (models.Portfolio, models.PortfolioValuation, error) {
	s.locks.RLock(portfolioID)
	defer s.locks.RUnlock(portfolioID)

	portfolio, err := model.GetPortfolioByID(ctx, s.db, portfolioID)
	if err != nil {
		return models.Portfolio{}, models.PortfolioValuation{}, fmt.Errorf("load portfolio: %w", err)
	}
	holdings, err := model.ListHoldingsByPortfolio(ctx, s.db, portfolioID)
	if err != nil {
		return models.Portfolio{}, models.PortfolioValuation{}, fmt.Errorf("load holdings: %w", err)
	}

	symbols := make([]string, 0, len(holdings))
	for _, h := range holdings {
		symbols = append(symbols, h.Symbol)
	}
	prices := s.priceService.GetPrices(ctx, symbols)

	return portfolio, s.Valuate(ctx, portfolio, holdings, prices), nil
}

// Valuate computes the CAD valuation for the given holdings and quotes. USD
// amounts belonging to a broker-linked portfolio are converted with the pinned
// rate captured at the last sync, so totals match the broker's own figures.
func (s *ValuationService) Valuate(ctx context.Context, portfolio models.Portfolio, holdings []models.Holding, prices map[string]PriceInfo) models.PortfolioValuation {
	result := models.PortfolioValuation{
		PortfolioID: portfolio.ID,
		Holdings:    make([]models.HoldingValuation, 0, len(holdings)),
		AsOf:        time.Now().UTC(),
	}

	totalValue := decimal.Zero
	totalCost := decimal.Zero

	for _, h := range holdings {
		hv := models.HoldingValuation{
			Symbol:       h.Symbol,
			Quantity:     h.Quantity,
			AverageCost:  h.AverageCost,
			TotalCost:    h.TotalCost,
			Currency:     h.Currency,
			Inconsistent: h.Inconsistent,
		}

		info, priced := prices[h.Symbol]
		if !priced {
			hv.Stale = true
			result.StaleSymbols = append(result.StaleSymbols, h.Symbol)
			result.Holdings = append(result.Holdings, hv)
			continue
		}

		value := h.Quantity.Mul(info.Price)
		valueCAD, errValue := s.currencyService.Convert(ctx, value, info.Currency, models.CAD, portfolio.PinnedFxRate)
		costCAD, errCost := s.currencyService.Convert(ctx, h.TotalCost, h.Currency, models.CAD, portfolio.PinnedFxRate)
		if errValue != nil || errCost != nil {
			hv.Stale = true
			result.StaleSymbols = append(result.StaleSymbols, h.Symbol)
			result.Holdings = append(result.Holdings, hv)
			continue
		}

		price := info.Price
		gain := valueCAD.Sub(costCAD)
		hv.CurrentPrice = &price
		hv.CurrentValueCAD = &valueCAD
		hv.TotalCostCAD = &costCAD
		hv.UnrealizedGainLoss = &gain
		percent := decimal.Zero
		if !costCAD.IsZero() {
			percent = gain.Div(costCAD).Mul(oneHundred)
		}
		hv.UnrealizedGainLossPercent = &percent

		totalValue = totalValue.Add(valueCAD)
		totalCost = totalCost.Add(costCAD)
		result.Holdings = append(result.Holdings, hv)
	}

	result.TotalValue = totalValue
	result.TotalCost = totalCost
	result.TotalGainLoss = totalValue.Sub(totalCost)
	if !totalCost.IsZero() {
		result.TotalGainLossPercent = result.TotalGainLoss.Div(totalCost).Mul(oneHundred)
	}

	// Cash: the CAD balance needs no conversion; USD cash goes through the
	// same pinned-rate-first path as USD holdings.
	withCash := totalValue.Add(portfolio.CashBalanceCAD)
	if !portfolio.CashBalanceUSD.IsZero() {
		usdCAD, err := s.currencyService.Convert(ctx, portfolio.CashBalanceUSD, models.USD, models.CAD, portfolio.PinnedFxRate)
		if err != nil {
			logger.L.Warn("Could not convert USD cash balance, leaving it out of totals",
				"portfolioID", portfolio.ID, "error", err)
			result.StaleSymbols = append(result.StaleSymbols, cashUSDStaleMarker)
		} else {
			withCash = withCash.Add(usdCAD)
		}
	}
	result.TotalValueWithCash = withCash

	return result
}
