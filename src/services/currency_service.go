// backend/src/services/currency_service.go
package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/username/maplefolio/backend/src/models"
)

// CurrencyService converts amounts between the supported currencies. A
// broker-pinned rate, when given, takes precedence over the live market rate
// so converted totals reconcile exactly with the broker's own statement.
type CurrencyService struct {
	priceService PriceService
}

func NewCurrencyService(priceService PriceService) *CurrencyService {
	return &CurrencyService{priceService: priceService}
}

// Convert translates amount from one currency to the other. pinnedRate is the
// broker's USD->CAD rate and is only consulted for that direction; all other
// conversions use the live (cached) rate. A provider failure surfaces as
// ErrRateUnavailable, which valuation treats as a partial-result condition.
func (s *CurrencyService) Convert(ctx context.Context, amount decimal.Decimal, from, to models.Currency, pinnedRate *decimal.Decimal) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	if pinnedRate != nil && from == models.USD && to == models.CAD {
		return amount.Mul(*pinnedRate), nil
	}

	rate, err := s.priceService.GetFxRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}
