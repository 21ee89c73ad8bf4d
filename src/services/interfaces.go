// backend/src/services/interfaces.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/maplefolio/backend/src/models"
)

// Common service errors. Per-item failures (a single unpriced symbol, one
// malformed broker activity) are aggregated into partial results instead of
// being returned through these.
var (
	// ErrRateUnavailable means an FX rate could not be fetched; valuation
	// degrades the affected fields to unknown rather than failing.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrPriceUnavailable means a symbol quote could not be fetched.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrSyncInProgress rejects a reconciliation request while another run
	// holds the portfolio's lock. Syncs are non-reentrant per portfolio.
	ErrSyncInProgress = errors.New("a sync is already in progress for this portfolio")

	// ErrBrokerNotConnected means the user has no stored broker connection.
	ErrBrokerNotConnected = errors.New("broker not connected")
)

// PriceInfo is one quote as returned by the provider.
type PriceInfo struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Currency models.Currency `json:"currency"`
	AsOf     time.Time       `json:"as_of"`
}

// PriceService fetches quotes and FX rates, absorbing repeated calls behind a
// short-lived cache (60s for prices, 1h for FX pairs by default).
type PriceService interface {
	// GetPrice returns the current quote for one symbol.
	GetPrice(ctx context.Context, symbol string) (PriceInfo, error)
	// GetPrices returns quotes for many symbols; symbols that fail are simply
	// absent from the result.
	GetPrices(ctx context.Context, symbols []string) map[string]PriceInfo
	// GetFxRate returns the rate for a currency pair such as USD/CAD.
	GetFxRate(ctx context.Context, from, to models.Currency) (decimal.Decimal, error)
}

// BrokerClient talks to the linked brokerage. Calls are authenticated with the
// user's stored connection and have bounded timeouts.
type BrokerClient interface {
	Connect(ctx context.Context, userID int64, refreshToken string) (models.BrokerConnection, error)
	Disconnect(ctx context.Context, userID int64) error
	Accounts(ctx context.Context, userID int64) ([]models.BrokerAccount, error)
	// Snapshot gathers positions, balances and activities (over the lookback
	// window) for one account in a single already-paginated bundle.
	Snapshot(ctx context.Context, userID int64, accountID string, lookback time.Duration) (models.BrokerSnapshot, error)
}
