package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio groups a user's transactions and derived holdings, plus the cash
// balances and broker link captured on the last sync.
type Portfolio struct {
	ID              int64            `json:"id"`
	UserID          int64            `json:"user_id"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	CashBalanceCAD  decimal.Decimal  `json:"cash_balance_cad"`
	CashBalanceUSD  decimal.Decimal  `json:"cash_balance_usd"`
	BrokerAccountID *string          `json:"broker_account_id,omitempty"`
	// PinnedFxRate is the exact USD->CAD rate the linked broker used for its
	// own combined balance. When present it overrides the live market rate so
	// CAD totals reconcile with the broker's statement.
	PinnedFxRate *decimal.Decimal `json:"pinned_fx_rate,omitempty"`
	LastSyncAt   *time.Time       `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
}

// Holding is the derived current position for one symbol within a portfolio.
// It is a materialized view over the transaction log and can always be rebuilt
// by a full replay; the log is the source of truth.
type Holding struct {
	ID          int64           `json:"id,omitempty"`
	PortfolioID int64           `json:"portfolio_id"`
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Currency    Currency        `json:"currency"`
	// Inconsistent marks a position where a SELL exceeded the tracked
	// quantity during projection. History is never fabricated to hide it.
	Inconsistent bool      `json:"inconsistent,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HoldingValuation mirrors the portfolio-level metrics per holding. Price and
// derived fields are nil when the quote or FX lookup failed; Stale marks such
// best-effort rows.
type HoldingValuation struct {
	Symbol                    string           `json:"symbol"`
	Quantity                  decimal.Decimal  `json:"quantity"`
	AverageCost               decimal.Decimal  `json:"average_cost"`
	TotalCost                 decimal.Decimal  `json:"total_cost"`
	Currency                  Currency         `json:"currency"`
	CurrentPrice              *decimal.Decimal `json:"current_price,omitempty"`
	CurrentValueCAD           *decimal.Decimal `json:"current_value_cad,omitempty"`
	TotalCostCAD              *decimal.Decimal `json:"total_cost_cad,omitempty"`
	UnrealizedGainLoss        *decimal.Decimal `json:"unrealized_gain_loss,omitempty"`
	UnrealizedGainLossPercent *decimal.Decimal `json:"unrealized_gain_loss_percent,omitempty"`
	Inconsistent              bool             `json:"inconsistent,omitempty"`
	Stale                     bool             `json:"stale,omitempty"`
}

// PortfolioValuation is the single-currency (CAD) view of a portfolio. Totals
// cover only holdings whose price and FX rate resolved; StaleSymbols lists the
// rest so the caller can tell a complete valuation from a partial one.
type PortfolioValuation struct {
	PortfolioID          int64              `json:"portfolio_id"`
	Holdings             []HoldingValuation `json:"holdings"`
	TotalValue           decimal.Decimal    `json:"total_value"`
	TotalCost            decimal.Decimal    `json:"total_cost"`
	TotalGainLoss        decimal.Decimal    `json:"total_gain_loss"`
	TotalGainLossPercent decimal.Decimal    `json:"total_gain_loss_percent"`
	TotalValueWithCash   decimal.Decimal    `json:"total_value_with_cash"`
	StaleSymbols         []string           `json:"stale_symbols,omitempty"`
	AsOf                 time.Time          `json:"as_of"`
}
