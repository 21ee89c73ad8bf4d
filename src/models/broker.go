package models

import "time"

// BrokerPosition is one open position as reported by the brokerage.
type BrokerPosition struct {
	Symbol            string  `json:"symbol"`
	SymbolID          int64   `json:"symbolId"`
	OpenQuantity      float64 `json:"openQuantity"`
	ClosedQuantity    float64 `json:"closedQuantity"`
	CurrentMarketValue float64 `json:"currentMarketValue"`
	CurrentPrice      float64 `json:"currentPrice"`
	AverageEntryPrice float64 `json:"averageEntryPrice"`
	TotalCost         float64 `json:"totalCost"`
	IsRealTime        bool    `json:"isRealTime"`
}

// BrokerBalance is one per-currency or combined balance row.
type BrokerBalance struct {
	Currency    string  `json:"currency"`
	Cash        float64 `json:"cash"`
	MarketValue float64 `json:"marketValue"`
	TotalEquity float64 `json:"totalEquity"`
	IsRealTime  bool    `json:"isRealTime"`
}

// BrokerBalances carries both balance views the broker reports: native
// per-currency rows and the combined rows where USD has already been
// converted into CAD using the broker's own rate.
type BrokerBalances struct {
	PerCurrencyBalances []BrokerBalance `json:"perCurrencyBalances"`
	CombinedBalances    []BrokerBalance `json:"combinedBalances"`
}

// BrokerActivity is one account activity row (dividend, interest, trade, ...).
type BrokerActivity struct {
	TradeDate       string  `json:"tradeDate"`
	TransactionDate string  `json:"transactionDate"`
	SettlementDate  string  `json:"settlementDate"`
	Action          string  `json:"action"`
	Symbol          string  `json:"symbol"`
	SymbolID        int64   `json:"symbolId"`
	Description     string  `json:"description"`
	Currency        string  `json:"currency"`
	Quantity        float64 `json:"quantity"`
	Price           float64 `json:"price"`
	GrossAmount     float64 `json:"grossAmount"`
	Commission      float64 `json:"commission"`
	NetAmount       float64 `json:"netAmount"`
	Type            string  `json:"type"`
}

// BrokerSnapshot is everything the reconciliation engine consumes for one
// external account. The API calls that produced it have already succeeded.
type BrokerSnapshot struct {
	AccountID  string           `json:"account_id"`
	Positions  []BrokerPosition `json:"positions"`
	Balances   BrokerBalances   `json:"balances"`
	Activities []BrokerActivity `json:"activities"`
}

// BrokerAccount is one account listed for the authenticated connection.
type BrokerAccount struct {
	Type      string `json:"type"`
	Number    string `json:"number"`
	Status    string `json:"status"`
	IsPrimary bool   `json:"isPrimary"`
}

// BrokerConnection stores the per-user broker credentials and sync state.
type BrokerConnection struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	RefreshToken   string     `json:"-"`
	AccessToken    string     `json:"-"`
	APIServer      string     `json:"api_server"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}

// SyncSummary is the structured result of one reconciliation run. Dedup skips
// are expected outcomes, not errors, and are reported as counts.
type SyncSummary struct {
	PortfolioID        int64    `json:"portfolio_id"`
	AccountID          string   `json:"account_id"`
	PositionsImported  int      `json:"positions_imported"`
	PositionsSkipped   int      `json:"positions_skipped"`
	ActivitiesImported int      `json:"activities_imported"`
	ActivitiesSkipped  int      `json:"activities_skipped"`
	ActivitiesFailed   int      `json:"activities_failed"`
	SymbolsRebuilt     []string `json:"symbols_rebuilt,omitempty"`
	CashBalanceCAD     string   `json:"cash_balance_cad"`
	PinnedFxRate       string   `json:"pinned_fx_rate,omitempty"`
	Message            string   `json:"message"`
}
