// backend/src/services/sync_service_test.go
package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/models"
	"github.com/username/maplefolio/backend/src/processors"
)

func newSyncFixture(t *testing.T, db *sql.DB, snapshot models.BrokerSnapshot) *SyncService {
	t.Helper()
	locks := NewPortfolioLocker()
	portfolios := NewPortfolioService(db, processors.NewHoldingsProjector(), locks)
	return NewSyncService(db, &stubBrokerClient{snapshot: snapshot}, portfolios, locks)
}

func testSnapshot(accountID string) models.BrokerSnapshot {
	return models.BrokerSnapshot{
		AccountID: accountID,
		Positions: []models.BrokerPosition{
			{Symbol: "XIU.TO", OpenQuantity: 100, AverageEntryPrice: 32.5},
			{Symbol: "AAPL", OpenQuantity: 10, AverageEntryPrice: 150},
			{Symbol: "SOLD", OpenQuantity: 0, AverageEntryPrice: 10}, // closed, ignored
		},
		Balances: models.BrokerBalances{
			CombinedBalances: []models.BrokerBalance{
				{Currency: "CAD", Cash: 500, MarketValue: 6050},
			},
			PerCurrencyBalances: []models.BrokerBalance{
				{Currency: "CAD", Cash: 500, MarketValue: 3350},
				{Currency: "USD", Cash: 0, MarketValue: 2000},
			},
		},
		Activities: []models.BrokerActivity{
			{
				Action:          "DIV",
				Symbol:          "AAPL",
				TransactionDate: "2026-03-02T00:00:00-05:00",
				Description:     "APPLE INC CASH DIV",
				Currency:        "USD",
				NetAmount:       24,
			},
			{
				Action:          "",
				Type:            "Dividends",
				Symbol:          "XIU.TO",
				TransactionDate: "2026-04-01T00:00:00-04:00",
				Description:     "ISHARES S&P/TSX 60 DIST",
				Currency:        "CAD",
				NetAmount:       50,
			},
			// Trades come in through positions, never as activities.
			{Action: "Buy", Symbol: "AAPL", TransactionDate: "2026-02-10T00:00:00-05:00", NetAmount: -1500},
			// Malformed: income activity without a symbol.
			{Action: "DIV", Symbol: "", TransactionDate: "2026-02-11T00:00:00-05:00", NetAmount: 5},
		},
	}
}

func countTransactions(t *testing.T, db *sql.DB, portfolioID int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM transactions WHERE portfolio_id = ?`, portfolioID).Scan(&n))
	return n
}

func TestSyncImportsSnapshot(t *testing.T) {
	db := setupTestDB(t)
	userID, portfolio := seedPortfolio(t, db)
	svc := newSyncFixture(t, db, testSnapshot("26598145"))

	summary, err := svc.Run(context.Background(), userID, portfolio.ID, "26598145")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.PositionsImported)
	assert.Equal(t, 0, summary.PositionsSkipped)
	assert.Equal(t, 2, summary.ActivitiesImported)
	assert.Equal(t, 0, summary.ActivitiesSkipped)
	assert.Equal(t, 1, summary.ActivitiesFailed)
	assert.ElementsMatch(t, []string{"AAPL", "XIU.TO"}, summary.SymbolsRebuilt)
	assert.Equal(t, 4, countTransactions(t, db, portfolio.ID))

	// Holdings were rebuilt from the imported ledger.
	xiu, err := model.GetHolding(context.Background(), db, portfolio.ID, "XIU.TO")
	require.NoError(t, err)
	assert.True(t, xiu.Quantity.Equal(dec("100")))
	assert.True(t, xiu.AverageCost.Equal(dec("32.5")))

	aapl, err := model.GetHolding(context.Background(), db, portfolio.ID, "AAPL")
	require.NoError(t, err)
	assert.True(t, aapl.Quantity.Equal(dec("10")))
	// The dividend reduced the cost basis: 10*150 - 24.
	assert.True(t, aapl.TotalCost.Equal(dec("1476")), "total cost was %s", aapl.TotalCost)

	// Sync state landed on the portfolio.
	updated, err := model.GetPortfolioByID(context.Background(), db, portfolio.ID)
	require.NoError(t, err)
	assert.True(t, updated.CashBalanceCAD.Equal(dec("500")))
	require.NotNil(t, updated.PinnedFxRate)
	// (6050 - 3350) / 2000 recovers the broker's own conversion rate.
	assert.True(t, updated.PinnedFxRate.Equal(dec("1.35")), "pinned rate was %s", updated.PinnedFxRate)
	require.NotNil(t, updated.BrokerAccountID)
	assert.Equal(t, "26598145", *updated.BrokerAccountID)
	assert.NotNil(t, updated.LastSyncAt)
}

func TestSyncIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	userID, portfolio := seedPortfolio(t, db)
	svc := newSyncFixture(t, db, testSnapshot("26598145"))

	_, err := svc.Run(context.Background(), userID, portfolio.ID, "26598145")
	require.NoError(t, err)
	before := countTransactions(t, db, portfolio.ID)

	summary, err := svc.Run(context.Background(), userID, portfolio.ID, "26598145")
	require.NoError(t, err)

	assert.Equal(t, 0, summary.PositionsImported)
	assert.Equal(t, 2, summary.PositionsSkipped)
	assert.Equal(t, 0, summary.ActivitiesImported)
	assert.Equal(t, 2, summary.ActivitiesSkipped)
	assert.Equal(t, before, countTransactions(t, db, portfolio.ID))
}

func TestSyncWithholdingStoredAsMagnitude(t *testing.T) {
	db := setupTestDB(t)
	userID, portfolio := seedPortfolio(t, db)

	snapshot := models.BrokerSnapshot{
		AccountID: "26598145",
		Positions: []models.BrokerPosition{
			{Symbol: "AAPL", OpenQuantity: 10, AverageEntryPrice: 150},
		},
		Balances: models.BrokerBalances{
			CombinedBalances:    []models.BrokerBalance{{Currency: "CAD", Cash: 0, MarketValue: 2000}},
			PerCurrencyBalances: []models.BrokerBalance{{Currency: "CAD", Cash: 0, MarketValue: 2000}},
		},
		Activities: []models.BrokerActivity{
			// Non-resident withholding reports a negative net amount.
			{Action: "DIVNRA", Symbol: "AAPL", TransactionDate: "2026-03-02T00:00:00-05:00", NetAmount: -8},
		},
	}
	svc := newSyncFixture(t, db, snapshot)

	summary, err := svc.Run(context.Background(), userID, portfolio.ID, "26598145")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ActivitiesImported)

	imported, err := model.ListDividendImports(context.Background(), db, portfolio.ID, "AAPL")
	require.NoError(t, err)
	require.Len(t, imported, 1)
	assert.True(t, imported[0].TotalAmount.Equal(dec("8")), "stored amount was %s", imported[0].TotalAmount)

	// The magnitude reduces the cost basis: 10*150 - 8.
	h, err := model.GetHolding(context.Background(), db, portfolio.ID, "AAPL")
	require.NoError(t, err)
	assert.True(t, h.TotalCost.Equal(dec("1492")), "total cost was %s", h.TotalCost)
}

func TestSyncDuplicateActivitiesWithinOneSnapshot(t *testing.T) {
	db := setupTestDB(t)
	userID, portfolio := seedPortfolio(t, db)

	snapshot := testSnapshot("26598145")
	// Overlapping activity windows can repeat the same row inside a snapshot.
	snapshot.Activities = append(snapshot.Activities, snapshot.Activities[0])
	svc := newSyncFixture(t, db, snapshot)

	summary, err := svc.Run(context.Background(), userID, portfolio.ID, "26598145")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ActivitiesImported)
	assert.Equal(t, 1, summary.ActivitiesSkipped)
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	db := setupTestDB(t)
	userID, portfolio := seedPortfolio(t, db)

	locks := NewPortfolioLocker()
	portfolios := NewPortfolioService(db, processors.NewHoldingsProjector(), locks)
	svc := NewSyncService(db, &stubBrokerClient{snapshot: testSnapshot("1")}, portfolios, locks)

	require.True(t, locks.TryLockSync(portfolio.ID))
	defer locks.Unlock(portfolio.ID)

	_, err := svc.Run(context.Background(), userID, portfolio.ID, "1")
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSyncRejectsForeignPortfolio(t *testing.T) {
	db := setupTestDB(t)
	_, portfolio := seedPortfolio(t, db)
	svc := newSyncFixture(t, db, testSnapshot("1"))

	_, err := svc.Run(context.Background(), 9999, portfolio.ID, "1")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestSyncBrokerFailureLeavesNoChanges(t *testing.T) {
	db := setupTestDB(t)
	userID, portfolio := seedPortfolio(t, db)

	locks := NewPortfolioLocker()
	portfolios := NewPortfolioService(db, processors.NewHoldingsProjector(), locks)
	svc := NewSyncService(db, &stubBrokerClient{err: context.DeadlineExceeded}, portfolios, locks)

	_, err := svc.Run(context.Background(), userID, portfolio.ID, "1")
	require.Error(t, err)
	assert.Equal(t, 0, countTransactions(t, db, portfolio.ID))
}

func TestDeriveBalancesWithoutUSDHoldings(t *testing.T) {
	cash, rate := deriveBalances(models.BrokerBalances{
		CombinedBalances:    []models.BrokerBalance{{Currency: "CAD", Cash: 1200, MarketValue: 4000}},
		PerCurrencyBalances: []models.BrokerBalance{{Currency: "CAD", Cash: 1200, MarketValue: 4000}},
	})
	assert.True(t, cash.Equal(dec("1200")))
	assert.Nil(t, rate)
}

func TestDeriveBalancesRateReconcilesCombinedTotal(t *testing.T) {
	// cad + usd*rate must recover the broker's combined CAD market value.
	cases := []struct{ combined, cadMV, usdMV float64 }{
		{6050, 3350, 2000},
		{10000, 0, 7407.41},
		{1234.56, 1000, 170},
	}
	for _, tc := range cases {
		_, rate := deriveBalances(models.BrokerBalances{
			CombinedBalances: []models.BrokerBalance{{Currency: "CAD", MarketValue: tc.combined}},
			PerCurrencyBalances: []models.BrokerBalance{
				{Currency: "CAD", MarketValue: tc.cadMV},
				{Currency: "USD", MarketValue: tc.usdMV},
			},
		})
		require.NotNil(t, rate, "combined=%v", tc.combined)

		recovered := decimal.NewFromFloat(tc.cadMV).Add(decimal.NewFromFloat(tc.usdMV).Mul(*rate))
		diff := recovered.Sub(decimal.NewFromFloat(tc.combined)).Abs()
		assert.True(t, diff.LessThan(dec("0.000001")), "combined=%v recovered=%s", tc.combined, recovered)
	}
}

func TestClassifyActivity(t *testing.T) {
	cases := []struct {
		action string
		typ    string
		want   models.ActivityKind
		ok     bool
	}{
		{"DIV", "", models.ActivityDividend, true},
		{"div", "", models.ActivityDividend, true},
		{"DIVNRA", "", models.ActivityDividendNonResident, true},
		{"INT", "", models.ActivityInterest, true},
		{"MFD", "", models.ActivityMutualFundDist, true},
		{"DIST", "", models.ActivityDistribution, true},
		{"ROC", "", models.ActivityReturnOfCapital, true},
		{"CGD", "", models.ActivityCapitalGainsDist, true},
		{"", "Dividends", models.ActivityEtfDistribution, true},
		{"", "Trades", "", false},
		{"Buy", "Trades", "", false},
		{"CON", "", "", false},
	}
	for _, tc := range cases {
		kind, ok := classifyActivity(models.BrokerActivity{Action: tc.action, Type: tc.typ})
		assert.Equal(t, tc.ok, ok, "action=%q type=%q", tc.action, tc.typ)
		if tc.ok {
			assert.Equal(t, tc.want, kind, "action=%q type=%q", tc.action, tc.typ)
		}
	}
}
