// backend/src/services/portfolio_service_test.go
package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/models"
	"github.com/username/maplefolio/backend/src/processors"
)

func newPortfolioFixture(t *testing.T) (*PortfolioService, *sql.DB, int64, models.Portfolio) {
	t.Helper()
	db := setupTestDB(t)
	userID, portfolio := seedPortfolio(t, db)
	svc := NewPortfolioService(db, processors.NewHoldingsProjector(), NewPortfolioLocker())
	return svc, db, userID, portfolio
}

func buyInput(portfolioID int64, symbol, quantity, price string, occurredAt time.Time) CreateTransactionInput {
	return CreateTransactionInput{
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Kind:        models.KindBuy,
		Quantity:    dec(quantity),
		UnitPrice:   dec(price),
		Currency:    "CAD",
		OccurredAt:  occurredAt,
	}
}

func TestCreateTransactionRebuildsHolding(t *testing.T) {
	svc, db, userID, portfolio := newPortfolioFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)

	created, err := svc.CreateTransaction(ctx, userID, buyInput(portfolio.ID, "xiu.to", "10", "30", day))
	require.NoError(t, err)
	assert.Equal(t, "XIU.TO", created.Symbol)
	assert.True(t, created.TotalAmount.Equal(dec("300")))

	_, err = svc.CreateTransaction(ctx, userID, buyInput(portfolio.ID, "XIU.TO", "10", "34", day.AddDate(0, 1, 0)))
	require.NoError(t, err)

	h, err := model.GetHolding(ctx, db, portfolio.ID, "XIU.TO")
	require.NoError(t, err)
	assert.True(t, h.Quantity.Equal(dec("20")))
	assert.True(t, h.AverageCost.Equal(dec("32")))
	assert.True(t, h.TotalCost.Equal(dec("640")))
}

func TestCreateTransactionDerivesTotals(t *testing.T) {
	svc, _, userID, portfolio := newPortfolioFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	buy := buyInput(portfolio.ID, "AAPL", "10", "100", day)
	buy.Fees = dec("4.95")
	created, err := svc.CreateTransaction(ctx, userID, buy)
	require.NoError(t, err)
	assert.True(t, created.TotalAmount.Equal(dec("1004.95")))

	sell := buyInput(portfolio.ID, "AAPL", "4", "120", day.AddDate(0, 2, 0))
	sell.Kind = models.KindSell
	sell.Fees = dec("4.95")
	created, err = svc.CreateTransaction(ctx, userID, sell)
	require.NoError(t, err)
	assert.True(t, created.TotalAmount.Equal(dec("475.05")))

	dividend := CreateTransactionInput{
		PortfolioID: portfolio.ID,
		Symbol:      "AAPL",
		Kind:        models.KindDividend,
		Currency:    "USD",
		Amount:      dec("24"),
		OccurredAt:  day.AddDate(0, 3, 0),
	}
	created, err = svc.CreateTransaction(ctx, userID, dividend)
	require.NoError(t, err)
	assert.True(t, created.TotalAmount.Equal(dec("24")))
}

func TestCreateTransactionSanitizesNotes(t *testing.T) {
	svc, _, userID, portfolio := newPortfolioFixture(t)

	input := buyInput(portfolio.ID, "XIU.TO", "1", "30", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	input.Notes = `<script>alert("x")</script>rebalance`

	created, err := svc.CreateTransaction(context.Background(), userID, input)
	require.NoError(t, err)
	assert.NotContains(t, created.Notes, "<script>")
	assert.Contains(t, created.Notes, "rebalance")
}

func TestCreateTransactionValidation(t *testing.T) {
	svc, _, userID, portfolio := newPortfolioFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	missingSymbol := buyInput(portfolio.ID, "  ", "1", "30", day)
	_, err := svc.CreateTransaction(ctx, userID, missingSymbol)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	negativeQty := buyInput(portfolio.ID, "XIU.TO", "-1", "30", day)
	_, err = svc.CreateTransaction(ctx, userID, negativeQty)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	badKind := buyInput(portfolio.ID, "XIU.TO", "1", "30", day)
	badKind.Kind = "TRANSFER"
	_, err = svc.CreateTransaction(ctx, userID, badKind)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	noDate := buyInput(portfolio.ID, "XIU.TO", "1", "30", time.Time{})
	_, err = svc.CreateTransaction(ctx, userID, noDate)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestCreateTransactionEnforcesOwnership(t *testing.T) {
	svc, _, _, portfolio := newPortfolioFixture(t)

	input := buyInput(portfolio.ID, "XIU.TO", "1", "30", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	_, err := svc.CreateTransaction(context.Background(), 9999, input)
	assert.ErrorIs(t, err, ErrNotOwner)

	input.PortfolioID = 777
	_, err = svc.CreateTransaction(context.Background(), 9999, input)
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
}

func TestDeleteTransactionReplaysHistory(t *testing.T) {
	svc, db, userID, portfolio := newPortfolioFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	_, err := svc.CreateTransaction(ctx, userID, buyInput(portfolio.ID, "XIU.TO", "10", "30", day))
	require.NoError(t, err)
	second, err := svc.CreateTransaction(ctx, userID, buyInput(portfolio.ID, "XIU.TO", "10", "34", day.AddDate(0, 1, 0)))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(ctx, userID, second.ID))

	h, err := model.GetHolding(ctx, db, portfolio.ID, "XIU.TO")
	require.NoError(t, err)
	assert.True(t, h.Quantity.Equal(dec("10")))
	assert.True(t, h.AverageCost.Equal(dec("30")))
}

func TestDeleteLastTransactionRemovesHolding(t *testing.T) {
	svc, db, userID, portfolio := newPortfolioFixture(t)
	ctx := context.Background()

	created, err := svc.CreateTransaction(ctx, userID,
		buyInput(portfolio.ID, "XIU.TO", "10", "30", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(ctx, userID, created.ID))

	_, err = model.GetHolding(ctx, db, portfolio.ID, "XIU.TO")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestOversellFlagsHoldingInconsistent(t *testing.T) {
	svc, db, userID, portfolio := newPortfolioFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	_, err := svc.CreateTransaction(ctx, userID, buyInput(portfolio.ID, "XIU.TO", "10", "30", day))
	require.NoError(t, err)

	oversell := buyInput(portfolio.ID, "XIU.TO", "15", "30", day.AddDate(0, 1, 0))
	oversell.Kind = models.KindSell
	_, err = svc.CreateTransaction(ctx, userID, oversell)
	require.NoError(t, err)

	// The oversell clamps the position at zero, dropping the holding row.
	_, err = model.GetHolding(ctx, db, portfolio.ID, "XIU.TO")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// A later BUY reopens the position; the replayed issue still flags it.
	_, err = svc.CreateTransaction(ctx, userID, buyInput(portfolio.ID, "XIU.TO", "5", "28", day.AddDate(0, 2, 0)))
	require.NoError(t, err)

	h, err := model.GetHolding(ctx, db, portfolio.ID, "XIU.TO")
	require.NoError(t, err)
	assert.True(t, h.Inconsistent)
	assert.True(t, h.Quantity.Equal(dec("5")))
}

func TestDividendQuantityPriceFallback(t *testing.T) {
	// A manual dividend may arrive as quantity=1, unit_price=amount with no
	// explicit amount field.
	got := dividendAmount(CreateTransactionInput{
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: dec("12.50"),
	})
	assert.True(t, got.Equal(dec("12.50")))

	got = dividendAmount(CreateTransactionInput{Amount: dec("24")})
	assert.True(t, got.Equal(dec("24")))
}
