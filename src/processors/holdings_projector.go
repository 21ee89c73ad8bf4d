// backend/src/processors/holdings_projector.go
package processors

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/models"
)

// ProjectionIssue records a SELL that exceeded the tracked quantity. The
// projector clamps the position at zero and reports the inconsistency instead
// of fabricating history or going negative.
type ProjectionIssue struct {
	TransactionID int64           `json:"transaction_id"`
	Symbol        string          `json:"symbol"`
	Requested     decimal.Decimal `json:"requested"`
	Available     decimal.Decimal `json:"available"`
}

// HoldingsProjector folds a transaction sequence into the terminal holding
// state using the average-cost method.
type HoldingsProjector struct{}

func NewHoldingsProjector() *HoldingsProjector { return &HoldingsProjector{} }

// Project replays all transactions for one (portfolio, symbol) and returns the
// terminal Holding, or nil when the position's quantity ends at exactly zero
// and the row should be dropped. The replay is deterministic: transactions are
// ordered by (occurred_at, id) regardless of input order, so a rebuild after a
// deletion or an out-of-order insert always lands on the same state.
//
// Projection is pure: the caller decides whether to persist the result.
func (p *HoldingsProjector) Project(portfolioID int64, symbol string, txs []models.Transaction) (*models.Holding, []ProjectionIssue) {
	ordered := make([]models.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].OccurredAt.Equal(ordered[j].OccurredAt) {
			return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	quantity := decimal.Zero
	totalCost := decimal.Zero
	averageCost := decimal.Zero
	currency := models.CAD
	var issues []ProjectionIssue

	for _, tx := range ordered {
		// Currency is refreshed on every observation rather than fixed at the
		// first BUY: later transactions can correct an initially wrong guess.
		currency = tx.Currency

		switch tx.Kind {
		case models.KindBuy:
			newQuantity := quantity.Add(tx.Quantity)
			newTotalCost := totalCost.Add(tx.Quantity.Mul(tx.UnitPrice)).Add(tx.Fees)
			quantity = newQuantity
			totalCost = newTotalCost
			if quantity.IsPositive() {
				averageCost = totalCost.Div(quantity)
			}

		case models.KindSell:
			if tx.Quantity.GreaterThan(quantity) {
				issues = append(issues, ProjectionIssue{
					TransactionID: tx.ID,
					Symbol:        symbol,
					Requested:     tx.Quantity,
					Available:     quantity,
				})
				logger.L.Warn("SELL exceeds tracked quantity, clamping position at zero",
					"portfolioID", portfolioID, "symbol", symbol,
					"transactionID", tx.ID, "requested", tx.Quantity, "available", quantity)
				quantity = decimal.Zero
				totalCost = decimal.Zero
				averageCost = decimal.Zero
				continue
			}
			// Average cost is unchanged by a SELL; only a later BUY moves it.
			quantity = quantity.Sub(tx.Quantity)
			totalCost = totalCost.Sub(averageCost.Mul(tx.Quantity))
			if quantity.IsZero() {
				totalCost = decimal.Zero
				averageCost = decimal.Zero
			}

		case models.KindDividend:
			// Return-of-capital treatment: the full amount reduces the cost
			// basis, which may go negative for high-yield long-held positions.
			totalCost = totalCost.Sub(tx.TotalAmount)
		}
	}

	if quantity.IsZero() {
		return nil, issues
	}

	return &models.Holding{
		PortfolioID:  portfolioID,
		Symbol:       symbol,
		Quantity:     quantity,
		AverageCost:  averageCost,
		TotalCost:    totalCost,
		Currency:     currency,
		Inconsistent: len(issues) > 0,
	}, issues
}
