package model

import (
	"context"
	"fmt"

	"github.com/username/maplefolio/backend/src/models"
)

// UpsertHolding writes a freshly projected holding, replacing any previous
// row for the same (portfolio, symbol). Holdings are recomputed, never patched.
func UpsertHolding(ctx context.Context, db DBTX, h models.Holding) error {
	inconsistent := 0
	if h.Inconsistent {
		inconsistent = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO holdings (portfolio_id, symbol, quantity, average_cost, total_cost, currency, inconsistent, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(portfolio_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			average_cost = excluded.average_cost,
			total_cost = excluded.total_cost,
			currency = excluded.currency,
			inconsistent = excluded.inconsistent,
			updated_at = CURRENT_TIMESTAMP`,
		h.PortfolioID, h.Symbol, h.Quantity, h.AverageCost, h.TotalCost, string(h.Currency), inconsistent)
	if err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	return nil
}

// DeleteHolding drops the holding row for a closed position. Missing rows are
// not an error; a re-projection may legitimately find nothing to delete.
func DeleteHolding(ctx context.Context, db DBTX, portfolioID int64, symbol string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM holdings WHERE portfolio_id = ? AND symbol = ?`, portfolioID, symbol)
	if err != nil {
		return fmt.Errorf("delete holding: %w", err)
	}
	return nil
}

// ListHoldingsByPortfolio returns the current derived positions of a portfolio.
func ListHoldingsByPortfolio(ctx context.Context, db DBTX, portfolioID int64) ([]models.Holding, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, portfolio_id, symbol, quantity, average_cost, total_cost, currency, inconsistent, updated_at
		FROM holdings WHERE portfolio_id = ? ORDER BY symbol ASC`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	holdings := make([]models.Holding, 0)
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holdings: %w", err)
	}
	return holdings, nil
}

// GetHolding fetches one holding row, or sql.ErrNoRows when the position does
// not exist.
func GetHolding(ctx context.Context, db DBTX, portfolioID int64, symbol string) (models.Holding, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, portfolio_id, symbol, quantity, average_cost, total_cost, currency, inconsistent, updated_at
		FROM holdings WHERE portfolio_id = ? AND symbol = ?`, portfolioID, symbol)
	return scanHolding(row)
}

func scanHolding(row rowScanner) (models.Holding, error) {
	var h models.Holding
	var currency string
	var inconsistent int
	err := row.Scan(&h.ID, &h.PortfolioID, &h.Symbol, &h.Quantity, &h.AverageCost,
		&h.TotalCost, &currency, &inconsistent, &h.UpdatedAt)
	if err != nil {
		return models.Holding{}, err
	}
	h.Currency = models.NormalizeCurrency(currency)
	h.Inconsistent = inconsistent == 1
	return h, nil
}
