package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/maplefolio/backend/src/models"
)

const portfolioColumns = `id, user_id, name, description, cash_balance_cad, cash_balance_usd,
	broker_account_id, pinned_fx_rate, last_sync_at, created_at, updated_at`

// CreatePortfolio inserts a new, empty portfolio for a user.
func CreatePortfolio(ctx context.Context, db DBTX, userID int64, name, description string) (models.Portfolio, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO portfolios (user_id, name, description) VALUES (?, ?, ?)`,
		userID, name, description)
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("insert portfolio: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("portfolio last insert id: %w", err)
	}
	return GetPortfolioByID(ctx, db, id)
}

// GetPortfolioByID fetches one portfolio.
func GetPortfolioByID(ctx context.Context, db DBTX, id int64) (models.Portfolio, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = ?`, id)
	return scanPortfolio(row)
}

// ListPortfoliosByUser returns all portfolios owned by a user.
func ListPortfoliosByUser(ctx context.Context, db DBTX, userID int64) ([]models.Portfolio, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE user_id = ? ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query portfolios: %w", err)
	}
	defer rows.Close()

	portfolios := make([]models.Portfolio, 0)
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portfolios: %w", err)
	}
	return portfolios, nil
}

// DeletePortfolio removes a portfolio; transactions and holdings go with it
// via ON DELETE CASCADE.
func DeletePortfolio(ctx context.Context, db DBTX, id, userID int64) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM portfolios WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete portfolio: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("portfolio rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdatePortfolioSyncState writes the broker link, cash balances and pinned
// rate captured by a reconciliation run. It is called inside the sync
// transaction so the rate never lands without its transactions.
func UpdatePortfolioSyncState(ctx context.Context, db DBTX, portfolioID int64,
	cashCAD, cashUSD decimal.Decimal, pinnedRate *decimal.Decimal, accountID string, syncedAt time.Time) error {

	pinned := decimal.NullDecimal{}
	if pinnedRate != nil {
		pinned = decimal.NullDecimal{Decimal: *pinnedRate, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		UPDATE portfolios
		SET cash_balance_cad = ?, cash_balance_usd = ?, pinned_fx_rate = ?,
		    broker_account_id = ?, last_sync_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		cashCAD, cashUSD, pinned, accountID, syncedAt.UTC(), portfolioID)
	if err != nil {
		return fmt.Errorf("update portfolio sync state: %w", err)
	}
	return nil
}

func scanPortfolio(row rowScanner) (models.Portfolio, error) {
	var p models.Portfolio
	var brokerAccountID sql.NullString
	var pinned decimal.NullDecimal
	var lastSync, updatedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.CashBalanceCAD, &p.CashBalanceUSD,
		&brokerAccountID, &pinned, &lastSync, &p.CreatedAt, &updatedAt)
	if err != nil {
		return models.Portfolio{}, err
	}
	if brokerAccountID.Valid {
		p.BrokerAccountID = &brokerAccountID.String
	}
	if pinned.Valid {
		rate := pinned.Decimal
		p.PinnedFxRate = &rate
	}
	if lastSync.Valid {
		t := lastSync.Time
		p.LastSyncAt = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		p.UpdatedAt = &t
	}
	return p, nil
}
