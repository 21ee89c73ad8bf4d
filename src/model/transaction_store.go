package model

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/username/maplefolio/backend/src/models"
)

const transactionColumns = `id, portfolio_id, symbol, kind, quantity, unit_price, currency,
	fees, total_amount, occurred_at, notes, activity_kind, created_at`

// InsertTransaction appends one transaction to the ledger and returns it with
// its assigned id.
func InsertTransaction(ctx context.Context, db DBTX, tx models.Transaction) (models.Transaction, error) {
	var activityKind sql.NullString
	if tx.ActivityKind != nil {
		activityKind = sql.NullString{String: string(*tx.ActivityKind), Valid: true}
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO transactions (portfolio_id, symbol, kind, quantity, unit_price, currency, fees, total_amount, occurred_at, notes, activity_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.PortfolioID, tx.Symbol, string(tx.Kind), tx.Quantity, tx.UnitPrice, string(tx.Currency),
		tx.Fees, tx.TotalAmount, tx.OccurredAt.UTC(), tx.Notes, activityKind)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("transaction last insert id: %w", err)
	}
	return GetTransactionByID(ctx, db, id)
}

// GetTransactionByID fetches a single transaction.
func GetTransactionByID(ctx context.Context, db DBTX, id int64) (models.Transaction, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

// ListTransactionsByPortfolio returns a portfolio's full ledger, newest first
// (display order, not projection order).
func ListTransactionsByPortfolio(ctx context.Context, db DBTX, portfolioID int64) ([]models.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE portfolio_id = ?
		 ORDER BY occurred_at DESC, id DESC`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListTransactionsForProjection returns all transactions for one symbol in
// replay order: (occurred_at, id) ascending, id breaking same-timestamp ties
// so the replay is deterministic.
func ListTransactionsForProjection(ctx context.Context, db DBTX, portfolioID int64, symbol string) ([]models.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE portfolio_id = ? AND symbol = ?
		 ORDER BY occurred_at ASC, id ASC`, portfolioID, symbol)
	if err != nil {
		return nil, fmt.Errorf("query transactions for projection: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListSyncedBuys returns the BUY transactions previously synthesized by a
// broker import (identified by their activity-less broker notes) for dedup
// checks. All BUYs for the symbol are returned; the caller compares rounded
// quantity and unit price.
func ListSyncedBuys(ctx context.Context, db DBTX, portfolioID int64, symbol string) ([]models.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE portfolio_id = ? AND symbol = ? AND kind = 'BUY'`, portfolioID, symbol)
	if err != nil {
		return nil, fmt.Errorf("query synced buys: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListDividendImports returns the DIVIDEND transactions for one symbol, used
// for activity dedup checks.
func ListDividendImports(ctx context.Context, db DBTX, portfolioID int64, symbol string) ([]models.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE portfolio_id = ? AND symbol = ? AND kind = 'DIVIDEND'`, portfolioID, symbol)
	if err != nil {
		return nil, fmt.Errorf("query dividend imports: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// DeleteTransaction removes one ledger entry. The caller must re-project the
// affected holding afterwards.
func DeleteTransaction(ctx context.Context, db DBTX, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transaction rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var tx models.Transaction
	var kind, currency string
	var notes, activityKind sql.NullString
	var quantity, unitPrice, fees, totalAmount decimal.Decimal
	err := row.Scan(&tx.ID, &tx.PortfolioID, &tx.Symbol, &kind, &quantity, &unitPrice, &currency,
		&fees, &totalAmount, &tx.OccurredAt, &notes, &activityKind, &tx.CreatedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	tx.Kind = models.TransactionKind(kind)
	tx.Currency = models.NormalizeCurrency(currency)
	tx.Quantity = quantity
	tx.UnitPrice = unitPrice
	tx.Fees = fees
	tx.TotalAmount = totalAmount
	if notes.Valid {
		tx.Notes = notes.String
	}
	if activityKind.Valid {
		ak := models.ActivityKind(activityKind.String)
		tx.ActivityKind = &ak
	}
	return tx, nil
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	txs := make([]models.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}
