// backend/src/services/portfolio_service.go
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/models"
	"github.com/username/maplefolio/backend/src/processors"
	"github.com/username/maplefolio/backend/src/security/validation"
)

var (
	ErrPortfolioNotFound  = errors.New("portfolio not found")
	ErrNotOwner           = errors.New("portfolio does not belong to user")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// CreateTransactionInput is the payload for a manual ledger entry. Amount is
// only consulted for DIVIDEND entries, whose total is supplied rather than
// derived.
type CreateTransactionInput struct {
	PortfolioID int64                  `json:"portfolio_id"`
	Symbol      string                 `json:"symbol"`
	Kind        models.TransactionKind `json:"kind"`
	Quantity    decimal.Decimal        `json:"quantity"`
	UnitPrice   decimal.Decimal        `json:"unit_price"`
	Currency    string                 `json:"currency"`
	Fees        decimal.Decimal        `json:"fees"`
	Amount      decimal.Decimal        `json:"amount"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Notes       string                 `json:"notes"`
}

// PortfolioService owns ledger writes and the holding rebuilds they trigger.
// Every write re-projects the touched symbol by full replay; holdings are
// never patched in place.
type PortfolioService struct {
	db        *sql.DB
	projector *processors.HoldingsProjector
	locks     *PortfolioLocker
}

func NewPortfolioService(db *sql.DB, projector *processors.HoldingsProjector, locks *PortfolioLocker) *PortfolioService {
	return &PortfolioService{db: db, projector: projector, locks: locks}
}

// CreateTransaction appends one entry to the ledger and rebuilds the affected
// holding in the same database transaction.
func (s *PortfolioService) CreateTransaction(ctx context.Context, userID int64, input CreateTransactionInput) (models.Transaction, error) {
	if err := validateTransactionInput(input); err != nil {
		return models.Transaction{}, err
	}
	if err := s.checkOwnership(ctx, input.PortfolioID, userID); err != nil {
		return models.Transaction{}, err
	}

	symbol := strings.ToUpper(strings.TrimSpace(input.Symbol))
	notes := validation.SanitizeText(validation.StripUnprintable(input.Notes))

	tx := models.Transaction{
		PortfolioID: input.PortfolioID,
		Symbol:      symbol,
		Kind:        input.Kind,
		Quantity:    input.Quantity,
		UnitPrice:   input.UnitPrice,
		Currency:    models.NormalizeCurrency(input.Currency),
		Fees:        input.Fees,
		TotalAmount: models.DeriveTotalAmount(input.Kind, input.Quantity, input.UnitPrice, input.Fees, dividendAmount(input)),
		OccurredAt:  input.OccurredAt.UTC(),
		Notes:       notes,
	}

	s.locks.Lock(input.PortfolioID)
	defer s.locks.Unlock(input.PortfolioID)

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	created, err := model.InsertTransaction(ctx, dbTx, tx)
	if err != nil {
		return models.Transaction{}, err
	}
	if _, err := s.RebuildHolding(ctx, dbTx, input.PortfolioID, symbol); err != nil {
		return models.Transaction{}, err
	}
	if err := dbTx.Commit(); err != nil {
		return models.Transaction{}, fmt.Errorf("commit transaction: %w", err)
	}

	logger.L.Info("Transaction created", "portfolioID", input.PortfolioID, "symbol", symbol, "kind", input.Kind, "id", created.ID)
	return created, nil
}

// DeleteTransaction removes a ledger entry and re-projects the affected
// holding by full replay, never by localized patching.
func (s *PortfolioService) DeleteTransaction(ctx context.Context, userID, transactionID int64) error {
	tx, err := model.GetTransactionByID(ctx, s.db, transactionID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if err := s.checkOwnership(ctx, tx.PortfolioID, userID); err != nil {
		return err
	}

	s.locks.Lock(tx.PortfolioID)
	defer s.locks.Unlock(tx.PortfolioID)

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	if err := model.DeleteTransaction(ctx, dbTx, transactionID); err != nil {
		return err
	}
	if _, err := s.RebuildHolding(ctx, dbTx, tx.PortfolioID, tx.Symbol); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	logger.L.Info("Transaction deleted", "portfolioID", tx.PortfolioID, "symbol", tx.Symbol, "id", transactionID)
	return nil
}

// RebuildHolding replays the full transaction history of one symbol and
// upserts the resulting holding, or deletes the row when the position closed.
// It runs against the given DBTX so reconciliation can call it inside its own
// database transaction.
func (s *PortfolioService) RebuildHolding(ctx context.Context, db model.DBTX, portfolioID int64, symbol string) ([]processors.ProjectionIssue, error) {
	txs, err := model.ListTransactionsForProjection(ctx, db, portfolioID, symbol)
	if err != nil {
		return nil, err
	}

	holding, issues := s.projector.Project(portfolioID, symbol, txs)
	if holding == nil {
		if err := model.DeleteHolding(ctx, db, portfolioID, symbol); err != nil {
			return issues, err
		}
		return issues, nil
	}
	if err := model.UpsertHolding(ctx, db, *holding); err != nil {
		return issues, err
	}
	return issues, nil
}

func (s *PortfolioService) checkOwnership(ctx context.Context, portfolioID, userID int64) error {
	portfolio, err := model.GetPortfolioByID(ctx, s.db, portfolioID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPortfolioNotFound
		}
		return fmt.Errorf("load portfolio: %w", err)
	}
	if portfolio.UserID != userID {
		return ErrNotOwner
	}
	return nil
}

func validateTransactionInput(input CreateTransactionInput) error {
	switch input.Kind {
	case models.KindBuy, models.KindSell, models.KindDividend:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, input.Kind)
	}
	if strings.TrimSpace(input.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidTransaction)
	}
	if input.Quantity.IsNegative() {
		return fmt.Errorf("%w: quantity must be >= 0", ErrInvalidTransaction)
	}
	if input.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit_price must be >= 0", ErrInvalidTransaction)
	}
	if input.Fees.IsNegative() {
		return fmt.Errorf("%w: fees must be >= 0", ErrInvalidTransaction)
	}
	if input.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred_at is required", ErrInvalidTransaction)
	}
	return nil
}

func dividendAmount(input CreateTransactionInput) decimal.Decimal {
	if !input.Amount.IsZero() {
		return input.Amount
	}
	// Manual dividend entries may supply quantity=1, unit_price=amount.
	return input.Quantity.Mul(input.UnitPrice)
}
