// backend/src/services/sync_service.go
package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/maplefolio/backend/src/config"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/models"
)

// actionKinds maps broker activity action codes onto the imported activity
// subtype. Activities whose action is not listed here (trades, transfers,
// FX conversions) are not imported; trades surface through positions instead.
var actionKinds = map[string]models.ActivityKind{
	"DIV":    models.ActivityDividend,
	"DIVNRA": models.ActivityDividendNonResident,
	"INT":    models.ActivityInterest,
	"MFD":    models.ActivityMutualFundDist,
	"DIST":   models.ActivityDistribution,
	"ROC":    models.ActivityReturnOfCapital,
	"CGD":    models.ActivityCapitalGainsDist,
}

// dedupPlaces is the rounding precision used when comparing broker-reported
// quantities and prices against previously imported rows.
const dedupPlaces = 4

// SyncService reconciles one portfolio against a broker account snapshot. A
// run is atomic: either every imported row, rebuilt holding and the portfolio
// sync state land together, or nothing does. Re-running against an unchanged
// account is a no-op apart from refreshed balances.
type SyncService struct {
	db         *sql.DB
	broker     BrokerClient
	portfolios *PortfolioService
	locks      *PortfolioLocker
}

func NewSyncService(db *sql.DB, broker BrokerClient, portfolios *PortfolioService, locks *PortfolioLocker) *SyncService {
	return &SyncService{db: db, broker: broker, portfolios: portfolios, locks: locks}
}

// Run executes a full reconciliation of the portfolio against the broker
// account. Concurrent runs for the same portfolio are rejected with
// ErrSyncInProgress rather than queued.
func (s *SyncService) Run(ctx context.Context, userID, portfolioID int64, accountID string) (models.SyncSummary, error) {
	summary := models.SyncSummary{PortfolioID: portfolioID, AccountID: accountID}

	if err := s.portfolios.checkOwnership(ctx, portfolioID, userID); err != nil {
		return summary, err
	}

	if !s.locks.TryLockSync(portfolioID) {
		return summary, ErrSyncInProgress
	}
	defer s.locks.Unlock(portfolioID)

	lookback := time.Duration(config.Cfg.ActivityLookbackDays) * 24 * time.Hour
	snapshot, err := s.broker.Snapshot(ctx, userID, accountID, lookback)
	if err != nil {
		return summary, fmt.Errorf("broker snapshot: %w", err)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("begin sync transaction: %w", err)
	}
	defer tx.Rollback()

	cashCAD, pinnedRate := deriveBalances(snapshot.Balances)
	touched := make(map[string]bool)

	if err := s.importPositions(ctx, tx, portfolioID, snapshot.Positions, now, touched, &summary); err != nil {
		return summary, err
	}
	if err := s.importActivities(ctx, tx, portfolioID, snapshot.Activities, touched, &summary); err != nil {
		return summary, err
	}

	symbols := make([]string, 0, len(touched))
	for symbol := range touched {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		issues, err := s.portfolios.RebuildHolding(ctx, tx, portfolioID, symbol)
		if err != nil {
			return summary, fmt.Errorf("rebuild holding %s: %w", symbol, err)
		}
		if len(issues) > 0 {
			logger.L.Warn("Holding flagged inconsistent during sync", "portfolioID", portfolioID, "symbol", symbol, "issues", len(issues))
		}
	}
	summary.SymbolsRebuilt = symbols

	if err := model.UpdatePortfolioSyncState(ctx, tx, portfolioID, cashCAD, decimal.Zero, pinnedRate, accountID, now); err != nil {
		return summary, err
	}
	if err := model.TouchBrokerConnectionSync(ctx, tx, userID, now); err != nil {
		return summary, err
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("commit sync transaction: %w", err)
	}

	summary.CashBalanceCAD = cashCAD.String()
	if pinnedRate != nil {
		summary.PinnedFxRate = pinnedRate.String()
	}
	summary.Message = fmt.Sprintf("Sync complete: %d positions imported (%d already present), %d activities imported (%d already present, %d skipped)",
		summary.PositionsImported, summary.PositionsSkipped,
		summary.ActivitiesImported, summary.ActivitiesSkipped, summary.ActivitiesFailed)

	logger.L.Info("Portfolio sync finished",
		"portfolioID", portfolioID, "accountID", accountID,
		"positionsImported", summary.PositionsImported,
		"activitiesImported", summary.ActivitiesImported,
		"symbolsRebuilt", len(symbols))
	return summary, nil
}

// importPositions reconciles open positions against the existing ledger. A
// position already represented by a BUY with the same quantity and unit price
// (compared at 4 decimal places) is skipped; anything else becomes a synthetic
// BUY dated at the sync instant.
func (s *SyncService) importPositions(ctx context.Context, tx model.DBTX, portfolioID int64, positions []models.BrokerPosition, now time.Time, touched map[string]bool, summary *models.SyncSummary) error {
	for _, pos := range positions {
		symbol := strings.ToUpper(strings.TrimSpace(pos.Symbol))
		if symbol == "" || pos.OpenQuantity <= 0 {
			continue
		}

		quantity := decimal.NewFromFloat(pos.OpenQuantity)
		unitPrice := decimal.NewFromFloat(pos.AverageEntryPrice)

		existing, err := model.ListSyncedBuys(ctx, tx, portfolioID, symbol)
		if err != nil {
			return err
		}
		if hasMatchingBuy(existing, quantity, unitPrice) {
			summary.PositionsSkipped++
			continue
		}

		buy := models.Transaction{
			PortfolioID: portfolioID,
			Symbol:      symbol,
			Kind:        models.KindBuy,
			Quantity:    quantity,
			UnitPrice:   unitPrice,
			Currency:    models.CAD,
			Fees:        decimal.Zero,
			TotalAmount: models.DeriveTotalAmount(models.KindBuy, quantity, unitPrice, decimal.Zero, decimal.Zero),
			OccurredAt:  now,
			Notes:       "Imported from broker position",
		}
		if _, err := model.InsertTransaction(ctx, tx, buy); err != nil {
			return fmt.Errorf("import position %s: %w", symbol, err)
		}
		touched[symbol] = true
		summary.PositionsImported++
	}
	return nil
}

// importActivities imports income activities (dividends, distributions,
// interest and friends) as DIVIDEND transactions. Dedup is keyed on symbol,
// calendar day, absolute net amount and activity subtype; records that cannot
// be classified or parsed are counted and skipped, never failing the run.
func (s *SyncService) importActivities(ctx context.Context, tx model.DBTX, portfolioID int64, activities []models.BrokerActivity, touched map[string]bool, summary *models.SyncSummary) error {
	// Run-local view of already-imported dividends per symbol, extended as we
	// insert so duplicate rows inside one snapshot also dedup.
	seen := make(map[string][]models.Transaction)

	for _, act := range activities {
		kind, ok := classifyActivity(act)
		if !ok {
			continue
		}

		symbol := strings.ToUpper(strings.TrimSpace(act.Symbol))
		if symbol == "" {
			logger.L.Warn("Skipping activity without symbol", "portfolioID", portfolioID, "action", act.Action, "description", act.Description)
			summary.ActivitiesFailed++
			continue
		}

		occurredAt, err := parseActivityDate(act)
		if err != nil {
			logger.L.Warn("Skipping activity with unparseable date", "portfolioID", portfolioID, "symbol", symbol, "error", err.Error())
			summary.ActivitiesFailed++
			continue
		}

		// Withholding rows (DIVNRA) arrive with negative net amounts; the
		// ledger stores the magnitude and the subtype carries the meaning.
		amount := decimal.NewFromFloat(act.NetAmount).Abs()
		if amount.IsZero() {
			logger.L.Warn("Skipping activity with zero amount", "portfolioID", portfolioID, "symbol", symbol, "action", act.Action)
			summary.ActivitiesFailed++
			continue
		}

		existing, ok := seen[symbol]
		if !ok {
			existing, err = model.ListDividendImports(ctx, tx, portfolioID, symbol)
			if err != nil {
				return err
			}
			seen[symbol] = existing
		}
		if hasMatchingDividend(existing, kind, occurredAt, amount) {
			summary.ActivitiesSkipped++
			continue
		}

		activityKind := kind
		div := models.Transaction{
			PortfolioID:  portfolioID,
			Symbol:       symbol,
			Kind:         models.KindDividend,
			Quantity:     decimal.Zero,
			UnitPrice:    decimal.Zero,
			Currency:     models.NormalizeCurrency(act.Currency),
			Fees:         decimal.Zero,
			TotalAmount:  amount,
			OccurredAt:   occurredAt,
			Notes:        activityNotes(kind, act.Description),
			ActivityKind: &activityKind,
		}
		created, err := model.InsertTransaction(ctx, tx, div)
		if err != nil {
			return fmt.Errorf("import activity %s: %w", symbol, err)
		}
		seen[symbol] = append(seen[symbol], created)
		touched[symbol] = true
		summary.ActivitiesImported++
	}
	return nil
}

// deriveBalances extracts the combined CAD cash balance and derives the rate
// the broker itself used to fold USD holdings into the combined CAD view:
// (combined CAD market value - native CAD market value) / USD market value.
// The rate is nil when the account holds no USD positions.
func deriveBalances(balances models.BrokerBalances) (decimal.Decimal, *decimal.Decimal) {
	var cashCAD, combinedMV, cadMV, usdMV float64
	for _, b := range balances.CombinedBalances {
		if b.Currency == string(models.CAD) {
			cashCAD = b.Cash
			combinedMV = b.MarketValue
		}
	}
	for _, b := range balances.PerCurrencyBalances {
		switch b.Currency {
		case string(models.CAD):
			cadMV = b.MarketValue
		case string(models.USD):
			usdMV = b.MarketValue
		}
	}

	cash := decimal.NewFromFloat(cashCAD)
	if usdMV <= 0 {
		return cash, nil
	}
	rate := decimal.NewFromFloat(combinedMV).
		Sub(decimal.NewFromFloat(cadMV)).
		Div(decimal.NewFromFloat(usdMV))
	if rate.IsNegative() || rate.IsZero() {
		return cash, nil
	}
	return cash, &rate
}

// classifyActivity maps a raw broker activity onto an imported subtype. ETF
// distributions arrive with a blank action and rely on the row type instead.
func classifyActivity(act models.BrokerActivity) (models.ActivityKind, bool) {
	action := strings.ToUpper(strings.TrimSpace(act.Action))
	if kind, ok := actionKinds[action]; ok {
		return kind, true
	}
	if action == "" && strings.EqualFold(strings.TrimSpace(act.Type), "Dividends") {
		return models.ActivityEtfDistribution, true
	}
	return "", false
}

func parseActivityDate(act models.BrokerActivity) (time.Time, error) {
	raw := act.TransactionDate
	if raw == "" {
		raw = act.TradeDate
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse activity date %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func activityNotes(kind models.ActivityKind, description string) string {
	description = strings.TrimSpace(description)
	if description == "" {
		return kind.Label()
	}
	return kind.Label() + ": " + description
}

func hasMatchingBuy(existing []models.Transaction, quantity, unitPrice decimal.Decimal) bool {
	q := quantity.Round(dedupPlaces)
	p := unitPrice.Round(dedupPlaces)
	for _, tx := range existing {
		if tx.Quantity.Round(dedupPlaces).Equal(q) && tx.UnitPrice.Round(dedupPlaces).Equal(p) {
			return true
		}
	}
	return false
}

func hasMatchingDividend(existing []models.Transaction, kind models.ActivityKind, occurredAt time.Time, amount decimal.Decimal) bool {
	day := occurredAt.Format("2006-01-02")
	abs := amount.Abs().Round(dedupPlaces)
	for _, tx := range existing {
		if tx.ActivityKind == nil || *tx.ActivityKind != kind {
			continue
		}
		if tx.OccurredAt.Format("2006-01-02") != day {
			continue
		}
		if tx.TotalAmount.Abs().Round(dedupPlaces).Equal(abs) {
			return true
		}
	}
	return false
}
