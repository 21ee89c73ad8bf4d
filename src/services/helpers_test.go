// backend/src/services/helpers_test.go
package services

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/username/maplefolio/backend/src/config"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/models"
)

func init() {
	logger.InitLogger("error")
	config.Cfg = &config.AppConfig{
		AccessTokenExpiry:    time.Hour,
		QuoteTimeout:         5 * time.Second,
		PriceCacheTTL:        time.Minute,
		FxCacheTTL:           time.Hour,
		BrokerTimeout:        5 * time.Second,
		ActivityLookbackDays: 365,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// setupTestDB opens a throwaway sqlite database and applies the schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "000001_init.up.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	return db
}

// seedPortfolio creates a user and one portfolio for them.
func seedPortfolio(t *testing.T, db *sql.DB) (int64, models.Portfolio) {
	t.Helper()

	ctx := context.Background()
	user, err := model.CreateUser(ctx, db, "owner@example.com", "not-a-real-hash")
	require.NoError(t, err)
	portfolio, err := model.CreatePortfolio(ctx, db, user.ID, "TFSA", "")
	require.NoError(t, err)
	return user.ID, portfolio
}

// stubPriceService serves canned quotes and a single FX rate.
type stubPriceService struct {
	prices map[string]PriceInfo
	fxRate decimal.Decimal
	fxErr  error
}

func (s *stubPriceService) GetPrice(_ context.Context, symbol string) (PriceInfo, error) {
	info, ok := s.prices[symbol]
	if !ok {
		return PriceInfo{}, ErrPriceUnavailable
	}
	return info, nil
}

func (s *stubPriceService) GetPrices(ctx context.Context, symbols []string) map[string]PriceInfo {
	out := make(map[string]PriceInfo)
	for _, symbol := range symbols {
		if info, err := s.GetPrice(ctx, symbol); err == nil {
			out[symbol] = info
		}
	}
	return out
}

func (s *stubPriceService) GetFxRate(_ context.Context, from, to models.Currency) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if s.fxErr != nil {
		return decimal.Zero, s.fxErr
	}
	return s.fxRate, nil
}

// stubBrokerClient hands back a fixed snapshot without any HTTP.
type stubBrokerClient struct {
	snapshot models.BrokerSnapshot
	err      error
}

func (s *stubBrokerClient) Connect(context.Context, int64, string) (models.BrokerConnection, error) {
	return models.BrokerConnection{}, nil
}

func (s *stubBrokerClient) Disconnect(context.Context, int64) error { return nil }

func (s *stubBrokerClient) Accounts(context.Context, int64) ([]models.BrokerAccount, error) {
	return nil, nil
}

func (s *stubBrokerClient) Snapshot(context.Context, int64, string, time.Duration) (models.BrokerSnapshot, error) {
	if s.err != nil {
		return models.BrokerSnapshot{}, s.err
	}
	return s.snapshot, nil
}
