// backend/src/services/price_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/maplefolio/backend/src/config"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/models"
	"golang.org/x/net/publicsuffix"
)

const quoteUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// --- API Response Structs ---

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"chart"`
}

// --- Service Implementation ---

type priceServiceImpl struct {
	httpClient    http.Client
	quotes        *cache.Cache
	fxRates       *cache.Cache
	isInitialized bool
	crumb         string
	mu            sync.Mutex
}

// NewPriceService builds the quote provider client. Prices live in a 60-second
// cache and FX pair rates in a 1-hour cache (both configurable); entries are
// immutable for their TTL window, so concurrent reads are safe to race.
func NewPriceService() PriceService {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}

	client := http.Client{
		Jar:     jar,
		Timeout: config.Cfg.QuoteTimeout,
	}

	s := &priceServiceImpl{
		httpClient: client,
		quotes:     cache.New(config.Cfg.PriceCacheTTL, 2*config.Cfg.PriceCacheTTL),
		fxRates:    cache.New(config.Cfg.FxCacheTTL, 2*config.Cfg.FxCacheTTL),
	}

	go s.initializeSession()

	return s
}

func (s *priceServiceImpl) initializeSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isInitialized && s.crumb != "" {
		return
	}

	logger.L.Info("Initializing quote provider session and fetching crumb...")

	req1, _ := http.NewRequest("GET", "https://fc.yahoo.com", nil)
	req1.Header.Set("User-Agent", quoteUserAgent)
	resp1, err := s.httpClient.Do(req1)
	if err == nil {
		io.Copy(io.Discard, resp1.Body)
		resp1.Body.Close()
	}

	req2, _ := http.NewRequest("GET", "https://query1.finance.yahoo.com/v1/test/getcrumb", nil)
	req2.Header.Set("User-Agent", quoteUserAgent)
	resp2, err := s.httpClient.Do(req2)
	if err != nil {
		logger.L.Error("Failed to fetch crumb", "error", err)
		return
	}
	defer resp2.Body.Close()

	if resp2.StatusCode == http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp2.Body)
		s.crumb = string(bodyBytes)
		s.isInitialized = true
		logger.L.Info("Quote provider session initialized")
	} else {
		logger.L.Warn("Failed to fetch crumb", "status", resp2.Status)
	}
}

func (s *priceServiceImpl) ensureSession() {
	s.mu.Lock()
	needsInit := !s.isInitialized || s.crumb == ""
	s.mu.Unlock()

	if needsInit {
		s.initializeSession()
	}
}

func (s *priceServiceImpl) GetPrice(ctx context.Context, symbol string) (PriceInfo, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if cached, found := s.quotes.Get(symbol); found {
		return cached.(PriceInfo), nil
	}

	info, err := s.fetchQuote(ctx, symbol)
	if err != nil {
		logger.L.Warn("Could not get price for symbol", "symbol", symbol, "error", err)
		return PriceInfo{}, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}

	s.quotes.Set(symbol, info, cache.DefaultExpiration)
	return info, nil
}

func (s *priceServiceImpl) GetPrices(ctx context.Context, symbols []string) map[string]PriceInfo {
	results := make(map[string]PriceInfo, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		info, err := s.GetPrice(ctx, symbol)
		if err != nil {
			continue // absent entries mark the symbol as unpriced
		}
		results[symbol] = info
	}
	return results
}

// GetFxRate fetches the live rate for a supported pair. Only CAD/USD in either
// direction is supported; the cache TTL is one hour.
func (s *priceServiceImpl) GetFxRate(ctx context.Context, from, to models.Currency) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	pair := string(from) + string(to) + "=X"
	if cached, found := s.fxRates.Get(pair); found {
		return cached.(decimal.Decimal), nil
	}

	info, err := s.fetchQuote(ctx, pair)
	if err != nil {
		logger.L.Warn("Could not get FX rate", "pair", pair, "error", err)
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrRateUnavailable, pair, err)
	}

	s.fxRates.Set(pair, info.Price, cache.DefaultExpiration)
	return info.Price, nil
}

func (s *priceServiceImpl) fetchQuote(ctx context.Context, symbol string) (PriceInfo, error) {
	s.ensureSession()

	quoteURL := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%s?interval=1d&range=1d&crumb=%s", symbol, s.crumb)
	req, err := http.NewRequestWithContext(ctx, "GET", quoteURL, nil)
	if err != nil {
		return PriceInfo{}, err
	}
	req.Header.Set("User-Agent", quoteUserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return PriceInfo{}, fmt.Errorf("failed to call chart API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.mu.Lock()
		s.isInitialized = false
		s.mu.Unlock()
		return PriceInfo{}, fmt.Errorf("status 401 (Unauthorized) - crumb invalid")
	}
	if resp.StatusCode != http.StatusOK {
		return PriceInfo{}, fmt.Errorf("chart API returned non-OK status %d", resp.StatusCode)
	}

	var chartData yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chartData); err != nil {
		return PriceInfo{}, fmt.Errorf("failed to decode chart response: %w", err)
	}
	if chartData.Chart.Error != nil {
		return PriceInfo{}, fmt.Errorf("chart API returned an error: %v", chartData.Chart.Error)
	}
	if len(chartData.Chart.Result) == 0 || chartData.Chart.Result[0].Meta.RegularMarketPrice == 0 {
		return PriceInfo{}, fmt.Errorf("no price data found")
	}

	meta := chartData.Chart.Result[0].Meta
	asOf := time.Now()
	if meta.RegularMarketTime > 0 {
		asOf = time.Unix(meta.RegularMarketTime, 0)
	}
	return PriceInfo{
		Symbol:   symbol,
		Price:    decimal.NewFromFloat(meta.RegularMarketPrice),
		Currency: models.NormalizeCurrency(meta.Currency),
		AsOf:     asOf,
	}, nil
}
