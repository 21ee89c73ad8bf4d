package main

import (
	"crypto/tls"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/username/maplefolio/backend/src/config"
	"github.com/username/maplefolio/backend/src/database"
	"github.com/username/maplefolio/backend/src/handlers"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/processors"
	"github.com/username/maplefolio/backend/src/security"
	"github.com/username/maplefolio/backend/src/services"
	"golang.org/x/time/rate"
)

func proxyHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Proto") == "https" {
			r.URL.Scheme = "https"
			r.TLS = &tls.ConnectionState{}
		}
		next.ServeHTTP(w, r)
	})
}

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000":    true,
			config.Cfg.FrontendBaseURL: true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("MapleFolio backend server starting...")

	if config.Cfg.JWTSecret == "" || len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	authService := security.NewAuthService(config.Cfg.JWTSecret)
	priceService := services.NewPriceService()
	currencyService := services.NewCurrencyService(priceService)
	projector := processors.NewHoldingsProjector()
	locks := services.NewPortfolioLocker()

	portfolioService := services.NewPortfolioService(database.DB, projector, locks)
	valuationService := services.NewValuationService(database.DB, priceService, currencyService, locks)
	brokerClient := services.NewBrokerClient(database.DB)
	syncService := services.NewSyncService(database.DB, brokerClient, portfolioService, locks)

	userHandler := handlers.NewUserHandler(authService)
	portfolioHandler := handlers.NewPortfolioHandler(valuationService)
	txHandler := handlers.NewTransactionHandler(portfolioService)
	syncHandler := handlers.NewSyncHandler(brokerClient, syncService)
	quoteHandler := handlers.NewQuoteHandler(priceService)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(proxyHeadersMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "MapleFolio Backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", userHandler.RegisterHandler)
			r.Post("/auth/login", userHandler.LoginHandler)
			r.Post("/auth/refresh", userHandler.RefreshTokenHandler)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(userHandler.AuthMiddleware)

			r.Get("/user/me", userHandler.MeHandler)
			r.Post("/auth/logout", userHandler.LogoutHandler)

			r.Get("/portfolios", portfolioHandler.HandleListPortfolios)
			r.Post("/portfolios", portfolioHandler.HandleCreatePortfolio)
			r.Get("/portfolios/{portfolioID}", portfolioHandler.HandleGetPortfolio)
			r.Delete("/portfolios/{portfolioID}", portfolioHandler.HandleDeletePortfolio)
			r.Get("/portfolios/{portfolioID}/valuation", portfolioHandler.HandleGetValuation)

			r.Get("/portfolios/{portfolioID}/transactions", txHandler.HandleListTransactions)
			r.Post("/portfolios/{portfolioID}/transactions", txHandler.HandleCreateTransaction)
			r.Delete("/transactions/{transactionID}", txHandler.HandleDeleteTransaction)

			r.Post("/broker/connect", syncHandler.HandleConnectBroker)
			r.Post("/broker/disconnect", syncHandler.HandleDisconnectBroker)
			r.Get("/broker/accounts", syncHandler.HandleListBrokerAccounts)
			r.Post("/portfolios/{portfolioID}/sync", syncHandler.HandleSyncPortfolio)

			r.Get("/quotes/{symbol}", quoteHandler.HandleGetQuote)
			r.Get("/fx/usdcad", quoteHandler.HandleGetFxRate)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
		}
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
