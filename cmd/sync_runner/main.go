// sync_runner is a one-shot CLI that seeds a demo user, connects the
// requested brokers in fixture mode, and runs a sync cycle against each,
// printing the results. Useful for exercising the pipeline without broker
// credentials or an HTTP client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"brokerSync/config"
	"brokerSync/internal/adapters/alpaca"
	"brokerSync/internal/adapters/binance"
	"brokerSync/internal/adapters/logger"
	"brokerSync/internal/adapters/sqlite"
	"brokerSync/internal/adapters/zerodha"
	"brokerSync/internal/domain"
	"brokerSync/internal/normalizer"
	"brokerSync/internal/ports"
	"brokerSync/internal/sync"
	"brokerSync/internal/token"
)

func main() {
	userID := flag.String("user", "demo-user", "user id to sync trades for")
	brokers := flag.String("brokers", "zerodha,alpaca,binance", "comma-separated brokers to sync")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Broker Adapters (fixture mode, no credentials needed)
	zerodhaAdapter, err := zerodha.New(zerodha.Config{UseFixtures: true, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Zerodha adapter: %v", err)
	}
	alpacaAdapter, err := alpaca.New(alpaca.Config{UseFixtures: true, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Alpaca adapter: %v", err)
	}
	binanceAdapter, err := binance.New(binance.Config{UseFixtures: true, Symbols: cfg.BinanceSymbols, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance adapter: %v", err)
	}

	// 5. Initialize Token Manager, Normalizer, Sync Service
	tokenManager, err := token.NewManager(repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize token manager: %v", err)
	}
	norm, err := normalizer.New(appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize normalizer: %v", err)
	}
	syncService, err := sync.NewService(sync.Config{
		Store:        repo,
		Tokens:       tokenManager,
		Normalizer:   norm,
		Logger:       appLogger,
		FetchTimeout: cfg.FetchTimeout,
		SyncDeadline: cfg.SyncDeadline,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize sync service: %v", err)
	}
	syncService.RegisterAdapter(zerodhaAdapter)
	syncService.RegisterAdapter(alpacaAdapter)
	syncService.RegisterAdapter(binanceAdapter)

	names := splitBrokers(*brokers)

	// 6. Seed the demo user with an active connection per requested broker
	user, err := repo.FindByID(ctx, *userID)
	if err != nil {
		log.Fatalf("FATAL: Failed to load user: %v", err)
	}
	if user == nil {
		user = &domain.User{UserID: *userID, Name: "Demo User", Email: "demo@example.com"}
	}
	for _, name := range names {
		if user.Connection(name) != nil {
			continue
		}
		user.Connections = append(user.Connections, &domain.BrokerConnection{
			BrokerName:   name,
			AccessToken:  "fixture_access_token",
			RefreshToken: "fixture_refresh_token",
			TokenExpiry:  time.Now().Add(6 * time.Hour),
			IsActive:     true,
		})
	}
	if err := repo.Save(ctx, user); err != nil {
		log.Fatalf("FATAL: Failed to seed demo user: %v", err)
	}

	// 7. Run one sync cycle per broker and print the results
	for _, name := range names {
		result := syncService.SyncTrades(ctx, *userID, name, ports.FetchOptions{})
		fmt.Printf("%-8s success=%-5t tradesCount=%-3d %s\n", name, result.Success, result.TradesCount, result.Message)
		for _, trade := range result.Trades {
			fmt.Printf("  %s %s %s x%v @ %.2f (%s)\n",
				trade.BrokerTradeID, trade.TradeType, trade.Symbol, trade.Quantity, trade.Price, trade.TradeTime.Format(time.RFC3339))
		}
	}

	total, err := repo.CountByUser(ctx, *userID)
	if err != nil {
		log.Fatalf("FATAL: Failed to count stored trades: %v", err)
	}
	fmt.Printf("total stored trades for %s: %d\n", *userID, total)
}

func splitBrokers(list string) []string {
	var names []string
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
