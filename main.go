package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokerSync/config"
	"brokerSync/internal/adapters/alpaca"
	"brokerSync/internal/adapters/binance"
	"brokerSync/internal/adapters/logger"
	"brokerSync/internal/adapters/sqlite"
	"brokerSync/internal/adapters/zerodha"
	"brokerSync/internal/normalizer"
	"brokerSync/internal/server"
	"brokerSync/internal/sync"
	"brokerSync/internal/token"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Broker Adapters
	zerodhaAdapter, err := zerodha.New(zerodha.Config{
		APIKey:      cfg.Zerodha.APIKey,
		APISecret:   cfg.Zerodha.APISecret,
		UseFixtures: cfg.UseMockData,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Zerodha adapter")
		log.Fatalf("FATAL: Failed to initialize Zerodha adapter: %v", err)
	}

	alpacaAdapter, err := alpaca.New(alpaca.Config{
		APIKey:      cfg.Alpaca.APIKey,
		APISecret:   cfg.Alpaca.APISecret,
		UseFixtures: cfg.UseMockData,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Alpaca adapter")
		log.Fatalf("FATAL: Failed to initialize Alpaca adapter: %v", err)
	}

	binanceAdapter, err := binance.New(binance.Config{
		APIKey:      cfg.Binance.APIKey,
		APISecret:   cfg.Binance.APISecret,
		Symbols:     cfg.BinanceSymbols,
		UseFixtures: cfg.UseMockData,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance adapter")
		log.Fatalf("FATAL: Failed to initialize Binance adapter: %v", err)
	}
	appLogger.Info(context.Background(), "Broker adapters initialized")

	// 5. Initialize Token Manager
	tokenManager, err := token.NewManager(repo, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize token manager")
		log.Fatalf("FATAL: Failed to initialize token manager: %v", err)
	}

	// 6. Initialize Normalizer
	norm, err := normalizer.New(appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize normalizer")
		log.Fatalf("FATAL: Failed to initialize normalizer: %v", err)
	}

	// 7. Initialize Sync Service
	syncService, err := sync.NewService(sync.Config{
		Store:        repo,
		Tokens:       tokenManager,
		Normalizer:   norm,
		Logger:       appLogger,
		FetchTimeout: cfg.FetchTimeout,
		SyncDeadline: cfg.SyncDeadline,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize sync service")
		log.Fatalf("FATAL: Failed to initialize sync service: %v", err)
	}
	syncService.RegisterAdapter(zerodhaAdapter)
	syncService.RegisterAdapter(alpacaAdapter)
	syncService.RegisterAdapter(binanceAdapter)
	appLogger.Info(context.Background(), "Sync service initialized", map[string]interface{}{"brokers": syncService.Brokers()})

	// 8. Initialize HTTP Server
	srv, err := server.New(server.Config{
		Addr:   ":" + cfg.Port,
		Sync:   syncService,
		Users:  repo,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize HTTP server")
		log.Fatalf("FATAL: Failed to initialize HTTP server: %v", err)
	}

	// 9. Run until interrupted, then drain in-flight requests
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			appLogger.Error(context.Background(), err, "HTTP server exited with error")
			log.Fatalf("FATAL: HTTP server exited with error: %v", err)
		}
	case sig := <-stop:
		appLogger.Info(context.Background(), "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(context.Background(), err, "Error during HTTP server shutdown")
		}
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
