// Package sync orchestrates a trade synchronization cycle: resolve the
// broker adapter, obtain a valid token, fetch raw trades, normalize them,
// and persist the new ones idempotently.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/normalizer"
	"brokerSync/internal/ports"
)

// TokenSource yields valid access tokens and records sync completion.
// Satisfied by token.Manager.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID, brokerName string, adapter ports.BrokerAdapter) (string, error)
	UpdateLastSync(ctx context.Context, userID, brokerName string) error
}

// Normalizer converts broker-native trade payloads into domain trades.
type Normalizer interface {
	NormalizeTrades(ctx context.Context, raws []domain.RawTrade, brokerName, userID string) ([]*domain.Trade, error)
}

// Result is the outcome of one sync attempt. A failed attempt still yields
// a Result; SyncTrades never returns an error to the caller.
type Result struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	TradesCount int             `json:"tradesCount"`
	Trades      []*domain.Trade `json:"trades"`
}

// Config holds the dependencies and tuning for the sync service.
type Config struct {
	Store      ports.TradeStore
	Tokens     TokenSource
	Normalizer Normalizer
	Logger     ports.Logger

	// FetchTimeout bounds a single broker API call. Zero means no per-call
	// timeout beyond the attempt deadline.
	FetchTimeout time.Duration
	// SyncDeadline bounds a whole sync attempt end to end.
	SyncDeadline time.Duration
}

// Service coordinates broker adapters, the token manager, the normalizer
// and the trade store.
type Service struct {
	adapters     map[string]ports.BrokerAdapter
	store        ports.TradeStore
	tokens       TokenSource
	normalizer   Normalizer
	logger       ports.Logger
	fetchTimeout time.Duration
	syncDeadline time.Duration
}

// NewService creates the sync service. Adapters are registered separately
// with RegisterAdapter.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Tokens == nil || cfg.Normalizer == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for sync service")
	}
	return &Service{
		adapters:     make(map[string]ports.BrokerAdapter),
		store:        cfg.Store,
		tokens:       cfg.Tokens,
		normalizer:   cfg.Normalizer,
		logger:       cfg.Logger,
		fetchTimeout: cfg.FetchTimeout,
		syncDeadline: cfg.SyncDeadline,
	}, nil
}

// RegisterAdapter adds a broker adapter to the registry. Lookup is
// case-insensitive on the broker name.
func (s *Service) RegisterAdapter(adapter ports.BrokerAdapter) {
	s.adapters[strings.ToLower(adapter.BrokerName())] = adapter
}

// Brokers returns the registered broker names, sorted.
func (s *Service) Brokers() []string {
	names := make([]string, 0, len(s.adapters))
	for name := range s.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SyncTrades runs one synchronization attempt for a user against a broker.
// It always returns a Result: broker errors, token failures and validation
// problems surface as Success=false with a descriptive message, while
// malformed individual records are logged and skipped without aborting the
// batch. Re-running a sync never duplicates stored trades.
func (s *Service) SyncTrades(ctx context.Context, userID, brokerName string, opts ports.FetchOptions) *Result {
	if s.syncDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.syncDeadline)
		defer cancel()
	}

	name := strings.ToLower(brokerName)
	adapter, ok := s.adapters[name]
	if !ok {
		s.logger.Warn(ctx, "Sync requested for unsupported broker", map[string]interface{}{"broker": brokerName, "userID": userID})
		return failure(fmt.Sprintf("unsupported broker: %s", brokerName))
	}

	s.logger.Info(ctx, "Starting trade sync", map[string]interface{}{"userID": userID, "broker": name})

	accessToken, err := s.tokens.GetValidToken(ctx, userID, name, adapter)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to obtain access token", map[string]interface{}{"userID": userID, "broker": name})
		return failure(tokenFailureMessage(name, err))
	}

	raws, err := s.fetchTrades(ctx, adapter, accessToken, opts)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to fetch trades from broker", map[string]interface{}{"userID": userID, "broker": name})
		return failure(fmt.Sprintf("failed to fetch trades from %s: %v", name, err))
	}
	if len(raws) == 0 {
		s.logger.Info(ctx, "No trades returned by broker", map[string]interface{}{"userID": userID, "broker": name})
		return &Result{Success: true, Message: "no new trades found", Trades: []*domain.Trade{}}
	}

	trades, err := s.normalizer.NormalizeTrades(ctx, raws, name, userID)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to normalize trades", map[string]interface{}{"userID": userID, "broker": name})
		return failure(fmt.Sprintf("failed to normalize %s trades: %v", name, err))
	}

	inserted := make([]*domain.Trade, 0, len(trades))
	skipped := 0
	for _, trade := range trades {
		if err := normalizer.ValidateTrade(trade); err != nil {
			s.logger.Warn(ctx, "Skipping invalid trade", map[string]interface{}{
				"brokerTradeID": trade.BrokerTradeID,
				"error":         err.Error(),
			})
			continue
		}
		stored, record, err := s.store.InsertIfAbsent(ctx, trade)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to store trade", map[string]interface{}{"brokerTradeID": trade.BrokerTradeID})
			continue
		}
		if !stored {
			skipped++
			continue
		}
		inserted = append(inserted, record)
	}

	if err := s.tokens.UpdateLastSync(ctx, userID, name); err != nil {
		s.logger.Warn(ctx, "Failed to update last sync time", map[string]interface{}{"userID": userID, "broker": name, "error": err.Error()})
	}

	s.logger.Info(ctx, "Trade sync completed", map[string]interface{}{
		"userID":   userID,
		"broker":   name,
		"inserted": len(inserted),
		"skipped":  skipped,
	})

	return &Result{
		Success:     true,
		Message:     "trades synced successfully",
		TradesCount: len(inserted),
		Trades:      inserted,
	}
}

// fetchTrades calls the adapter under the configured per-call timeout.
func (s *Service) fetchTrades(ctx context.Context, adapter ports.BrokerAdapter, accessToken string, opts ports.FetchOptions) ([]domain.RawTrade, error) {
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}
	return adapter.FetchTrades(ctx, accessToken, opts)
}

// GetUserTrades returns stored trades for a user, newest first, applying
// the filter's defaults when unset.
func (s *Service) GetUserTrades(ctx context.Context, userID string, filter domain.TradeFilter) ([]*domain.Trade, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", ports.ErrValidation)
	}
	if filter.Limit <= 0 {
		filter.Limit = domain.DefaultQueryLimit
	}
	trades, err := s.store.Query(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("querying trades for user %s: %w", userID, err)
	}
	return trades, nil
}

func failure(msg string) *Result {
	return &Result{Success: false, Message: msg, Trades: []*domain.Trade{}}
}

// tokenFailureMessage maps token-path errors to an operator-readable
// message without leaking credentials.
func tokenFailureMessage(brokerName string, err error) string {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return fmt.Sprintf("no active %s connection found", brokerName)
	case errors.Is(err, ports.ErrNoRefreshToken):
		return fmt.Sprintf("%s access token expired and no refresh token is available; reconnect the broker", brokerName)
	case errors.Is(err, ports.ErrTokenRefreshFailed):
		return fmt.Sprintf("failed to refresh %s access token; reconnect the broker", brokerName)
	default:
		return fmt.Sprintf("failed to obtain %s access token: %v", brokerName, err)
	}
}
