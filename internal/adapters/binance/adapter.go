// Package binance implements the broker adapter for Binance's spot API.
// It exists alongside the Zerodha and Alpaca variants to keep the registry
// honestly polymorphic: a third schema, a third credential model, no shared
// branching. Binance's trade listing is per-symbol, so fetches take the
// symbol from the options or fall back to the configured symbol set.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

// Name is the identifier the adapter registers under.
const Name = "binance"

// Binance API keys do not expire; see the Alpaca adapter for the same
// convention.
const keyLifetime = 365 * 24 * time.Hour

// Compile-time interface check.
var _ ports.BrokerAdapter = (*Adapter)(nil)

// Transport performs the Binance API calls on behalf of the adapter.
type Transport interface {
	// Trades fetches executed trades for one symbol in Binance wire format.
	Trades(ctx context.Context, symbol string, limit int) ([]domain.RawTrade, error)
	// RenewToken re-issues credentials.
	RenewToken(ctx context.Context, refreshToken string) (*ports.TokenSet, error)
	// CheckToken returns an error if the credentials are not accepted.
	CheckToken(ctx context.Context, accessToken string) error
}

// Adapter implements ports.BrokerAdapter for Binance.
type Adapter struct {
	transport Transport
	symbols   []string
	logger    ports.Logger
}

// Config holds configuration for the Binance adapter.
type Config struct {
	APIKey      string
	APISecret   string
	Symbols     []string  // Symbols fetched when the caller supplies none
	UseFixtures bool      // Force fixture mode even when credentials are set
	Transport   Transport // Optional override, used by tests
	Logger      ports.Logger
}

// New creates a Binance adapter. Without credentials (or with UseFixtures
// set) the adapter serves deterministic fixture data shaped exactly like the
// live API responses.
func New(cfg Config) (*Adapter, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance adapter")
	}

	transport := cfg.Transport
	if transport == nil {
		if cfg.APIKey == "" || cfg.APISecret == "" || cfg.UseFixtures {
			cfg.Logger.Info(context.Background(), "Binance adapter running in fixture mode")
			transport = newFixtureTransport()
		} else {
			transport = &liveTransport{
				client: binance.NewClient(cfg.APIKey, cfg.APISecret),
				apiKey: cfg.APIKey,
				secret: cfg.APISecret,
			}
		}
	}

	return &Adapter{transport: transport, symbols: cfg.Symbols, logger: cfg.Logger}, nil
}

// BrokerName returns "binance".
func (a *Adapter) BrokerName() string { return Name }

// FetchTrades retrieves raw trade records for the requested symbol, or for
// every configured symbol when the options name none. Transport failures
// wrap ports.ErrFetchFailed.
func (a *Adapter) FetchTrades(ctx context.Context, _ string, opts ports.FetchOptions) ([]domain.RawTrade, error) {
	symbols := a.symbols
	if opts.Symbol != "" {
		symbols = []string{opts.Symbol}
	}
	if len(symbols) == 0 {
		// Fixture transports return their full set for the empty symbol;
		// the live API rejects it, which surfaces as a fetch failure below.
		symbols = []string{""}
	}

	var raws []domain.RawTrade
	for _, symbol := range symbols {
		symbolTrades, err := a.transport.Trades(ctx, symbol, opts.Limit)
		if err != nil {
			return nil, fmt.Errorf("binance: %v: %w", err, ports.ErrFetchFailed)
		}
		raws = append(raws, symbolTrades...)
	}
	a.logger.Debug(ctx, "Fetched Binance trades", map[string]interface{}{"count": len(raws), "symbols": len(symbols)})
	return raws, nil
}

// RefreshAccessToken re-issues the configured key pair.
func (a *Adapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*ports.TokenSet, error) {
	tokens, err := a.transport.RenewToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("binance: %v: %w", err, ports.ErrTokenRefreshFailed)
	}
	return tokens, nil
}

// ValidateToken reports whether the credentials are accepted by the account
// endpoint. It never returns an error.
func (a *Adapter) ValidateToken(ctx context.Context, accessToken string) bool {
	if err := a.transport.CheckToken(ctx, accessToken); err != nil {
		a.logger.Debug(ctx, "Binance token validation failed", map[string]interface{}{"err": err.Error()})
		return false
	}
	return true
}

// --- Live transport (go-binance) ---

type liveTransport struct {
	client *binance.Client
	apiKey string
	secret string
}

// classify translates common Binance API errors into standardized ports
// errors so callers can branch on kind instead of message text.
func classify(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case -1003: // Too many requests
		return fmt.Errorf("%w: %v", ports.ErrRateLimited, err)
	case -1022, -2014, -2015: // Bad signature / invalid API key or permissions
		return fmt.Errorf("%w: %v", ports.ErrAuthenticationFailed, err)
	default:
		return err
	}
}

func (t *liveTransport) Trades(ctx context.Context, symbol string, limit int) ([]domain.RawTrade, error) {
	svc := t.client.NewListTradesService().Symbol(symbol)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	trades, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance ListTrades %s: %w", symbol, classify(err))
	}

	raws := make([]domain.RawTrade, 0, len(trades))
	for _, trade := range trades {
		raw, err := json.Marshal(trade)
		if err != nil {
			return nil, fmt.Errorf("encoding binance trade %d: %w", trade.ID, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func (t *liveTransport) RenewToken(_ context.Context, _ string) (*ports.TokenSet, error) {
	return &ports.TokenSet{
		AccessToken:  t.apiKey,
		RefreshToken: t.secret,
		TokenExpiry:  time.Now().Add(keyLifetime),
	}, nil
}

func (t *liveTransport) CheckToken(ctx context.Context, _ string) error {
	if _, err := t.client.NewGetAccountService().Do(ctx); err != nil {
		return fmt.Errorf("binance GetAccount: %w", classify(err))
	}
	return nil
}
