// Package zerodha implements the broker adapter for Zerodha's Kite Connect
// API. The adapter's rules are transport-agnostic: a live transport backed by
// the official gokiteconnect client, or a fixture transport returning
// deterministic data in the same wire schema, is injected at construction.
package zerodha

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// Name is the identifier the adapter registers under.
const Name = "zerodha"

// Zerodha access tokens are valid for the trading day; the original
// integration treats a refreshed token as good for six hours.
const tokenLifetime = 6 * time.Hour

// Compile-time interface check.
var _ ports.BrokerAdapter = (*Adapter)(nil)

// Transport performs the Zerodha API calls on behalf of the adapter.
type Transport interface {
	// Trades fetches the day's executed trades in Kite wire format.
	Trades(ctx context.Context, accessToken string) ([]domain.RawTrade, error)
	// RenewToken exchanges a refresh token for new session tokens.
	RenewToken(ctx context.Context, refreshToken string) (*ports.TokenSet, error)
	// CheckToken returns an error if the access token is not accepted.
	CheckToken(ctx context.Context, accessToken string) error
}

// Adapter implements ports.BrokerAdapter for Zerodha.
type Adapter struct {
	transport Transport
	logger    ports.Logger
}

// Config holds configuration for the Zerodha adapter.
type Config struct {
	APIKey      string
	APISecret   string
	UseFixtures bool      // Force fixture mode even when credentials are set
	Transport   Transport // Optional override, used by tests
	Logger      ports.Logger
}

// New creates a Zerodha adapter. Without credentials (or with UseFixtures
// set) the adapter serves deterministic fixture data shaped exactly like the
// live API responses.
func New(cfg Config) (*Adapter, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Zerodha adapter")
	}

	transport := cfg.Transport
	if transport == nil {
		if cfg.APIKey == "" || cfg.APISecret == "" || cfg.UseFixtures {
			cfg.Logger.Info(context.Background(), "Zerodha adapter running in fixture mode")
			transport = newFixtureTransport()
		} else {
			transport = &liveTransport{apiKey: cfg.APIKey, apiSecret: cfg.APISecret}
		}
	}

	return &Adapter{transport: transport, logger: cfg.Logger}, nil
}

// BrokerName returns "zerodha".
func (a *Adapter) BrokerName() string { return Name }

// FetchTrades retrieves raw Kite trade records. The access token must be
// pre-validated by the caller; transport failures wrap ports.ErrFetchFailed.
func (a *Adapter) FetchTrades(ctx context.Context, accessToken string, _ ports.FetchOptions) ([]domain.RawTrade, error) {
	trades, err := a.transport.Trades(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("zerodha: %v: %w", err, ports.ErrFetchFailed)
	}
	a.logger.Debug(ctx, "Fetched Zerodha trades", map[string]interface{}{"count": len(trades)})
	return trades, nil
}

// RefreshAccessToken exchanges the stored refresh token for a new session.
func (a *Adapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*ports.TokenSet, error) {
	tokens, err := a.transport.RenewToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("zerodha: %v: %w", err, ports.ErrTokenRefreshFailed)
	}
	return tokens, nil
}

// ValidateToken reports whether the token is accepted by the Kite API.
// It never returns an error.
func (a *Adapter) ValidateToken(ctx context.Context, accessToken string) bool {
	if err := a.transport.CheckToken(ctx, accessToken); err != nil {
		a.logger.Debug(ctx, "Zerodha token validation failed", map[string]interface{}{"err": err.Error()})
		return false
	}
	return true
}

// --- Live transport (gokiteconnect) ---

// liveTransport talks to api.kite.trade. A fresh client is built per call so
// concurrent syncs for different users never share token state.
type liveTransport struct {
	apiKey    string
	apiSecret string
}

func (t *liveTransport) client(accessToken string) *kiteconnect.Client {
	kc := kiteconnect.New(t.apiKey)
	if accessToken != "" {
		kc.SetAccessToken(accessToken)
	}
	return kc
}

func (t *liveTransport) Trades(_ context.Context, accessToken string) ([]domain.RawTrade, error) {
	kcTrades, err := t.client(accessToken).GetTrades()
	if err != nil {
		return nil, fmt.Errorf("kite GetTrades: %w", err)
	}

	raws := make([]domain.RawTrade, 0, len(kcTrades))
	for _, trade := range kcTrades {
		raw, err := json.Marshal(trade)
		if err != nil {
			return nil, fmt.Errorf("encoding kite trade %s: %w", trade.TradeID, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func (t *liveTransport) RenewToken(_ context.Context, refreshToken string) (*ports.TokenSet, error) {
	tokens, err := t.client("").RenewAccessToken(refreshToken, t.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("kite RenewAccessToken: %w", err)
	}
	set := &ports.TokenSet{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenExpiry:  time.Now().Add(tokenLifetime),
	}
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	return set, nil
}

func (t *liveTransport) CheckToken(_ context.Context, accessToken string) error {
	if _, err := t.client(accessToken).GetUserProfile(); err != nil {
		return fmt.Errorf("kite GetUserProfile: %w", err)
	}
	return nil
}
