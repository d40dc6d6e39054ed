// Package alpaca implements the broker adapter for Alpaca. Trades are read
// from the account-activities endpoint filtered to fills. Alpaca
// authenticates with long-lived API keys rather than an OAuth refresh flow,
// so "refreshing" re-issues the configured key pair with a far expiry.
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Name is the identifier the adapter registers under.
const Name = "alpaca"

const (
	paperBaseURL = "https://paper-api.alpaca.markets"

	// API keys do not expire on a broker-side schedule; one year keeps the
	// token manager's expiry check satisfied without ever refreshing mid-use.
	keyLifetime = 365 * 24 * time.Hour

	defaultPageSize = 100
)

// Compile-time interface check.
var _ ports.BrokerAdapter = (*Adapter)(nil)

// Transport performs the Alpaca API calls on behalf of the adapter.
type Transport interface {
	// Fills fetches executed fill activities in Alpaca wire format.
	Fills(ctx context.Context, accessToken string, limit int) ([]domain.RawTrade, error)
	// RenewToken re-issues credentials.
	RenewToken(ctx context.Context, refreshToken string) (*ports.TokenSet, error)
	// CheckToken returns an error if the credentials are not accepted.
	CheckToken(ctx context.Context, accessToken string) error
}

// Adapter implements ports.BrokerAdapter for Alpaca.
type Adapter struct {
	transport Transport
	logger    ports.Logger
}

// Config holds configuration for the Alpaca adapter.
type Config struct {
	APIKey      string
	APISecret   string
	BaseURL     string    // Defaults to the paper-trading API
	UseFixtures bool      // Force fixture mode even when credentials are set
	Transport   Transport // Optional override, used by tests
	Logger      ports.Logger
}

// New creates an Alpaca adapter. Without credentials (or with UseFixtures
// set) the adapter serves deterministic fixture data shaped exactly like the
// live API responses.
func New(cfg Config) (*Adapter, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Alpaca adapter")
	}

	transport := cfg.Transport
	if transport == nil {
		if cfg.APIKey == "" || cfg.APISecret == "" || cfg.UseFixtures {
			cfg.Logger.Info(context.Background(), "Alpaca adapter running in fixture mode")
			transport = newFixtureTransport()
		} else {
			baseURL := cfg.BaseURL
			if baseURL == "" {
				baseURL = paperBaseURL
			}
			transport = &liveTransport{
				apiKey:    cfg.APIKey,
				apiSecret: cfg.APISecret,
				client: alpacaapi.NewClient(alpacaapi.ClientOpts{
					APIKey:    cfg.APIKey,
					APISecret: cfg.APISecret,
					BaseURL:   baseURL,
				}),
			}
		}
	}

	return &Adapter{transport: transport, logger: cfg.Logger}, nil
}

// BrokerName returns "alpaca".
func (a *Adapter) BrokerName() string { return Name }

// FetchTrades retrieves raw fill activities. Transport failures wrap
// ports.ErrFetchFailed; no internal retries.
func (a *Adapter) FetchTrades(ctx context.Context, accessToken string, opts ports.FetchOptions) ([]domain.RawTrade, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	fills, err := a.transport.Fills(ctx, accessToken, limit)
	if err != nil {
		return nil, fmt.Errorf("alpaca: %v: %w", err, ports.ErrFetchFailed)
	}
	a.logger.Debug(ctx, "Fetched Alpaca fills", map[string]interface{}{"count": len(fills)})
	return fills, nil
}

// RefreshAccessToken re-issues the configured key pair.
func (a *Adapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*ports.TokenSet, error) {
	tokens, err := a.transport.RenewToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("alpaca: %v: %w", err, ports.ErrTokenRefreshFailed)
	}
	return tokens, nil
}

// ValidateToken reports whether the credentials are accepted by the account
// endpoint. It never returns an error.
func (a *Adapter) ValidateToken(ctx context.Context, accessToken string) bool {
	if err := a.transport.CheckToken(ctx, accessToken); err != nil {
		a.logger.Debug(ctx, "Alpaca token validation failed", map[string]interface{}{"err": err.Error()})
		return false
	}
	return true
}

// --- Live transport (alpaca-trade-api-go) ---

type liveTransport struct {
	apiKey    string
	apiSecret string
	client    *alpacaapi.Client
}

func (t *liveTransport) Fills(_ context.Context, _ string, limit int) ([]domain.RawTrade, error) {
	activities, err := t.client.GetAccountActivities(alpacaapi.GetAccountActivitiesRequest{
		ActivityTypes: []string{"FILL"},
		PageSize:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetAccountActivities: %w", err)
	}

	raws := make([]domain.RawTrade, 0, len(activities))
	for _, activity := range activities {
		raw, err := json.Marshal(activity)
		if err != nil {
			return nil, fmt.Errorf("encoding alpaca activity %s: %w", activity.ID, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func (t *liveTransport) RenewToken(_ context.Context, _ string) (*ports.TokenSet, error) {
	return &ports.TokenSet{
		AccessToken:  t.apiKey,
		RefreshToken: t.apiSecret,
		TokenExpiry:  time.Now().Add(keyLifetime),
	}, nil
}

func (t *liveTransport) CheckToken(_ context.Context, _ string) error {
	if _, err := t.client.GetAccount(); err != nil {
		return fmt.Errorf("alpaca GetAccount: %w", err)
	}
	return nil
}
