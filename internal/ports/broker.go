package ports

import (
	"context"
	"time"

	"brokerSync/internal/domain"
)

// TokenSet is the credential bundle returned by a token refresh.
type TokenSet struct {
	AccessToken  string    // Newly issued access token
	RefreshToken string    // New refresh token; empty means the old one stays valid
	TokenExpiry  time.Time // Expiry of AccessToken
}

// FetchOptions narrows a trade fetch. Brokers ignore options they do not
// support.
type FetchOptions struct {
	Symbol string // Restrict to one symbol (required by per-symbol APIs like Binance)
	Limit  int    // Max records per request, 0 for the broker's default
}

// BrokerAdapter is the capability set one brokerage integration must
// provide. New brokers are added as new implementations registered under
// their name; shared business logic never branches on the broker.
type BrokerAdapter interface {
	// BrokerName returns the lowercase identifier the adapter registers under
	// (e.g. "zerodha", "alpaca").
	BrokerName() string

	// FetchTrades retrieves raw trade records from the broker. The caller is
	// responsible for supplying a currently valid access token; the adapter
	// does not re-verify it. The returned records are in the broker's native
	// schema. Transport or API failures wrap ErrFetchFailed. No internal
	// retries.
	FetchTrades(ctx context.Context, accessToken string, opts FetchOptions) ([]domain.RawTrade, error)

	// RefreshAccessToken exchanges a refresh token for a fresh credential
	// set. A rejected refresh token wraps ErrTokenRefreshFailed.
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenSet, error)

	// ValidateToken reports whether the access token is currently accepted
	// by the broker. It never returns an error: any verification failure
	// yields false.
	ValidateToken(ctx context.Context, accessToken string) bool
}
