package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// recordingTransport captures which symbols were requested.
type recordingTransport struct {
	symbols []string
	raws    []domain.RawTrade
	err     error
}

func (t *recordingTransport) Trades(ctx context.Context, symbol string, limit int) ([]domain.RawTrade, error) {
	t.symbols = append(t.symbols, symbol)
	return t.raws, t.err
}

func (t *recordingTransport) RenewToken(ctx context.Context, refreshToken string) (*ports.TokenSet, error) {
	return nil, fmt.Errorf("not implemented")
}

func (t *recordingTransport) CheckToken(ctx context.Context, accessToken string) error { return nil }

func TestFetchTrades_Fixtures(t *testing.T) {
	adapter, err := New(Config{UseFixtures: true, Logger: &mockLogger{}})
	require.NoError(t, err)

	raws, err := adapter.FetchTrades(context.Background(), "", ports.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, raws, 2)

	var first struct {
		ID      int64  `json:"id"`
		Symbol  string `json:"symbol"`
		Price   string `json:"price"`
		Qty     string `json:"qty"`
		Time    int64  `json:"time"`
		IsBuyer bool   `json:"isBuyer"`
	}
	require.NoError(t, json.Unmarshal(raws[0], &first))
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, "43250.50", first.Price)
	assert.Equal(t, "0.25", first.Qty)
	assert.True(t, first.IsBuyer)
	assert.NotZero(t, first.Time)
}

func TestFetchTrades_SymbolOverride(t *testing.T) {
	adapter, err := New(Config{UseFixtures: true, Logger: &mockLogger{}})
	require.NoError(t, err)

	raws, err := adapter.FetchTrades(context.Background(), "", ports.FetchOptions{Symbol: "ETHUSDT"})
	require.NoError(t, err)
	require.Len(t, raws, 1)

	var trade struct {
		Symbol string `json:"symbol"`
	}
	require.NoError(t, json.Unmarshal(raws[0], &trade))
	assert.Equal(t, "ETHUSDT", trade.Symbol)
}

func TestFetchTrades_ConfiguredSymbols(t *testing.T) {
	transport := &recordingTransport{}
	adapter, err := New(Config{
		Symbols:   []string{"BTCUSDT", "ETHUSDT"},
		Transport: transport,
		Logger:    &mockLogger{},
	})
	require.NoError(t, err)

	_, err = adapter.FetchTrades(context.Background(), "", ports.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, transport.symbols)
}

func TestFetchTrades_TransportFailure(t *testing.T) {
	transport := &recordingTransport{err: fmt.Errorf("binance api unreachable")}
	adapter, err := New(Config{Transport: transport, Logger: &mockLogger{}})
	require.NoError(t, err)

	_, err = adapter.FetchTrades(context.Background(), "", ports.FetchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrFetchFailed)
}

func TestRefreshAccessToken_Fixtures(t *testing.T) {
	adapter, err := New(Config{UseFixtures: true, Logger: &mockLogger{}})
	require.NoError(t, err)

	tokens, err := adapter.RefreshAccessToken(context.Background(), "refresh")
	require.NoError(t, err)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.False(t, tokens.TokenExpiry.IsZero())
}

func TestValidateToken_Fixtures(t *testing.T) {
	adapter, err := New(Config{UseFixtures: true, Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.True(t, adapter.ValidateToken(context.Background(), "any-token"))
}

func TestBrokerName(t *testing.T) {
	adapter, err := New(Config{UseFixtures: true, Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, "binance", adapter.BrokerName())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		code int64
		want error
	}{
		{"rate limited", -1003, ports.ErrRateLimited},
		{"bad signature", -1022, ports.ErrAuthenticationFailed},
		{"invalid key", -2014, ports.ErrAuthenticationFailed},
		{"bad permissions", -2015, ports.ErrAuthenticationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(&common.APIError{Code: tt.code, Message: "boom"})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("unknown code passes through", func(t *testing.T) {
		in := &common.APIError{Code: -9999, Message: "boom"}
		assert.Equal(t, error(in), classify(in))
	})

	t.Run("non-api error passes through", func(t *testing.T) {
		in := fmt.Errorf("plain failure")
		assert.Equal(t, in, classify(in))
	})
}
