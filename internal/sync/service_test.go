package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/normalizer"
	"brokerSync/internal/ports"

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

// mockTokenSource implements TokenSource with canned responses.
type mockTokenSource struct {
	token          string
	tokenErr       error
	getCalls       int
	lastSyncCalls  int
	lastSyncBroker string
}

func (m *mockTokenSource) GetValidToken(ctx context.Context, userID, brokerName string, adapter ports.BrokerAdapter) (string, error) {
	m.getCalls++
	if m.tokenErr != nil {
		return "", m.tokenErr
	}
	return m.token, nil
}

func (m *mockTokenSource) UpdateLastSync(ctx context.Context, userID, brokerName string) error {
	m.lastSyncCalls++
	m.lastSyncBroker = brokerName
	return nil
}

// mockBroker implements ports.BrokerAdapter returning canned raw trades.
type mockBroker struct {
	name       string
	raws       []domain.RawTrade
	fetchErr   error
	fetchCalls int
	gotToken   string
}

func (m *mockBroker) BrokerName() string { return m.name }

func (m *mockBroker) FetchTrades(ctx context.Context, accessToken string, opts ports.FetchOptions) ([]domain.RawTrade, error) {
	m.fetchCalls++
	m.gotToken = accessToken
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.raws, nil
}

func (m *mockBroker) RefreshAccessToken(ctx context.Context, refreshToken string) (*ports.TokenSet, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockBroker) ValidateToken(ctx context.Context, accessToken string) bool { return true }

// stubNormalizer returns a fixed trade batch regardless of input.
type stubNormalizer struct {
	trades []*domain.Trade
	err    error
}

func (s *stubNormalizer) NormalizeTrades(ctx context.Context, raws []domain.RawTrade, brokerName, userID string) ([]*domain.Trade, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.trades, nil
}

// mockStore implements ports.TradeStore in memory, deduplicating on
// BrokerTradeID like the SQLite repository does.
type mockStore struct {
	trades     map[string]*domain.Trade
	insertErr  error
	queryErr   error
	lastFilter domain.TradeFilter
}

func newMockStore() *mockStore {
	return &mockStore{trades: make(map[string]*domain.Trade)}
}

func (s *mockStore) InsertIfAbsent(ctx context.Context, trade *domain.Trade) (bool, *domain.Trade, error) {
	if s.insertErr != nil {
		return false, nil, s.insertErr
	}
	if existing, ok := s.trades[trade.BrokerTradeID]; ok {
		return false, existing, nil
	}
	stored := *trade
	stored.ID = int64(len(s.trades) + 1)
	s.trades[trade.BrokerTradeID] = &stored
	return true, &stored, nil
}

func (s *mockStore) Query(ctx context.Context, userID string, filter domain.TradeFilter) ([]*domain.Trade, error) {
	s.lastFilter = filter
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []*domain.Trade
	for _, trade := range s.trades {
		if trade.UserID == userID {
			out = append(out, trade)
		}
	}
	return out, nil
}

func (s *mockStore) CountByUser(ctx context.Context, userID string) (int, error) {
	return len(s.trades), nil
}

func testTrade(brokerTradeID string) *domain.Trade {
	return &domain.Trade{
		UserID:        "user-1",
		BrokerName:    "zerodha",
		BrokerTradeID: brokerTradeID,
		Symbol:        "RELIANCE",
		Exchange:      "NSE",
		TradeType:     domain.TradeTypeBuy,
		Quantity:      10,
		Price:         2456.75,
		OrderType:     domain.OrderTypeMarket,
		Product:       domain.ProductDelivery,
		Status:        domain.StatusComplete,
		TradeTime:     time.Now().Add(-time.Hour),
		TotalValue:    24567.5,
	}
}

type serviceFixture struct {
	svc    *Service
	store  *mockStore
	tokens *mockTokenSource
	broker *mockBroker
}

func newServiceFixture(t *testing.T, norm Normalizer, broker *mockBroker) *serviceFixture {
	t.Helper()
	store := newMockStore()
	tokens := &mockTokenSource{token: "access-token"}
	svc, err := NewService(Config{
		Store:      store,
		Tokens:     tokens,
		Normalizer: norm,
		Logger:     &mockLogger{},
	})
	require.NoError(t, err)
	svc.RegisterAdapter(broker)
	return &serviceFixture{svc: svc, store: store, tokens: tokens, broker: broker}
}

func TestSyncTrades_Success(t *testing.T) {
	broker := &mockBroker{name: "zerodha", raws: []domain.RawTrade{[]byte(`{}`), []byte(`{}`)}}
	norm := &stubNormalizer{trades: []*domain.Trade{testTrade("t-1"), testTrade("t-2")}}
	f := newServiceFixture(t, norm, broker)

	result := f.svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "trades synced successfully", result.Message)
	assert.Equal(t, 2, result.TradesCount)
	assert.Len(t, result.Trades, 2)
	assert.Equal(t, "access-token", f.broker.gotToken)
	assert.Equal(t, 1, f.tokens.lastSyncCalls)
}

func TestSyncTrades_CaseInsensitiveBrokerLookup(t *testing.T) {
	broker := &mockBroker{name: "zerodha", raws: []domain.RawTrade{[]byte(`{}`)}}
	norm := &stubNormalizer{trades: []*domain.Trade{testTrade("t-1")}}
	f := newServiceFixture(t, norm, broker)

	result := f.svc.SyncTrades(context.Background(), "user-1", "Zerodha", ports.FetchOptions{})
	assert.True(t, result.Success)
	assert.Equal(t, "zerodha", f.tokens.lastSyncBroker)
}

func TestSyncTrades_UnsupportedBroker(t *testing.T) {
	broker := &mockBroker{name: "zerodha"}
	f := newServiceFixture(t, &stubNormalizer{}, broker)

	result := f.svc.SyncTrades(context.Background(), "user-1", "robinhood", ports.FetchOptions{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "unsupported broker")
	assert.Equal(t, 0, f.tokens.getCalls)
	assert.Equal(t, 0, broker.fetchCalls)
}

func TestSyncTrades_TokenFailure(t *testing.T) {
	tests := []struct {
		name        string
		tokenErr    error
		wantMessage string
	}{
		{
			name:        "no connection",
			tokenErr:    fmt.Errorf("no connection: %w", ports.ErrNotFound),
			wantMessage: "no active zerodha connection found",
		},
		{
			name:        "no refresh token",
			tokenErr:    fmt.Errorf("connection: %w", ports.ErrNoRefreshToken),
			wantMessage: "no refresh token is available",
		},
		{
			name:        "refresh failed",
			tokenErr:    fmt.Errorf("renewal: %w", ports.ErrTokenRefreshFailed),
			wantMessage: "failed to refresh zerodha access token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &mockBroker{name: "zerodha"}
			f := newServiceFixture(t, &stubNormalizer{}, broker)
			f.tokens.tokenErr = tt.tokenErr

			result := f.svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
			assert.False(t, result.Success)
			assert.Contains(t, result.Message, tt.wantMessage)
			assert.Equal(t, 0, broker.fetchCalls)
			assert.Equal(t, 0, f.tokens.lastSyncCalls)
		})
	}
}

func TestSyncTrades_FetchFailure(t *testing.T) {
	broker := &mockBroker{
		name:     "zerodha",
		fetchErr: fmt.Errorf("kite api unreachable: %w", ports.ErrFetchFailed),
	}
	f := newServiceFixture(t, &stubNormalizer{}, broker)

	result := f.svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "failed to fetch trades from zerodha")
	assert.Empty(t, f.store.trades)
}

func TestSyncTrades_EmptyFetchShortCircuits(t *testing.T) {
	broker := &mockBroker{name: "zerodha", raws: nil}
	norm := &stubNormalizer{err: fmt.Errorf("normalizer must not be called")}
	f := newServiceFixture(t, norm, broker)

	result := f.svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	assert.True(t, result.Success)
	assert.Equal(t, "no new trades found", result.Message)
	assert.Equal(t, 0, result.TradesCount)
	assert.Empty(t, result.Trades)
}

func TestSyncTrades_InvalidRecordSkipped(t *testing.T) {
	bad := testTrade("t-bad")
	bad.Quantity = 0
	broker := &mockBroker{name: "zerodha", raws: []domain.RawTrade{[]byte(`{}`)}}
	norm := &stubNormalizer{trades: []*domain.Trade{testTrade("t-1"), bad, testTrade("t-3")}}
	f := newServiceFixture(t, norm, broker)

	result := f.svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TradesCount)
	assert.Len(t, f.store.trades, 2)
	assert.NotContains(t, f.store.trades, "t-bad")
}

func TestSyncTrades_RerunIsIdempotent(t *testing.T) {
	broker := &mockBroker{name: "zerodha", raws: []domain.RawTrade{[]byte(`{}`)}}
	norm := &stubNormalizer{trades: []*domain.Trade{testTrade("t-1"), testTrade("t-2")}}
	f := newServiceFixture(t, norm, broker)

	first := f.svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	require.True(t, first.Success)
	assert.Equal(t, 2, first.TradesCount)

	second := f.svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	require.True(t, second.Success)
	assert.Equal(t, 0, second.TradesCount)
	assert.Empty(t, second.Trades)
	assert.Len(t, f.store.trades, 2)
}

func TestSyncTrades_StoreErrorSkipsRecord(t *testing.T) {
	broker := &mockBroker{name: "zerodha", raws: []domain.RawTrade{[]byte(`{}`)}}
	norm := &stubNormalizer{trades: []*domain.Trade{testTrade("t-1")}}
	f := newServiceFixture(t, norm, broker)
	f.store.insertErr = fmt.Errorf("disk full: %w", ports.ErrQueryFailed)

	result := f.svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	// the attempt completes; the failed record is just not counted
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.TradesCount)
}

func TestSyncTrades_NormalizeFailure(t *testing.T) {
	broker := &mockBroker{name: "zerodha", raws: []domain.RawTrade{[]byte(`{}`)}}
	norm := &stubNormalizer{err: fmt.Errorf("no mapper: %w", ports.ErrUnsupportedBroker)}
	f := newServiceFixture(t, norm, broker)

	result := f.svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "failed to normalize")
}

// End-to-end through the real normalizer: raw Kite records in, canonical
// trades out, dedup on re-run.
func TestSyncTrades_WithRealNormalizer(t *testing.T) {
	raw := domain.RawTrade(`{
		"trade_id": "12345678",
		"tradingsymbol": "RELIANCE",
		"exchange": "NSE",
		"transaction_type": "BUY",
		"product": "CNC",
		"quantity": 10,
		"average_price": 2456.75,
		"order_type": "MARKET",
		"trade_time": "2024-01-15 10:30:00"
	}`)
	broker := &mockBroker{name: "zerodha", raws: []domain.RawTrade{raw}}

	norm, err := normalizer.New(&mockLogger{})
	require.NoError(t, err)

	store := newMockStore()
	tokens := &mockTokenSource{token: "access-token"}
	svc, err := NewService(Config{
		Store:        store,
		Tokens:       tokens,
		Normalizer:   norm,
		Logger:       &mockLogger{},
		FetchTimeout: 30 * time.Second,
		SyncDeadline: 120 * time.Second,
	})
	require.NoError(t, err)
	svc.RegisterAdapter(broker)

	result := svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	require.True(t, result.Success)
	require.Equal(t, 1, result.TradesCount)
	assert.Equal(t, "12345678", result.Trades[0].BrokerTradeID)
	assert.Equal(t, 24567.5, result.Trades[0].TotalValue)

	again := svc.SyncTrades(context.Background(), "user-1", "zerodha", ports.FetchOptions{})
	require.True(t, again.Success)
	assert.Equal(t, 0, again.TradesCount)
}

func TestGetUserTrades_DefaultLimit(t *testing.T) {
	broker := &mockBroker{name: "zerodha"}
	f := newServiceFixture(t, &stubNormalizer{}, broker)

	_, err := f.svc.GetUserTrades(context.Background(), "user-1", domain.TradeFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultQueryLimit, f.store.lastFilter.Limit)
}

func TestGetUserTrades_RequiresUserID(t *testing.T) {
	broker := &mockBroker{name: "zerodha"}
	f := newServiceFixture(t, &stubNormalizer{}, broker)

	_, err := f.svc.GetUserTrades(context.Background(), "", domain.TradeFilter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrValidation)
}

func TestBrokers_SortedNames(t *testing.T) {
	f := newServiceFixture(t, &stubNormalizer{}, &mockBroker{name: "zerodha"})
	f.svc.RegisterAdapter(&mockBroker{name: "alpaca"})
	f.svc.RegisterAdapter(&mockBroker{name: "binance"})

	assert.Equal(t, []string{"alpaca", "binance", "zerodha"}, f.svc.Brokers())
}
