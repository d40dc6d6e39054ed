package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"brokerSync/internal/domain"

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

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "broker-sync-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func sampleTrade(userID, brokerTradeID string) *domain.Trade {
	return &domain.Trade{
		UserID:        userID,
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
		TradeTime:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		TotalValue:    24567.5,
		RawData:       domain.RawTrade(`{"trade_id":"` + brokerTradeID + `"}`),
		SyncedAt:      time.Now().UTC(),
	}
}

func TestInsertIfAbsent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	inserted, record, err := repo.InsertIfAbsent(ctx, sampleTrade("user-1", "t-1"))
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NotNil(t, record)
	assert.NotZero(t, record.ID)

	// same broker trade id again is a no-op returning the stored row
	dup := sampleTrade("user-1", "t-1")
	dup.Price = 9999.0 // different payload must not overwrite the original
	inserted, existing, err := repo.InsertIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NotNil(t, existing)
	assert.Equal(t, record.ID, existing.ID)
	assert.Equal(t, 2456.75, existing.Price)

	count, err := repo.CountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsertIfAbsent_DistinctIDs(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"t-1", "t-2", "t-3"} {
		inserted, _, err := repo.InsertIfAbsent(ctx, sampleTrade("user-1", id))
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	count, err := repo.CountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestQuery(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	reliance := sampleTrade("user-1", "z-1")
	reliance.TradeTime = base

	tcs := sampleTrade("user-1", "z-2")
	tcs.Symbol = "TCS"
	tcs.TradeTime = base.Add(time.Hour)

	aapl := sampleTrade("user-1", "a-1")
	aapl.BrokerName = "alpaca"
	aapl.Symbol = "AAPL"
	aapl.Exchange = "NASDAQ"
	aapl.TradeTime = base.Add(2 * time.Hour)

	other := sampleTrade("user-2", "z-9")
	other.TradeTime = base

	for _, trade := range []*domain.Trade{reliance, tcs, aapl, other} {
		_, _, err := repo.InsertIfAbsent(ctx, trade)
		require.NoError(t, err)
	}

	t.Run("all trades for user, newest first", func(t *testing.T) {
		trades, err := repo.Query(ctx, "user-1", domain.TradeFilter{})
		require.NoError(t, err)
		require.Len(t, trades, 3)
		assert.Equal(t, "a-1", trades[0].BrokerTradeID)
		assert.Equal(t, "z-2", trades[1].BrokerTradeID)
		assert.Equal(t, "z-1", trades[2].BrokerTradeID)
	})

	t.Run("filter by broker", func(t *testing.T) {
		trades, err := repo.Query(ctx, "user-1", domain.TradeFilter{BrokerName: "alpaca"})
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, "AAPL", trades[0].Symbol)
	})

	t.Run("filter by symbol substring, case-insensitive", func(t *testing.T) {
		trades, err := repo.Query(ctx, "user-1", domain.TradeFilter{Symbol: "relia"})
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, "RELIANCE", trades[0].Symbol)
	})

	t.Run("filter by date range", func(t *testing.T) {
		trades, err := repo.Query(ctx, "user-1", domain.TradeFilter{
			StartDate: base.Add(30 * time.Minute),
			EndDate:   base.Add(90 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, "z-2", trades[0].BrokerTradeID)
	})

	t.Run("limit applies after ordering", func(t *testing.T) {
		trades, err := repo.Query(ctx, "user-1", domain.TradeFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, trades, 2)
		assert.Equal(t, "a-1", trades[0].BrokerTradeID)
	})

	t.Run("unknown user yields empty slice", func(t *testing.T) {
		trades, err := repo.Query(ctx, "ghost", domain.TradeFilter{})
		require.NoError(t, err)
		assert.Empty(t, trades)
	})
}

func TestQuery_MixedTimezoneOrdering(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	ist := time.FixedZone("IST", 5*3600+1800)

	// 10:30 IST is 05:00 UTC; the 06:00 UTC trade is an hour later even
	// though its local clock reads earlier.
	earlier := sampleTrade("user-1", "ist-1")
	earlier.TradeTime = time.Date(2024, 1, 15, 10, 30, 0, 0, ist)

	later := sampleTrade("user-1", "utc-1")
	later.BrokerName = "binance"
	later.Symbol = "BTCUSDT"
	later.TradeTime = time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)

	for _, trade := range []*domain.Trade{earlier, later} {
		_, _, err := repo.InsertIfAbsent(ctx, trade)
		require.NoError(t, err)
	}

	trades, err := repo.Query(ctx, "user-1", domain.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "utc-1", trades[0].BrokerTradeID)
	assert.Equal(t, "ist-1", trades[1].BrokerTradeID)

	// date bounds compare in instant order, not local-clock order
	trades, err = repo.Query(ctx, "user-1", domain.TradeFilter{
		StartDate: time.Date(2024, 1, 15, 5, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "utc-1", trades[0].BrokerTradeID)
}

func TestQuery_RoundTripsFields(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	original := sampleTrade("user-1", "t-1")
	_, _, err := repo.InsertIfAbsent(ctx, original)
	require.NoError(t, err)

	trades, err := repo.Query(ctx, "user-1", domain.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	got := trades[0]
	assert.Equal(t, original.BrokerName, got.BrokerName)
	assert.Equal(t, original.Symbol, got.Symbol)
	assert.Equal(t, original.Exchange, got.Exchange)
	assert.Equal(t, original.TradeType, got.TradeType)
	assert.Equal(t, original.Quantity, got.Quantity)
	assert.Equal(t, original.Price, got.Price)
	assert.Equal(t, original.OrderType, got.OrderType)
	assert.Equal(t, original.Product, got.Product)
	assert.Equal(t, original.Status, got.Status)
	assert.Equal(t, original.TotalValue, got.TotalValue)
	assert.True(t, got.TradeTime.Equal(original.TradeTime))
	assert.JSONEq(t, string(original.RawData), string(got.RawData))
}

func TestSaveAndFindByID(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	expiry := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	user := &domain.User{
		UserID: "user-1",
		Name:   "Test User",
		Email:  "test@example.com",
		Connections: []*domain.BrokerConnection{
			{
				BrokerName:   "zerodha",
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				TokenExpiry:  expiry,
				IsActive:     true,
			},
		},
	}

	require.NoError(t, repo.Save(ctx, user))
	assert.False(t, user.Connections[0].ConnectedAt.IsZero())

	got, err := repo.FindByID(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Test User", got.Name)
	assert.Equal(t, "test@example.com", got.Email)
	require.Len(t, got.Connections, 1)

	conn := got.Connections[0]
	assert.Equal(t, "zerodha", conn.BrokerName)
	assert.Equal(t, "access-1", conn.AccessToken)
	assert.Equal(t, "refresh-1", conn.RefreshToken)
	assert.True(t, conn.TokenExpiry.Equal(expiry))
	assert.True(t, conn.IsActive)
	assert.True(t, conn.LastSyncedAt.IsZero())
}

func TestSave_UpsertsConnection(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := &domain.User{
		UserID: "user-1",
		Name:   "Test User",
		Email:  "test@example.com",
		Connections: []*domain.BrokerConnection{
			{
				BrokerName:  "zerodha",
				AccessToken: "old-token",
				TokenExpiry: time.Now().Add(time.Hour),
				IsActive:    true,
			},
		},
	}
	require.NoError(t, repo.Save(ctx, user))

	// update the same connection; no second row may appear
	user.Connections[0].AccessToken = "new-token"
	user.Connections[0].LastSyncedAt = time.Now().UTC()
	require.NoError(t, repo.Save(ctx, user))

	got, err := repo.FindByID(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Connections, 1)
	assert.Equal(t, "new-token", got.Connections[0].AccessToken)
	assert.False(t, got.Connections[0].LastSyncedAt.IsZero())
}

func TestFindByID_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	got, err := repo.FindByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}
