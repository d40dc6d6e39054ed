package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"
)

// fixtureTrade mirrors the Binance myTrades wire schema. Price and qty are
// quoted strings, time is epoch milliseconds.
type fixtureTrade struct {
	ID              int64  `json:"id"`
	Symbol          string `json:"symbol"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Quantity        string `json:"qty"`
	QuoteQuantity   string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
	IsBestMatch     bool   `json:"isBestMatch"`
}

type fixtureTransport struct{}

func newFixtureTransport() *fixtureTransport { return &fixtureTransport{} }

func (t *fixtureTransport) Trades(_ context.Context, symbol string, _ int) ([]domain.RawTrade, error) {
	now := time.Now()
	trades := []fixtureTrade{
		{
			ID:              28457001,
			Symbol:          "BTCUSDT",
			OrderID:         100234001,
			Price:           "43250.50",
			Quantity:        "0.25",
			QuoteQuantity:   "10812.625",
			Commission:      "0.00025",
			CommissionAsset: "BTC",
			Time:            now.Add(-2 * time.Hour).UnixMilli(),
			IsBuyer:         true,
			IsMaker:         false,
			IsBestMatch:     true,
		},
		{
			ID:              28457002,
			Symbol:          "ETHUSDT",
			OrderID:         100234002,
			Price:           "2280.75",
			Quantity:        "1.5",
			QuoteQuantity:   "3421.125",
			Commission:      "3.421125",
			CommissionAsset: "USDT",
			Time:            now.Add(-45 * time.Minute).UnixMilli(),
			IsBuyer:         false,
			IsMaker:         true,
			IsBestMatch:     true,
		},
	}

	raws := make([]domain.RawTrade, 0, len(trades))
	for _, trade := range trades {
		// The fixture set is fixed; honor a per-symbol request when made.
		if symbol != "" && trade.Symbol != symbol {
			continue
		}
		raw, err := json.Marshal(trade)
		if err != nil {
			return nil, fmt.Errorf("encoding fixture trade %d: %w", trade.ID, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func (t *fixtureTransport) RenewToken(_ context.Context, _ string) (*ports.TokenSet, error) {
	now := time.Now()
	return &ports.TokenSet{
		AccessToken:  fmt.Sprintf("fixture_binance_key_%d", now.UnixMilli()),
		RefreshToken: fmt.Sprintf("fixture_binance_secret_%d", now.UnixMilli()),
		TokenExpiry:  now.Add(keyLifetime),
	}, nil
}

func (t *fixtureTransport) CheckToken(_ context.Context, _ string) error { return nil }
