package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"
)

// fixtureFill mirrors the Alpaca account-activity wire schema for FILL
// records. Price and qty are quoted strings on the wire.
type fixtureFill struct {
	ID              string `json:"id"`
	ActivityType    string `json:"activity_type"`
	TransactionTime string `json:"transaction_time"`
	Type            string `json:"type"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Side            string `json:"side"`
	Symbol          string `json:"symbol"`
	OrderID         string `json:"order_id"`
}

type fixtureTransport struct{}

func newFixtureTransport() *fixtureTransport { return &fixtureTransport{} }

func (t *fixtureTransport) Fills(_ context.Context, _ string, _ int) ([]domain.RawTrade, error) {
	now := time.Now()
	stamp := func(age time.Duration) string {
		return now.Add(-age).UTC().Format(time.RFC3339)
	}

	fills := []fixtureFill{
		{
			ID:              "20221025123456789::abc123",
			ActivityType:    "FILL",
			TransactionTime: stamp(2 * time.Hour),
			Type:            "fill",
			Price:           "152.75",
			Qty:             "10",
			Side:            "buy",
			Symbol:          "AAPL",
			OrderID:         "61e69015-8549-4bfd-b9c3-01e75843f47d",
		},
		{
			ID:              "20221025123456790::def456",
			ActivityType:    "FILL",
			TransactionTime: stamp(time.Hour),
			Type:            "fill",
			Price:           "395.50",
			Qty:             "5",
			Side:            "sell",
			Symbol:          "TSLA",
			OrderID:         "71e69015-8549-4bfd-b9c3-01e75843f47e",
		},
		{
			ID:              "20221025123456791::ghi789",
			ActivityType:    "FILL",
			TransactionTime: stamp(30 * time.Minute),
			Type:            "fill",
			Price:           "3250.25",
			Qty:             "2",
			Side:            "buy",
			Symbol:          "AMZN",
			OrderID:         "81e69015-8549-4bfd-b9c3-01e75843f47f",
		},
	}

	raws := make([]domain.RawTrade, 0, len(fills))
	for _, fill := range fills {
		raw, err := json.Marshal(fill)
		if err != nil {
			return nil, fmt.Errorf("encoding fixture fill %s: %w", fill.ID, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func (t *fixtureTransport) RenewToken(_ context.Context, _ string) (*ports.TokenSet, error) {
	now := time.Now()
	return &ports.TokenSet{
		AccessToken:  fmt.Sprintf("fixture_alpaca_key_%d", now.UnixMilli()),
		RefreshToken: fmt.Sprintf("fixture_alpaca_secret_%d", now.UnixMilli()),
		TokenExpiry:  now.Add(keyLifetime),
	}, nil
}

func (t *fixtureTransport) CheckToken(_ context.Context, _ string) error { return nil }
