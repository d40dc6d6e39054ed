package zerodha

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"
)

// fixtureTrade mirrors the Kite /trades wire schema, so fixture data is
// indistinguishable in shape from live responses.
type fixtureTrade struct {
	TradeID           string  `json:"trade_id"`
	OrderID           string  `json:"order_id"`
	ExchangeOrderID   string  `json:"exchange_order_id"`
	TradingSymbol     string  `json:"tradingsymbol"`
	Exchange          string  `json:"exchange"`
	InstrumentToken   int64   `json:"instrument_token"`
	TransactionType   string  `json:"transaction_type"`
	Product           string  `json:"product"`
	Quantity          float64 `json:"quantity"`
	AveragePrice      float64 `json:"average_price"`
	TradeTime         string  `json:"trade_time"`
	ExchangeTimestamp string  `json:"exchange_timestamp"`
	OrderType         string  `json:"order_type"`
}

// fixtureTransport returns a deterministic trade set without touching the
// network. Timestamps are relative to the current time so the data always
// looks recent.
type fixtureTransport struct{}

func newFixtureTransport() *fixtureTransport { return &fixtureTransport{} }

func (t *fixtureTransport) Trades(_ context.Context, _ string) ([]domain.RawTrade, error) {
	now := time.Now()
	stamp := func(age time.Duration) string {
		return now.Add(-age).UTC().Format(time.RFC3339)
	}

	trades := []fixtureTrade{
		{
			TradeID:           "12345678",
			OrderID:           "221025000012345",
			ExchangeOrderID:   "1234567890123456",
			TradingSymbol:     "RELIANCE",
			Exchange:          "NSE",
			InstrumentToken:   738561,
			TransactionType:   "BUY",
			Product:           "CNC",
			Quantity:          10,
			AveragePrice:      2456.75,
			TradeTime:         stamp(2 * time.Hour),
			ExchangeTimestamp: stamp(2 * time.Hour),
			OrderType:         "MARKET",
		},
		{
			TradeID:           "12345679",
			OrderID:           "221025000012346",
			ExchangeOrderID:   "1234567890123457",
			TradingSymbol:     "TCS",
			Exchange:          "NSE",
			InstrumentToken:   2953217,
			TransactionType:   "SELL",
			Product:           "CNC",
			Quantity:          5,
			AveragePrice:      3289.50,
			TradeTime:         stamp(time.Hour),
			ExchangeTimestamp: stamp(time.Hour),
			OrderType:         "LIMIT",
		},
		{
			TradeID:           "12345680",
			OrderID:           "221025000012347",
			ExchangeOrderID:   "1234567890123458",
			TradingSymbol:     "INFY",
			Exchange:          "NSE",
			InstrumentToken:   408065,
			TransactionType:   "BUY",
			Product:           "MIS",
			Quantity:          20,
			AveragePrice:      1456.25,
			TradeTime:         stamp(30 * time.Minute),
			ExchangeTimestamp: stamp(30 * time.Minute),
			OrderType:         "MARKET",
		},
	}

	raws := make([]domain.RawTrade, 0, len(trades))
	for _, trade := range trades {
		raw, err := json.Marshal(trade)
		if err != nil {
			return nil, fmt.Errorf("encoding fixture trade %s: %w", trade.TradeID, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func (t *fixtureTransport) RenewToken(_ context.Context, _ string) (*ports.TokenSet, error) {
	now := time.Now()
	return &ports.TokenSet{
		AccessToken:  fmt.Sprintf("fixture_access_token_%d", now.UnixMilli()),
		RefreshToken: fmt.Sprintf("fixture_refresh_token_%d", now.UnixMilli()),
		TokenExpiry:  now.Add(tokenLifetime),
	}, nil
}

func (t *fixtureTransport) CheckToken(_ context.Context, _ string) error { return nil }
