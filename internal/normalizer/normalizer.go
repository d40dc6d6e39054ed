// Package normalizer converts broker-native trade records into the canonical
// domain.Trade. One pure mapping function per broker, selected from a
// registry by name; shared code never branches on the broker.
package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"

	"github.com/shopspring/decimal"
)

// MapperFunc maps one raw broker record to a canonical trade.
type MapperFunc func(raw domain.RawTrade, userID string) (*domain.Trade, error)

// Normalizer holds the per-broker mapping registry.
type Normalizer struct {
	mappers map[string]MapperFunc
	logger  ports.Logger
}

// New creates a Normalizer with the built-in broker mappings registered.
func New(logger ports.Logger) (*Normalizer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for normalizer")
	}
	return &Normalizer{
		mappers: map[string]MapperFunc{
			"zerodha": mapZerodhaTrade,
			"alpaca":  mapAlpacaTrade,
			"binance": mapBinanceTrade,
		},
		logger: logger,
	}, nil
}

// Register adds or replaces the mapping function for a broker name.
func (n *Normalizer) Register(brokerName string, mapper MapperFunc) {
	n.mappers[strings.ToLower(brokerName)] = mapper
}

// NormalizeTrades maps each raw record independently. A record that fails to
// map is logged and dropped; one bad record never aborts the batch. The only
// batch-level failure is an unregistered broker name.
func (n *Normalizer) NormalizeTrades(ctx context.Context, raws []domain.RawTrade, brokerName, userID string) ([]*domain.Trade, error) {
	mapper, ok := n.mappers[strings.ToLower(brokerName)]
	if !ok {
		return nil, fmt.Errorf("no normalizer registered for broker %q: %w", brokerName, ports.ErrUnsupportedBroker)
	}

	normalized := make([]*domain.Trade, 0, len(raws))
	for _, raw := range raws {
		trade, err := mapper(raw, userID)
		if err != nil {
			n.logger.Warn(ctx, "Dropping unmappable trade record", map[string]interface{}{
				"broker": brokerName,
				"err":    err.Error(),
			})
			continue
		}
		trade.BrokerName = strings.ToLower(brokerName)
		normalized = append(normalized, trade)
	}
	return normalized, nil
}

// ValidateTrade enforces the canonical-record invariants: required fields
// present and non-zero, trade type in {BUY, SELL}, quantity and price
// positive. The returned error names the failing condition and wraps
// ports.ErrValidation.
func ValidateTrade(trade *domain.Trade) error {
	required := []struct {
		name  string
		empty bool
	}{
		{"userId", trade.UserID == ""},
		{"brokerName", trade.BrokerName == ""},
		{"brokerTradeId", trade.BrokerTradeID == ""},
		{"symbol", trade.Symbol == ""},
		{"exchange", trade.Exchange == ""},
		{"tradeType", trade.TradeType == ""},
		{"quantity", trade.Quantity == 0},
		{"price", trade.Price == 0},
		{"tradeTime", trade.TradeTime.IsZero()},
		{"totalValue", trade.TotalValue == 0},
	}
	for _, field := range required {
		if field.empty {
			return fmt.Errorf("missing required field %s: %w", field.name, ports.ErrValidation)
		}
	}

	if trade.TradeType != domain.TradeTypeBuy && trade.TradeType != domain.TradeTypeSell {
		return fmt.Errorf("invalid trade type %q: %w", trade.TradeType, ports.ErrValidation)
	}
	if trade.Quantity <= 0 || trade.Price <= 0 {
		return fmt.Errorf("quantity and price must be positive: %w", ports.ErrValidation)
	}
	return nil
}

// --- Zerodha ---

// zerodhaProductMap translates Kite product codes to canonical products.
var zerodhaProductMap = map[string]domain.ProductType{
	"CNC":  domain.ProductDelivery,
	"MIS":  domain.ProductIntraday,
	"NRML": domain.ProductMargin,
}

// zerodhaOrderTypeMap translates Kite order types to canonical order types.
var zerodhaOrderTypeMap = map[string]domain.OrderType{
	"MARKET": domain.OrderTypeMarket,
	"LIMIT":  domain.OrderTypeLimit,
	"SL":     domain.OrderTypeStopLoss,
	"SL-M":   domain.OrderTypeStopLossMarket,
}

// zerodhaTrade is the subset of the Kite /trades schema the mapping reads.
type zerodhaTrade struct {
	TradeID           string  `json:"trade_id"`
	TradingSymbol     string  `json:"tradingsymbol"`
	Exchange          string  `json:"exchange"`
	TransactionType   string  `json:"transaction_type"`
	Quantity          float64 `json:"quantity"`
	AveragePrice      float64 `json:"average_price"`
	OrderType         string  `json:"order_type"`
	Product           string  `json:"product"`
	TradeTime         string  `json:"trade_time"`
	ExchangeTimestamp string  `json:"exchange_timestamp"`
}

func mapZerodhaTrade(raw domain.RawTrade, userID string) (*domain.Trade, error) {
	var src zerodhaTrade
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("decoding zerodha trade: %w", err)
	}

	// Exchange timestamp is the most precise source; trade_time is the
	// fallback when the exchange has not stamped the record yet.
	tradeTime, err := parseBrokerTime(src.ExchangeTimestamp, src.TradeTime)
	if err != nil {
		return nil, fmt.Errorf("zerodha trade %s: %w", src.TradeID, err)
	}

	orderType, ok := zerodhaOrderTypeMap[src.OrderType]
	if !ok {
		orderType = domain.OrderTypeMarket
	}
	product, ok := zerodhaProductMap[src.Product]
	if !ok {
		product = domain.ProductDelivery
	}

	return &domain.Trade{
		UserID:        userID,
		BrokerTradeID: src.TradeID,
		Symbol:        src.TradingSymbol,
		Exchange:      src.Exchange,
		TradeType:     domain.TradeType(src.TransactionType),
		Quantity:      src.Quantity,
		Price:         src.AveragePrice,
		OrderType:     orderType,
		Product:       product,
		Status:        domain.StatusComplete,
		TradeTime:     tradeTime,
		TotalValue:    src.Quantity * src.AveragePrice,
		RawData:       raw,
		SyncedAt:      time.Now().UTC(),
	}, nil
}

// --- Alpaca ---

// alpacaFill is the subset of the account-activity FILL schema the mapping
// reads. Qty and price arrive as quoted decimal strings.
type alpacaFill struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Qty             decimal.Decimal `json:"qty"`
	Price           decimal.Decimal `json:"price"`
	TransactionTime string          `json:"transaction_time"`
}

func mapAlpacaTrade(raw domain.RawTrade, userID string) (*domain.Trade, error) {
	var src alpacaFill
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("decoding alpaca fill: %w", err)
	}

	tradeTime, err := parseBrokerTime(src.TransactionTime)
	if err != nil {
		return nil, fmt.Errorf("alpaca fill %s: %w", src.ID, err)
	}

	quantity := src.Qty.InexactFloat64()
	price := src.Price.InexactFloat64()

	return &domain.Trade{
		UserID:        userID,
		BrokerTradeID: src.ID,
		Symbol:        src.Symbol,
		Exchange:      "NASDAQ",
		TradeType:     domain.TradeType(strings.ToUpper(src.Side)),
		Quantity:      quantity,
		Price:         price,
		OrderType:     domain.OrderTypeMarket,
		Product:       domain.ProductDelivery,
		Status:        domain.StatusComplete,
		TradeTime:     tradeTime,
		TotalValue:    quantity * price,
		RawData:       raw,
		SyncedAt:      time.Now().UTC(),
	}, nil
}

// --- Binance ---

// binanceTrade is the subset of the myTrades schema the mapping reads.
type binanceTrade struct {
	ID       int64  `json:"id"`
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Quantity string `json:"qty"`
	Time     int64  `json:"time"`
	IsBuyer  bool   `json:"isBuyer"`
}

func mapBinanceTrade(raw domain.RawTrade, userID string) (*domain.Trade, error) {
	var src binanceTrade
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("decoding binance trade: %w", err)
	}
	if src.Time == 0 {
		return nil, fmt.Errorf("binance trade %d has no timestamp", src.ID)
	}

	quantity, err := decimal.NewFromString(src.Quantity)
	if err != nil {
		return nil, fmt.Errorf("binance trade %d qty %q: %w", src.ID, src.Quantity, err)
	}
	price, err := decimal.NewFromString(src.Price)
	if err != nil {
		return nil, fmt.Errorf("binance trade %d price %q: %w", src.ID, src.Price, err)
	}

	tradeType := domain.TradeTypeSell
	if src.IsBuyer {
		tradeType = domain.TradeTypeBuy
	}

	qty := quantity.InexactFloat64()
	prc := price.InexactFloat64()

	return &domain.Trade{
		UserID: userID,
		// Binance trade ids are per-symbol sequences; the composite keeps
		// the dedup key globally unique.
		BrokerTradeID: fmt.Sprintf("%s-%d", src.Symbol, src.ID),
		Symbol:        src.Symbol,
		Exchange:      "BINANCE",
		TradeType:     tradeType,
		Quantity:      qty,
		Price:         prc,
		OrderType:     domain.OrderTypeMarket,
		Product:       domain.ProductDelivery,
		Status:        domain.StatusComplete,
		TradeTime:     time.UnixMilli(src.Time).UTC(),
		TotalValue:    qty * prc,
		RawData:       raw,
		SyncedAt:      time.Now().UTC(),
	}, nil
}

// --- Helpers ---

// brokerTimeLayouts covers the timestamp formats brokers emit: RFC3339 (with
// or without fractional seconds) and Kite's space-separated layout.
var brokerTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// parseBrokerTime returns the first parseable timestamp among the candidates,
// in priority order, converted to UTC so records from brokers in different
// timezones stay comparable. Empty candidates are skipped.
func parseBrokerTime(candidates ...string) (time.Time, error) {
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		for _, layout := range brokerTimeLayouts {
			if parsed, err := time.Parse(layout, candidate); err == nil {
				return parsed.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("no usable timestamp in %q", candidates)
}
