package domain

import (
	"encoding/json"
	"time"
)

// RawTrade is a single trade record exactly as the broker's API returned it.
// The per-broker JSON schema is an external contract; normalization is the
// only code that looks inside.
type RawTrade = json.RawMessage

// Trade is the canonical, broker-agnostic trade record persisted by the
// trade store. Records are append-only: once persisted they are never
// updated or deleted.
type Trade struct {
	ID            int64       // Unique identifier assigned by the store
	UserID        string      // Owner of the trade
	BrokerName    string      // Broker the trade was synced from (e.g. "zerodha")
	BrokerTradeID string      // Broker-assigned trade ID; the sole deduplication key
	Symbol        string      // Trading symbol (e.g. "RELIANCE")
	Exchange      string      // Exchange the trade executed on (e.g. "NSE")
	TradeType     TradeType   // BUY or SELL
	Quantity      float64     // Traded quantity, always > 0
	Price         float64     // Average execution price, always > 0
	OrderType     OrderType   // Order type that produced the trade
	Product       ProductType // Product/segment classification
	Status        TradeStatus // Execution status
	TradeTime     time.Time   // When the trade executed at the broker
	TotalValue    float64     // Quantity * Price
	RawData       RawTrade    // Original broker payload, retained verbatim for audit
	SyncedAt      time.Time   // When this record was normalized
}

// TradeType represents the direction of a trade.
type TradeType string

const (
	TradeTypeBuy  TradeType = "BUY"
	TradeTypeSell TradeType = "SELL"
)

// OrderType represents the canonical order type of a trade.
type OrderType string

const (
	OrderTypeMarket         OrderType = "MARKET"
	OrderTypeLimit          OrderType = "LIMIT"
	OrderTypeStopLoss       OrderType = "STOP_LOSS"
	OrderTypeStopLossMarket OrderType = "STOP_LOSS_MARKET"
)

// ProductType represents the canonical product/segment of a trade.
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductDelivery ProductType = "DELIVERY"
	ProductMargin   ProductType = "MARGIN"
)

// TradeStatus represents the execution status of a trade.
type TradeStatus string

const (
	StatusComplete  TradeStatus = "COMPLETE"
	StatusRejected  TradeStatus = "REJECTED"
	StatusCancelled TradeStatus = "CANCELLED"
	StatusPending   TradeStatus = "PENDING"
)

// TradeFilter narrows a trade query. Zero values mean "no constraint".
type TradeFilter struct {
	BrokerName string    // Exact match on broker name
	Symbol     string    // Case-insensitive substring match on symbol
	StartDate  time.Time // Inclusive lower bound on TradeTime
	EndDate    time.Time // Inclusive upper bound on TradeTime
	Limit      int       // Max results; defaults to DefaultQueryLimit when <= 0
}

// DefaultQueryLimit is applied when TradeFilter.Limit is not positive.
const DefaultQueryLimit = 100
