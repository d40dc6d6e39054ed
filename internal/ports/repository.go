package ports

import (
	"context"

	"brokerSync/internal/domain"
)

// TradeStore defines the interface for persisting and querying canonical
// trade records. The store is the authoritative duplicate-suppression
// mechanism: BrokerTradeID is globally unique across all persisted trades.
type TradeStore interface {
	// InsertIfAbsent persists the trade unless a record with the same
	// BrokerTradeID already exists. It returns the persisted (or existing)
	// record and whether an insert actually happened. A duplicate is not an
	// error; repeated syncs over overlapping windows converge to the same
	// stored set.
	InsertIfAbsent(ctx context.Context, trade *domain.Trade) (inserted bool, record *domain.Trade, err error)

	// Query retrieves a user's trades matching the filter, ordered by
	// TradeTime descending.
	Query(ctx context.Context, userID string, filter domain.TradeFilter) ([]*domain.Trade, error)

	// CountByUser returns the total number of stored trades for a user.
	CountByUser(ctx context.Context, userID string) (int, error)
}

// UserStore defines the interface for the user aggregate and its broker
// connections.
type UserStore interface {
	// FindByID retrieves a user with all broker connections.
	// Returns nil, nil if no such user exists.
	FindByID(ctx context.Context, userID string) (*domain.User, error)

	// Save upserts the user and all its broker connections.
	Save(ctx context.Context, user *domain.User) error
}
