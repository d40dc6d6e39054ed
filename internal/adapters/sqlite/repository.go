package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"

	sqlite3 "github.com/mattn/go-sqlite3" // also registers the "sqlite3" driver
)

// Repository implements the ports.TradeStore and ports.UserStore interfaces
// using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/broker_sync.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, ports.ErrDBConnection)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// The UNIQUE constraint on broker_trade_id is the authoritative dedup guard;
// the UNIQUE (user_id, broker_name) pair backs the one-connection-per-broker
// invariant.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		broker_name TEXT NOT NULL,
		broker_trade_id TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		trade_type TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		order_type TEXT NOT NULL,
		product TEXT NOT NULL,
		status TEXT NOT NULL,
		trade_time TIMESTAMP NOT NULL,
		total_value REAL NOT NULL,
		raw_data TEXT,
		synced_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS broker_connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		broker_name TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT DEFAULT NULL,
		token_expiry TIMESTAMP NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_synced_at TIMESTAMP DEFAULT NULL,
		connected_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, broker_name)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_user_trade_time ON trades (user_id, trade_time);
	CREATE INDEX IF NOT EXISTS idx_trades_user_broker ON trades (user_id, broker_name);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeStore Implementation ---

// InsertIfAbsent persists the trade unless one with the same broker trade ID
// already exists. The UNIQUE index decides, so two concurrent inserts of the
// same ID cannot both succeed; the loser reads back the winner's row.
func (r *Repository) InsertIfAbsent(ctx context.Context, trade *domain.Trade) (bool, *domain.Trade, error) {
	const query = `
	INSERT INTO trades (user_id, broker_name, broker_trade_id, symbol, exchange, trade_type,
	                    quantity, price, order_type, product, status, trade_time, total_value,
	                    raw_data, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var rawData sql.NullString
	if len(trade.RawData) > 0 {
		rawData = sql.NullString{String: string(trade.RawData), Valid: true}
	}

	// Timestamps are stored as text; persisting UTC keeps lexicographic
	// comparison consistent across brokers in different timezones.
	result, err := r.db.ExecContext(ctx, query,
		trade.UserID, trade.BrokerName, trade.BrokerTradeID, trade.Symbol, trade.Exchange,
		trade.TradeType, trade.Quantity, trade.Price, trade.OrderType, trade.Product,
		trade.Status, trade.TradeTime.UTC(), trade.TotalValue, rawData, trade.SyncedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			existing, findErr := r.findByBrokerTradeID(ctx, trade.BrokerTradeID)
			if findErr != nil {
				return false, nil, fmt.Errorf("failed to load existing trade %s after conflict: %w", trade.BrokerTradeID, findErr)
			}
			r.logger.Debug(ctx, "Trade already exists, skipping", map[string]interface{}{"brokerTradeID": trade.BrokerTradeID})
			return false, existing, nil
		}
		return false, nil, fmt.Errorf("failed to insert trade %s: %w", trade.BrokerTradeID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, nil, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.BrokerTradeID, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade persisted", map[string]interface{}{"tradeID": id, "brokerTradeID": trade.BrokerTradeID, "symbol": trade.Symbol})
	return true, trade, nil
}

// Query retrieves a user's trades matching the filter, ordered by trade time
// descending.
func (r *Repository) Query(ctx context.Context, userID string, filter domain.TradeFilter) ([]*domain.Trade, error) {
	query := `
	SELECT id, user_id, broker_name, broker_trade_id, symbol, exchange, trade_type,
	       quantity, price, order_type, product, status, trade_time, total_value,
	       raw_data, synced_at
	FROM trades
	WHERE user_id = ?`
	args := []interface{}{userID}

	if filter.BrokerName != "" {
		query += ` AND broker_name = ?`
		args = append(args, filter.BrokerName)
	}
	if filter.Symbol != "" {
		query += ` AND LOWER(symbol) LIKE '%' || LOWER(?) || '%'`
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += ` AND trade_time >= ?`
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += ` AND trade_time <= ?`
		args = append(args, filter.EndDate.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}
	query += ` ORDER BY trade_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for user %s: %w", userID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during Query: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// CountByUser returns the total number of stored trades for a user.
func (r *Repository) CountByUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE user_id = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades for user %s: %w", userID, err)
	}
	return count, nil
}

// findByBrokerTradeID loads a single trade by its dedup key.
func (r *Repository) findByBrokerTradeID(ctx context.Context, brokerTradeID string) (*domain.Trade, error) {
	const query = `
	SELECT id, user_id, broker_name, broker_trade_id, symbol, exchange, trade_type,
	       quantity, price, order_type, product, status, trade_time, total_value,
	       raw_data, synced_at
	FROM trades
	WHERE broker_trade_id = ?`

	row := r.db.QueryRowContext(ctx, query, brokerTradeID)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return trade, nil
}

// --- UserStore Implementation ---

// FindByID retrieves a user with all broker connections.
func (r *Repository) FindByID(ctx context.Context, userID string) (*domain.User, error) {
	const userQuery = `SELECT user_id, name, email FROM users WHERE user_id = ?`

	user := &domain.User{}
	err := r.db.QueryRowContext(ctx, userQuery, userID).Scan(&user.UserID, &user.Name, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "User not found", map[string]interface{}{"userID": userID})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query user %s: %w", userID, err)
	}

	const connQuery = `
	SELECT broker_name, access_token, refresh_token, token_expiry, is_active,
	       last_synced_at, connected_at
	FROM broker_connections
	WHERE user_id = ?
	ORDER BY connected_at`

	rows, err := r.db.QueryContext(ctx, connQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections for user %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		conn := &domain.BrokerConnection{}
		var refreshToken sql.NullString
		var lastSyncedAt sql.NullTime
		if err := rows.Scan(&conn.BrokerName, &conn.AccessToken, &refreshToken,
			&conn.TokenExpiry, &conn.IsActive, &lastSyncedAt, &conn.ConnectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection during FindByID: %w", err)
		}
		if refreshToken.Valid {
			conn.RefreshToken = refreshToken.String
		}
		if lastSyncedAt.Valid {
			conn.LastSyncedAt = lastSyncedAt.Time
		}
		user.Connections = append(user.Connections, conn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection rows: %w", err)
	}
	return user, nil
}

// Save upserts the user and all its broker connections in one transaction.
func (r *Repository) Save(ctx context.Context, user *domain.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for user %s: %w", user.UserID, err)
	}
	defer tx.Rollback()

	const userQuery = `
	INSERT INTO users (user_id, name, email) VALUES (?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET name = excluded.name, email = excluded.email`

	if _, err := tx.ExecContext(ctx, userQuery, user.UserID, user.Name, user.Email); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.UserID, err)
	}

	const connQuery = `
	INSERT INTO broker_connections (user_id, broker_name, access_token, refresh_token,
	                                token_expiry, is_active, last_synced_at, connected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, broker_name) DO UPDATE SET
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		token_expiry = excluded.token_expiry,
		is_active = excluded.is_active,
		last_synced_at = excluded.last_synced_at`

	for _, conn := range user.Connections {
		var refreshToken sql.NullString
		if conn.RefreshToken != "" {
			refreshToken = sql.NullString{String: conn.RefreshToken, Valid: true}
		}
		var lastSyncedAt sql.NullTime
		if !conn.LastSyncedAt.IsZero() {
			lastSyncedAt = sql.NullTime{Time: conn.LastSyncedAt, Valid: true}
		}
		connectedAt := conn.ConnectedAt
		if connectedAt.IsZero() {
			connectedAt = time.Now().UTC()
			conn.ConnectedAt = connectedAt
		}

		if _, err := tx.ExecContext(ctx, connQuery, user.UserID, conn.BrokerName,
			conn.AccessToken, refreshToken, conn.TokenExpiry, conn.IsActive,
			lastSyncedAt, connectedAt); err != nil {
			return fmt.Errorf("failed to upsert connection %s/%s: %w", user.UserID, conn.BrokerName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save for user %s: %w", user.UserID, err)
	}
	r.logger.Debug(ctx, "User saved", map[string]interface{}{"userID": user.UserID, "connections": len(user.Connections)})
	return nil
}

// --- Helpers ---

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint error.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var tradeType, orderType, product, status string
	var rawData sql.NullString
	err := s.Scan(
		&t.ID, &t.UserID, &t.BrokerName, &t.BrokerTradeID, &t.Symbol, &t.Exchange,
		&tradeType, &t.Quantity, &t.Price, &orderType, &product, &status,
		&t.TradeTime, &t.TotalValue, &rawData, &t.SyncedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.TradeType = domain.TradeType(tradeType)
	t.OrderType = domain.OrderType(orderType)
	t.Product = domain.ProductType(product)
	t.Status = domain.TradeStatus(status)
	if rawData.Valid {
		t.RawData = domain.RawTrade(rawData.String)
	}
	return t, nil
}
