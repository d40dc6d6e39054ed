// Package token resolves valid access tokens for (user, broker) pairs,
// refreshing through the broker adapter when a token is near expiry.
package token

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"brokerSync/internal/ports"
)

// RefreshBuffer is the margin before actual expiry at which a token is
// proactively refreshed, so a token cannot expire mid-request.
const RefreshBuffer = 5 * time.Minute

// Manager implements the access-token lifecycle for broker connections.
// The read-check-refresh-write sequence is serialized per (user, broker)
// key; two concurrent syncs for the same pair cannot race on a refresh.
type Manager struct {
	users  ports.UserStore
	logger ports.Logger

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// NewManager creates a token manager backed by the given user store.
func NewManager(users ports.UserStore, logger ports.Logger) (*Manager, error) {
	if users == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for token manager")
	}
	return &Manager{
		users:    users,
		logger:   logger,
		keyLocks: make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the mutex guarding one (user, broker) pair, creating it on
// first use.
func (m *Manager) keyLock(userID, brokerName string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + strings.ToLower(brokerName)
	lock, ok := m.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.keyLocks[key] = lock
	}
	return lock
}

// GetValidToken returns an access token that is currently valid for the
// user's connection to the named broker. A token within RefreshBuffer of its
// expiry is refreshed through the adapter and the updated credential is
// persisted before the new token is returned. Missing user or connection
// wraps ports.ErrNotFound; a failed or impossible refresh is fatal to the
// calling sync attempt.
func (m *Manager) GetValidToken(ctx context.Context, userID, brokerName string, adapter ports.BrokerAdapter) (string, error) {
	lock := m.keyLock(userID, brokerName)
	lock.Lock()
	defer lock.Unlock()

	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil {
		return "", fmt.Errorf("user %s: %w", userID, ports.ErrNotFound)
	}

	conn := user.Connection(brokerName)
	if conn == nil {
		return "", fmt.Errorf("no active %s connection for user %s: %w", brokerName, userID, ports.ErrNotFound)
	}

	if !expiredAt(conn.TokenExpiry, time.Now()) {
		m.logger.Debug(ctx, "Using stored access token", map[string]interface{}{"userID": userID, "broker": brokerName})
		return conn.AccessToken, nil
	}

	if conn.RefreshToken == "" {
		return "", fmt.Errorf("connection %s/%s: %w", userID, brokerName, ports.ErrNoRefreshToken)
	}

	m.logger.Info(ctx, "Access token near expiry, refreshing", map[string]interface{}{
		"userID": userID,
		"broker": brokerName,
		"expiry": conn.TokenExpiry,
	})

	tokens, err := adapter.RefreshAccessToken(ctx, conn.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing token for %s/%s: %w", userID, brokerName, err)
	}

	conn.AccessToken = tokens.AccessToken
	conn.TokenExpiry = tokens.TokenExpiry
	if tokens.RefreshToken != "" {
		conn.RefreshToken = tokens.RefreshToken
	}

	if err := m.users.Save(ctx, user); err != nil {
		return "", fmt.Errorf("persisting refreshed token for %s/%s: %w", userID, brokerName, err)
	}

	m.logger.Info(ctx, "Access token refreshed", map[string]interface{}{"userID": userID, "broker": brokerName})
	return conn.AccessToken, nil
}

// UpdateLastSync stamps the connection's LastSyncedAt with the current time.
// Best-effort: a missing user or connection is a no-op, not an error.
func (m *Manager) UpdateLastSync(ctx context.Context, userID, brokerName string) error {
	lock := m.keyLock(userID, brokerName)
	lock.Lock()
	defer lock.Unlock()

	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil {
		return nil
	}
	conn := user.Connection(brokerName)
	if conn == nil {
		return nil
	}

	conn.LastSyncedAt = time.Now().UTC()
	if err := m.users.Save(ctx, user); err != nil {
		return fmt.Errorf("persisting last sync for %s/%s: %w", userID, brokerName, err)
	}
	return nil
}

// expiredAt reports whether a token with the given expiry needs a refresh at
// the given instant: at >= expiry - RefreshBuffer.
func expiredAt(expiry, at time.Time) bool {
	return !at.Before(expiry.Add(-RefreshBuffer))
}
