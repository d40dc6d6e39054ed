package domain

import (
	"strings"
	"time"
)

// User is the aggregate owning broker connections. Connection credentials
// mutate only through the token manager; LastSyncedAt mutates only through
// the sync orchestrator's post-sync step.
type User struct {
	UserID      string
	Name        string
	Email       string
	Connections []*BrokerConnection
}

// BrokerConnection holds the credentials linking a user to one broker.
// At most one active connection exists per (user, broker) pair.
type BrokerConnection struct {
	BrokerName   string    // Lowercase broker identifier (e.g. "zerodha")
	AccessToken  string    // Current access token
	RefreshToken string    // Token used to obtain a new access token; may be empty
	TokenExpiry  time.Time // When AccessToken stops being valid
	IsActive     bool      // Inactive connections are ignored by sync
	LastSyncedAt time.Time // Zero until the first successful sync
	ConnectedAt  time.Time // When the connection was first established
}

// Connection returns the active connection for the given broker name
// (case-insensitive), or nil if none exists.
func (u *User) Connection(brokerName string) *BrokerConnection {
	for _, conn := range u.Connections {
		if strings.EqualFold(conn.BrokerName, brokerName) && conn.IsActive {
			return conn
		}
	}
	return nil
}
