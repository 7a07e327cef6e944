package domain

import (
	"context"
	"time"
)

type ConnectionStatus string

const (
	ConnectionStatusPending ConnectionStatus = "pending"
	ConnectionStatusActive  ConnectionStatus = "active"
	ConnectionStatusExpired ConnectionStatus = "expired"
	ConnectionStatusRevoked ConnectionStatus = "revoked"
	ConnectionStatusError   ConnectionStatus = "error"
)

// UserConnection is one user's instantiation of a Connector. Token secrets are
// AES-GCM ciphertexts, never plaintext. At most one connection exists per
// (user, connector) pair; the store's upsert enforces this.
type UserConnection struct {
	ID                    string
	UserID                string
	ConnectorID           string
	Status                ConnectionStatus
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	APIKeyHash            string // SHA-256 hex of a registered API key, empty for OAuth connections
	ExpiresAt             *time.Time
	Scopes                []string
	LastUsedAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Expired reports whether the connection's access token is past its expiry.
// Connections without an expiry never expire until a refresh attempt fails.
func (c UserConnection) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (UserConnection, error)
	GetConnectionByUserAndConnector(ctx context.Context, userID, connectorID string) (UserConnection, error)
	// UpsertConnection inserts the connection, or updates the existing row for
	// the same (user, connector) pair in place preserving its id. It returns
	// the stored connection.
	UpsertConnection(ctx context.Context, connection UserConnection) (UserConnection, error)
	UpdateConnection(ctx context.Context, connection UserConnection) error
	// ListExpiringConnections returns active connections holding a refresh
	// secret whose expiry falls before the given deadline.
	ListExpiringConnections(ctx context.Context, deadline time.Time) ([]UserConnection, error)
	// ListRefreshableConnections returns all active connections holding a
	// refresh secret regardless of expiry.
	ListRefreshableConnections(ctx context.Context) ([]UserConnection, error)
}
