package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/toolbridge/toolbridge/internal/domain"
)

const connectionColumns = `id, user_id, connector_id, status, encrypted_access_token, encrypted_refresh_token, api_key_hash, expires_at, scopes, last_used_at, created_at, updated_at`

func (s *Store) GetConnection(ctx context.Context, id string) (domain.UserConnection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM user_connections WHERE id = $1`, id)
	return scanConnection(row)
}

func (s *Store) GetConnectionByUserAndConnector(ctx context.Context, userID, connectorID string) (domain.UserConnection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM user_connections WHERE user_id = $1 AND connector_id = $2`,
		userID, connectorID)
	return scanConnection(row)
}

// UpsertConnection relies on the (user_id, connector_id) unique constraint:
// a second authorization for the same pair updates the existing row in place,
// keeping its id stable for audit links.
func (s *Store) UpsertConnection(ctx context.Context, connection domain.UserConnection) (domain.UserConnection, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO user_connections (id, user_id, connector_id, status, encrypted_access_token, encrypted_refresh_token, api_key_hash, expires_at, scopes, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, connector_id) DO UPDATE
		SET status                  = EXCLUDED.status,
		    encrypted_access_token  = EXCLUDED.encrypted_access_token,
		    encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
		    api_key_hash            = EXCLUDED.api_key_hash,
		    expires_at              = EXCLUDED.expires_at,
		    scopes                  = EXCLUDED.scopes,
		    updated_at              = EXCLUDED.updated_at
		RETURNING `+connectionColumns,
		connection.ID, connection.UserID, connection.ConnectorID, string(connection.Status),
		connection.EncryptedAccessToken, connection.EncryptedRefreshToken, connection.APIKeyHash,
		connection.ExpiresAt, connection.Scopes, connection.LastUsedAt,
		connection.CreatedAt, connection.UpdatedAt)

	return scanConnection(row)
}

func (s *Store) UpdateConnection(ctx context.Context, connection domain.UserConnection) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_connections
		SET status                  = $2,
		    encrypted_access_token  = $3,
		    encrypted_refresh_token = $4,
		    api_key_hash            = $5,
		    expires_at              = $6,
		    scopes                  = $7,
		    last_used_at            = $8,
		    updated_at              = $9
		WHERE id = $1`,
		connection.ID, string(connection.Status),
		connection.EncryptedAccessToken, connection.EncryptedRefreshToken, connection.APIKeyHash,
		connection.ExpiresAt, connection.Scopes, connection.LastUsedAt, connection.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("connection not found")
	}
	return nil
}

func (s *Store) ListExpiringConnections(ctx context.Context, deadline time.Time) ([]domain.UserConnection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+connectionColumns+` FROM user_connections
		WHERE status = $1 AND encrypted_refresh_token <> '' AND expires_at IS NOT NULL AND expires_at < $2
		ORDER BY expires_at`,
		string(domain.ConnectionStatusActive), deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring connections: %w", err)
	}
	defer rows.Close()

	return collectConnections(rows)
}

func (s *Store) ListRefreshableConnections(ctx context.Context) ([]domain.UserConnection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+connectionColumns+` FROM user_connections
		WHERE status = $1 AND encrypted_refresh_token <> ''
		ORDER BY created_at`,
		string(domain.ConnectionStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query refreshable connections: %w", err)
	}
	defer rows.Close()

	return collectConnections(rows)
}

func collectConnections(rows pgx.Rows) ([]domain.UserConnection, error) {
	var connections []domain.UserConnection
	for rows.Next() {
		connection, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, connection)
	}
	return connections, rows.Err()
}

func scanConnection(row pgx.Row) (domain.UserConnection, error) {
	var connection domain.UserConnection
	var status string

	err := row.Scan(&connection.ID, &connection.UserID, &connection.ConnectorID, &status,
		&connection.EncryptedAccessToken, &connection.EncryptedRefreshToken, &connection.APIKeyHash,
		&connection.ExpiresAt, &connection.Scopes, &connection.LastUsedAt,
		&connection.CreatedAt, &connection.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserConnection{}, domain.NewNotFoundError("connection not found")
		}
		return domain.UserConnection{}, fmt.Errorf("failed to scan connection: %w", err)
	}

	connection.Status = domain.ConnectionStatus(status)
	return connection, nil
}
