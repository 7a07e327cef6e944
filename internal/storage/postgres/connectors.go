package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/toolbridge/toolbridge/internal/domain"
)

const connectorColumns = `id, slug, name, auth_type, provider_key, client_id, client_secret, scopes, mcp_server_url, active, created_at`

func (s *Store) GetConnector(ctx context.Context, id string) (domain.Connector, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+connectorColumns+` FROM connectors WHERE id = $1`, id)
	return scanConnector(row)
}

func (s *Store) GetConnectorBySlug(ctx context.Context, slug string) (domain.Connector, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+connectorColumns+` FROM connectors WHERE slug = $1`, slug)
	return scanConnector(row)
}

func (s *Store) CreateConnector(ctx context.Context, connector domain.Connector) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO connectors (id, slug, name, auth_type, provider_key, client_id, client_secret, scopes, mcp_server_url, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		connector.ID, connector.Slug, connector.Name, string(connector.AuthType),
		connector.ProviderKey, connector.ClientID, connector.ClientSecret,
		connector.Scopes, connector.MCPServerURL, connector.Active, connector.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert connector: %w", err)
	}
	return nil
}

func scanConnector(row pgx.Row) (domain.Connector, error) {
	var connector domain.Connector
	var authType string

	err := row.Scan(&connector.ID, &connector.Slug, &connector.Name, &authType,
		&connector.ProviderKey, &connector.ClientID, &connector.ClientSecret,
		&connector.Scopes, &connector.MCPServerURL, &connector.Active, &connector.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Connector{}, domain.NewNotFoundError("connector not found")
		}
		return domain.Connector{}, fmt.Errorf("failed to scan connector: %w", err)
	}

	connector.AuthType = domain.AuthType(authType)
	return connector, nil
}

const toolColumns = `id, connector_id, name, description, parameters, source, created_at`

func (s *Store) GetTool(ctx context.Context, connectorID, name string) (domain.ConnectorTool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+toolColumns+` FROM connector_tools WHERE connector_id = $1 AND name = $2`,
		connectorID, name)
	return scanTool(row)
}

func (s *Store) ListTools(ctx context.Context, connectorID string) ([]domain.ConnectorTool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+toolColumns+` FROM connector_tools WHERE connector_id = $1 ORDER BY name`,
		connectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}
	defer rows.Close()

	var tools []domain.ConnectorTool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}

	return tools, rows.Err()
}

func (s *Store) UpsertTool(ctx context.Context, tool domain.ConnectorTool) error {
	parameters, err := json.Marshal(tool.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode tool parameters: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO connector_tools (id, connector_id, name, description, parameters, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connector_id, name) DO UPDATE
		SET description = EXCLUDED.description,
		    parameters  = EXCLUDED.parameters,
		    source      = EXCLUDED.source`,
		tool.ID, tool.ConnectorID, tool.Name, tool.Description, parameters,
		string(tool.Source), tool.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tool: %w", err)
	}
	return nil
}

func scanTool(row pgx.Row) (domain.ConnectorTool, error) {
	var tool domain.ConnectorTool
	var parameters []byte
	var source string

	err := row.Scan(&tool.ID, &tool.ConnectorID, &tool.Name, &tool.Description,
		&parameters, &source, &tool.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConnectorTool{}, domain.NewNotFoundError("tool not found")
		}
		return domain.ConnectorTool{}, fmt.Errorf("failed to scan tool: %w", err)
	}

	if err := json.Unmarshal(parameters, &tool.Parameters); err != nil {
		return domain.ConnectorTool{}, fmt.Errorf("failed to decode tool parameters: %w", err)
	}

	tool.Source = domain.ToolSource(source)
	return tool, nil
}
