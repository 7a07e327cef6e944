package domain

import (
	"context"
	"time"
)

type AuthType string

const (
	AuthTypeOAuth  AuthType = "oauth"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeNone   AuthType = "none"
)

// Connector is an administrator-defined service integration. Reference data:
// every other component reads it, nothing in the hub mutates it after creation.
type Connector struct {
	ID           string
	Slug         string
	Name         string
	AuthType     AuthType
	ProviderKey  string // OAuth provider identifier ("google", "github", "slack"); empty for non-OAuth connectors
	ClientID     string // optional connector-level override of the provider default
	ClientSecret string
	Scopes       []string // optional override of the provider default scopes
	MCPServerURL string
	Active       bool
	CreatedAt    time.Time
}

type ToolSource string

const (
	ToolSourceMCP  ToolSource = "mcp"
	ToolSourceREST ToolSource = "rest"
)

// ParameterSchema is the JSON-Schema-like shape a tool declares for its arguments.
type ParameterSchema struct {
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

type PropertySchema struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ConnectorTool declares one callable operation on a connector.
type ConnectorTool struct {
	ID          string
	ConnectorID string
	Name        string
	Description string
	Parameters  ParameterSchema
	Source      ToolSource
	CreatedAt   time.Time
}

type ConnectorStore interface {
	GetConnector(ctx context.Context, id string) (Connector, error)
	GetConnectorBySlug(ctx context.Context, slug string) (Connector, error)
	CreateConnector(ctx context.Context, connector Connector) error
}

type ToolStore interface {
	GetTool(ctx context.Context, connectorID, name string) (ConnectorTool, error)
	ListTools(ctx context.Context, connectorID string) ([]ConnectorTool, error)
	UpsertTool(ctx context.Context, tool ConnectorTool) error
}
