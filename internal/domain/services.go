package domain

import (
	"context"
	"encoding/json"
)

type StartOAuthParams struct {
	ConnectorID string
	UserID      string
	RedirectURI string
}

// StartOAuthResult carries the verifier back to the caller. The hub keeps only
// its hash; the caller must round-trip the verifier to CompleteOAuth.
type StartOAuthResult struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	CodeVerifier     string `json:"code_verifier"`
}

type CompleteOAuthParams struct {
	Code         string
	State        string
	CodeVerifier string
}

type CompleteOAuthResult struct {
	ConnectionID string   `json:"connection_id"`
	ConnectorID  string   `json:"connector_id"`
	Scopes       []string `json:"scopes"`
}

type OAuthService interface {
	StartOAuth(ctx context.Context, p StartOAuthParams) (StartOAuthResult, error)
	CompleteOAuth(ctx context.Context, p CompleteOAuthParams) (CompleteOAuthResult, error)
	RegisterAPIKey(ctx context.Context, connectorID, userID, apiKey string) (UserConnection, error)
	Disconnect(ctx context.Context, connectionID, userID string) error
}

type RefreshTokensParams struct {
	ConnectionID string // empty selects the sweep set
	Force        bool   // ignore the expiry window
}

// ConnectionRefreshResult is one connection's outcome within a batch. A batch
// call succeeding overall says nothing about individual connections.
type ConnectionRefreshResult struct {
	ConnectionID string `json:"connection_id"`
	Refreshed    bool   `json:"refreshed"`
	Unsupported  bool   `json:"unsupported,omitempty"`
	Error        string `json:"error,omitempty"`
}

type TokenRefreshService interface {
	RefreshTokens(ctx context.Context, p RefreshTokensParams) ([]ConnectionRefreshResult, error)
}

type ExecuteToolParams struct {
	JobID       string
	ConnectorID string
	ToolName    string
	Args        map[string]any
	UserID      string
}

type ExecuteToolResult struct {
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Details   []string        `json:"details,omitempty"`
	LatencyMS int64           `json:"latency_ms"`
}

type ToolExecutionService interface {
	ExecuteTool(ctx context.Context, p ExecuteToolParams) (ExecuteToolResult, error)
	DiscoverTools(ctx context.Context, connectorID string) ([]ConnectorTool, error)
	RegisterTool(ctx context.Context, tool ConnectorTool) (ConnectorTool, error)
}

type DeliverEventParams struct {
	UserID  string
	Event   string
	Context map[string]string
}

type DeliverySummary struct {
	DeliveryID string         `json:"delivery_id"`
	WebhookID  string         `json:"webhook_id"`
	Status     DeliveryStatus `json:"status"`
	Attempts   int            `json:"attempts"`
	StatusCode int            `json:"status_code,omitempty"`
}

type RetryDeliveryResult struct {
	Success    bool `json:"success"`
	Attempts   int  `json:"attempts"`
	StatusCode int  `json:"status_code,omitempty"`
}

type TestWebhookParams struct {
	URL     string
	Secret  string
	Payload map[string]any
}

type TestWebhookResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
}

type WebhookDeliveryService interface {
	DeliverEvent(ctx context.Context, p DeliverEventParams) ([]DeliverySummary, error)
	RetryDelivery(ctx context.Context, deliveryID string) (RetryDeliveryResult, error)
	TestWebhook(ctx context.Context, p TestWebhookParams) TestWebhookResult
}

type Notification struct {
	UserEmail string
	Subject   string
	Body      string
}

// Notifier sends best-effort user notifications. Implementations must never
// block a pipeline on notification failure.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
