package managers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/toolbridge/toolbridge/internal/domain"
	"github.com/toolbridge/toolbridge/internal/providers"
)

// memStore is an in-memory implementation of every persistence port,
// sufficient for exercising the managers without a database.
type memStore struct {
	mu           sync.Mutex
	connectors   map[string]domain.Connector
	connections  map[string]domain.UserConnection
	transactions map[string]domain.OAuthTransaction
	tools        map[string]domain.ConnectorTool
	jobs         map[string]domain.PipelineJob
	events       []domain.PipelineEvent
	actionLogs   []domain.ActionLog
	webhooks     map[string]domain.Webhook
	deliveries   map[string]domain.WebhookDelivery
}

func newMemStore() *memStore {
	return &memStore{
		connectors:   make(map[string]domain.Connector),
		connections:  make(map[string]domain.UserConnection),
		transactions: make(map[string]domain.OAuthTransaction),
		tools:        make(map[string]domain.ConnectorTool),
		jobs:         make(map[string]domain.PipelineJob),
		webhooks:     make(map[string]domain.Webhook),
		deliveries:   make(map[string]domain.WebhookDelivery),
	}
}

func (s *memStore) GetConnector(ctx context.Context, id string) (domain.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connector, ok := s.connectors[id]
	if !ok {
		return domain.Connector{}, domain.NewNotFoundError("connector not found")
	}
	return connector, nil
}

func (s *memStore) GetConnectorBySlug(ctx context.Context, slug string) (domain.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, connector := range s.connectors {
		if connector.Slug == slug {
			return connector, nil
		}
	}
	return domain.Connector{}, domain.NewNotFoundError("connector not found")
}

func (s *memStore) CreateConnector(ctx context.Context, connector domain.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[connector.ID] = connector
	return nil
}

func (s *memStore) GetConnection(ctx context.Context, id string) (domain.UserConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.connections[id]
	if !ok {
		return domain.UserConnection{}, domain.NewNotFoundError("connection not found")
	}
	return connection, nil
}

func (s *memStore) GetConnectionByUserAndConnector(ctx context.Context, userID, connectorID string) (domain.UserConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, connection := range s.connections {
		if connection.UserID == userID && connection.ConnectorID == connectorID {
			return connection, nil
		}
	}
	return domain.UserConnection{}, domain.NewNotFoundError("connection not found")
}

func (s *memStore) UpsertConnection(ctx context.Context, connection domain.UserConnection) (domain.UserConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.connections {
		if existing.UserID == connection.UserID && existing.ConnectorID == connection.ConnectorID {
			connection.ID = id
			connection.CreatedAt = existing.CreatedAt
			s.connections[id] = connection
			return connection, nil
		}
	}
	s.connections[connection.ID] = connection
	return connection, nil
}

func (s *memStore) UpdateConnection(ctx context.Context, connection domain.UserConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[connection.ID]; !ok {
		return domain.NewNotFoundError("connection not found")
	}
	s.connections[connection.ID] = connection
	return nil
}

func (s *memStore) ListExpiringConnections(ctx context.Context, deadline time.Time) ([]domain.UserConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.UserConnection
	for _, connection := range s.connections {
		if connection.Status == domain.ConnectionStatusActive &&
			connection.EncryptedRefreshToken != "" &&
			connection.ExpiresAt != nil && connection.ExpiresAt.Before(deadline) {
			result = append(result, connection)
		}
	}
	return result, nil
}

func (s *memStore) ListRefreshableConnections(ctx context.Context) ([]domain.UserConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.UserConnection
	for _, connection := range s.connections {
		if connection.Status == domain.ConnectionStatusActive && connection.EncryptedRefreshToken != "" {
			result = append(result, connection)
		}
	}
	return result, nil
}

func (s *memStore) CreateTransaction(ctx context.Context, tx domain.OAuthTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
	return nil
}

func (s *memStore) GetStartedTransaction(ctx context.Context, state string) (domain.OAuthTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.transactions {
		if tx.State == state && tx.Status == domain.TransactionStatusStarted {
			return tx, nil
		}
	}
	return domain.OAuthTransaction{}, domain.NewNotFoundError("oauth transaction not found")
}

func (s *memStore) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return domain.NewNotFoundError("oauth transaction not found")
	}
	tx.Status = status
	s.transactions[id] = tx
	return nil
}

func (s *memStore) transactionByState(state string) (domain.OAuthTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.transactions {
		if tx.State == state {
			return tx, true
		}
	}
	return domain.OAuthTransaction{}, false
}

func toolKey(connectorID, name string) string {
	return connectorID + "/" + name
}

func (s *memStore) GetTool(ctx context.Context, connectorID, name string) (domain.ConnectorTool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tool, ok := s.tools[toolKey(connectorID, name)]
	if !ok {
		return domain.ConnectorTool{}, domain.NewNotFoundError("tool not found")
	}
	return tool, nil
}

func (s *memStore) ListTools(ctx context.Context, connectorID string) ([]domain.ConnectorTool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tools []domain.ConnectorTool
	for _, tool := range s.tools {
		if tool.ConnectorID == connectorID {
			tools = append(tools, tool)
		}
	}
	return tools, nil
}

func (s *memStore) UpsertTool(ctx context.Context, tool domain.ConnectorTool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[toolKey(tool.ConnectorID, tool.Name)] = tool
	return nil
}

func (s *memStore) GetJob(ctx context.Context, id string) (domain.PipelineJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.PipelineJob{}, domain.NewNotFoundError("job not found")
	}
	return job, nil
}

func (s *memStore) CreateJob(ctx context.Context, job domain.PipelineJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) UpdateJob(ctx context.Context, job domain.PipelineJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return domain.NewNotFoundError("job not found")
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) AppendEvent(ctx context.Context, event domain.PipelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) ListEvents(ctx context.Context, jobID string) ([]domain.PipelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []domain.PipelineEvent
	for _, event := range s.events {
		if event.JobID == jobID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (s *memStore) AppendActionLog(ctx context.Context, entry domain.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionLogs = append(s.actionLogs, entry)
	return nil
}

func (s *memStore) actionLogsByStatus(status domain.ActionStatus) []domain.ActionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []domain.ActionLog
	for _, entry := range s.actionLogs {
		if entry.Status == status {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (s *memStore) GetWebhook(ctx context.Context, id string) (domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[id]
	if !ok {
		return domain.Webhook{}, domain.NewNotFoundError("webhook not found")
	}
	return webhook, nil
}

func (s *memStore) ListActiveWebhooksForEvent(ctx context.Context, userID, event string) ([]domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var webhooks []domain.Webhook
	for _, webhook := range s.webhooks {
		if webhook.UserID == userID && webhook.Active && webhook.Subscribed(event) {
			webhooks = append(webhooks, webhook)
		}
	}
	return webhooks, nil
}

func (s *memStore) GetDelivery(ctx context.Context, id string) (domain.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, ok := s.deliveries[id]
	if !ok {
		return domain.WebhookDelivery{}, domain.NewNotFoundError("delivery not found")
	}
	return delivery, nil
}

func (s *memStore) CreateDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[delivery.ID] = delivery
	return nil
}

func (s *memStore) UpdateDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[delivery.ID]; !ok {
		return domain.NewNotFoundError("delivery not found")
	}
	s.deliveries[delivery.ID] = delivery
	return nil
}

// testProvider points the token endpoint at an httptest server.
type testProvider struct {
	key      string
	authURL  string
	tokenURL string
	refresh  bool
}

func (p testProvider) Key() string                           { return p.key }
func (p testProvider) Endpoint() oauth2.Endpoint             { return oauth2.Endpoint{AuthURL: p.authURL, TokenURL: p.tokenURL} }
func (p testProvider) DefaultScopes() []string               { return []string{"read", "write"} }
func (p testProvider) ScopeSeparator() string                { return " " }
func (p testProvider) AuthParams() map[string]string         { return nil }
func (p testProvider) TokenRequestHeaders() map[string]string { return nil }
func (p testProvider) SupportsRefresh() bool                 { return p.refresh }

func (p testProvider) NormalizeTokenResponse(body []byte) (domain.TokenResponse, error) {
	var envelope struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
		Error        string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.TokenResponse{}, err
	}
	if envelope.Error != "" {
		return domain.TokenResponse{}, domain.NewTerminalRemoteError("provider error: "+envelope.Error, nil)
	}
	return domain.TokenResponse{
		AccessToken:  envelope.AccessToken,
		RefreshToken: envelope.RefreshToken,
		TokenType:    envelope.TokenType,
		ExpiresIn:    envelope.ExpiresIn,
		Scope:        envelope.Scope,
	}, nil
}

func registerTestProvider(p testProvider) {
	providers.Register(p)
}
