package managers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolbridge/toolbridge/internal/crypto"
	"github.com/toolbridge/toolbridge/internal/domain"
	"github.com/toolbridge/toolbridge/internal/providers"
)

// refreshWindow is how far ahead of expiry the sweep refreshes connections.
const refreshWindow = 5 * time.Minute

type tokenRefreshManager struct {
	connectors  domain.ConnectorStore
	connections domain.ConnectionStore
	cipher      *crypto.TokenCipher
	credentials ProviderCredentials
	client      *http.Client
	notifier    domain.Notifier
}

type TokenRefreshManagerDependencies struct {
	ConnectorStore  domain.ConnectorStore
	ConnectionStore domain.ConnectionStore
	Cipher          *crypto.TokenCipher
	Credentials     ProviderCredentials
	HTTPClient      *http.Client
	Notifier        domain.Notifier
}

func NewTokenRefreshManager(deps TokenRefreshManagerDependencies) domain.TokenRefreshService {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}

	return &tokenRefreshManager{
		connectors:  deps.ConnectorStore,
		connections: deps.ConnectionStore,
		cipher:      deps.Cipher,
		credentials: deps.Credentials,
		client:      client,
		notifier:    notifier,
	}
}

// RefreshTokens refreshes the selected connections sequentially and returns a
// per-connection result list. Partial failure is normal: one connection's
// failure never aborts the rest, and no transaction spans the batch.
func (m *tokenRefreshManager) RefreshTokens(ctx context.Context, p domain.RefreshTokensParams) ([]domain.ConnectionRefreshResult, error) {
	candidates, err := m.selectCandidates(ctx, p)
	if err != nil {
		return nil, err
	}

	results := make([]domain.ConnectionRefreshResult, 0, len(candidates))
	for _, connection := range candidates {
		results = append(results, m.refreshConnection(ctx, connection))
	}

	return results, nil
}

func (m *tokenRefreshManager) selectCandidates(ctx context.Context, p domain.RefreshTokensParams) ([]domain.UserConnection, error) {
	if p.ConnectionID != "" {
		connection, err := m.connections.GetConnection(ctx, p.ConnectionID)
		if err != nil {
			return nil, err
		}
		return []domain.UserConnection{connection}, nil
	}

	if p.Force {
		return m.connections.ListRefreshableConnections(ctx)
	}

	return m.connections.ListExpiringConnections(ctx, time.Now().UTC().Add(refreshWindow))
}

func (m *tokenRefreshManager) refreshConnection(ctx context.Context, connection domain.UserConnection) domain.ConnectionRefreshResult {
	result := domain.ConnectionRefreshResult{ConnectionID: connection.ID}

	if connection.Status != domain.ConnectionStatusActive {
		result.Error = fmt.Sprintf("connection is %s", connection.Status)
		return result
	}

	if connection.EncryptedRefreshToken == "" {
		result.Error = "connection has no refresh token"
		return result
	}

	connector, err := m.connectors.GetConnector(ctx, connection.ConnectorID)
	if err != nil {
		return m.demote(ctx, connection, result, err)
	}

	provider, ok := providers.Lookup(connector.ProviderKey)
	if !ok {
		return m.demote(ctx, connection, result,
			domain.NewConfigurationError(fmt.Sprintf("no provider configuration for %q", connector.ProviderKey)))
	}

	if !provider.SupportsRefresh() {
		// Provider limitation, not a broken connection: report it without
		// demoting so the token stays usable until it actually dies.
		result.Unsupported = true
		result.Error = fmt.Sprintf("provider %q does not support token refresh", provider.Key())
		return result
	}

	token, err := m.performRefresh(ctx, connection, connector, provider)
	if err != nil {
		return m.demote(ctx, connection, result, err)
	}

	if err := m.applyRefreshedToken(ctx, connection, token); err != nil {
		return m.demote(ctx, connection, result, err)
	}

	log.Info().
		Str("connection_id", connection.ID).
		Str("provider", provider.Key()).
		Msg("Refreshed connection tokens")

	result.Refreshed = true
	return result
}

func (m *tokenRefreshManager) performRefresh(ctx context.Context, connection domain.UserConnection, connector domain.Connector, provider providers.Provider) (domain.TokenResponse, error) {
	refreshToken, err := m.cipher.Decrypt(connection.EncryptedRefreshToken)
	if err != nil {
		return domain.TokenResponse{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	clientID := connector.ClientID
	clientSecret := connector.ClientSecret
	if clientID == "" {
		credential := m.credentials[provider.Key()]
		clientID = credential.ClientID
		clientSecret = credential.ClientSecret
	}
	if clientID == "" {
		return domain.TokenResponse{}, domain.NewConfigurationError(
			fmt.Sprintf("no client id configured for provider %q", provider.Key()))
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	return requestToken(ctx, m.client, provider, form)
}

func (m *tokenRefreshManager) applyRefreshedToken(ctx context.Context, connection domain.UserConnection, token domain.TokenResponse) error {
	encryptedAccess, err := m.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	connection.EncryptedAccessToken = encryptedAccess

	// Most providers return no refresh token here; keep the stored one
	// unless the provider rotated it.
	if token.RefreshToken != "" {
		encryptedRefresh, err := m.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		connection.EncryptedRefreshToken = encryptedRefresh
	}

	if token.ExpiresIn > 0 {
		expiresAt := time.Now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second)
		connection.ExpiresAt = &expiresAt
	} else {
		connection.ExpiresAt = nil
	}

	connection.UpdatedAt = time.Now().UTC()

	return m.connections.UpdateConnection(ctx, connection)
}

// demote marks the connection expired so the broken state is visible to the
// user instead of being silently retried against provider rate limits.
func (m *tokenRefreshManager) demote(ctx context.Context, connection domain.UserConnection, result domain.ConnectionRefreshResult, cause error) domain.ConnectionRefreshResult {
	log.Warn().
		Err(cause).
		Str("connection_id", connection.ID).
		Msg("Token refresh failed, demoting connection to expired")

	connection.Status = domain.ConnectionStatusExpired
	connection.UpdatedAt = time.Now().UTC()

	if err := m.connections.UpdateConnection(ctx, connection); err != nil {
		log.Error().Err(err).Str("connection_id", connection.ID).Msg("Failed to demote connection")
	}

	m.notifier.Notify(ctx, domain.Notification{
		Subject: "Connection expired",
		Body: fmt.Sprintf("Connection %s could not refresh its access token and was marked expired. Reconnect the service to continue using it.",
			connection.ID),
	})

	result.Error = cause.Error()
	return result
}
