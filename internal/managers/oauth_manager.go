package managers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/toolbridge/toolbridge/internal/crypto"
	"github.com/toolbridge/toolbridge/internal/domain"
	"github.com/toolbridge/toolbridge/internal/providers"
)

// ClientCredential is an environment-level OAuth app credential for one
// provider, used when the connector declares no override.
type ClientCredential struct {
	ClientID     string
	ClientSecret string
}

type ProviderCredentials map[string]ClientCredential

type oauthManager struct {
	connectors   domain.ConnectorStore
	connections  domain.ConnectionStore
	transactions domain.OAuthTransactionStore
	cipher       *crypto.TokenCipher
	credentials  ProviderCredentials
	client       *http.Client
}

type OAuthManagerDependencies struct {
	ConnectorStore   domain.ConnectorStore
	ConnectionStore  domain.ConnectionStore
	TransactionStore domain.OAuthTransactionStore
	Cipher           *crypto.TokenCipher
	Credentials      ProviderCredentials
	HTTPClient       *http.Client
}

func NewOAuthManager(deps OAuthManagerDependencies) domain.OAuthService {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &oauthManager{
		connectors:   deps.ConnectorStore,
		connections:  deps.ConnectionStore,
		transactions: deps.TransactionStore,
		cipher:       deps.Cipher,
		credentials:  deps.Credentials,
		client:       client,
	}
}

// StartOAuth opens a PKCE flow: it persists the transaction with the hash of
// a fresh verifier and hands the verifier itself back to the caller. A leaked
// transaction row is useless without the original verifier.
func (m *oauthManager) StartOAuth(ctx context.Context, p domain.StartOAuthParams) (domain.StartOAuthResult, error) {
	connector, err := m.connectors.GetConnector(ctx, p.ConnectorID)
	if err != nil {
		return domain.StartOAuthResult{}, err
	}

	if connector.AuthType != domain.AuthTypeOAuth {
		return domain.StartOAuthResult{}, domain.NewValidationError(
			fmt.Sprintf("connector %s does not use OAuth", connector.Slug))
	}

	provider, ok := providers.Lookup(connector.ProviderKey)
	if !ok {
		return domain.StartOAuthResult{}, domain.NewConfigurationError(
			fmt.Sprintf("no provider configuration for %q", connector.ProviderKey))
	}

	clientID, _, err := m.resolveClientCredential(connector, provider)
	if err != nil {
		return domain.StartOAuthResult{}, err
	}

	verifier, err := crypto.GenerateVerifier()
	if err != nil {
		return domain.StartOAuthResult{}, domain.NewInternalError("failed to generate code verifier", err)
	}

	state, err := crypto.GenerateState()
	if err != nil {
		return domain.StartOAuthResult{}, domain.NewInternalError("failed to generate state", err)
	}

	tx := domain.OAuthTransaction{
		ID:           xid.New().String(),
		State:        state,
		ConnectorID:  connector.ID,
		UserID:       p.UserID,
		VerifierHash: crypto.HashVerifier(verifier),
		RedirectURI:  p.RedirectURI,
		Status:       domain.TransactionStatusStarted,
		CreatedAt:    time.Now().UTC(),
	}

	if err := m.transactions.CreateTransaction(ctx, tx); err != nil {
		return domain.StartOAuthResult{}, fmt.Errorf("failed to persist oauth transaction: %w", err)
	}

	scopes := connector.Scopes
	if len(scopes) == 0 {
		scopes = provider.DefaultScopes()
	}

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", p.RedirectURI)
	query.Set("state", state)
	query.Set("scope", strings.Join(scopes, provider.ScopeSeparator()))
	query.Set("code_challenge", crypto.ChallengeS256(verifier))
	query.Set("code_challenge_method", "S256")
	for key, value := range provider.AuthParams() {
		query.Set(key, value)
	}

	log.Info().
		Str("connector_id", connector.ID).
		Str("provider", provider.Key()).
		Str("user_id", p.UserID).
		Msg("Started OAuth transaction")

	return domain.StartOAuthResult{
		AuthorizationURL: provider.Endpoint().AuthURL + "?" + query.Encode(),
		State:            state,
		CodeVerifier:     verifier,
	}, nil
}

// CompleteOAuth consumes a started transaction. The verifier check is the
// PKCE guarantee: a stolen state cannot be completed with an attacker's code
// unless the attacker also holds the original verifier.
func (m *oauthManager) CompleteOAuth(ctx context.Context, p domain.CompleteOAuthParams) (domain.CompleteOAuthResult, error) {
	tx, err := m.transactions.GetStartedTransaction(ctx, p.State)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.CompleteOAuthResult{}, domain.NewAuthenticationError("invalid or expired state")
		}
		return domain.CompleteOAuthResult{}, err
	}

	supplied := []byte(crypto.HashVerifier(p.CodeVerifier))
	if subtle.ConstantTimeCompare(supplied, []byte(tx.VerifierHash)) != 1 {
		m.failTransaction(ctx, tx.ID)
		return domain.CompleteOAuthResult{}, domain.NewAuthenticationError("code verifier mismatch")
	}

	connector, err := m.connectors.GetConnector(ctx, tx.ConnectorID)
	if err != nil {
		m.failTransaction(ctx, tx.ID)
		return domain.CompleteOAuthResult{}, err
	}

	provider, ok := providers.Lookup(connector.ProviderKey)
	if !ok {
		m.failTransaction(ctx, tx.ID)
		return domain.CompleteOAuthResult{}, domain.NewConfigurationError(
			fmt.Sprintf("no provider configuration for %q", connector.ProviderKey))
	}

	clientID, clientSecret, err := m.resolveClientCredential(connector, provider)
	if err != nil {
		m.failTransaction(ctx, tx.ID)
		return domain.CompleteOAuthResult{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", p.Code)
	form.Set("redirect_uri", tx.RedirectURI)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code_verifier", p.CodeVerifier)

	token, err := requestToken(ctx, m.client, provider, form)
	if err != nil {
		// The authorization code is single-use; a retry would fail anyway,
		// so the transaction goes terminal and the caller restarts the flow.
		m.failTransaction(ctx, tx.ID)
		return domain.CompleteOAuthResult{}, err
	}

	connection, err := m.storeConnection(ctx, tx, token)
	if err != nil {
		m.failTransaction(ctx, tx.ID)
		return domain.CompleteOAuthResult{}, err
	}

	if err := m.transactions.UpdateTransactionStatus(ctx, tx.ID, domain.TransactionStatusCompleted); err != nil {
		return domain.CompleteOAuthResult{}, fmt.Errorf("failed to complete oauth transaction: %w", err)
	}

	log.Info().
		Str("connector_id", connector.ID).
		Str("connection_id", connection.ID).
		Str("user_id", tx.UserID).
		Msg("Completed OAuth transaction")

	return domain.CompleteOAuthResult{
		ConnectionID: connection.ID,
		ConnectorID:  connector.ID,
		Scopes:       connection.Scopes,
	}, nil
}

func (m *oauthManager) storeConnection(ctx context.Context, tx domain.OAuthTransaction, token domain.TokenResponse) (domain.UserConnection, error) {
	encryptedAccess, err := m.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return domain.UserConnection{}, domain.NewInternalError("failed to encrypt access token", err)
	}

	encryptedRefresh, err := m.cipher.Encrypt(token.RefreshToken)
	if err != nil {
		return domain.UserConnection{}, domain.NewInternalError("failed to encrypt refresh token", err)
	}

	now := time.Now().UTC()

	var expiresAt *time.Time
	if token.ExpiresIn > 0 {
		t := now.Add(time.Duration(token.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	connection := domain.UserConnection{
		ID:                    xid.New().String(),
		UserID:                tx.UserID,
		ConnectorID:           tx.ConnectorID,
		Status:                domain.ConnectionStatusActive,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		ExpiresAt:             expiresAt,
		Scopes:                splitScopes(token.Scope),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	stored, err := m.connections.UpsertConnection(ctx, connection)
	if err != nil {
		return domain.UserConnection{}, fmt.Errorf("failed to upsert connection: %w", err)
	}

	return stored, nil
}

// RegisterAPIKey creates or replaces an API-key connection. The key is stored
// AES-GCM-encrypted alongside its SHA-256 digest for lookup.
func (m *oauthManager) RegisterAPIKey(ctx context.Context, connectorID, userID, apiKey string) (domain.UserConnection, error) {
	if apiKey == "" {
		return domain.UserConnection{}, domain.NewValidationError("api key is required")
	}

	connector, err := m.connectors.GetConnector(ctx, connectorID)
	if err != nil {
		return domain.UserConnection{}, err
	}

	if connector.AuthType != domain.AuthTypeAPIKey {
		return domain.UserConnection{}, domain.NewValidationError(
			fmt.Sprintf("connector %s does not use API keys", connector.Slug))
	}

	encrypted, err := m.cipher.Encrypt(apiKey)
	if err != nil {
		return domain.UserConnection{}, domain.NewInternalError("failed to encrypt api key", err)
	}

	now := time.Now().UTC()

	connection := domain.UserConnection{
		ID:                   xid.New().String(),
		UserID:               userID,
		ConnectorID:          connector.ID,
		Status:               domain.ConnectionStatusActive,
		EncryptedAccessToken: encrypted,
		APIKeyHash:           crypto.HashAPIKey(apiKey),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	stored, err := m.connections.UpsertConnection(ctx, connection)
	if err != nil {
		return domain.UserConnection{}, fmt.Errorf("failed to upsert connection: %w", err)
	}

	log.Info().
		Str("connector_id", connector.ID).
		Str("connection_id", stored.ID).
		Msg("Registered API key connection")

	return stored, nil
}

// Disconnect revokes a connection and drops its secrets.
func (m *oauthManager) Disconnect(ctx context.Context, connectionID, userID string) error {
	connection, err := m.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	if connection.UserID != userID {
		return domain.NewNotFoundError("connection not found")
	}

	connection.Status = domain.ConnectionStatusRevoked
	connection.EncryptedAccessToken = ""
	connection.EncryptedRefreshToken = ""
	connection.APIKeyHash = ""
	connection.UpdatedAt = time.Now().UTC()

	if err := m.connections.UpdateConnection(ctx, connection); err != nil {
		return fmt.Errorf("failed to revoke connection: %w", err)
	}

	log.Info().Str("connection_id", connectionID).Msg("Revoked connection")

	return nil
}

func (m *oauthManager) resolveClientCredential(connector domain.Connector, provider providers.Provider) (string, string, error) {
	clientID := connector.ClientID
	clientSecret := connector.ClientSecret

	if clientID == "" {
		credential := m.credentials[provider.Key()]
		clientID = credential.ClientID
		clientSecret = credential.ClientSecret
	}

	if clientID == "" {
		return "", "", domain.NewConfigurationError(
			fmt.Sprintf("no client id configured for provider %q", provider.Key()))
	}

	return clientID, clientSecret, nil
}

func (m *oauthManager) failTransaction(ctx context.Context, id string) {
	if err := m.transactions.UpdateTransactionStatus(ctx, id, domain.TransactionStatusFailed); err != nil {
		log.Error().Err(err).Str("transaction_id", id).Msg("Failed to mark oauth transaction failed")
	}
}
