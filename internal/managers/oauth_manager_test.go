package managers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/toolbridge/internal/crypto"
	"github.com/toolbridge/toolbridge/internal/domain"
)

func newTestCipher(t *testing.T) *crypto.TokenCipher {
	t.Helper()

	cipher, err := crypto.NewTokenCipher("managers-test-key")
	require.NoError(t, err)
	return cipher
}

type oauthTestEnv struct {
	store   *memStore
	cipher  *crypto.TokenCipher
	manager domain.OAuthService
}

// newOAuthTestEnv wires an OAuth manager against in-memory stores and a fake
// provider whose token endpoint is the given URL.
func newOAuthTestEnv(t *testing.T, providerKey, tokenURL string) oauthTestEnv {
	t.Helper()

	registerTestProvider(testProvider{
		key:      providerKey,
		authURL:  "https://auth.example.com/authorize",
		tokenURL: tokenURL,
		refresh:  true,
	})

	store := newMemStore()
	cipher := newTestCipher(t)

	manager := NewOAuthManager(OAuthManagerDependencies{
		ConnectorStore:   store,
		ConnectionStore:  store,
		TransactionStore: store,
		Cipher:           cipher,
		Credentials:      ProviderCredentials{providerKey: {ClientID: "env-client", ClientSecret: "env-secret"}},
	})

	return oauthTestEnv{store: store, cipher: cipher, manager: manager}
}

func seedOAuthConnector(store *memStore, providerKey string) domain.Connector {
	connector := domain.Connector{
		ID:          "conn-" + providerKey,
		Slug:        providerKey,
		Name:        "Test Connector",
		AuthType:    domain.AuthTypeOAuth,
		ProviderKey: providerKey,
		Active:      true,
	}
	store.connectors[connector.ID] = connector
	return connector
}

func TestStartOAuth_PersistsHashedVerifier(t *testing.T) {
	env := newOAuthTestEnv(t, "oauthtest-start", "https://token.invalid")
	connector := seedOAuthConnector(env.store, "oauthtest-start")

	result, err := env.manager.StartOAuth(context.Background(), domain.StartOAuthParams{
		ConnectorID: connector.ID,
		UserID:      "user-1",
		RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)

	assert.Len(t, result.CodeVerifier, 43)
	assert.NotEmpty(t, result.State)

	parsed, err := url.Parse(result.AuthorizationURL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "env-client", query.Get("client_id"))
	assert.Equal(t, result.State, query.Get("state"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Equal(t, crypto.ChallengeS256(result.CodeVerifier), query.Get("code_challenge"))
	assert.Equal(t, "read write", query.Get("scope"))

	tx, ok := env.store.transactionByState(result.State)
	require.True(t, ok)
	assert.Equal(t, domain.TransactionStatusStarted, tx.Status)
	// Only the digest is at rest; the raw verifier never touches the store.
	assert.Equal(t, crypto.HashVerifier(result.CodeVerifier), tx.VerifierHash)
	assert.NotEqual(t, result.CodeVerifier, tx.VerifierHash)
}

func TestStartOAuth_NonOAuthConnector(t *testing.T) {
	env := newOAuthTestEnv(t, "oauthtest-apikey", "https://token.invalid")
	env.store.connectors["c1"] = domain.Connector{ID: "c1", Slug: "keyed", AuthType: domain.AuthTypeAPIKey}

	_, err := env.manager.StartOAuth(context.Background(), domain.StartOAuthParams{
		ConnectorID: "c1",
		UserID:      "user-1",
		RedirectURI: "https://app.example.com/callback",
	})
	assert.True(t, domain.IsValidation(err))
}

func TestStartOAuth_NoClientCredential(t *testing.T) {
	registerTestProvider(testProvider{
		key:      "oauthtest-nocred",
		authURL:  "https://auth.example.com/authorize",
		tokenURL: "https://token.invalid",
	})

	store := newMemStore()
	manager := NewOAuthManager(OAuthManagerDependencies{
		ConnectorStore:   store,
		ConnectionStore:  store,
		TransactionStore: store,
		Cipher:           newTestCipher(t),
	})
	connector := seedOAuthConnector(store, "oauthtest-nocred")

	_, err := manager.StartOAuth(context.Background(), domain.StartOAuthParams{
		ConnectorID: connector.ID,
		UserID:      "user-1",
		RedirectURI: "https://app.example.com/callback",
	})
	assert.True(t, domain.IsConfiguration(err))
}

func newTokenServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCompleteOAuth_Success(t *testing.T) {
	server := newTokenServer(t,
		`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600,"scope":"read write"}`,
		http.StatusOK)

	env := newOAuthTestEnv(t, "oauthtest-complete", server.URL)
	connector := seedOAuthConnector(env.store, "oauthtest-complete")
	ctx := context.Background()

	started, err := env.manager.StartOAuth(ctx, domain.StartOAuthParams{
		ConnectorID: connector.ID,
		UserID:      "user-1",
		RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)

	completed, err := env.manager.CompleteOAuth(ctx, domain.CompleteOAuthParams{
		Code:         "auth-code",
		State:        started.State,
		CodeVerifier: started.CodeVerifier,
	})
	require.NoError(t, err)
	assert.Equal(t, connector.ID, completed.ConnectorID)
	assert.Equal(t, []string{"read", "write"}, completed.Scopes)

	connection, err := env.store.GetConnection(ctx, completed.ConnectionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusActive, connection.Status)
	require.NotNil(t, connection.ExpiresAt)

	// Tokens are at rest only in encrypted form.
	assert.NotEqual(t, "at-1", connection.EncryptedAccessToken)
	access, err := env.cipher.Decrypt(connection.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "at-1", access)
	refresh, err := env.cipher.Decrypt(connection.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", refresh)

	tx, ok := env.store.transactionByState(started.State)
	require.True(t, ok)
	assert.Equal(t, domain.TransactionStatusCompleted, tx.Status)
}

func TestCompleteOAuth_WrongVerifier(t *testing.T) {
	env := newOAuthTestEnv(t, "oauthtest-badverifier", "https://token.invalid")
	connector := seedOAuthConnector(env.store, "oauthtest-badverifier")
	ctx := context.Background()

	started, err := env.manager.StartOAuth(ctx, domain.StartOAuthParams{
		ConnectorID: connector.ID,
		UserID:      "user-1",
		RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)

	_, err = env.manager.CompleteOAuth(ctx, domain.CompleteOAuthParams{
		Code:         "auth-code",
		State:        started.State,
		CodeVerifier: "not-the-original-verifier",
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindAuthentication, domain.KindOf(err))

	tx, ok := env.store.transactionByState(started.State)
	require.True(t, ok)
	assert.Equal(t, domain.TransactionStatusFailed, tx.Status)
	assert.Empty(t, env.store.connections)
}

func TestCompleteOAuth_StateSingleUse(t *testing.T) {
	server := newTokenServer(t,
		`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`,
		http.StatusOK)

	env := newOAuthTestEnv(t, "oauthtest-singleuse", server.URL)
	connector := seedOAuthConnector(env.store, "oauthtest-singleuse")
	ctx := context.Background()

	started, err := env.manager.StartOAuth(ctx, domain.StartOAuthParams{
		ConnectorID: connector.ID,
		UserID:      "user-1",
		RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)

	params := domain.CompleteOAuthParams{
		Code:         "auth-code",
		State:        started.State,
		CodeVerifier: started.CodeVerifier,
	}

	_, err = env.manager.CompleteOAuth(ctx, params)
	require.NoError(t, err)

	// A completed transaction is consumed; replaying the callback must fail.
	_, err = env.manager.CompleteOAuth(ctx, params)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindAuthentication, domain.KindOf(err))
	assert.Contains(t, err.Error(), "invalid or expired state")
}

func TestCompleteOAuth_ExchangeFailureFailsTransaction(t *testing.T) {
	server := newTokenServer(t, `{"error":"invalid_grant"}`, http.StatusBadRequest)

	env := newOAuthTestEnv(t, "oauthtest-exchangefail", server.URL)
	connector := seedOAuthConnector(env.store, "oauthtest-exchangefail")
	ctx := context.Background()

	started, err := env.manager.StartOAuth(ctx, domain.StartOAuthParams{
		ConnectorID: connector.ID,
		UserID:      "user-1",
		RedirectURI: "https://app.example.com/callback",
	})
	require.NoError(t, err)

	_, err = env.manager.CompleteOAuth(ctx, domain.CompleteOAuthParams{
		Code:         "expired-code",
		State:        started.State,
		CodeVerifier: started.CodeVerifier,
	})
	require.Error(t, err)

	tx, ok := env.store.transactionByState(started.State)
	require.True(t, ok)
	assert.Equal(t, domain.TransactionStatusFailed, tx.Status)
	assert.Empty(t, env.store.connections)
}

func TestCompleteOAuth_UpsertKeepsOneConnectionPerUserAndConnector(t *testing.T) {
	server := newTokenServer(t,
		`{"access_token":"at-2","refresh_token":"rt-2","token_type":"Bearer","expires_in":3600}`,
		http.StatusOK)

	env := newOAuthTestEnv(t, "oauthtest-upsert", server.URL)
	connector := seedOAuthConnector(env.store, "oauthtest-upsert")
	ctx := context.Background()

	runFlow := func() string {
		started, err := env.manager.StartOAuth(ctx, domain.StartOAuthParams{
			ConnectorID: connector.ID,
			UserID:      "user-1",
			RedirectURI: "https://app.example.com/callback",
		})
		require.NoError(t, err)

		completed, err := env.manager.CompleteOAuth(ctx, domain.CompleteOAuthParams{
			Code:         "auth-code",
			State:        started.State,
			CodeVerifier: started.CodeVerifier,
		})
		require.NoError(t, err)
		return completed.ConnectionID
	}

	first := runFlow()
	second := runFlow()

	assert.Equal(t, first, second)
	assert.Len(t, env.store.connections, 1)
}

func TestRegisterAPIKey(t *testing.T) {
	store := newMemStore()
	cipher := newTestCipher(t)
	manager := NewOAuthManager(OAuthManagerDependencies{
		ConnectorStore:   store,
		ConnectionStore:  store,
		TransactionStore: store,
		Cipher:           cipher,
	})

	store.connectors["c1"] = domain.Connector{ID: "c1", Slug: "keyed", AuthType: domain.AuthTypeAPIKey}
	ctx := context.Background()

	connection, err := manager.RegisterAPIKey(ctx, "c1", "user-1", "sk-secret")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusActive, connection.Status)
	assert.Equal(t, crypto.HashAPIKey("sk-secret"), connection.APIKeyHash)

	stored, err := cipher.Decrypt(connection.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", stored)

	_, err = manager.RegisterAPIKey(ctx, "c1", "user-1", "")
	assert.True(t, domain.IsValidation(err))
}

func TestDisconnect(t *testing.T) {
	store := newMemStore()
	manager := NewOAuthManager(OAuthManagerDependencies{
		ConnectorStore:   store,
		ConnectionStore:  store,
		TransactionStore: store,
		Cipher:           newTestCipher(t),
	})

	store.connections["cn1"] = domain.UserConnection{
		ID:                    "cn1",
		UserID:                "user-1",
		ConnectorID:           "c1",
		Status:                domain.ConnectionStatusActive,
		EncryptedAccessToken:  "enc-a",
		EncryptedRefreshToken: "enc-r",
	}
	ctx := context.Background()

	// Another user's connection is invisible, not forbidden.
	err := manager.Disconnect(ctx, "cn1", "user-2")
	assert.True(t, domain.IsNotFound(err))

	require.NoError(t, manager.Disconnect(ctx, "cn1", "user-1"))

	connection, err := store.GetConnection(ctx, "cn1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusRevoked, connection.Status)
	assert.Empty(t, connection.EncryptedAccessToken)
	assert.Empty(t, connection.EncryptedRefreshToken)
}
