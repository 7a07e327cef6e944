package domain

import (
	"context"
	"time"
)

type TransactionStatus string

const (
	TransactionStatusStarted   TransactionStatus = "started"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// OAuthTransaction is the ephemeral server-side state of one PKCE flow. Only
// the SHA-256 hash of the code verifier is stored; the verifier itself
// round-trips through the client and is checked against the hash at callback.
type OAuthTransaction struct {
	ID           string
	State        string
	ConnectorID  string
	UserID       string
	VerifierHash string
	RedirectURI  string
	Status       TransactionStatus
	CreatedAt    time.Time
}

// TokenResponse is the provider-neutral shape of a token endpoint response,
// produced by the provider adapters from their provider-specific envelopes.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64 // seconds; 0 means the provider reported no expiry
	Scope        string
}

type OAuthTransactionStore interface {
	CreateTransaction(ctx context.Context, tx OAuthTransaction) error
	// GetStartedTransaction looks up the transaction by state, restricted to
	// status "started". A consumed or unknown state is a not-found error.
	GetStartedTransaction(ctx context.Context, state string) (OAuthTransaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status TransactionStatus) error
}
