// Package providers isolates per-provider OAuth quirks behind a small adapter
// interface. Components never branch on provider identity; they look the
// adapter up by key and go through it.
package providers

import (
	"golang.org/x/oauth2"

	"github.com/toolbridge/toolbridge/internal/domain"
)

type Provider interface {
	// Key is the provider slug connectors reference ("google", "github", "slack").
	Key() string
	// Endpoint returns the provider's authorization and token URLs.
	Endpoint() oauth2.Endpoint
	// DefaultScopes are requested when the connector declares no override.
	DefaultScopes() []string
	// ScopeSeparator joins scopes in the authorization URL.
	ScopeSeparator() string
	// AuthParams are extra query parameters for the authorization URL.
	AuthParams() map[string]string
	// TokenRequestHeaders are extra headers for token endpoint requests.
	TokenRequestHeaders() map[string]string
	// NormalizeTokenResponse maps the provider's response envelope to the
	// neutral TokenResponse. A provider-reported error becomes a Go error.
	NormalizeTokenResponse(body []byte) (domain.TokenResponse, error)
	// SupportsRefresh reports whether the provider can refresh access tokens.
	SupportsRefresh() bool
}

var registry = map[string]Provider{
	"google": googleProvider{},
	"github": githubProvider{},
	"slack":  slackProvider{},
}

// Lookup returns the adapter for a provider key.
func Lookup(key string) (Provider, bool) {
	p, ok := registry[key]
	return p, ok
}

// Register adds or replaces a provider adapter. Call during initialization;
// the registry is not safe for concurrent mutation.
func Register(p Provider) {
	registry[p.Key()] = p
}
