package providers

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/toolbridge/toolbridge/internal/domain"
)

type githubProvider struct{}

func (githubProvider) Key() string {
	return "github"
}

func (githubProvider) Endpoint() oauth2.Endpoint {
	return github.Endpoint
}

func (githubProvider) DefaultScopes() []string {
	return []string{"repo", "read:user"}
}

func (githubProvider) ScopeSeparator() string {
	return " "
}

func (githubProvider) AuthParams() map[string]string {
	return nil
}

// TokenRequestHeaders asks for JSON; GitHub answers form-encoded otherwise.
func (githubProvider) TokenRequestHeaders() map[string]string {
	return map[string]string{"Accept": "application/json"}
}

// SupportsRefresh is false: classic GitHub OAuth tokens cannot be refreshed.
func (githubProvider) SupportsRefresh() bool {
	return false
}

func (githubProvider) NormalizeTokenResponse(body []byte) (domain.TokenResponse, error) {
	return normalizeStandardResponse(body)
}
