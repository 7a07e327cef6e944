package providers

import (
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/toolbridge/toolbridge/internal/domain"
)

type googleProvider struct{}

func (googleProvider) Key() string {
	return "google"
}

func (googleProvider) Endpoint() oauth2.Endpoint {
	return google.Endpoint
}

func (googleProvider) DefaultScopes() []string {
	return []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}
}

func (googleProvider) ScopeSeparator() string {
	return " "
}

// AuthParams forces offline access with a consent prompt; without both Google
// omits the refresh token on repeat authorizations.
func (googleProvider) AuthParams() map[string]string {
	return map[string]string{
		"access_type": "offline",
		"prompt":      "consent",
	}
}

func (googleProvider) TokenRequestHeaders() map[string]string {
	return nil
}

func (googleProvider) SupportsRefresh() bool {
	return true
}

func (googleProvider) NormalizeTokenResponse(body []byte) (domain.TokenResponse, error) {
	return normalizeStandardResponse(body)
}

// standardTokenEnvelope is the RFC 6749 response shape Google and GitHub share.
type standardTokenEnvelope struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func normalizeStandardResponse(body []byte) (domain.TokenResponse, error) {
	var envelope standardTokenEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.TokenResponse{}, fmt.Errorf("failed to decode token response: %w", err)
	}

	if envelope.Error != "" {
		if envelope.ErrorDescription != "" {
			return domain.TokenResponse{}, fmt.Errorf("provider error: %s: %s", envelope.Error, envelope.ErrorDescription)
		}
		return domain.TokenResponse{}, fmt.Errorf("provider error: %s", envelope.Error)
	}

	if envelope.AccessToken == "" {
		return domain.TokenResponse{}, fmt.Errorf("token response contains no access token")
	}

	return domain.TokenResponse{
		AccessToken:  envelope.AccessToken,
		RefreshToken: envelope.RefreshToken,
		TokenType:    envelope.TokenType,
		ExpiresIn:    envelope.ExpiresIn,
		Scope:        envelope.Scope,
	}, nil
}
