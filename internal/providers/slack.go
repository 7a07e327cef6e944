package providers

import (
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/slack"

	"github.com/toolbridge/toolbridge/internal/domain"
)

type slackProvider struct{}

func (slackProvider) Key() string {
	return "slack"
}

func (slackProvider) Endpoint() oauth2.Endpoint {
	return slack.Endpoint
}

func (slackProvider) DefaultScopes() []string {
	return []string{"chat:write", "channels:read"}
}

// ScopeSeparator is a comma; Slack rejects space-joined scope lists.
func (slackProvider) ScopeSeparator() string {
	return ","
}

func (slackProvider) AuthParams() map[string]string {
	return nil
}

func (slackProvider) TokenRequestHeaders() map[string]string {
	return nil
}

func (slackProvider) SupportsRefresh() bool {
	return true
}

// slackTokenEnvelope nests success/failure in ok/error instead of HTTP status
// or a top-level error field, and omits token_type.
type slackTokenEnvelope struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (slackProvider) NormalizeTokenResponse(body []byte) (domain.TokenResponse, error) {
	var envelope slackTokenEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.TokenResponse{}, fmt.Errorf("failed to decode token response: %w", err)
	}

	if !envelope.OK {
		if envelope.Error == "" {
			return domain.TokenResponse{}, fmt.Errorf("slack token response not ok")
		}
		return domain.TokenResponse{}, fmt.Errorf("provider error: %s", envelope.Error)
	}

	return domain.TokenResponse{
		AccessToken:  envelope.AccessToken,
		RefreshToken: envelope.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    envelope.ExpiresIn,
		Scope:        envelope.Scope,
	}, nil
}
