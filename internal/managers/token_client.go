package managers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/toolbridge/toolbridge/internal/domain"
	"github.com/toolbridge/toolbridge/internal/providers"
)

// requestToken posts a form-encoded request to the provider's token endpoint
// and normalizes the response through the provider adapter. Used by both the
// authorization-code exchange and the refresh grant.
func requestToken(ctx context.Context, client *http.Client, provider providers.Provider, form url.Values) (domain.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.Endpoint().TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.TokenResponse{}, fmt.Errorf("failed to build token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, value := range provider.TokenRequestHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return domain.TokenResponse{}, domain.NewTransientError("token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.TokenResponse{}, domain.NewTransientError("failed to read token response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.TokenResponse{}, domain.NewTerminalRemoteError(
			fmt.Sprintf("token endpoint returned %d", resp.StatusCode), nil)
	}

	token, err := provider.NormalizeTokenResponse(body)
	if err != nil {
		return domain.TokenResponse{}, domain.NewTerminalRemoteError("token exchange rejected", err)
	}

	return token, nil
}

// splitScopes breaks a provider-reported scope string on spaces and commas.
func splitScopes(scope string) []string {
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
