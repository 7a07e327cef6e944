package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateVerifier returns a fresh PKCE code verifier: 32 cryptographically
// random bytes, URL-safe base64 without padding.
func GenerateVerifier() (string, error) {
	return randomToken()
}

// GenerateState returns a random state token for CSRF binding, generated the
// same way as a verifier but never derived from one.
func GenerateState() (string, error) {
	return randomToken()
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ChallengeS256 derives the S256 code challenge sent to the provider.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// HashVerifier returns the SHA-256 hex digest of a verifier. The hash is the
// only form the transaction store ever sees.
func HashVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return hex.EncodeToString(sum[:])
}
