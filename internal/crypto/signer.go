package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignPayload computes the lowercase hex HMAC-SHA256 of the exact payload
// bytes. Webhook deliveries attach it as "sha256=<hex>".
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HashAPIKey returns the SHA-256 hex digest of an API key. Only the digest is
// stored for lookup; the key itself is encrypted separately.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
