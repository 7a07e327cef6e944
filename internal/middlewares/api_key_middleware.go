package middlewares

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v3"

	"github.com/toolbridge/toolbridge/internal/crypto"
)

// APIKeyMiddleware guards the API with a static key. The configuration holds
// only the SHA-256 digest of the key; the presented key is hashed and compared
// in constant time.
func APIKeyMiddleware(apiKeyHash string) fiber.Handler {
	return func(c fiber.Ctx) error {
		presented := c.Get("X-API-Key")
		if presented == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key required",
			})
		}

		presentedHash := crypto.HashAPIKey(presented)
		if subtle.ConstantTimeCompare([]byte(presentedHash), []byte(apiKeyHash)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}
