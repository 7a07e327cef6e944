package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	cipherKeySalt = "toolbridge-token-cipher"
	cipherKeyInfo = "token-encryption-key"
)

// TokenCipher encrypts OAuth tokens and API keys at rest with AES-256-GCM.
// The symmetric key is derived from configured key material via HKDF-SHA256.
// Each encryption uses a fresh random 12-byte nonce, prefixed to the
// ciphertext; the stored form is standard base64.
type TokenCipher struct {
	aead cipher.AEAD
}

func NewTokenCipher(keyMaterial string) (*TokenCipher, error) {
	if keyMaterial == "" {
		return nil, errors.New("token cipher key material is empty")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(keyMaterial), []byte(cipherKeySalt), []byte(cipherKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive cipher key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext). The empty
// string encrypts to the empty string so absent secrets stay absent.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *TokenCipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext shorter than nonce")
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
