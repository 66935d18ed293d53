// Package secrets derives and verifies per-bot webhook secrets and seals
// bot tokens at rest.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Verifier checks webhook secret tokens. Each bot gets a deterministic
// secret derived from its UUID with a server-wide key, so the secret can be
// recomputed at verification time without storing it. A separate global
// secret covers the shared builder endpoint.
type Verifier struct {
	serverKey    []byte
	globalSecret string
}

// NewVerifier creates a Verifier from the server-wide key and the shared
// endpoint secret.
func NewVerifier(serverKey []byte, globalSecret string) *Verifier {
	return &Verifier{serverKey: serverKey, globalSecret: globalSecret}
}

// Derive computes the webhook secret for a bot UUID: the hex-encoded
// HMAC-SHA256 of the UUID under the server key. Deterministic and one-way.
func (v *Verifier) Derive(botUUID string) string {
	mac := hmac.New(sha256.New, v.serverKey)
	mac.Write([]byte(botUUID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the bot's secret and compares it against the provided
// value in constant time.
func (v *Verifier) Verify(botUUID, provided string) bool {
	if provided == "" {
		return false
	}
	expected := v.Derive(botUUID)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// VerifyGlobal compares the provided value against the shared endpoint
// secret in constant time. It never matches when no global secret is
// configured.
func (v *Verifier) VerifyGlobal(provided string) bool {
	if v.globalSecret == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(v.globalSecret), []byte(provided)) == 1
}

// Box seals and opens bot tokens with AES-256-GCM. Tokens are stored
// sealed; opening is an explicit call so the encryption boundary stays
// visible at the call site.
type Box struct {
	aead cipher.AEAD
}

// ErrInvalidKey reports a key of the wrong size.
var ErrInvalidKey = errors.New("encryption key must be 32 bytes")

// NewBox creates a Box from a 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts a token for storage, returning a base64 string with the
// nonce prepended. Sealing an empty token returns an empty string.
func (b *Box) Seal(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed token. Opening an empty string returns an empty
// token.
func (b *Box) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed token: %w", err)
	}
	if len(raw) < b.aead.NonceSize() {
		return "", errors.New("sealed token too short")
	}
	nonce, ciphertext := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	token, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed token: %w", err)
	}
	return string(token), nil
}
