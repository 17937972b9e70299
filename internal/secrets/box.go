// Package secrets seals terminal API keys at rest.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Veraticus/tillpoint/internal/common"
)

// Token prefixes.
const (
	SealedPrefix = "enc:v1:"
	PlainPrefix  = "plain:"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// ErrUnavailable is returned when a sealed token is opened without a key.
var ErrUnavailable = errors.New("encryption key not configured")

// Box seals strings with XChaCha20-Poly1305. A Box without a key produces
// tagged plaintext tokens so configuration stays usable in development.
type Box struct {
	key []byte
}

// NewBox creates a box. An empty key selects plaintext mode.
func NewBox(key []byte) (*Box, error) {
	if len(key) == 0 {
		return &Box{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: secret key must be %d bytes, got %d", common.ErrInvalidConfig, KeySize, len(key))
	}
	return &Box{key: append([]byte(nil), key...)}, nil
}

// NewBoxFromBase64 decodes a base64 key and creates a box.
func NewBoxFromBase64(encoded string) (*Box, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return NewBox(nil)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: secret key is not valid base64: %w", common.ErrInvalidConfig, err)
	}
	return NewBox(key)
}

// GenerateKey returns a random base64-encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Available reports whether real encryption is configured.
func (b *Box) Available() bool {
	return len(b.key) > 0
}

// Encrypt seals plaintext, or tags it as plaintext when no key is set.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if !b.Available() {
		return PlainPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Plain tokens open with or
// without a key.
func (b *Box) Decrypt(token string) (string, error) {
	switch {
	case strings.HasPrefix(token, PlainPrefix):
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, PlainPrefix))
		if err != nil {
			return "", corrupt(err)
		}
		return string(raw), nil

	case strings.HasPrefix(token, SealedPrefix):
		if !b.Available() {
			return "", common.NewClassifiedError(common.CodeConfigInvalidCredentials,
				"Stored API key is encrypted but no secret key is configured",
				common.WithCause(ErrUnavailable))
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, SealedPrefix))
		if err != nil {
			return "", corrupt(err)
		}
		aead, err := chacha20poly1305.NewX(b.key)
		if err != nil {
			return "", fmt.Errorf("init cipher: %w", err)
		}
		if len(raw) < aead.NonceSize() {
			return "", corrupt(errors.New("token too short"))
		}
		plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
		if err != nil {
			return "", common.NewClassifiedError(common.CodeConfigInvalidCredentials,
				"Stored API key could not be decrypted with the configured secret key",
				common.WithCause(err))
		}
		return string(plain), nil

	default:
		return "", corrupt(errors.New("unrecognized token format"))
	}
}

func corrupt(err error) error {
	return common.NewClassifiedError(common.CodeSystemDataCorruption,
		"Stored API key is corrupted", common.WithCause(err))
}
