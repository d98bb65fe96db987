// Package auth guards the API with bearer keys. Keys are stored as bcrypt
// hashes in the config; a verified key is remembered by its SHA-256 digest so
// bcrypt runs once per key per process.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/normanking/concierge/internal/config"
)

// KeyPrefix marks generated API keys.
const KeyPrefix = "cgk_"

// AuthError is returned to clients as {"error": code, "message": message}.
type AuthError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *AuthError) Error() string {
	return e.Message
}

// Common errors.
var (
	ErrMissingToken = &AuthError{Code: "MISSING_TOKEN", Message: "authorization token required"}
	ErrInvalidToken = &AuthError{Code: "INVALID_TOKEN", Message: "invalid API key"}
)

// Keyring verifies API keys against configured bcrypt hashes.
type Keyring struct {
	keys []config.APIKey

	mu       sync.RWMutex
	verified map[string]string // sha256(raw) -> key name
}

// NewKeyring creates a keyring. Entries without a hash are ignored.
func NewKeyring(keys []config.APIKey) *Keyring {
	k := &Keyring{verified: make(map[string]string)}
	for _, key := range keys {
		if key.Hash != "" {
			k.keys = append(k.keys, key)
		}
	}
	return k
}

// Enabled reports whether any key is configured. An empty keyring lets every
// request through.
func (k *Keyring) Enabled() bool {
	return k != nil && len(k.keys) > 0
}

// Verify returns the name of the key matching raw.
func (k *Keyring) Verify(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingToken
	}
	digest := hashToken(raw)

	k.mu.RLock()
	name, ok := k.verified[digest]
	k.mu.RUnlock()
	if ok {
		return name, nil
	}

	for _, key := range k.keys {
		if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(raw)) == nil {
			k.mu.Lock()
			k.verified[digest] = key.Name
			k.mu.Unlock()
			return key.Name, nil
		}
	}
	return "", ErrInvalidToken
}

// GenerateKey returns a new random API key and its bcrypt hash.
func GenerateKey(cost int) (raw, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}
	raw = KeyPrefix + base64.RawURLEncoding.EncodeToString(b)

	hash, err = HashKey(raw, cost)
	if err != nil {
		return "", "", err
	}
	return raw, hash, nil
}

// HashKey bcrypt-hashes a raw key. A zero cost uses bcrypt.DefaultCost.
func HashKey(raw string, cost int) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("empty key")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(h), nil
}

// hashToken creates a SHA-256 hash of a token.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
