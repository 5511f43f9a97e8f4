// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAdminKey = errors.New("invalid admin key")
	ErrInvalidToken    = errors.New("invalid token format")
)

// Participant key prefixes. The two namespaces never collide, and callers
// outside this package only ever see the opaque key.
const (
	voterKeyPrefix  = "voter:"
	originKeyPrefix = "origin:"
)

// GenerateID creates a random hex ID of the specified byte length
func GenerateID(byteLen int) (string, error) {
	b := make([]byte, byteLen)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateAdminKey creates an HMAC-based admin key for a poll
// This is deterministic and verifiable
func GenerateAdminKey(pollID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(pollID))
	sum := h.Sum(nil)
	// Use URL-safe base64 and trim padding for cleaner keys
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateAdminKey checks if the provided admin key is valid for the poll
func ValidateAdminKey(pollID, adminKey, salt string) error {
	expected := GenerateAdminKey(pollID, salt)
	if !hmac.Equal([]byte(adminKey), []byte(expected)) {
		return ErrInvalidAdminKey
	}
	return nil
}

// GenerateVoterToken creates a random secure bearer token for a voter.
// Only its hash is stored.
func GenerateVoterToken() (string, error) {
	b := make([]byte, 24) // 24 bytes = 192 bits of entropy
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate voter token: %w", err)
	}
	// URL-safe base64 without padding
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "="), nil
}

// ValidateTokenFormat rejects values that cannot be a token from GenerateVoterToken.
func ValidateTokenFormat(token string) error {
	if len(token) != 32 {
		return ErrInvalidToken
	}
	if _, err := base64.RawURLEncoding.DecodeString(token); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashIP creates a one-way hash of an IP address for privacy
// Includes salt to prevent rainbow table attacks
func HashIP(ip, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(ip))
	sum := h.Sum(nil)
	// Return first 16 hex chars (64 bits) - enough for deduplication
	return hex.EncodeToString(sum[:8])
}

// VoterKey is the participant key for an authenticated voter.
func VoterKey(voterID string) string {
	return voterKeyPrefix + voterID
}

// OriginKey is the participant key for an anonymous caller: a salted hash of
// the network origin. It deters trivial repeat voting; it is not an identity.
func OriginKey(origin, salt string) string {
	return originKeyPrefix + HashIP(origin, salt)
}

// Claims is the externally supplied admin allow-list, keyed by identity hash.
type Claims struct {
	admins map[string]struct{}
}

// NewClaims builds claims from identity lookup hashes.
func NewClaims(adminHashes []string) Claims {
	admins := make(map[string]struct{}, len(adminHashes))
	for _, h := range adminHashes {
		if h != "" {
			admins[h] = struct{}{}
		}
	}
	return Claims{admins: admins}
}

// IsAdmin reports whether the identity hash is on the allow-list.
func (c Claims) IsAdmin(identityHash string) bool {
	_, ok := c.admins[identityHash]
	return ok
}
