// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package identity

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/danielhkuo/ballotbox/apperr"
)

// KeySize is the length of the server-held encryption key in bytes.
const KeySize = chacha20poly1305.KeySize

var ErrInvalidKey = errors.New("encryption key must be 32 bytes of hex")

// Protected is a hash/ciphertext pair derived from one identifying value.
// Both halves are produced together by Codec.Protect and are never updated separately.
type Protected struct {
	Hash       string
	Ciphertext string
}

// Codec hashes identifying fields for lookup and encrypts them for storage.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a codec from a raw 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Codec{aead: aead}, nil
}

// NewCodecFromHex creates a codec from a hex-encoded key, as stored in config.
func NewCodecFromHex(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return NewCodec(key)
}

// Hash returns the hex SHA-256 of value. It is keyless and stable across processes,
// so it is safe to use as a lookup key.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Hash is the method form of the package-level Hash.
func (c *Codec) Hash(value string) string {
	return Hash(value)
}

// Encrypt seals value with a fresh random nonce. The output is
// base64url(nonce || ciphertext || tag).
func (c *Codec) Encrypt(value string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(value)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed input or
// authentication failure returns apperr.ErrDecrypt; there is no fallback.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", apperr.ErrDecrypt)
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", apperr.ErrDecrypt)
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrDecrypt, err)
	}
	return string(plain), nil
}

// Protect normalizes an email address and derives both stored representations.
func (c *Codec) Protect(email string) (Protected, error) {
	normalized := NormalizeEmail(email)
	ct, err := c.Encrypt(normalized)
	if err != nil {
		return Protected{}, err
	}
	return Protected{Hash: Hash(normalized), Ciphertext: ct}, nil
}

// Reveal decrypts the stored copy and checks it still matches its hash.
func (c *Codec) Reveal(p Protected) (string, error) {
	value, err := c.Decrypt(p.Ciphertext)
	if err != nil {
		return "", err
	}
	if Hash(value) != p.Hash {
		return "", fmt.Errorf("%w: hash mismatch", apperr.ErrDecrypt)
	}
	return value, nil
}

// NormalizeEmail trims and lowercases an address so equal addresses hash equally.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LookupHash is the hash used to find a record by email.
func LookupHash(email string) string {
	return Hash(NormalizeEmail(email))
}
