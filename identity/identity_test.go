// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package identity

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/ballotbox/apperr"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodecFromHex(testKey)
	require.NoError(t, err)
	return c
}

func TestNewCodecFromHex_RejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "zz", "0001", strings.Repeat("ab", 31)} {
		_, err := NewCodecFromHex(key)
		require.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestHash_KnownValue(t *testing.T) {
	// sha256("abc")
	require.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		Hash("abc"),
	)
}

func TestEncrypt_FreshNonce(t *testing.T) {
	c := newTestCodec(t)

	a, err := c.Encrypt("alice@example.com")
	require.NoError(t, err)
	b, err := c.Encrypt("alice@example.com")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestDecrypt_FailsClosed(t *testing.T) {
	c := newTestCodec(t)

	ct, err := c.Encrypt("alice@example.com")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	tests := []struct {
		name  string
		input string
	}{
		{"tampered tag", tampered},
		{"not base64", "%%%"},
		{"too short", base64.RawURLEncoding.EncodeToString([]byte("short"))},
		{"plaintext", "alice@example.com"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decrypt(tt.input)
			require.True(t, errors.Is(err, apperr.ErrDecrypt))
			require.Empty(t, got)
		})
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	c := newTestCodec(t)
	other, err := NewCodecFromHex(strings.Repeat("42", KeySize))
	require.NoError(t, err)

	ct, err := c.Encrypt("bob@example.com")
	require.NoError(t, err)

	_, err = other.Decrypt(ct)
	require.ErrorIs(t, err, apperr.ErrDecrypt)
	require.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestProtect_RevealRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	p, err := c.Protect("  Alice@Example.COM ")
	require.NoError(t, err)
	require.Equal(t, LookupHash("alice@example.com"), p.Hash)

	got, err := c.Reveal(p)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got)
}

func TestReveal_DetectsDriftedPair(t *testing.T) {
	c := newTestCodec(t)

	p, err := c.Protect("alice@example.com")
	require.NoError(t, err)
	q, err := c.Protect("mallory@example.com")
	require.NoError(t, err)

	_, err = c.Reveal(Protected{Hash: p.Hash, Ciphertext: q.Ciphertext})
	require.ErrorIs(t, err, apperr.ErrDecrypt)
}

func TestCodecProperties(t *testing.T) {
	c := newTestCodec(t)
	properties := gopter.NewProperties(nil)

	properties.Property("decrypt inverts encrypt", prop.ForAll(
		func(s string) bool {
			ct, err := c.Encrypt(s)
			if err != nil {
				return false
			}
			pt, err := c.Decrypt(ct)
			return err == nil && pt == s
		},
		gen.AnyString(),
	))

	properties.Property("hash is stable", prop.ForAll(
		func(s string) bool {
			return Hash(s) == Hash(s) && c.Hash(s) == Hash(s)
		},
		gen.AnyString(),
	))

	properties.Property("two encryptions differ", prop.ForAll(
		func(s string) bool {
			a, errA := c.Encrypt(s)
			b, errB := c.Encrypt(s)
			return errA == nil && errB == nil && a != b
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
