package crypt

import (
	"encoding/base64"
	"testing"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptySecret(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	req := require.New(t)
	c, err := New("test-secret")
	req.NoError(err)

	first, err := c.Encrypt("hello")
	req.NoError(err)
	second, err := c.Encrypt("hello")
	req.NoError(err)

	req.NotEqual(first, second)
	req.NotEqual("hello", first)

	for _, ct := range []string{first, second} {
		pt, err := c.Decrypt(ct)
		req.NoError(err)
		req.Equal("hello", pt)
	}
}

func TestRoundTrip(t *testing.T) {
	c, err := New("test-secret")
	require.NoError(t, err)

	for _, m := range []string{
		"",
		"a",
		"hello world",
		"punctuation !?;:,. and spaces   ",
		"unicode: héllo wörld ✓ 你好",
		"line\nbreaks\tand tabs",
	} {
		ct, err := c.Encrypt(m)
		require.NoError(t, err)
		got, err := c.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestDecrypt_Failures(t *testing.T) {
	c, err := New("test-secret")
	require.NoError(t, err)
	other, err := New("another-secret")
	require.NoError(t, err)

	valid, err := c.Encrypt("hello")
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(valid)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name       string
		cipher     *Cipher
		ciphertext string
	}{
		{"not base64", c, "%%%not-base64%%%"},
		{"too short", c, base64.StdEncoding.EncodeToString([]byte("short"))},
		{"tampered", c, tampered},
		{"wrong key", other, valid},
		{"empty", c, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cipher.Decrypt(tt.ciphertext)
			require.ErrorIs(t, err, apperr.ErrDecryption)
		})
	}
}
