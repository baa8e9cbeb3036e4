package cipher

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/Tyrowin/taptik/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New("test-secret")
	require.NoError(t, err)
	return c
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, common.ErrConfiguration)
}

func TestDeriveKeyIsSHA256(t *testing.T) {
	want := sha256.Sum256([]byte("test-secret"))
	require.Equal(t, want, DeriveKey([]byte("test-secret")))
	require.Equal(t, DeriveKey([]byte("x")), DeriveKey([]byte("x")))
	require.NotEqual(t, DeriveKey([]byte("x")), DeriveKey([]byte("y")))
}

func TestRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{
		"",
		"hi",
		"exactly sixteen!",
		"unicode: héllo wörld ✓ 你好",
		strings.Repeat("long message ", 200),
	} {
		ct, iv, err := c.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := c.Decrypt(ct, iv)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	c := newTestCipher(t)

	ct1, iv1, err := c.Encrypt("same text")
	require.NoError(t, err)
	ct2, iv2, err := c.Encrypt("same text")
	require.NoError(t, err)

	require.NotEqual(t, iv1, iv2)
	require.NotEqual(t, ct1, ct2)

	raw, err := hex.DecodeString(iv1)
	require.NoError(t, err)
	require.Len(t, raw, IVSize)
}

func TestNewIV(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.NewIV()
	require.NoError(t, err)
	b, err := c.NewIV()
	require.NoError(t, err)

	require.Len(t, a, IVSize*2)
	require.NotEqual(t, a, b)
}

func TestDecryptRejectsInconsistentInput(t *testing.T) {
	c := newTestCipher(t)
	ct, iv, err := c.Encrypt("hello there")
	require.NoError(t, err)

	cases := map[string][2]string{
		"not hex ciphertext": {"zz", iv},
		"not hex iv":         {ct, "zz"},
		"short iv":           {ct, iv[:8]},
		"truncated":          {ct[:len(ct)-2], iv},
		"empty ciphertext":   {"", iv},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(in[0], in[1])
			require.ErrorIs(t, err, common.ErrCrypto)
		})
	}
}

func TestDecryptWithWrongKeyNeverYieldsPlaintext(t *testing.T) {
	c := newTestCipher(t)
	other, err := New("another-secret")
	require.NoError(t, err)

	ct, iv, err := c.Encrypt("top secret words")
	require.NoError(t, err)

	got, err := other.Decrypt(ct, iv)
	if err != nil {
		require.ErrorIs(t, err, common.ErrCrypto)
		return
	}
	require.NotEqual(t, "top secret words", got)
}

func TestUnpadRejectsCorruptPadding(t *testing.T) {
	block := make([]byte, 16)
	block[15] = 4
	block[14] = 3
	_, err := unpad(block)
	require.ErrorIs(t, err, common.ErrCrypto)

	block[15] = 0
	_, err = unpad(block)
	require.ErrorIs(t, err, common.ErrCrypto)
}
