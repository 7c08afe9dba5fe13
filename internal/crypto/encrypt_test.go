package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	enc, err := NewAESEncryptor(key)
	require.NoError(t, err)
	return enc
}

func TestGenerateKey_RandomAndSized(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.NotEqual(t, k1, k2)
}

func TestKeyBase64RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	decoded, err := DecodeKeyBase64(EncodeKeyBase64(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	_, err = DecodeKeyBase64(EncodeKeyBase64(make([]byte, 16)))
	assert.ErrorIs(t, err, ErrKeySize)

	_, err = DecodeKeyBase64("not-valid-base64!!!")
	assert.Error(t, err)
}

func TestNewAESEncryptor_KeySize(t *testing.T) {
	for _, n := range []int{0, 16, 24, 31, 33} {
		_, err := NewAESEncryptor(make([]byte, n))
		assert.ErrorIs(t, err, ErrKeySize, "key of %d bytes", n)
	}
}

func TestSealOpen(t *testing.T) {
	enc := newTestEncryptor(t)
	aad := []byte("tenant-a/stripe")

	for _, plaintext := range []string{"sk_test_51H0abc", "", `{"webhook_secret":"whsec_123"}`} {
		sealed, err := enc.Seal([]byte(plaintext), aad)
		require.NoError(t, err)
		assert.NotContains(t, string(sealed), "sk_test")

		opened, err := enc.Open(sealed, aad)
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(opened))
	}
}

func TestSeal_RandomNonce(t *testing.T) {
	enc := newTestEncryptor(t)

	a, err := enc.Seal([]byte("same"), nil)
	require.NoError(t, err)
	b, err := enc.Seal([]byte("same"), nil)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_Rejects(t *testing.T) {
	enc := newTestEncryptor(t)
	other := newTestEncryptor(t)
	aad := []byte("tenant-a/wallet")

	sealed, err := enc.Seal([]byte("secret data"), aad)
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := other.Open(sealed, aad)
		assert.ErrorIs(t, err, ErrOpen)
	})

	t.Run("wrong owner", func(t *testing.T) {
		_, err := enc.Open(sealed, []byte("tenant-b/wallet"))
		assert.ErrorIs(t, err, ErrOpen)
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		if tampered[20] == 'A' {
			tampered[20] = 'B'
		} else {
			tampered[20] = 'A'
		}
		_, err := enc.Open(tampered, aad)
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := enc.Open([]byte(EncodeKeyBase64([]byte("short"))), aad)
		assert.ErrorIs(t, err, ErrShortCipher)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := enc.Open([]byte("not-valid-base64!!!"), aad)
		assert.Error(t, err)
	})
}
