// Package crypto seals gateway credentials before they are written to the
// payment_settings table.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	ErrKeySize     = errors.New("encryption key must be 32 bytes for AES-256")
	ErrShortCipher = errors.New("ciphertext too short")
	ErrOpen        = errors.New("ciphertext could not be authenticated")
)

// Encryptor seals and opens secrets. aad binds a ciphertext to its owner
// (for example tenant and provider) so a row copied to another owner fails
// to open.
type Encryptor interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(ciphertext, aad []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor using AES-256-GCM.
// Output format: base64(nonce || ciphertext || tag).
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor creates an AES-256-GCM encryptor.
func NewAESEncryptor(key []byte) (*AESEncryptor, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &AESEncryptor{aead: aead}, nil
}

// Seal encrypts plaintext with a random nonce.
func (e *AESEncryptor) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, aad)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Open reverses Seal. A wrong key, wrong aad or any altered byte yields ErrOpen.
func (e *AESEncryptor) Open(ciphertext, aad []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(ciphertext)))
	n, err := base64.StdEncoding.Decode(raw, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	raw = raw[:n]

	ns := e.aead.NonceSize()
	if len(raw) < ns+e.aead.Overhead() {
		return nil, ErrShortCipher
	}
	plain, err := e.aead.Open(nil, raw[:ns], raw[ns:], aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}

// GenerateKey returns a random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncodeKeyBase64 encodes an encryption key for storage in env vars.
func EncodeKeyBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKeyBase64 decodes a key read from SETTINGS_ENCRYPTION_KEY.
func DecodeKeyBase64(encodedKey string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return key, nil
}
