package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

func mac(secret string, payload []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return h.Sum(nil)
}

// SignHex returns "sha256=<hex HMAC-SHA256>" for payload.
func SignHex(secret string, payload []byte) string {
	return "sha256=" + hex.EncodeToString(mac(secret, payload))
}

// SignBase64 returns base64(HMAC-SHA256) for payload.
func SignBase64(secret string, payload []byte) string {
	return base64.StdEncoding.EncodeToString(mac(secret, payload))
}

// verifyHex checks a "sha256=<hex>" header in constant time.
func verifyHex(secret string, payload []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac(secret, payload))
}

// verifyBase64 checks a base64 HMAC header in constant time.
func verifyBase64(secret string, payload []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac(secret, payload))
}
