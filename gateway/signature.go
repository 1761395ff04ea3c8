package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Sign returns the header value the gateway sends for payload, "sha256=<hex>".
func Sign(payload []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against an HMAC-SHA256 of the payload exactly as
// it was received. The payload must never be re-encoded before calling this.
func VerifySignature(payload []byte, header string, secret []byte) bool {
	if len(secret) == 0 || header == "" {
		return false
	}
	expected := Sign(payload, secret)
	if !strings.HasPrefix(header, signaturePrefix) {
		// a bare hex digest is accepted too, compared byte for byte
		expected = strings.TrimPrefix(expected, signaturePrefix)
	}
	return hmac.Equal([]byte(header), []byte(expected))
}
