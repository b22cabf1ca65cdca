package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignHMACSHA256 returns HMAC-SHA256(secret, payload).
func SignHMACSHA256(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// VerifyHMACHex checks a hex-encoded HMAC-SHA256 signature in constant time.
// An optional "sha256=" prefix is accepted.
func VerifyHMACHex(secret string, payload []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, SignHMACSHA256(secret, payload))
}

// VerifyHMACBase64 checks a base64-encoded HMAC-SHA256 signature in constant time.
func VerifyHMACBase64(secret string, payload []byte, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, SignHMACSHA256(secret, payload))
}

// VerifyToken compares a shared-secret token in constant time. A "Bearer " prefix is ignored.
func VerifyToken(expected, presented string) bool {
	presented = strings.TrimSpace(presented)
	if len(presented) > 7 && strings.EqualFold(presented[:7], "bearer ") {
		presented = strings.TrimSpace(presented[7:])
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
