package gateway

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyHMACHex(t *testing.T) {
	body := []byte(`{"id":"chk_1","result":{"code":"000.000.000"}}`)
	sig := hex.EncodeToString(SignHMACSHA256("s3cret", body))

	assert.True(t, VerifyHMACHex("s3cret", body, sig))
	assert.True(t, VerifyHMACHex("s3cret", body, "sha256="+sig))
	assert.False(t, VerifyHMACHex("other", body, sig))
	assert.False(t, VerifyHMACHex("s3cret", []byte(`{"id":"chk_2","result":{"code":"000.000.000"}}`), sig))
	assert.False(t, VerifyHMACHex("s3cret", body, "zz"))
	assert.False(t, VerifyHMACHex("s3cret", body, ""))
}

func TestVerifyHMACBase64(t *testing.T) {
	body := []byte(`{"id":"pay_1","status":"authorized"}`)
	sig := base64.StdEncoding.EncodeToString(SignHMACSHA256("k", body))

	assert.True(t, VerifyHMACBase64("k", body, sig))
	assert.False(t, VerifyHMACBase64("k", append(body, ' '), sig))
	assert.False(t, VerifyHMACBase64("k", body, hex.EncodeToString(SignHMACSHA256("k", body))))
}

func TestVerifyToken(t *testing.T) {
	assert.True(t, VerifyToken("tok", "tok"))
	assert.True(t, VerifyToken("tok", "Bearer tok"))
	assert.True(t, VerifyToken("tok", "bearer  tok "))
	assert.False(t, VerifyToken("tok", "Bearer tok2"))
	assert.False(t, VerifyToken("tok", ""))
	assert.False(t, VerifyToken("tok", "Bearer "))
}
