package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWebhookKey(t *testing.T) {
	at := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("AST", 3*3600))

	key := WebhookKey("tabby", "chk/../1", at)

	assert.True(t, strings.HasPrefix(key, "webhooks/tabby/2026/03/07/chk_.._1-"), key)
	assert.True(t, strings.HasSuffix(key, ".json"))
}

func TestWebhookKey_EmptyCheckout(t *testing.T) {
	key := WebhookKey("hyperpay", "", time.Unix(0, 0))
	assert.Contains(t, key, "/unknown-")
}
