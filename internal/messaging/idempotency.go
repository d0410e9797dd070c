package messaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// idempotencyKeyLength is the number of hex characters kept from the content hash.
const idempotencyKeyLength = 32

type idempotencyCtxKey struct{}

// IdempotencyKey identifies an outbound reply. The inbound message ID is
// used when present; otherwise the key is derived from recipient and body,
// so the same text to the same phone always yields the same key.
func IdempotencyKey(messageID, to, body string) string {
	if messageID != "" {
		return messageID
	}
	sum := sha256.Sum256([]byte(to + ":" + body))
	return hex.EncodeToString(sum[:])[:idempotencyKeyLength]
}

// WithIdempotencyKey attaches key to ctx for the sending service.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyCtxKey{}, key)
}

// IdempotencyKeyFromContext returns the key attached by WithIdempotencyKey.
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyCtxKey{}).(string)
	return key
}
