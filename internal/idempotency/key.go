// Package idempotency provides the deduplication layer shared by the
// ledger and the reservation engine: key validation and extraction, plus
// a durable store of (key, scope) results backed by a storage uniqueness
// constraint.
package idempotency

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
)

// Header names and the body field a caller may supply the key through.
const (
	HeaderKey    = "Idempotency-Key"
	HeaderKeyAlt = "X-Idempotency-Key"
	BodyField    = "pointsIdempotencyKey"
)

const maxKeyLength = 128

// queryOperatorChars are characters reserved for structured query
// operators. A key containing any of them never reaches the storage
// layer; this is the boundary that keeps injection-shaped input out.
const queryOperatorChars = "${}[]"

// ValidateKey checks that a caller-supplied idempotency key is a
// well-formed UUID string. Non-string input cannot reach this function
// (the type system enforces primitives), so this is the complete first
// line of defense: empty, oversized, operator-bearing or malformed keys
// all fail fast before any lookup.
func ValidateKey(value string) error {
	if value == "" {
		return fmt.Errorf("%w: key is required", models.ErrInvalidIdempotencyKey)
	}
	if len(value) > maxKeyLength {
		return fmt.Errorf("%w: key exceeds %d characters", models.ErrInvalidIdempotencyKey, maxKeyLength)
	}
	if strings.ContainsAny(value, queryOperatorChars) {
		return fmt.Errorf("%w: key contains reserved characters", models.ErrInvalidIdempotencyKey)
	}
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%w: key must be a UUID", models.ErrInvalidIdempotencyKey)
	}
	return nil
}

// ExtractKey locates an idempotency key in the request headers or the
// decoded body. Absence is not an error; the empty string is returned and
// the caller decides whether a key is required. A body value that is not
// a plain string (for example a structured object) is treated as absent,
// which downstream validation then rejects.
func ExtractKey(headers http.Header, body map[string]interface{}) string {
	if headers != nil {
		if v := headers.Get(HeaderKey); v != "" {
			return v
		}
		if v := headers.Get(HeaderKeyAlt); v != "" {
			return v
		}
	}
	if body != nil {
		if v, ok := body[BodyField].(string); ok {
			return v
		}
	}
	return ""
}
