package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Mindburn-Labs/chronovault/pkg/canonicalize"
)

// ComputeHash returns the hex SHA-256 digest chaining e to its predecessor:
//
//	SHA-256(prev_hash | canonical(body) | secret)
//
// where body is HashBody(). The shared secret restricts meaningful
// verification to parties who hold it; there is no public verifiability.
// e.PrevHash must already be set.
func ComputeHash(e *Event, secret string) (string, error) {
	canonical, err := canonicalize.JCS(e.HashBody())
	if err != nil {
		return "", fmt.Errorf("event: canonicalize hash body: %w", err)
	}
	sum := sha256.Sum256([]byte(e.PrevHash + "|" + string(canonical) + "|" + secret))
	return hex.EncodeToString(sum[:]), nil
}

// Validate checks the fields a caller must supply before an append.
func Validate(stream, eventType, actor string) error {
	if stream == "" {
		return ErrMissingStream
	}
	if eventType == "" {
		return ErrMissingType
	}
	if actor == "" {
		return ErrMissingActor
	}
	return nil
}
