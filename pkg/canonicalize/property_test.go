//go:build property
// +build property

// Property-based tests for canonical encoding determinism.
package canonicalize_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/chronovault/pkg/canonicalize"
)

// TestCanonicalDeterminism verifies canonical encoding is deterministic.
// Property: JCS(obj) == JCS(obj) for any obj
func TestCanonicalDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical encoding is deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}

			b1, err1 := canonicalize.JCS(obj)
			b2, err2 := canonicalize.JCS(obj)

			if err1 != nil && err2 != nil {
				return true // Both fail consistently
			}
			if err1 != nil || err2 != nil {
				return false // Inconsistent failure
			}

			return string(b1) == string(b2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestCanonicalHashInsensitiveToInsertionOrder verifies that building the
// same logical document in a different key order never changes its hash.
func TestCanonicalHashInsensitiveToInsertionOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hash ignores key insertion order", prop.ForAll(
		func(keys []string, values []string) bool {
			n := len(keys)
			if len(values) < n {
				n = len(values)
			}

			forward := make(map[string]any)
			for i := 0; i < n; i++ {
				forward[keys[i]] = values[i]
			}
			backward := make(map[string]any)
			for i := n - 1; i >= 0; i-- {
				backward[keys[i]] = values[i]
			}

			h1, err1 := canonicalize.CanonicalHash(forward)
			h2, err2 := canonicalize.CanonicalHash(backward)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
