// Package secrets provides masked references for credentials so API tokens
// and tunnel secrets can be named in logs and responses without ever being
// echoed.
package secrets

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// Fingerprint returns a short, stable reference for a secret value:
// base58-encoded prefix of its SHA-256 digest. Two tenants with the same
// token get the same fingerprint; the token itself is not recoverable.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base58.Encode(sum[:8])
}

// Masked renders a secret for display: its fingerprint wrapped in a fixed
// redaction marker.
func Masked(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "***" + Fingerprint(secret)
}
