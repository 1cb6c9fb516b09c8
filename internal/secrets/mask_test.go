package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	t.Run("stable for same input", func(t *testing.T) {
		require.Equal(t, Fingerprint("token-a"), Fingerprint("token-a"))
	})

	t.Run("differs for different input", func(t *testing.T) {
		require.NotEqual(t, Fingerprint("token-a"), Fingerprint("token-b"))
	})

	t.Run("does not contain the secret", func(t *testing.T) {
		secret := "cf-api-token-value"
		require.NotContains(t, Fingerprint(secret), secret)
	})
}

func TestMasked(t *testing.T) {
	require.Equal(t, "(unset)", Masked(""))
	require.True(t, strings.HasPrefix(Masked("token"), "***"))
	require.NotContains(t, Masked("token"), "token")
}
