package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestIssueAndRedeem(t *testing.T) {
	store := NewCodeStore(10*time.Minute, 1000)

	code, err := store.Issue("deapi-mcp", "http://localhost:8123/callback", challengeFor("verifier-value"))
	require.NoError(t, err)
	assert.NotEmpty(t, code)

	require.NoError(t, store.Redeem(code, "http://localhost:8123/callback", "verifier-value"))
	assert.Equal(t, 0, store.Len())
}

func TestRedeemIsSingleUse(t *testing.T) {
	store := NewCodeStore(10*time.Minute, 1000)

	code, err := store.Issue("deapi-mcp", "http://localhost:8123/callback", challengeFor("verifier-value"))
	require.NoError(t, err)

	require.NoError(t, store.Redeem(code, "http://localhost:8123/callback", "verifier-value"))
	assert.ErrorIs(t, store.Redeem(code, "http://localhost:8123/callback", "verifier-value"), ErrUnknownCode)
}

func TestRedeemConsumesCodeEvenWhenChecksFail(t *testing.T) {
	store := NewCodeStore(10*time.Minute, 1000)

	code, err := store.Issue("deapi-mcp", "http://localhost:8123/callback", challengeFor("verifier-value"))
	require.NoError(t, err)

	// First attempt fails PKCE; the code must already be gone afterwards.
	assert.ErrorIs(t, store.Redeem(code, "http://localhost:8123/callback", "wrong-verifier"), ErrPKCEMismatch)
	assert.ErrorIs(t, store.Redeem(code, "http://localhost:8123/callback", "verifier-value"), ErrUnknownCode)
}

func TestRedeemValidations(t *testing.T) {
	store := NewCodeStore(10*time.Minute, 1000)

	t.Run("unknown code", func(t *testing.T) {
		assert.ErrorIs(t, store.Redeem("never-issued", "http://localhost/cb", "v"), ErrUnknownCode)
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		code, err := store.Issue("deapi-mcp", "http://localhost:8123/callback", challengeFor("verifier-value"))
		require.NoError(t, err)
		assert.ErrorIs(t, store.Redeem(code, "http://evil.example.com/callback", "verifier-value"), ErrRedirectMismatch)
	})

	t.Run("pkce mismatch", func(t *testing.T) {
		code, err := store.Issue("deapi-mcp", "http://localhost:8123/callback", challengeFor("verifier-value"))
		require.NoError(t, err)
		assert.ErrorIs(t, store.Redeem(code, "http://localhost:8123/callback", "other-verifier"), ErrPKCEMismatch)
	})
}

func TestRedeemExpiredCode(t *testing.T) {
	store := NewCodeStore(10*time.Minute, 1000)

	now := time.Now()
	store.now = func() time.Time { return now }
	code, err := store.Issue("deapi-mcp", "http://localhost:8123/callback", challengeFor("verifier-value"))
	require.NoError(t, err)

	store.now = func() time.Time { return now.Add(10*time.Minute + time.Second) }
	assert.ErrorIs(t, store.Redeem(code, "http://localhost:8123/callback", "verifier-value"), ErrCodeExpired)
}

func TestCapacityWithLazyPruning(t *testing.T) {
	store := NewCodeStore(10*time.Minute, 3)

	now := time.Now()
	store.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		_, err := store.Issue("deapi-mcp", fmt.Sprintf("http://localhost/cb/%d", i), challengeFor("v"))
		require.NoError(t, err)
	}

	// Store full, nothing expired yet.
	_, err := store.Issue("deapi-mcp", "http://localhost/cb/overflow", challengeFor("v"))
	assert.ErrorIs(t, err, ErrStoreFull)
	assert.Equal(t, 3, store.Len())

	// Once the outstanding codes expire, issuing prunes them and succeeds.
	store.now = func() time.Time { return now.Add(11 * time.Minute) }
	code, err := store.Issue("deapi-mcp", "http://localhost/cb/fresh", challengeFor("v"))
	require.NoError(t, err)
	assert.NotEmpty(t, code)
	assert.Equal(t, 1, store.Len())
}

func TestIssuedCodesAreUnique(t *testing.T) {
	store := NewCodeStore(10*time.Minute, 1000)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := store.Issue("deapi-mcp", "http://localhost/cb", challengeFor("v"))
		require.NoError(t, err)
		assert.False(t, seen[code])
		seen[code] = true
	}
}

func TestVerifyPKCE(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.True(t, VerifyPKCE(challengeFor(verifier), verifier))
	assert.False(t, VerifyPKCE(challengeFor(verifier), verifier+"x"))
	assert.False(t, VerifyPKCE("", ""))
}
