package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"deapi-mcp/pkg/logging"
)

// Redemption failures. All of them map to the invalid_grant error code at
// the token endpoint; the store reports which check failed for logging.
var (
	ErrStoreFull        = errors.New("authorization code store is full")
	ErrUnknownCode      = errors.New("authorization code is unknown or already used")
	ErrCodeExpired      = errors.New("authorization code has expired")
	ErrRedirectMismatch = errors.New("redirect_uri does not match the authorization request")
	ErrPKCEMismatch     = errors.New("PKCE code verifier does not match the challenge")
)

type authCode struct {
	clientID      string
	redirectURI   string
	codeChallenge string
	createdAt     time.Time
	expiresAt     time.Time
}

// CodeStore provides thread-safe, in-memory storage for pending
// authorization codes. Codes are single-use, expire after the configured
// TTL, and are pruned lazily: expired entries are removed when a new code is
// issued, not by a background sweeper.
type CodeStore struct {
	mu       sync.Mutex
	codes    map[string]*authCode
	ttl      time.Duration
	capacity int

	// now is injectable for tests.
	now func() time.Time
}

// NewCodeStore creates a code store with the given lifetime and capacity.
func NewCodeStore(ttl time.Duration, capacity int) *CodeStore {
	return &CodeStore{
		codes:    make(map[string]*authCode),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Issue creates a new single-use authorization code bound to the client,
// redirect URI and PKCE challenge of the authorization request. Expired
// entries are pruned first; when the store is still at capacity afterwards,
// ErrStoreFull is returned and no code is issued.
func (cs *CodeStore) Issue(clientID, redirectURI, codeChallenge string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(buf)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.pruneLocked()
	if len(cs.codes) >= cs.capacity {
		logging.Warn("OAuth", "Authorization code store at capacity (%d), rejecting request", cs.capacity)
		return "", ErrStoreFull
	}

	now := cs.now()
	cs.codes[code] = &authCode{
		clientID:      clientID,
		redirectURI:   redirectURI,
		codeChallenge: codeChallenge,
		createdAt:     now,
		expiresAt:     now.Add(cs.ttl),
	}

	logging.Debug("OAuth", "Issued authorization code for client=%s (%d outstanding)", clientID, len(cs.codes))
	return code, nil
}

// Redeem consumes an authorization code. The entry is removed before any
// check runs, so a second redemption of the same code always fails, even
// when the first one was rejected.
func (cs *CodeStore) Redeem(code, redirectURI, verifier string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entry, exists := cs.codes[code]
	if exists {
		delete(cs.codes, code)
	}
	if !exists {
		return ErrUnknownCode
	}
	if cs.now().After(entry.expiresAt) {
		return ErrCodeExpired
	}
	if entry.redirectURI != redirectURI {
		return ErrRedirectMismatch
	}
	if !VerifyPKCE(entry.codeChallenge, verifier) {
		return ErrPKCEMismatch
	}
	return nil
}

// Len reports the number of outstanding codes, expired entries included.
func (cs *CodeStore) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.codes)
}

func (cs *CodeStore) pruneLocked() {
	now := cs.now()
	count := 0
	for code, entry := range cs.codes {
		if now.After(entry.expiresAt) {
			delete(cs.codes, code)
			count++
		}
	}
	if count > 0 {
		logging.Debug("OAuth", "Pruned %d expired authorization codes", count)
	}
}

// VerifyPKCE checks an S256 code verifier against the challenge recorded at
// authorization time: base64url(sha256(verifier)) without padding must equal
// the challenge exactly.
func VerifyPKCE(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
