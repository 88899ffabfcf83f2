package oauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"deapi-mcp/pkg/logging"
)

// Audience values separate the two token classes. An access token can never
// be replayed at the refresh grant and vice versa.
const (
	AudienceAccess  = "deapi-mcp-api"
	AudienceRefresh = "deapi-mcp-refresh"

	AccessTokenTTL  = time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour

	refreshTokenType = "refresh"
)

// ErrDecryption is returned when an embedded credential cannot be decrypted.
// It indicates a forged or foreign token, never a server fault.
var ErrDecryption = errors.New("credential decryption failed")

// TokenClaims is the claim set of every token this server issues. The
// upstream API credential travels inside the token, encrypted, so the server
// itself stays stateless.
type TokenClaims struct {
	EncryptedCredential string `json:"deapi_token_enc"`
	TokenType           string `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies the JWTs issued by the authorization server and
// encrypts the upstream credential embedded in them. Signing uses HS256 with
// the raw secret; encryption uses AES-256-GCM keyed by SHA-256 of the same
// secret, so a single configured value drives both.
type Codec struct {
	signingKey []byte
	aead       cipher.AEAD
	issuer     string
	now        func() time.Time
}

// NewCodec creates a codec from the configured signing secret. An empty
// secret is replaced by an ephemeral random one; tokens issued with it become
// invalid when the process restarts.
func NewCodec(secret, issuer string) (*Codec, error) {
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral signing secret: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(buf)
		logging.Warn("OAuth", "No signing secret configured, using an ephemeral one; issued tokens will not survive a restart")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}

	return &Codec{
		signingKey: []byte(secret),
		aead:       aead,
		issuer:     issuer,
		now:        time.Now,
	}, nil
}

// Encrypt seals the upstream credential. The output is
// base64url(nonce || ciphertext) with a fresh random nonce per call, so
// encrypting the same credential twice yields different strings.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed or tampered input yields
// ErrDecryption.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryption
	}
	if len(raw) <= c.aead.NonceSize() {
		return "", ErrDecryption
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// MintAccessToken issues a one-hour access token carrying the encrypted
// upstream credential.
func (c *Codec) MintAccessToken(clientID, credential string) (string, error) {
	return c.mint(clientID, credential, AudienceAccess, AccessTokenTTL, "")
}

// MintRefreshToken issues a thirty-day refresh token. The token_type claim
// marks it so an access token can never be accepted in its place.
func (c *Codec) MintRefreshToken(clientID, credential string) (string, error) {
	return c.mint(clientID, credential, AudienceRefresh, RefreshTokenTTL, refreshTokenType)
}

func (c *Codec) mint(clientID, credential, audience string, ttl time.Duration, tokenType string) (string, error) {
	enc, err := c.Encrypt(credential)
	if err != nil {
		return "", err
	}
	now := c.now()
	claims := TokenClaims{
		EncryptedCredential: enc,
		TokenType:           tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   clientID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
}

// VerifyAccessToken validates signature, expiry and the access audience.
// Returns nil for any invalid token; verification failure is an expected
// outcome, not an error.
func (c *Codec) VerifyAccessToken(token string) *TokenClaims {
	return c.verify(token, AudienceAccess)
}

// VerifyRefreshToken validates signature, expiry, the refresh audience and
// the refresh type marker. Returns nil for any invalid token.
func (c *Codec) VerifyRefreshToken(token string) *TokenClaims {
	claims := c.verify(token, AudienceRefresh)
	if claims == nil || claims.TokenType != refreshTokenType {
		return nil
	}
	return claims
}

func (c *Codec) verify(token, audience string) *TokenClaims {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return c.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		logging.Debug("OAuth", "Token verification failed: %v", err)
		return nil
	}
	return claims
}

// IsJWT reports whether a bearer token looks like a JWT issued by this
// server (three dot-separated segments). Anything else is treated as a raw
// upstream API token.
func IsJWT(token string) bool {
	return strings.Count(token, ".") == 2
}
