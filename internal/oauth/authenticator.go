package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"deapi-mcp/pkg/logging"
)

type contextKey struct{}

var apiTokenContextKey = contextKey{}

// WithAPIToken stores the resolved upstream credential in the context for
// the duration of one request or tool call.
func WithAPIToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, apiTokenContextKey, token)
}

// APITokenFromContext retrieves the upstream credential placed by the
// authenticator. Absence means the call is unauthenticated.
func APITokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(apiTokenContextKey).(string)
	return token, ok && token != ""
}

// Authenticator resolves incoming bearer tokens to the upstream API
// credential. Two shapes are accepted: JWTs issued by this server (the
// credential is decrypted out of the verified token) and raw upstream
// tokens passed through unchanged.
type Authenticator struct {
	codec         *Codec
	publicBaseURL string
}

// NewAuthenticator creates an authenticator backed by the given codec.
func NewAuthenticator(codec *Codec, publicBaseURL string) *Authenticator {
	return &Authenticator{codec: codec, publicBaseURL: publicBaseURL}
}

// Resolve maps a bearer token to the upstream credential. The boolean is
// false when no credential can be derived; that is an authentication
// failure, not an error.
func (a *Authenticator) Resolve(bearer string) (string, bool) {
	if bearer == "" {
		return "", false
	}
	if !IsJWT(bearer) {
		// Raw upstream token passthrough. The upstream API is the
		// authority on whether it is actually valid.
		return bearer, true
	}
	claims := a.codec.VerifyAccessToken(bearer)
	if claims == nil {
		return "", false
	}
	credential, err := a.codec.Decrypt(claims.EncryptedCredential)
	if err != nil {
		logging.Warn("OAuth", "Verified token carried an undecryptable credential")
		return "", false
	}
	return credential, true
}

// Middleware guards an HTTP handler: requests without a resolvable
// credential receive 401 with a WWW-Authenticate challenge pointing at the
// protected resource metadata; successful requests continue with the
// credential stored in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := a.Resolve(bearerFromRequest(r))
		if !ok {
			a.challenge(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAPIToken(r.Context(), credential)))
	})
}

// HTTPContextFunc adapts the authenticator for the MCP streamable HTTP
// transport, which derives each tool-call context from the incoming request.
func (a *Authenticator) HTTPContextFunc(ctx context.Context, r *http.Request) context.Context {
	if credential, ok := APITokenFromContext(r.Context()); ok {
		return WithAPIToken(ctx, credential)
	}
	if credential, ok := a.Resolve(bearerFromRequest(r)); ok {
		return WithAPIToken(ctx, credential)
	}
	return ctx
}

func (a *Authenticator) challenge(w http.ResponseWriter, r *http.Request) {
	base := a.publicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`Bearer resource_metadata="%s/.well-known/oauth-protected-resource"`, base))
	writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "a valid bearer token is required")
}

func bearerFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}
