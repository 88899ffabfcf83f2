package oauth

import (
	"encoding/json"
	"net/http"
	"net/url"

	"deapi-mcp/pkg/logging"
)

// minClientSecretLength is the only validation applied to the client_secret.
// The secret is the caller's upstream API token; its real check happens when
// the upstream rejects or accepts it.
const minClientSecretLength = 10

// TokenResponse is the success body of the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ErrorResponse is the JSON error envelope used by all OAuth endpoints.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Handler implements the authorization server endpoints: the two well-known
// metadata documents, /authorize and /token. It bridges agent-side OAuth to
// a single opaque upstream API token; the client_secret presented at the
// token endpoint IS that upstream token.
type Handler struct {
	codec         *Codec
	codes         *CodeStore
	clientID      string
	publicBaseURL string
}

// NewHandler creates the endpoint handler. publicBaseURL may be empty, in
// which case issuer URLs are derived from each request.
func NewHandler(codec *Codec, codes *CodeStore, clientID, publicBaseURL string) *Handler {
	return &Handler{
		codec:         codec,
		codes:         codes,
		clientID:      clientID,
		publicBaseURL: publicBaseURL,
	}
}

// BaseURL returns the externally visible origin for the given request:
// the configured public base URL when set, otherwise scheme and host taken
// from the request (honoring X-Forwarded-Proto behind a proxy).
func (h *Handler) BaseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// ServeAuthorizationServerMetadata handles
// /.well-known/oauth-authorization-server (RFC 8414).
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	base := h.BaseURL(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                base,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "client_credentials", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
	})
}

// ServeProtectedResourceMetadata handles
// /.well-known/oauth-protected-resource (RFC 9728).
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	base := h.BaseURL(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource":                 base + "/mcp",
		"authorization_servers":    []string{base},
		"bearer_methods_supported": []string{"header"},
	})
}

// ServeAuthorize handles GET /authorize. Validation order matters: client_id
// and redirect_uri problems are reported directly as JSON because no trusted
// redirect target exists yet; everything after a validated redirect_uri is
// reported by redirecting with error parameters, per RFC 6749.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("client_id") != h.clientID {
		writeOAuthError(w, http.StatusUnauthorized, "unauthorized_client", "unknown client_id")
		return
	}

	redirectURI := q.Get("redirect_uri")
	if !validRedirectURI(redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri must be an absolute http or https URL")
		return
	}

	state := q.Get("state")

	if q.Get("response_type") != "code" {
		redirectWithError(w, r, redirectURI, "unsupported_response_type", "only response_type=code is supported", state)
		return
	}

	challenge := q.Get("code_challenge")
	if challenge == "" || q.Get("code_challenge_method") != "S256" {
		redirectWithError(w, r, redirectURI, "invalid_request", "PKCE with code_challenge_method=S256 is required", state)
		return
	}

	code, err := h.codes.Issue(h.clientID, redirectURI, challenge)
	if err != nil {
		logging.Error("OAuth", err, "Failed to issue authorization code")
		redirectWithError(w, r, redirectURI, "server_error", "could not issue authorization code", state)
		return
	}

	target, _ := url.Parse(redirectURI)
	params := target.Query()
	params.Set("code", code)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// ServeToken handles POST /token for the authorization_code,
// client_credentials and refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case "authorization_code", "client_credentials", "refresh_token":
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code, client_credentials or refresh_token")
		return
	}

	if r.PostFormValue("client_id") != h.clientID {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client_id")
		return
	}

	switch grantType {
	case "authorization_code":
		h.tokenAuthorizationCode(w, r)
	case "client_credentials":
		h.tokenClientCredentials(w, r)
	case "refresh_token":
		h.tokenRefresh(w, r)
	}
}

func (h *Handler) tokenAuthorizationCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostFormValue("code")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	if err := h.codes.Redeem(code, r.PostFormValue("redirect_uri"), r.PostFormValue("code_verifier")); err != nil {
		logging.Debug("OAuth", "Code redemption rejected: %v", err)
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", err.Error())
		return
	}

	credential := r.PostFormValue("client_secret")
	if len(credential) < minClientSecretLength {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client_secret must be a deAPI API token")
		return
	}

	h.issueTokenPair(w, credential)
}

func (h *Handler) tokenClientCredentials(w http.ResponseWriter, r *http.Request) {
	credential := r.PostFormValue("client_secret")
	if len(credential) < minClientSecretLength {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client_secret must be a deAPI API token")
		return
	}

	h.issueTokenPair(w, credential)
}

func (h *Handler) tokenRefresh(w http.ResponseWriter, r *http.Request) {
	refresh := r.PostFormValue("refresh_token")
	if refresh == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	claims := h.codec.VerifyRefreshToken(refresh)
	if claims == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or expired")
		return
	}

	credential, err := h.codec.Decrypt(claims.EncryptedCredential)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or expired")
		return
	}

	// Rotation: every refresh yields a fresh pair. The old refresh token is
	// not blacklisted and stays valid until its own expiry.
	h.issueTokenPair(w, credential)
}

func (h *Handler) issueTokenPair(w http.ResponseWriter, credential string) {
	access, err := h.codec.MintAccessToken(h.clientID, credential)
	if err != nil {
		logging.Error("OAuth", err, "Failed to mint access token")
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "token issuance failed")
		return
	}
	refresh, err := h.codec.MintRefreshToken(h.clientID, credential)
	if err != nil {
		logging.Error("OAuth", err, "Failed to mint refresh token")
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "token issuance failed")
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
		RefreshToken: refresh,
	})
}

func validRedirectURI(redirectURI string) bool {
	if redirectURI == "" {
		return false
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, code, description, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		// redirectURI was validated before any caller reaches this point
		writeOAuthError(w, http.StatusBadRequest, code, description)
		return
	}
	params := target.Query()
	params.Set("error", code)
	params.Set("error_description", description)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, Description: description})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("OAuth", err, "Failed to encode JSON response")
	}
}
