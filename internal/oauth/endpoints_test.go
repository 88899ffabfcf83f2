package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID   = "deapi-mcp"
	testCredential = "dk_live_0123456789abcdef"
	testVerifier   = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testRedirect   = "http://localhost:8123/callback"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	codec, err := NewCodec("unit-test-signing-secret", "https://api.deapi.ai")
	require.NoError(t, err)
	return NewHandler(codec, NewCodeStore(10*time.Minute, 1000), testClientID, "")
}

func doAuthorize(t *testing.T, h *Handler, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeAuthorize(rec, req)
	return rec
}

func doToken(t *testing.T, h *Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeToken(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func authorizeParams() url.Values {
	return url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirect},
		"response_type":         {"code"},
		"code_challenge":        {challengeFor(testVerifier)},
		"code_challenge_method": {"S256"},
		"state":                 {"xyz"},
	}
}

func TestAuthorizeHappyPath(t *testing.T) {
	h := newTestHandler(t)

	rec := doAuthorize(t, h, authorizeParams())
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:8123", loc.Host)
	assert.Equal(t, "/callback", loc.Path)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	assert.Empty(t, loc.Query().Get("error"))
}

func TestAuthorizeUnknownClientIsDirectError(t *testing.T) {
	h := newTestHandler(t)

	params := authorizeParams()
	params.Set("client_id", "someone-else")
	rec := doAuthorize(t, h, params)

	// No redirect: the redirect_uri is not trusted before the client is.
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized_client", decodeError(t, rec).Error)
}

func TestAuthorizeRejectsBadRedirectURI(t *testing.T) {
	h := newTestHandler(t)

	for _, redirect := range []string{"", "myapp://callback", "http://", "not a url at all", "ftp://host/cb"} {
		params := authorizeParams()
		params.Set("redirect_uri", redirect)
		rec := doAuthorize(t, h, params)
		require.Equal(t, http.StatusBadRequest, rec.Code, "redirect_uri=%q", redirect)
		assert.Equal(t, "invalid_request", decodeError(t, rec).Error)
	}
}

func TestAuthorizeErrorsAfterRedirectValidationUseRedirect(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name    string
		mutate  func(url.Values)
		wantErr string
	}{
		{
			name:    "wrong response_type",
			mutate:  func(p url.Values) { p.Set("response_type", "token") },
			wantErr: "unsupported_response_type",
		},
		{
			name:    "missing code_challenge",
			mutate:  func(p url.Values) { p.Del("code_challenge") },
			wantErr: "invalid_request",
		},
		{
			name:    "plain challenge method",
			mutate:  func(p url.Values) { p.Set("code_challenge_method", "plain") },
			wantErr: "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := authorizeParams()
			tt.mutate(params)
			rec := doAuthorize(t, h, params)

			require.Equal(t, http.StatusFound, rec.Code)
			loc, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantErr, loc.Query().Get("error"))
			assert.Equal(t, "xyz", loc.Query().Get("state"))
		})
	}
}

func TestAuthorizeStoreFullRedirectsServerError(t *testing.T) {
	codec, err := NewCodec("unit-test-signing-secret", "https://api.deapi.ai")
	require.NoError(t, err)
	h := NewHandler(codec, NewCodeStore(10*time.Minute, 1), testClientID, "")

	rec := doAuthorize(t, h, authorizeParams())
	require.Equal(t, http.StatusFound, rec.Code)

	rec = doAuthorize(t, h, authorizeParams())
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "server_error", loc.Query().Get("error"))
}

// Full authorization-code flow: authorize, then exchange the code.
func TestAuthorizationCodeFlow(t *testing.T) {
	h := newTestHandler(t)

	rec := doAuthorize(t, h, authorizeParams())
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	rec = doToken(t, h, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"client_secret": {testCredential},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"code_verifier": {testVerifier},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, 3600, tokens.ExpiresIn)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)

	// The embedded credential survives the round trip.
	claims := h.codec.VerifyAccessToken(tokens.AccessToken)
	require.NotNil(t, claims)
	credential, err := h.codec.Decrypt(claims.EncryptedCredential)
	require.NoError(t, err)
	assert.Equal(t, testCredential, credential)

	// The code was consumed.
	rec = doToken(t, h, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"client_secret": {testCredential},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"code_verifier": {testVerifier},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeError(t, rec).Error)
}

func TestTokenShortClientSecret(t *testing.T) {
	h := newTestHandler(t)

	rec := doAuthorize(t, h, authorizeParams())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")

	rec = doToken(t, h, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"client_secret": {"short"},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"code_verifier": {testVerifier},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decodeError(t, rec).Error)
}

func TestTokenUnsupportedGrantType(t *testing.T) {
	h := newTestHandler(t)

	rec := doToken(t, h, url.Values{
		"grant_type": {"password"},
		"client_id":  {testClientID},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_grant_type", decodeError(t, rec).Error)
}

func TestClientCredentialsShortClientSecret(t *testing.T) {
	h := newTestHandler(t)

	rec := doToken(t, h, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {testClientID},
		"client_secret": {"short"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decodeError(t, rec).Error)
}

func TestTokenUnknownClient(t *testing.T) {
	h := newTestHandler(t)

	rec := doToken(t, h, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"someone-else"},
		"client_secret": {testCredential},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decodeError(t, rec).Error)
}

func TestTokenMissingCode(t *testing.T) {
	h := newTestHandler(t)

	rec := doToken(t, h, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"client_secret": {testCredential},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Error)
}

func TestClientCredentialsGrant(t *testing.T) {
	h := newTestHandler(t)

	rec := doToken(t, h, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {testClientID},
		"client_secret": {testCredential},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var tokens TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, 3600, tokens.ExpiresIn)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
}

func TestRefreshGrantRotatesTokens(t *testing.T) {
	h := newTestHandler(t)

	rec := doToken(t, h, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {testClientID},
		"client_secret": {testCredential},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var first TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = doToken(t, h, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {testClientID},
		"refresh_token": {first.RefreshToken},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var second TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The new access token still carries the original credential.
	claims := h.codec.VerifyAccessToken(second.AccessToken)
	require.NotNil(t, claims)
	credential, err := h.codec.Decrypt(claims.EncryptedCredential)
	require.NoError(t, err)
	assert.Equal(t, testCredential, credential)

	// No revocation list: the old refresh token remains usable.
	rec = doToken(t, h, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {testClientID},
		"refresh_token": {first.RefreshToken},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshGrantRejectsAccessToken(t *testing.T) {
	h := newTestHandler(t)

	access, err := h.codec.MintAccessToken(testClientID, testCredential)
	require.NoError(t, err)

	rec := doToken(t, h, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {testClientID},
		"refresh_token": {access},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeError(t, rec).Error)
}

func TestRefreshGrantMissingToken(t *testing.T) {
	h := newTestHandler(t)

	rec := doToken(t, h, url.Values{
		"grant_type": {"refresh_token"},
		"client_id":  {testClientID},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Error)
}

func TestAuthorizationServerMetadata(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	req.Host = "mcp.example.com"
	rec := httptest.NewRecorder()
	h.ServeAuthorizationServerMetadata(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "http://mcp.example.com", doc["issuer"])
	assert.Equal(t, "http://mcp.example.com/authorize", doc["authorization_endpoint"])
	assert.Equal(t, "http://mcp.example.com/token", doc["token_endpoint"])
	assert.Equal(t, []interface{}{"S256"}, doc["code_challenge_methods_supported"])
}

func TestMetadataHonorsPublicBaseURL(t *testing.T) {
	codec, err := NewCodec("unit-test-signing-secret", "https://api.deapi.ai")
	require.NoError(t, err)
	h := NewHandler(codec, NewCodeStore(10*time.Minute, 1000), testClientID, "https://public.example.com")

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	req.Host = "internal-name:8000"
	rec := httptest.NewRecorder()
	h.ServeProtectedResourceMetadata(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://public.example.com/mcp", doc["resource"])
	assert.Equal(t, []interface{}{"https://public.example.com"}, doc["authorization_servers"])
}
