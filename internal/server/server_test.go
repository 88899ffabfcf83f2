package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deapi-mcp/internal/config"
)

const (
	testCredential = "dk_live_0123456789abcdef"
	testVerifier   = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testRedirect   = "http://localhost:8123/callback"
)

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.OAuth.SigningSecret = "server-test-signing-secret"
	cfg.Enrichment.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := New(cfg, "1.2.3")
	require.NoError(t, err)
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestAuthorizationServerMetadataDerivesIssuerFromHost(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	req.Host = "mcp.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "https://mcp.example.com", meta["issuer"])
	assert.Equal(t, "https://mcp.example.com/authorize", meta["authorization_endpoint"])
	assert.Equal(t, "https://mcp.example.com/token", meta["token_endpoint"])
}

func TestMetadataHonorsPublicBaseURL(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.PublicBaseURL = "https://deapi-mcp.internal"
	})

	for _, path := range []string{
		"/.well-known/oauth-authorization-server",
		"/.well-known/oauth-authorization-server/mcp",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Host = "something-else:9"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, path)
		var meta map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
		assert.Equal(t, "https://deapi-mcp.internal", meta["issuer"], path)
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	req.Host = "localhost:8000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "http://localhost:8000/mcp", meta["resource"])
}

func TestMCPEndpointRequiresBearer(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}"))
	req.Host = "localhost:8000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"),
		`resource_metadata="http://localhost:8000/.well-known/oauth-protected-resource"`)
}

func TestAuthorizationCodeFlowThroughMux(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Handler()

	params := url.Values{
		"client_id":             {"deapi-mcp"},
		"redirect_uri":          {testRedirect},
		"response_type":         {"code"},
		"code_challenge":        {challengeFor(testVerifier)},
		"code_challenge_method": {"S256"},
		"state":                 {"abc"},
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize?"+params.Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "abc", loc.Query().Get("state"))

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"deapi-mcp"},
		"client_secret": {testCredential},
		"code":          {code},
		"code_verifier": {testVerifier},
		"redirect_uri":  {testRedirect},
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tokens map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "Bearer", tokens["token_type"])
	assert.Equal(t, float64(3600), tokens["expires_in"])
	require.NotEmpty(t, tokens["access_token"])
	require.NotEmpty(t, tokens["refresh_token"])

	// A token minted through the mux must authenticate MCP requests.
	req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+tokens["access_token"].(string))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestStartRejectsDoubleStart(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.Port = 0
	})
	ctx := context.Background()

	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(ctx)

	assert.Error(t, srv.Start(ctx))
}
