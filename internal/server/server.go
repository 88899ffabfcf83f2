// Package server assembles the HTTP surface: the MCP endpoint behind the
// OAuth authenticator, the OAuth issuer endpoints, discovery metadata and
// the health check.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"deapi-mcp/internal/config"
	"deapi-mcp/internal/oauth"
	"deapi-mcp/internal/tools"
	"deapi-mcp/pkg/logging"
)

// Server owns the HTTP listener and the MCP server mounted on it.
type Server struct {
	cfg     *config.Config
	version string

	mcpServer  *mcpserver.MCPServer
	registry   *tools.Registry
	auth       *oauth.Authenticator
	oauthEndp  *oauth.Handler
	enricher   *enricher
	mux        *http.ServeMux
	httpServer *http.Server

	mu sync.Mutex
}

// New wires all components together. The returned server is fully routed
// but not yet listening; call Start.
func New(cfg *config.Config, version string) (*Server, error) {
	issuer := cfg.Server.PublicBaseURL
	if issuer == "" {
		issuer = cfg.API.BaseURL
	}
	codec, err := oauth.NewCodec(cfg.OAuth.SigningSecret, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}
	codes := oauth.NewCodeStore(cfg.OAuth.CodeTTL.Duration(), cfg.OAuth.CodeCapacity)

	s := &Server{
		cfg:       cfg,
		version:   version,
		auth:      oauth.NewAuthenticator(codec, cfg.Server.PublicBaseURL),
		oauthEndp: oauth.NewHandler(codec, codes, cfg.OAuth.ClientID, cfg.Server.PublicBaseURL),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"deAPI AI API",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	s.registry = tools.NewRegistry(cfg.API, cfg.Polling)
	s.registry.Register(s.mcpServer)

	if cfg.Enrichment.Enabled {
		s.enricher = newEnricher(cfg.API, cfg.Enrichment.CacheTTL.Duration(), s.registry, s.mcpServer)
	}

	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithHTTPContextFunc(s.toolContext))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.oauthEndp.ServeAuthorizationServerMetadata)
	mux.HandleFunc("/.well-known/oauth-authorization-server/mcp", s.oauthEndp.ServeAuthorizationServerMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.oauthEndp.ServeProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource/mcp", s.oauthEndp.ServeProtectedResourceMetadata)
	mux.HandleFunc("/authorize", s.oauthEndp.ServeAuthorize)
	mux.HandleFunc("/token", s.oauthEndp.ServeToken)
	mux.Handle("/mcp", s.auth.Middleware(streamable))
	s.mux = mux

	return s, nil
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving. It returns once the listener is launched; serve
// errors other than a clean shutdown are logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	addr := s.cfg.Server.ListenAddress()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	logging.Info("Server", "Serving MCP endpoint on %s/mcp", addr)
	httpServer := s.httpServer
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server", err, "HTTP server error")
		}
	}()
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if httpServer == nil {
		return fmt.Errorf("server not started")
	}

	logging.Info("Server", "Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// toolContext derives the per-call context for MCP tool handlers. The
// middleware already resolved the credential; the enricher piggybacks on it
// to keep tool descriptions current.
func (s *Server) toolContext(ctx context.Context, r *http.Request) context.Context {
	ctx = s.auth.HTTPContextFunc(ctx, r)
	if s.enricher != nil {
		if credential, ok := oauth.APITokenFromContext(ctx); ok {
			s.enricher.observe(credential)
		}
	}
	return ctx
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}
