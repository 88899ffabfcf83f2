package server

import (
	"context"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"deapi-mcp/internal/config"
	"deapi-mcp/internal/deapi"
	"deapi-mcp/internal/models"
	"deapi-mcp/internal/tools"
	"deapi-mcp/pkg/logging"
)

// enricher appends "available models" blocks to tool descriptions. The
// model catalog requires an upstream credential, so refreshes piggyback on
// authenticated traffic: the first credential seen binds the catalog
// client, and later requests trigger a background refresh once per TTL.
type enricher struct {
	api      config.APIConfig
	ttl      time.Duration
	registry *tools.Registry
	mcp      *mcpserver.MCPServer

	mu          sync.Mutex
	cache       *models.Cache
	nextRefresh time.Time
}

func newEnricher(api config.APIConfig, ttl time.Duration, registry *tools.Registry, mcp *mcpserver.MCPServer) *enricher {
	return &enricher{
		api:      api,
		ttl:      ttl,
		registry: registry,
		mcp:      mcp,
	}
}

// observe is called with the credential of an authenticated request. It
// never blocks the request path.
func (e *enricher) observe(credential string) {
	e.mu.Lock()
	if e.cache == nil {
		e.cache = models.NewCache(deapi.New(e.api, credential), e.ttl)
	}
	if time.Now().Before(e.nextRefresh) {
		e.mu.Unlock()
		return
	}
	e.nextRefresh = time.Now().Add(e.ttl)
	cache := e.cache
	e.mu.Unlock()

	go e.refresh(cache)
}

func (e *enricher) refresh(cache *models.Cache) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	blocks, err := cache.DescriptionBlocks(ctx)
	if err != nil {
		logging.Debug("Server", "Tool description enrichment skipped: %v", err)
		return
	}
	if len(blocks) == 0 {
		return
	}
	e.registry.ApplyDescriptionBlocks(e.mcp, blocks)
	logging.Debug("Server", "Enriched %d tool descriptions with model catalog", len(blocks))
}
