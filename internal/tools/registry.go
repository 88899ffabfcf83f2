// Package tools registers the MCP tool surface: thin shims that translate
// tool arguments into upstream API requests, wait for the resulting jobs and
// return their outcome as JSON.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"deapi-mcp/internal/config"
	"deapi-mcp/internal/deapi"
	"deapi-mcp/internal/oauth"
	"deapi-mcp/internal/polling"
	"deapi-mcp/pkg/logging"
)

var errNotAuthenticated = errors.New("not authenticated: the call carried no deAPI credential")

type registration struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

// Registry owns all tool registrations. It keeps the base definitions so
// descriptions can later be re-rendered with model-catalog enrichment.
type Registry struct {
	api     config.APIConfig
	polling config.PollingConfig

	mu         sync.Mutex
	registered map[string]registration
}

// NewRegistry creates a registry bound to the upstream and polling
// configuration.
func NewRegistry(api config.APIConfig, pollingCfg config.PollingConfig) *Registry {
	return &Registry{
		api:        api,
		polling:    pollingCfg,
		registered: make(map[string]registration),
	}
}

// Register adds the full tool surface to the MCP server.
func (r *Registry) Register(srv *server.MCPServer) {
	r.registerAudioTools(srv)
	r.registerImageTools(srv)
	r.registerVideoTools(srv)
	r.registerEmbeddingTools(srv)
	r.registerUtilityTools(srv)
	logging.Info("Tools", "Registered %d tools", len(r.registered))
}

func (r *Registry) add(srv *server.MCPServer, tool mcp.Tool, handler server.ToolHandlerFunc) {
	r.mu.Lock()
	r.registered[tool.Name] = registration{tool: tool, handler: handler}
	r.mu.Unlock()
	srv.AddTool(tool, handler)
}

// ApplyDescriptionBlocks re-registers tools whose descriptions gained an
// enrichment block. The block is appended to the base description, so
// repeated application never stacks.
func (r *Registry) ApplyDescriptionBlocks(srv *server.MCPServer, blocks map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, block := range blocks {
		reg, ok := r.registered[name]
		if !ok {
			continue
		}
		enriched := reg.tool
		enriched.Description = reg.tool.Description + block
		srv.AddTool(enriched, reg.handler)
	}
}

// client builds an upstream client for this call's credential.
func (r *Registry) client(ctx context.Context) (*deapi.Client, error) {
	credential, ok := oauth.APITokenFromContext(ctx)
	if !ok {
		return nil, errNotAuthenticated
	}
	return deapi.New(r.api, credential), nil
}

// runJob submits a job and waits for it. category selects the polling
// profile; the submit callback builds the upstream request.
func (r *Registry) runJob(ctx context.Context, request mcp.CallToolRequest, category string,
	submit func(context.Context, *deapi.Client) (*deapi.Job, error)) (*mcp.CallToolResult, error) {

	client, err := r.client(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, err := submit(ctx, client)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	logging.Info("Tools", "Submitted %s job %s", category, job.RequestID)

	poller := polling.New(client, r.polling.ProfileFor(category))
	if reporter := newProgressReporter(ctx, request); reporter != nil {
		poller.WithReporter(reporter)
	}

	result, err := poller.Wait(ctx, job.RequestID)
	if err != nil {
		return nil, err
	}
	return jsonResult(result)
}

// runQuery executes a synchronous upstream call and returns its JSON answer.
func (r *Registry) runQuery(ctx context.Context,
	query func(context.Context, *deapi.Client) (interface{}, error)) (*mcp.CallToolResult, error) {

	client, err := r.client(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, err := query(ctx, client)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(answer)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// validateRange rejects numeric arguments outside their documented bounds.
func validateRange(name string, value, min, max float64) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %v and %v, got %v", name, min, max, value)
	}
	return nil
}
