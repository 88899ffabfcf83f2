package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"deapi-mcp/internal/deapi"
)

func (r *Registry) registerUtilityTools(srv *server.MCPServer) {
	r.add(srv, mcp.NewTool("get_balance",
		mcp.WithDescription("Get the current deAPI account balance."),
	), r.handleGetBalance)

	r.add(srv, mcp.NewTool("get_available_models",
		mcp.WithDescription("List the available models with their types, limits, defaults and features. Use this to pick a model before generating."),
	), r.handleGetAvailableModels)

	r.add(srv, mcp.NewTool("check_job_status",
		mcp.WithDescription("Check the status of a previously submitted job once, without waiting for it to finish."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job's request_id"),
		),
	), r.handleCheckJobStatus)
}

func (r *Registry) handleGetBalance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
		return client.Balance(ctx)
	})
}

func (r *Registry) handleGetAvailableModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
		return client.Models(ctx)
	})
}

func (r *Registry) handleCheckJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
		return client.JobStatus(ctx, jobID)
	})
}
