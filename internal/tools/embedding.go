package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"deapi-mcp/internal/deapi"
)

const defaultEmbeddingModel = "Bge_M3_FP16"

func (r *Registry) registerEmbeddingTools(srv *server.MCPServer) {
	args := []mcp.ToolOption{
		mcp.WithString("input",
			mcp.Required(),
			mcp.Description("Text to embed; an array of strings embeds a batch"),
		),
		mcp.WithString("model",
			mcp.Description("Embedding model (default "+defaultEmbeddingModel+")"),
		),
	}

	r.add(srv, mcp.NewTool("text_to_embedding",
		append([]mcp.ToolOption{mcp.WithDescription("Compute embedding vectors for one or more texts.")}, args...)...),
		r.embeddingHandler(false))
	r.add(srv, mcp.NewTool("text_to_embedding_price",
		append([]mcp.ToolOption{mcp.WithDescription("Calculate the cost of a text_to_embedding job without running it.")}, args...)...),
		r.embeddingHandler(true))
}

func (r *Registry) embeddingHandler(price bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// input may be a single string or an array of strings; both pass
		// through to the upstream unchanged.
		input, ok := request.GetArguments()["input"]
		if !ok || input == nil {
			return mcp.NewToolResultError("input is required"), nil
		}
		switch v := input.(type) {
		case string:
			if v == "" {
				return mcp.NewToolResultError("input must not be empty"), nil
			}
		case []interface{}:
			if len(v) == 0 {
				return mcp.NewToolResultError("input must not be empty"), nil
			}
			for _, item := range v {
				if _, ok := item.(string); !ok {
					return mcp.NewToolResultError(fmt.Sprintf("input array must contain only strings, got %T", item)), nil
				}
			}
		default:
			return mcp.NewToolResultError(fmt.Sprintf("input must be a string or an array of strings, got %T", input)), nil
		}

		payload := map[string]interface{}{
			"input": input,
			"model": request.GetString("model", defaultEmbeddingModel),
		}

		if price {
			return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
				return client.CalculatePrice(ctx, "txt2embedding", payload)
			})
		}
		return r.runJob(ctx, request, "embedding", func(ctx context.Context, client *deapi.Client) (*deapi.Job, error) {
			return client.SubmitJob(ctx, "txt2embedding", payload)
		})
	}
}
