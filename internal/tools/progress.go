package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"deapi-mcp/internal/polling"
	"deapi-mcp/pkg/logging"
)

// progressReporter forwards job progress to the calling client as MCP
// progress notifications. Notification failures are logged and ignored; a
// slow or gone client must never stall a running job.
type progressReporter struct {
	ctx   context.Context
	token mcp.ProgressToken
}

// newProgressReporter returns nil when the call carries no progress token or
// no server session, in which case no notifications are sent.
func newProgressReporter(ctx context.Context, request mcp.CallToolRequest) polling.Reporter {
	if request.Params.Meta == nil || request.Params.Meta.ProgressToken == nil {
		return nil
	}
	if server.ServerFromContext(ctx) == nil {
		return nil
	}
	return &progressReporter{ctx: ctx, token: request.Params.Meta.ProgressToken}
}

func (p *progressReporter) Progress(progress, total float64) {
	srv := server.ServerFromContext(p.ctx)
	if srv == nil {
		return
	}
	err := srv.SendNotificationToClient(p.ctx, "notifications/progress", map[string]interface{}{
		"progressToken": p.token,
		"progress":      progress,
		"total":         total,
	})
	if err != nil {
		logging.Debug("Tools", "Progress notification dropped: %v", err)
	}
}
