package mcptools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/tenancy"
)

const EndpointPath = "/mcp"

type tenantKey struct{}

func withTenant(ctx context.Context, t tenancy.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

func tenantFrom(ctx context.Context) (tenancy.Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(tenancy.Tenant)
	return t, ok && t.ID != ""
}

// NewServer registers the booking tools on an MCP server.
func NewServer(tools *handlers.ToolSet, version string) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("voicebook", version,
		mcpserver.WithToolCapabilities(false),
	)
	registerTools(srv, tools)
	return srv
}

// Handler serves srv over streamable HTTP. Each HTTP request is authenticated once from ?token=;
// unauthenticated requests never reach the MCP session.
func Handler(srv *mcpserver.MCPServer, auth handlers.Authenticator, logger *slog.Logger) http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(srv,
		mcpserver.WithEndpointPath(EndpointPath),
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if t, ok := tenantFrom(r.Context()); ok {
				return withTenant(ctx, t)
			}
			return ctx
		}),
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
		if err != nil {
			status, body := handlers.Describe(err)
			if status >= http.StatusInternalServerError {
				logger.Error("mcp authentication failed", "err", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
			return
		}
		streamable.ServeHTTP(w, r.WithContext(withTenant(r.Context(), tenant)))
	})
}
