package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/tenancy"
)

func registerTools(s *mcpserver.MCPServer, tools *handlers.ToolSet) {
	s.AddTool(mcp.NewTool(handlers.ToolCheckAvailability,
		mcp.WithDescription("List free appointment slots on a date"),
		mcp.WithString("date",
			mcp.Required(),
			mcp.Description("Day to check, YYYY-MM-DD"),
		),
		mcp.WithNumber("duration_minutes",
			mcp.Required(),
			mcp.Description("Appointment length in minutes"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA zone for the day and the returned slots (default: the business zone)"),
		),
	), bind(tools.CheckAvailability))

	s.AddTool(mcp.NewTool(handlers.ToolBookAppointment,
		mcp.WithDescription("Book an appointment. Reuse the same idempotency_key when retrying."),
		mcp.WithString("start_time", mcp.Required(), mcp.Description("RFC3339 start, e.g. 2025-03-05T10:00:00-05:00")),
		mcp.WithString("end_time", mcp.Required(), mcp.Description("RFC3339 end")),
		mcp.WithString("timezone", mcp.Description("IANA zone; also used for timestamps without an offset")),
		mcp.WithString("customer_name", mcp.Description("Caller's name")),
		mcp.WithString("customer_email", mcp.Description("Caller's email, added as an attendee")),
		mcp.WithString("customer_phone", mcp.Description("Caller's phone number")),
		mcp.WithString("notes", mcp.Description("Free-form notes for the business")),
		mcp.WithString("idempotency_key", mcp.Required(), mcp.Description("Stable key for this logical booking, e.g. the call id")),
	), bind(tools.BookAppointment))

	s.AddTool(mcp.NewTool(handlers.ToolCancelAppointment,
		mcp.WithDescription("Cancel a booked appointment"),
		mcp.WithString("appointment_id", mcp.Required()),
		mcp.WithString("idempotency_key", mcp.Required()),
	), bind(tools.CancelAppointment))

	s.AddTool(mcp.NewTool(handlers.ToolRescheduleAppointment,
		mcp.WithDescription("Move a booked appointment to a new time"),
		mcp.WithString("appointment_id", mcp.Required()),
		mcp.WithString("new_start_time", mcp.Required(), mcp.Description("RFC3339 start")),
		mcp.WithString("new_end_time", mcp.Required(), mcp.Description("RFC3339 end")),
		mcp.WithString("timezone", mcp.Description("IANA zone")),
		mcp.WithString("idempotency_key", mcp.Required()),
	), bind(tools.RescheduleAppointment))

	s.AddTool(mcp.NewTool(handlers.ToolFindAppointment,
		mcp.WithDescription("Find a caller's upcoming booked appointments by phone or email"),
		mcp.WithString("customer_phone", mcp.Description("Phone number used when booking")),
		mcp.WithString("customer_email", mcp.Description("Email used when booking")),
		mcp.WithString("from_date", mcp.Description("YYYY-MM-DD lower bound")),
		mcp.WithString("to_date", mcp.Description("YYYY-MM-DD upper bound, inclusive")),
		mcp.WithNumber("limit", mcp.Description("Maximum matches (default 10, max 50)")),
	), bind(tools.FindAppointment))
}

// bind adapts a ToolSet method: arguments decode into Req, errors become tool-level error results
// carrying the same JSON body the HTTP routes return.
func bind[Req, Resp any](fn func(context.Context, tenancy.Tenant, Req) (Resp, error)) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenant, ok := tenantFrom(ctx)
		if !ok {
			return errorResult(tenancy.ErrUnauthorized), nil
		}
		var req Req
		if err := request.BindArguments(&req); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		resp, err := fn(ctx, tenant, req)
		if err != nil {
			return errorResult(err), nil
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	status, body := handlers.Describe(err)
	out, _ := json.Marshal(struct {
		Status int `json:"status"`
		handlers.ErrorBody
	}{Status: status, ErrorBody: body})
	return mcp.NewToolResultError(string(out))
}
