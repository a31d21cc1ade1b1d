package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/voicebook/libs/httpx"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/tenancy"
)

type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (tenancy.Tenant, error)
}

// ToolHandler serves the ToolSet as JSON over POST /tools/*.
type ToolHandler struct {
	auth   Authenticator
	tools  *ToolSet
	logger *slog.Logger
}

func NewToolHandler(auth Authenticator, tools *ToolSet, logger *slog.Logger) *ToolHandler {
	return &ToolHandler{auth: auth, tools: tools, logger: logger}
}

// Register mounts the tool routes. wrap (rate limiting) may be nil.
func (h *ToolHandler) Register(mux *http.ServeMux, wrap httpx.Middleware) {
	routes := map[string]http.HandlerFunc{
		"/tools/check-availability":     h.CheckAvailability,
		"/tools/book-appointment":       h.BookAppointment,
		"/tools/cancel-appointment":     h.CancelAppointment,
		"/tools/reschedule-appointment": h.RescheduleAppointment,
		"/tools/find-appointment":       h.FindAppointment,
	}
	for path, fn := range routes {
		var handler http.Handler = fn
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.Handle(path, handler)
	}
}

func (h *ToolHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req CheckAvailabilityRequest
	tenant, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	resp, err := h.tools.CheckAvailability(r.Context(), tenant, req)
	h.finish(w, r, http.StatusOK, resp, err)
}

func (h *ToolHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	tenant, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	resp, err := h.tools.BookAppointment(r.Context(), tenant, req)
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	h.finish(w, r, status, resp, err)
}

func (h *ToolHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req CancelAppointmentRequest
	tenant, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	resp, err := h.tools.CancelAppointment(r.Context(), tenant, req)
	h.finish(w, r, http.StatusOK, resp, err)
}

func (h *ToolHandler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req RescheduleAppointmentRequest
	tenant, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	resp, err := h.tools.RescheduleAppointment(r.Context(), tenant, req)
	h.finish(w, r, http.StatusOK, resp, err)
}

func (h *ToolHandler) FindAppointment(w http.ResponseWriter, r *http.Request) {
	var req FindAppointmentRequest
	tenant, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	resp, err := h.tools.FindAppointment(r.Context(), tenant, req)
	h.finish(w, r, http.StatusOK, resp, err)
}

// begin checks the method, authenticates ?token= and decodes the body into req.
func (h *ToolHandler) begin(w http.ResponseWriter, r *http.Request, req any) (tenancy.Tenant, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{Error: "method_not_allowed"})
		return tenancy.Tenant{}, false
	}
	tenant, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.writeError(w, r, err)
		return tenancy.Tenant{}, false
	}
	if err := decodeToolBody(r.Body, req); err != nil {
		h.writeError(w, r, err)
		return tenancy.Tenant{}, false
	}
	return tenant, true
}

func (h *ToolHandler) finish(w http.ResponseWriter, r *http.Request, status int, resp any, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, resp)
}

func (h *ToolHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := Describe(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.logger.Error("tool request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"err", err,
		)
	}
	writeJSON(w, status, body)
}

// decodeToolBody accepts either the bare arguments object or a voice-agent envelope
// {"name": ..., "args": {...}, "call": {...}}.
func decodeToolBody(body io.Reader, dst any) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return badInput("request body too large")
		}
		return badInput("read body: %v", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return badInput("request body is required")
	}
	var envelope struct {
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return badInput("invalid json body")
	}
	if args := bytes.TrimSpace(envelope.Args); len(args) > 0 && args[0] == '{' {
		raw = args
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return badInput("invalid json body: %s", strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
