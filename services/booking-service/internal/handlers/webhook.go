package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/voicebook/libs/httpx"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/ingestion"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/tenancy"
)

// EventCallAnalyzed is the terminal call-platform event; everything else is acknowledged and ignored.
const EventCallAnalyzed = "call_analyzed"

type TaskSubmitter interface {
	Submit(ctx context.Context, task ingestion.Task) error
}

type WebhookHandler struct {
	auth       Authenticator
	dispatcher TaskSubmitter
	logger     *slog.Logger
}

func NewWebhookHandler(auth Authenticator, dispatcher TaskSubmitter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{auth: auth, dispatcher: dispatcher, logger: logger}
}

type webhookRequest struct {
	Event  string `json:"event"`
	CallID string `json:"call_id"`
	Call   struct {
		CallID string `json:"call_id"`
	} `json:"call"`
}

type webhookResponse struct {
	Status string `json:"status"`
}

func (h *WebhookHandler) CallEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{Error: "method_not_allowed"})
		return
	}
	tenant, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		status, body := Describe(err)
		writeJSON(w, status, body)
		return
	}
	if tid := strings.TrimSpace(r.URL.Query().Get("tenant_id")); tid != "" && tid != tenant.ID {
		status, body := Describe(tenancy.ErrUnauthorized)
		writeJSON(w, status, body)
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid_request", Message: "invalid json body"})
		return
	}
	if strings.TrimSpace(req.Event) != EventCallAnalyzed {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}
	callID := strings.TrimSpace(req.Call.CallID)
	if callID == "" {
		callID = strings.TrimSpace(req.CallID)
	}
	if callID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid_request", Message: "call_id is required"})
		return
	}

	if err := h.dispatcher.Submit(r.Context(), ingestion.Task{TenantID: tenant.ID, CallID: callID}); err != nil {
		h.logger.Error("call ingestion not accepted",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"tenant_id", tenant.ID,
			"call_id", callID,
			"err", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, ErrorBody{Error: "busy", Message: "call ingestion is not accepting work"})
		return
	}
	h.logger.Info("call ingestion accepted", "tenant_id", tenant.ID, "call_id", callID)
	writeJSON(w, http.StatusOK, webhookResponse{Status: "accepted"})
}
