package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/md-rashed-zaman/voicebook/libs/auth"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
)

const (
	stateTTL          = 10 * time.Minute
	defaultCalendarID = "primary"
)

type CodeExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

type CredentialSaver interface {
	SaveCalendarCredential(ctx context.Context, tenantID string, c calendar.Credential) error
}

// Invalidator drops a cached calendar client after its credential changes.
type Invalidator interface {
	Invalidate(tenantID string)
}

type OAuthHandler struct {
	auth        Authenticator
	oauth       CodeExchanger
	creds       CredentialSaver
	invalidator Invalidator
	stateSecret string
	logger      *slog.Logger
	now         func() time.Time
}

func NewOAuthHandler(a Authenticator, oauth CodeExchanger, creds CredentialSaver, invalidator Invalidator, stateSecret string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		auth:        a,
		oauth:       oauth,
		creds:       creds,
		invalidator: invalidator,
		stateSecret: stateSecret,
		logger:      logger,
		now:         time.Now,
	}
}

// Start redirects the tenant owner to Google's consent screen.
func (h *OAuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenant, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		status, body := Describe(err)
		writeJSON(w, status, body)
		return
	}
	state, err := auth.SignState(tenant.ID, h.stateSecret, stateTTL, h.now())
	if err != nil {
		h.logger.Error("oauth state signing failed", "tenant_id", tenant.ID, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	// prompt=consent makes Google return a refresh token even on re-authorization.
	url := h.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization declined: "+e, http.StatusBadRequest)
		return
	}
	claims, err := auth.VerifyState(q.Get("state"), h.stateSecret, h.now())
	if err != nil {
		http.Error(w, "invalid or expired state", http.StatusBadRequest)
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange failed", "tenant_id", claims.TenantID, "err", err)
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}
	if tok.RefreshToken == "" {
		http.Error(w, "google did not return a refresh token; revoke access and retry", http.StatusBadGateway)
		return
	}
	if err := h.creds.SaveCalendarCredential(r.Context(), claims.TenantID, calendar.Credential{
		RefreshToken: tok.RefreshToken,
		CalendarID:   defaultCalendarID,
	}); err != nil {
		h.logger.Error("calendar credential save failed", "tenant_id", claims.TenantID, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if h.invalidator != nil {
		h.invalidator.Invalidate(claims.TenantID)
	}
	h.logger.Info("google calendar connected", "tenant_id", claims.TenantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "tenant_id": claims.TenantID})
}
