package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/voicebook/libs/auth"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/storage"
)

var ErrUnauthorized = errors.New("unauthorized")

// Tenant is the authenticated caller, passed explicitly to every operation.
type Tenant struct {
	ID          string
	Name        string
	NotifyEmail string
	Timezone    string
	TokenID     string
}

type Store interface {
	GetToolToken(ctx context.Context, id string) (storage.ToolTokenRecord, error)
	Get(ctx context.Context, id string) (model.Tenant, error)
}

type Authenticator struct {
	store Store
}

func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate resolves a raw tool token. Missing, malformed, unknown, inactive and
// wrong-secret tokens all yield ErrUnauthorized; store failures are returned as is.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (Tenant, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Tenant{}, ErrUnauthorized
	}
	tok, err := auth.ParseToolToken(raw)
	if err != nil {
		return Tenant{}, ErrUnauthorized
	}
	rec, err := a.store.GetToolToken(ctx, tok.ID)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return Tenant{}, ErrUnauthorized
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("load tool token: %w", err)
	}
	if !rec.Active {
		return Tenant{}, ErrUnauthorized
	}
	if err := auth.VerifySecret(rec.SecretHash, tok.Secret); err != nil {
		return Tenant{}, ErrUnauthorized
	}
	t, err := a.store.Get(ctx, rec.TenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return Tenant{}, ErrUnauthorized
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("load tenant: %w", err)
	}
	return Tenant{ID: t.ID, Name: t.Name, NotifyEmail: t.NotifyEmail, Timezone: t.Timezone, TokenID: rec.ID}, nil
}
