package storage

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/voicebook/libs/db"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/policy"
)

type TenantRepository struct {
	pool *db.Pool
}

func NewTenantRepository(pool *db.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

// Upsert creates the tenant when ID is empty, otherwise updates it in place.
func (r *TenantRepository) Upsert(ctx context.Context, t model.Tenant) (model.Tenant, error) {
	if t.Timezone == "" {
		t.Timezone = policy.DefaultTimezone
	}
	var out model.Tenant
	var err error
	if t.ID == "" {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO tenants (name, notify_email, timezone)
			VALUES ($1, $2, $3)
			RETURNING id::text, name, notify_email, timezone
		`, t.Name, t.NotifyEmail, t.Timezone).Scan(&out.ID, &out.Name, &out.NotifyEmail, &out.Timezone)
	} else {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO tenants (id, name, notify_email, timezone)
			VALUES ($1::uuid, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				notify_email = EXCLUDED.notify_email,
				timezone = EXCLUDED.timezone,
				updated_at = now()
			RETURNING id::text, name, notify_email, timezone
		`, t.ID, t.Name, t.NotifyEmail, t.Timezone).Scan(&out.ID, &out.Name, &out.NotifyEmail, &out.Timezone)
	}
	if err != nil {
		return model.Tenant{}, mapErr(err)
	}
	return out, nil
}

func (r *TenantRepository) Get(ctx context.Context, id string) (model.Tenant, error) {
	var t model.Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, notify_email, timezone FROM tenants WHERE id = $1::uuid
	`, id).Scan(&t.ID, &t.Name, &t.NotifyEmail, &t.Timezone)
	if err != nil {
		return model.Tenant{}, mapErr(err)
	}
	return t, nil
}

func (r *TenantRepository) GetCalendarCredential(ctx context.Context, tenantID string) (calendar.Credential, bool, error) {
	var c calendar.Credential
	err := r.pool.QueryRow(ctx, `
		SELECT refresh_token, calendar_id FROM calendar_credentials WHERE tenant_id = $1::uuid
	`, tenantID).Scan(&c.RefreshToken, &c.CalendarID)
	if IsNotFound(err) {
		return calendar.Credential{}, false, nil
	}
	if err != nil {
		return calendar.Credential{}, false, err
	}
	return c, true, nil
}

func (r *TenantRepository) SaveCalendarCredential(ctx context.Context, tenantID string, c calendar.Credential) error {
	if c.CalendarID == "" {
		c.CalendarID = "primary"
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO calendar_credentials (tenant_id, refresh_token, calendar_id)
		VALUES ($1::uuid, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			refresh_token = EXCLUDED.refresh_token,
			calendar_id = EXCLUDED.calendar_id,
			updated_at = now()
	`, tenantID, c.RefreshToken, c.CalendarID)
	return err
}

// TenantTimezone returns the tenant's own zone; an unknown tenant has none.
func (r *TenantRepository) TenantTimezone(ctx context.Context, tenantID string) (string, error) {
	var tz string
	err := r.pool.QueryRow(ctx, `SELECT timezone FROM tenants WHERE id = $1::uuid`, tenantID).Scan(&tz)
	if IsNotFound(err) || isInvalidID(err) {
		return "", nil
	}
	return tz, err
}

func (r *TenantRepository) GetBusinessRules(ctx context.Context, tenantID string) (policy.Rules, error) {
	var rules policy.Rules
	err := r.pool.QueryRow(ctx, `
		SELECT timezone, allow_weekends, start_hour, end_hour, lunch_start_hour, lunch_end_hour, step_minutes
		FROM tenant_business_rules
		WHERE tenant_id = $1::uuid
	`, tenantID).Scan(
		&rules.Timezone,
		&rules.AllowWeekends,
		&rules.StartHour,
		&rules.EndHour,
		&rules.LunchStartHour,
		&rules.LunchEndHour,
		&rules.StepMinutes,
	)
	if IsNotFound(err) || isInvalidID(err) {
		return policy.Rules{}, policy.ErrNoRules
	}
	if err != nil {
		return policy.Rules{}, err
	}
	return rules, nil
}

func (r *TenantRepository) UpsertBusinessRules(ctx context.Context, tenantID string, rules policy.Rules) error {
	if err := rules.Check(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_business_rules
			(tenant_id, timezone, allow_weekends, start_hour, end_hour, lunch_start_hour, lunch_end_hour, step_minutes)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			allow_weekends = EXCLUDED.allow_weekends,
			start_hour = EXCLUDED.start_hour,
			end_hour = EXCLUDED.end_hour,
			lunch_start_hour = EXCLUDED.lunch_start_hour,
			lunch_end_hour = EXCLUDED.lunch_end_hour,
			step_minutes = EXCLUDED.step_minutes,
			updated_at = now()
	`, tenantID, rules.Timezone, rules.AllowWeekends, rules.StartHour, rules.EndHour,
		rules.LunchStartHour, rules.LunchEndHour, rules.StepMinutes)
	return err
}

type ToolTokenRecord struct {
	ID         string
	TenantID   string
	SecretHash string
	Active     bool
}

var ErrTokenNotFound = errors.New("tool token not found")

func (r *TenantRepository) InsertToolToken(ctx context.Context, rec ToolTokenRecord, label string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tool_tokens (id, tenant_id, secret_hash, label, active)
		VALUES ($1, $2::uuid, $3, $4, true)
	`, rec.ID, rec.TenantID, rec.SecretHash, label)
	return mapErr(err)
}

func (r *TenantRepository) GetToolToken(ctx context.Context, id string) (ToolTokenRecord, error) {
	var rec ToolTokenRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id::text, secret_hash, active FROM tool_tokens WHERE id = $1
	`, id).Scan(&rec.ID, &rec.TenantID, &rec.SecretHash, &rec.Active)
	if IsNotFound(err) {
		return ToolTokenRecord{}, ErrTokenNotFound
	}
	return rec, err
}

func (r *TenantRepository) RevokeToolToken(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tool_tokens SET active = false, revoked_at = now() WHERE id = $1 AND active
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}
