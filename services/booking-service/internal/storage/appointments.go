package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/voicebook/libs/db"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

const appointmentColumns = `id::text, tenant_id::text, customer_name, customer_email, customer_phone,
	start_time, end_time, timezone, status, COALESCE(external_event_id, ''), title, notes,
	COALESCE(previous_appointment_id::text, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.TenantID,
		&appt.CustomerName,
		&appt.CustomerEmail,
		&appt.CustomerPhone,
		&appt.StartTime,
		&appt.EndTime,
		&appt.Timezone,
		&status,
		&appt.ExternalEventID,
		&appt.Title,
		&appt.Notes,
		&appt.PreviousAppointmentID,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	appt.Status = model.Status(status)
	return appt, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertAppointment(ctx context.Context, q querier, appt model.Appointment) (model.Appointment, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO appointments
			(tenant_id, customer_name, customer_email, customer_phone, start_time, end_time, timezone,
			 status, external_event_id, title, notes, previous_appointment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::uuid)
		RETURNING `+appointmentColumns,
		appt.TenantID, appt.CustomerName, appt.CustomerEmail, appt.CustomerPhone,
		appt.StartTime, appt.EndTime, appt.Timezone, string(appt.Status),
		nullIfEmpty(appt.ExternalEventID), appt.Title, appt.Notes, nullIfEmpty(appt.PreviousAppointmentID))
	created, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapErr(err)
	}
	return created, nil
}

func (r *AppointmentRepository) Insert(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	return insertAppointment(ctx, r.pool, appt)
}

// Get loads an appointment scoped to the tenant.
func (r *AppointmentRepository) Get(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1::uuid AND tenant_id = $2::uuid
	`, id, tenantID))
	if err != nil {
		return model.Appointment{}, mapErr(err)
	}
	return appt, nil
}

// MarkCancelled moves a booked appointment to cancelled.
func (r *AppointmentRepository) MarkCancelled(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1::uuid AND tenant_id = $2::uuid AND status = 'booked'
	`, id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

// Replace marks oldID rescheduled and inserts next in one transaction.
func (r *AppointmentRepository) Replace(ctx context.Context, tenantID, oldID string, next model.Appointment) (model.Appointment, error) {
	var created model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET status = 'rescheduled', updated_at = now()
			WHERE id = $1::uuid AND tenant_id = $2::uuid AND status = 'booked'
		`, oldID, tenantID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStatusChanged
		}
		next.TenantID = tenantID
		next.PreviousAppointmentID = oldID
		created, err = insertAppointment(ctx, tx, next)
		return err
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return created, nil
}

func (r *AppointmentRepository) HasOverlappingBooked(ctx context.Context, tenantID string, iv model.Interval, excludeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE tenant_id = $1::uuid
				AND status = 'booked'
				AND start_time < $3
				AND end_time > $2
				AND id::text <> $4
		)
	`, tenantID, iv.Start, iv.End, excludeID).Scan(&exists)
	return exists, err
}

func (r *AppointmentRepository) BookedIntervals(ctx context.Context, tenantID string, window model.Interval) ([]model.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE tenant_id = $1::uuid
			AND status = 'booked'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, tenantID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Interval
	for rows.Next() {
		var iv model.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// FindBooked returns booked appointments matching the filter, ascending by start time.
func (r *AppointmentRepository) FindBooked(ctx context.Context, tenantID string, f model.FindFilter) ([]model.Appointment, error) {
	sql, args := findBookedQuery(tenantID, f)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func findBookedQuery(tenantID string, f model.FindFilter) (string, []any) {
	where := []string{"tenant_id = $1::uuid", "status = 'booked'"}
	args := []any{tenantID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.CustomerPhone != "" {
		add("customer_phone = $%d", f.CustomerPhone)
	}
	if f.CustomerEmail != "" {
		add("lower(customer_email) = lower($%d)", f.CustomerEmail)
	}
	if f.From != nil {
		add("start_time >= $%d", f.From.UTC())
	}
	if f.To != nil {
		add("start_time < $%d", f.To.UTC())
	}
	args = append(args, f.Limit)
	sql := "SELECT " + appointmentColumns + "\n\tFROM appointments\n\tWHERE " + strings.Join(where, " AND ") +
		fmt.Sprintf("\n\tORDER BY start_time ASC\n\tLIMIT $%d", len(args))
	return sql, args
}
