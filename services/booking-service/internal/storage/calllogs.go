package storage

import (
	"context"

	"github.com/md-rashed-zaman/voicebook/libs/db"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
)

type CallLogRepository struct {
	pool *db.Pool
}

func NewCallLogRepository(pool *db.Pool) *CallLogRepository {
	return &CallLogRepository{pool: pool}
}

func (r *CallLogRepository) Insert(ctx context.Context, l model.CallLog) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO call_logs (tenant_id, call_id, from_number, intent, summary, transcript, recording_url)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		RETURNING id::text
	`, l.TenantID, l.CallID, l.FromNumber, l.Intent, l.Summary, l.Transcript, l.RecordingURL).Scan(&id)
	return id, err
}
