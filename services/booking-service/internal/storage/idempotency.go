package storage

import (
	"context"

	"github.com/md-rashed-zaman/voicebook/libs/db"
)

type IdempotencyRepository struct {
	pool *db.Pool
}

func NewIdempotencyRepository(pool *db.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

func (r *IdempotencyRepository) Get(ctx context.Context, tenantID, operation, key string) ([]byte, bool, error) {
	var response []byte
	err := r.pool.QueryRow(ctx, `
		SELECT response::text
		FROM tool_idempotency
		WHERE tenant_id = $1::uuid AND operation = $2 AND idempotency_key = $3
	`, tenantID, operation, key).Scan(&response)
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return response, true, nil
}

// Insert keeps the first record when two callers race on the same key.
func (r *IdempotencyRepository) Insert(ctx context.Context, tenantID, operation, key string, response []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tool_idempotency (tenant_id, operation, idempotency_key, response)
		VALUES ($1::uuid, $2, $3, $4::jsonb)
		ON CONFLICT (tenant_id, operation, idempotency_key) DO NOTHING
	`, tenantID, operation, key, string(response))
	return err
}
