package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	OpBook       = "book"
	OpCancel     = "cancel"
	OpReschedule = "reschedule"
)

type Store interface {
	Get(ctx context.Context, tenantID, operation, key string) ([]byte, bool, error)
	Insert(ctx context.Context, tenantID, operation, key string, response []byte) error
}

// Ledger records the response of a mutating call under (tenant, operation, key) so a
// retried call returns the first response instead of executing again. An empty key
// disables both lookup and record.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Lookup decodes a recorded response into out and reports whether one existed.
func (l *Ledger) Lookup(ctx context.Context, tenantID, operation, key string, out any) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	raw, ok, err := l.store.Get(ctx, tenantID, operation, key)
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("idempotency decode: %w", err)
	}
	return true, nil
}

// Record stores response. A record already present for the key is kept.
func (l *Ledger) Record(ctx context.Context, tenantID, operation, key string, response any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := l.store.Insert(ctx, tenantID, operation, key, raw); err != nil {
		return fmt.Errorf("idempotency record: %w", err)
	}
	return nil
}
