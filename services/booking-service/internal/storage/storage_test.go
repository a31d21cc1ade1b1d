package storage

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
)

func TestMapErr(t *testing.T) {
	if !errors.Is(mapErr(pgx.ErrNoRows), ErrNotFound) {
		t.Fatal("no rows must map to ErrNotFound")
	}
	if !errors.Is(mapErr(&pgconn.PgError{Code: "22P02"}), ErrNotFound) {
		t.Fatal("invalid uuid must map to ErrNotFound")
	}
	if !errors.Is(mapErr(&pgconn.PgError{Code: "23P01"}), ErrConflict) {
		t.Fatal("exclusion violation must map to ErrConflict")
	}
	other := errors.New("boom")
	if mapErr(other) != other {
		t.Fatal("other errors must pass through")
	}
}

func TestFindBookedQuery(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sql, args := findBookedQuery("t1", model.FindFilter{CustomerEmail: "a@b.c", From: &from, Limit: 10})
	if !strings.Contains(sql, "lower(customer_email) = lower($2)") {
		t.Fatalf("missing email clause: %s", sql)
	}
	if !strings.Contains(sql, "start_time >= $3") || !strings.Contains(sql, "LIMIT $4") {
		t.Fatalf("unexpected placeholders: %s", sql)
	}
	if strings.Contains(sql, "customer_phone =") {
		t.Fatalf("phone clause must be omitted: %s", sql)
	}
	if len(args) != 4 || args[3] != 10 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestSchemaDeclaresTables(t *testing.T) {
	for _, table := range []string{"tenants", "calendar_credentials", "tool_tokens", "tenant_business_rules", "appointments", "tool_idempotency", "call_logs"} {
		if !strings.Contains(Schema(), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Fatalf("schema missing table %s", table)
		}
	}
}
