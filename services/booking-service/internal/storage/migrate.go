package storage

import (
	"context"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/voicebook/libs/db"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by Migrate.
func Schema() string {
	return schema
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is raised by the booked-interval exclusion constraint.
	ErrConflict = errors.New("overlapping booked appointment")
	// ErrStatusChanged means a guarded status update matched no booked row.
	ErrStatusChanged = errors.New("appointment is no longer booked")
)

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isInvalidID reports a malformed uuid literal, which can never match a row.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err), isInvalidID(err):
		return ErrNotFound
	case IsConflict(err):
		return ErrConflict
	}
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
