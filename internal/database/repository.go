package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrVersionConflict is returned when an optimistic update finds a newer row_version.
	ErrVersionConflict = errors.New("row was modified concurrently")
	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("duplicate key")
	// ErrQuotaExceeded is returned when a counter would pass its limit.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrNotFound is returned by updates whose target row does not exist.
	// Getters return (nil, nil) instead.
	ErrNotFound = errors.New("not found")
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides data access methods against one database.
type Repository struct {
	db *DB
	q  querier
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, q: db.Pool}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// GetDB returns the underlying DB.
func (r *Repository) GetDB() *DB {
	return r.db
}

// WithTx runs fn against a repository bound to a single transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		return fn(&Repository{db: r.db, q: tx})
	})
}

// mapWriteError converts driver errors into repository sentinels.
func mapWriteError(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// versionMiss explains why a versioned update touched no rows.
func (r *Repository) versionMiss(ctx context.Context, table, keyColumn, key string) error {
	var current int64
	err := r.q.QueryRow(ctx,
		fmt.Sprintf(`SELECT row_version FROM %s WHERE %s = $1`, table, keyColumn), key,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s version: %w", table, err)
	}
	return ErrVersionConflict
}

// whereBuilder accumulates AND-ed conditions with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	out := " WHERE " + w.clauses[0]
	for _, c := range w.clauses[1:] {
		out += " AND " + c
	}
	return out
}

// next returns the placeholder index for the next argument.
func (w *whereBuilder) next() int {
	return len(w.args) + 1
}
