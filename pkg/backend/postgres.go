package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creact-labs/creact-sub004/pkg/state"
)

// PostgresBackend persists state, audit entries, and locks in PostgreSQL.
// One row per stack; state is stored as jsonb so operators can query it.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps an existing connection pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// ConnectPostgres opens a pool from a connection string and prepares the
// schema.
func ConnectPostgres(ctx context.Context, connString string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	cfg.MaxConns = 5
	cfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b := &PostgresBackend{pool: pool}
	if err := b.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// EnsureSchema creates the backing tables when missing. Statements run one
// at a time; the extended query protocol does not accept batched DDL.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS creact_states (
			stack_name TEXT PRIMARY KEY,
			state      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS creact_audit (
			id         BIGSERIAL PRIMARY KEY,
			stack_name TEXT NOT NULL,
			entry      JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS creact_audit_stack_idx ON creact_audit (stack_name, id)`,
		`CREATE TABLE IF NOT EXISTS creact_locks (
			stack_name TEXT PRIMARY KEY,
			holder     TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (b *PostgresBackend) Close() {
	b.pool.Close()
}

// GetState loads the stack's persisted state, nil when absent.
func (b *PostgresBackend) GetState(ctx context.Context, stack string) (*state.DeploymentState, error) {
	var data []byte
	err := b.pool.QueryRow(ctx,
		`SELECT state FROM creact_states WHERE stack_name = $1`, stack).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state for %s: %w", stack, err)
	}
	return state.UnmarshalState(data)
}

// SaveState upserts the stack's state.
func (b *PostgresBackend) SaveState(ctx context.Context, stack string, s *state.DeploymentState) error {
	data, err := state.MarshalState(s)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO creact_states (stack_name, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (stack_name) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
	`, stack, data)
	if err != nil {
		return fmt.Errorf("save state for %s: %w", stack, err)
	}
	return nil
}

// AppendAuditLog inserts one audit row.
func (b *PostgresBackend) AppendAuditLog(ctx context.Context, stack string, entry state.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO creact_audit (stack_name, entry) VALUES ($1, $2)`, stack, data)
	if err != nil {
		return fmt.Errorf("append audit for %s: %w", stack, err)
	}
	return nil
}

// GetAuditLog returns the newest entries, oldest first.
func (b *PostgresBackend) GetAuditLog(ctx context.Context, stack string, limit int) ([]state.AuditEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := b.pool.Query(ctx, `
		SELECT entry FROM (
			SELECT id, entry FROM creact_audit WHERE stack_name = $1 ORDER BY id DESC LIMIT $2
		) latest ORDER BY id ASC
	`, stack, limit)
	if err != nil {
		return nil, fmt.Errorf("get audit for %s: %w", stack, err)
	}
	defer rows.Close()

	var entries []state.AuditEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e state.AuditEntry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AcquireLock takes or refreshes the advisory row lock. Expired locks are
// broken by the upsert condition.
func (b *PostgresBackend) AcquireLock(ctx context.Context, stack, holder string, ttl time.Duration) (bool, error) {
	tag, err := b.pool.Exec(ctx, `
		INSERT INTO creact_locks (stack_name, holder, expires_at)
		VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (stack_name) DO UPDATE
			SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
			WHERE creact_locks.holder = EXCLUDED.holder OR creact_locks.expires_at < now()
	`, stack, holder, fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		return false, fmt.Errorf("acquire lock for %s: %w", stack, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock drops the lock row.
func (b *PostgresBackend) ReleaseLock(ctx context.Context, stack string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM creact_locks WHERE stack_name = $1`, stack)
	return err
}
