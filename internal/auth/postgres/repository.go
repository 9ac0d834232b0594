// Package postgres provides the Postgres-backed credential repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadflowhq/leadstream/internal/auth"
)

// Config controls the Postgres connection pool used for credential rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Repository persists credentials in the api_credentials table.
type Repository struct {
	pool pool
}

// NewRepository connects a pool from cfg and wraps it in a Repository.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: p}, nil
}

// NewRepositoryWithPool constructs a Repository from an existing pool
// (primarily for testing).
func NewRepositoryWithPool(p pool) (*Repository, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: p}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const credentialColumns = `id, secret_hash, owner_id, name, permissions, is_active, quota_per_minute, created_at, expires_at, last_used_at`

// Insert stores a new credential row.
func (r *Repository) Insert(ctx context.Context, cred auth.Credential) error {
	const query = `
INSERT INTO api_credentials (
	id,
	secret_hash,
	owner_id,
	name,
	permissions,
	is_active,
	quota_per_minute,
	created_at,
	expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		cred.ID,
		cred.SecretHash,
		cred.OwnerID,
		cred.Name,
		cred.Permissions,
		cred.IsActive,
		cred.QuotaPerMinute,
		cred.CreatedAt,
		cred.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetByID fetches a credential by id.
func (r *Repository) GetByID(ctx context.Context, id string) (auth.Credential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials WHERE id = $1`, id)
	return scanCredential(row)
}

// GetByHash fetches a credential by its secret hash.
func (r *Repository) GetByHash(ctx context.Context, secretHash string) (auth.Credential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials WHERE secret_hash = $1`, secretHash)
	return scanCredential(row)
}

// ListByOwner returns all of ownerID's credentials, revoked included,
// newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]auth.Credential, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []auth.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

// CountActiveByOwner counts ownerID's credentials still marked active.
func (r *Repository) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_credentials WHERE owner_id = $1 AND is_active`, ownerID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active credentials: %w", err)
	}
	return count, nil
}

// SetActive flips a credential's active flag.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_credentials SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update credential active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// SetName updates a credential's display name.
func (r *Repository) SetName(ctx context.Context, id, name string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_credentials SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("update credential name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// TouchLastUsed stamps the credential's last_used marker. Last write wins.
func (r *Repository) TouchLastUsed(ctx context.Context, id string, ts time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_credentials SET last_used_at = $2 WHERE id = $1`, id, ts)
	if err != nil {
		return fmt.Errorf("update credential last_used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCredential(row scannable) (auth.Credential, error) {
	var cred auth.Credential
	err := row.Scan(
		&cred.ID,
		&cred.SecretHash,
		&cred.OwnerID,
		&cred.Name,
		&cred.Permissions,
		&cred.IsActive,
		&cred.QuotaPerMinute,
		&cred.CreatedAt,
		&cred.ExpiresAt,
		&cred.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Credential{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	return cred, nil
}
