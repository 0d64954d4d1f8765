package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PoolOptions sizes the connection pool. Zero values keep pgx defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB wraps a PostgreSQL connection pool for verdict auditing.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool and ensures the schema exists.
func New(ctx context.Context, dsn string, opts PoolOptions) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogVerdict inserts a verdict record into the audit log.
func (db *DB) LogVerdict(ctx context.Context, rec *VerdictRecord) error {
	query := `
		INSERT INTO verdicts (id, code_hash, code_length, kind, rule, valid, reason,
			policy_fingerprint, duration_us, request_ip, api_key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.CodeHash, rec.CodeLength, rec.Kind, rec.Rule, rec.Valid,
		truncateForDB(rec.Reason, 1024),
		rec.PolicyFingerprint, rec.DurationUS,
		rec.RequestIP, rec.APIKeyHash, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting verdict: %w", err)
	}
	return nil
}

const verdictColumns = `id, code_hash, code_length, kind, rule, valid, reason,
	policy_fingerprint, duration_us, request_ip, api_key_hash, created_at`

func scanVerdict(row pgx.Row, rec *VerdictRecord) error {
	return row.Scan(
		&rec.ID, &rec.CodeHash, &rec.CodeLength, &rec.Kind, &rec.Rule, &rec.Valid, &rec.Reason,
		&rec.PolicyFingerprint, &rec.DurationUS, &rec.RequestIP, &rec.APIKeyHash, &rec.CreatedAt,
	)
}

// GetVerdict retrieves a single verdict by ID.
func (db *DB) GetVerdict(ctx context.Context, id string) (*VerdictRecord, error) {
	query := `SELECT ` + verdictColumns + ` FROM verdicts WHERE id = $1`

	var rec VerdictRecord
	if err := scanVerdict(db.pool.QueryRow(ctx, query, id), &rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying verdict %s: %w", id, err)
	}
	return &rec, nil
}

// ListVerdicts queries verdicts with optional filters, newest first.
func (db *DB) ListVerdicts(ctx context.Context, filter VerdictFilter) ([]VerdictRecord, error) {
	query := `SELECT ` + verdictColumns + `
		FROM verdicts
		WHERE ($1 = '' OR kind = $1)
		  AND ($2::boolean IS NULL OR valid = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	rows, err := db.pool.Query(ctx, query, filter.Kind, filter.Valid, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying verdicts: %w", err)
	}
	defer rows.Close()

	results := make([]VerdictRecord, 0, limit)
	for rows.Next() {
		var rec VerdictRecord
		if err := scanVerdict(rows, &rec); err != nil {
			return nil, fmt.Errorf("scanning verdict row: %w", err)
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
