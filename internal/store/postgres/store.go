// Package postgres provides Postgres-backed persistence for the evidence
// ledger and the datapoint time series.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawl.LedgerStore and crawl.DatapointStore on Postgres.
type Store struct {
	pool querier
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	s.pool.Close()
}

// InsertEvidence appends one ledger row. The (firm_id, key, content_hash)
// uniqueness constraint makes re-inserts no-ops; the bool reports whether a
// new row was written.
func (s *Store) InsertEvidence(ctx context.Context, rec crawl.EvidenceRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO evidence (firm_id, key, source_url, content_hash, object_uri, excerpt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (firm_id, key, content_hash) DO NOTHING`,
		rec.FirmID,
		rec.Key,
		rec.SourceURL,
		rec.ContentHash,
		rec.ObjectURI,
		rec.Excerpt,
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert evidence: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertDatapoint appends one datapoint row. History is never updated.
func (s *Store) InsertDatapoint(ctx context.Context, dp crawl.Datapoint) error {
	valueJSON, err := json.Marshal(dp.Value)
	if err != nil {
		return fmt.Errorf("marshal datapoint value: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO datapoints (firm_id, key, value, value_text, source_url, evidence_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		dp.FirmID,
		dp.Key,
		valueJSON,
		dp.ValueText,
		dp.SourceURL,
		dp.EvidenceHash,
		dp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert datapoint: %w", err)
	}
	return nil
}

// LatestDatapoint returns the most recently created row for (firmID, key).
func (s *Store) LatestDatapoint(ctx context.Context, firmID, key string) (crawl.Datapoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT firm_id, key, value, value_text, source_url, evidence_hash, created_at
		FROM datapoints
		WHERE firm_id = $1 AND key = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		firmID, key,
	)
	var (
		dp        crawl.Datapoint
		valueJSON []byte
	)
	err := row.Scan(&dp.FirmID, &dp.Key, &valueJSON, &dp.ValueText, &dp.SourceURL, &dp.EvidenceHash, &dp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.Datapoint{}, fmt.Errorf("no datapoint for %s/%s: %w", firmID, key, err)
	}
	if err != nil {
		return crawl.Datapoint{}, fmt.Errorf("query latest datapoint: %w", err)
	}
	if len(valueJSON) > 0 {
		if err := json.Unmarshal(valueJSON, &dp.Value); err != nil {
			return crawl.Datapoint{}, fmt.Errorf("unmarshal datapoint value: %w", err)
		}
	}
	return dp, nil
}

// ListFirms reads the crawl roster from the firms table.
func (s *Store) ListFirms(ctx context.Context) ([]crawl.Firm, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT firm_id, website_root
		FROM firms
		ORDER BY firm_id`)
	if err != nil {
		return nil, fmt.Errorf("query firms: %w", err)
	}
	defer rows.Close()

	var firms []crawl.Firm
	for rows.Next() {
		var firm crawl.Firm
		if err := rows.Scan(&firm.ID, &firm.WebsiteRoot); err != nil {
			return nil, fmt.Errorf("scan firm: %w", err)
		}
		firms = append(firms, firm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firms: %w", err)
	}
	return firms, nil
}
