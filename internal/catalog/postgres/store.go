// Package postgres provides the Postgres-backed canonical sighting store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brandsight/adharvest/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements harvest.CatalogStore on Postgres. The upsert makes each
// Promote's check-then-write atomic per content hash, so concurrent batches
// cannot double-promote the same creative.
type Store struct {
	pool  pool
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "canonical_sightings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "canonical_sightings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Promote upserts the sighting. A conflicting content hash bumps seen_count
// and last_seen_at in place; created reports whether a new row was inserted.
func (s *Store) Promote(ctx context.Context, sighting harvest.CanonicalSighting) (bool, error) {
	if sighting.ContentHash == "" {
		return false, fmt.Errorf("content hash is required")
	}
	payload, err := json.Marshal(sighting.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	seen := sighting.SeenCount
	if seen <= 0 {
		seen = 1
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	content_hash,
	advertiser_id,
	first_seen_at,
	last_seen_at,
	seen_count,
	channel_id,
	creative_payload
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (content_hash) DO UPDATE SET
	last_seen_at = GREATEST(%s.last_seen_at, EXCLUDED.last_seen_at),
	seen_count = %s.seen_count + 1
RETURNING (xmax = 0)`, s.table, s.table, s.table)

	var created bool
	row := s.pool.QueryRow(ctx, query,
		sighting.ContentHash,
		sighting.AdvertiserID,
		sighting.FirstSeen,
		sighting.LastSeen,
		seen,
		sighting.ChannelID,
		payload,
	)
	if err := row.Scan(&created); err != nil {
		return false, fmt.Errorf("promote sighting: %w", err)
	}
	return created, nil
}

// Lookup returns the canonical row for a content hash.
func (s *Store) Lookup(ctx context.Context, contentHash string) (harvest.CanonicalSighting, bool, error) {
	query := fmt.Sprintf(`
SELECT content_hash, advertiser_id, first_seen_at, last_seen_at, seen_count, channel_id, creative_payload
FROM %s WHERE content_hash = $1`, s.table)

	var (
		out     harvest.CanonicalSighting
		payload []byte
	)
	row := s.pool.QueryRow(ctx, query, contentHash)
	err := row.Scan(&out.ContentHash, &out.AdvertiserID, &out.FirstSeen, &out.LastSeen, &out.SeenCount, &out.ChannelID, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.CanonicalSighting{}, false, nil
	}
	if err != nil {
		return harvest.CanonicalSighting{}, false, fmt.Errorf("lookup sighting: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &out.Payload); err != nil {
			return harvest.CanonicalSighting{}, false, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return out, true, nil
}

// Count returns the number of canonical rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)
	var n int
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sightings: %w", err)
	}
	return n, nil
}
