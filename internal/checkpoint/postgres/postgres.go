// Package postgres provides a Postgres-backed checkpoint store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexharvest/lexharvest/internal/checkpoint"
	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists checkpoints in a checkpoints table.
type Store struct {
	pool querier
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save upserts cp keyed by its ID.
func (s *Store) Save(ctx context.Context, cp pipeline.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO checkpoints (
			id, session_id, source, query, max_results, last_page,
			last_item_id, seen_ids, pending_ids, total_discovered,
			total_processed, total_errors, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			last_page = EXCLUDED.last_page,
			last_item_id = EXCLUDED.last_item_id,
			seen_ids = EXCLUDED.seen_ids,
			pending_ids = EXCLUDED.pending_ids,
			total_discovered = EXCLUDED.total_discovered,
			total_processed = EXCLUDED.total_processed,
			total_errors = EXCLUDED.total_errors,
			created_at = EXCLUDED.created_at;
	`
	_, err := s.pool.Exec(ctx, query,
		cp.ID, cp.SessionID, cp.Source, cp.Query, cp.MaxResults, cp.LastPage,
		cp.LastItemID, cp.SeenIDs, cp.PendingIDs, cp.TotalDiscovered,
		cp.TotalProcessed, cp.TotalErrors, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load fetches one checkpoint by ID.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (pipeline.Checkpoint, error) {
	query := `
		SELECT id, session_id, source, query, max_results, last_page,
			last_item_id, seen_ids, pending_ids, total_discovered,
			total_processed, total_errors, created_at
		FROM checkpoints
		WHERE id = $1;
	`
	return scanRow(s.pool.QueryRow(ctx, query, id))
}

// Latest fetches the most recently created checkpoint for source.
func (s *Store) Latest(ctx context.Context, source string) (pipeline.Checkpoint, error) {
	query := `
		SELECT id, session_id, source, query, max_results, last_page,
			last_item_id, seen_ids, pending_ids, total_discovered,
			total_processed, total_errors, created_at
		FROM checkpoints
		WHERE source = $1
		ORDER BY created_at DESC
		LIMIT 1;
	`
	return scanRow(s.pool.QueryRow(ctx, query, source))
}

// Delete removes a checkpoint.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE id = $1;`, id); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func scanRow(row pgx.Row) (pipeline.Checkpoint, error) {
	var cp pipeline.Checkpoint
	err := row.Scan(
		&cp.ID, &cp.SessionID, &cp.Source, &cp.Query, &cp.MaxResults,
		&cp.LastPage, &cp.LastItemID, &cp.SeenIDs, &cp.PendingIDs,
		&cp.TotalDiscovered, &cp.TotalProcessed, &cp.TotalErrors,
		&cp.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Checkpoint{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("scan checkpoint: %w", err)
	}
	return cp, nil
}
