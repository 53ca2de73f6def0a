// Package sqlite provides a file-backed checkpoint store suitable for
// single-machine crawls.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lexharvest/lexharvest/internal/checkpoint"
	"github.com/lexharvest/lexharvest/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	source TEXT NOT NULL,
	query TEXT NOT NULL,
	max_results INTEGER NOT NULL,
	last_page INTEGER NOT NULL,
	last_item_id TEXT NOT NULL,
	seen_ids TEXT NOT NULL,
	pending_ids TEXT NOT NULL,
	total_discovered INTEGER NOT NULL,
	total_processed INTEGER NOT NULL,
	total_errors INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_source_created
	ON checkpoints (source, created_at);
`

// Config locates the database file.
type Config struct {
	Path string `mapstructure:"path"`
}

// Store persists checkpoints in a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (and if needed initializes) the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts cp keyed by its ID. ID lists are stored as JSON text.
func (s *Store) Save(ctx context.Context, cp pipeline.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	seen, err := json.Marshal(cp.SeenIDs)
	if err != nil {
		return fmt.Errorf("marshal seen ids: %w", err)
	}
	pending, err := json.Marshal(cp.PendingIDs)
	if err != nil {
		return fmt.Errorf("marshal pending ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (
			id, session_id, source, query, max_results, last_page,
			last_item_id, seen_ids, pending_ids, total_discovered,
			total_processed, total_errors, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_page = excluded.last_page,
			last_item_id = excluded.last_item_id,
			seen_ids = excluded.seen_ids,
			pending_ids = excluded.pending_ids,
			total_discovered = excluded.total_discovered,
			total_processed = excluded.total_processed,
			total_errors = excluded.total_errors,
			created_at = excluded.created_at;
	`,
		cp.ID.String(), cp.SessionID.String(), cp.Source, cp.Query,
		cp.MaxResults, cp.LastPage, cp.LastItemID, string(seen),
		string(pending), cp.TotalDiscovered, cp.TotalProcessed,
		cp.TotalErrors, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load fetches one checkpoint by ID.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (pipeline.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, source, query, max_results, last_page,
			last_item_id, seen_ids, pending_ids, total_discovered,
			total_processed, total_errors, created_at
		FROM checkpoints
		WHERE id = ?;
	`, id.String())
	return scanRow(row)
}

// Latest fetches the most recently created checkpoint for source.
func (s *Store) Latest(ctx context.Context, source string) (pipeline.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, source, query, max_results, last_page,
			last_item_id, seen_ids, pending_ids, total_discovered,
			total_processed, total_errors, created_at
		FROM checkpoints
		WHERE source = ?
		ORDER BY created_at DESC
		LIMIT 1;
	`, source)
	return scanRow(row)
}

// Delete removes a checkpoint.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?;`, id.String()); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func scanRow(row *sql.Row) (pipeline.Checkpoint, error) {
	var (
		cp            pipeline.Checkpoint
		id, session   string
		seen, pending string
	)
	err := row.Scan(
		&id, &session, &cp.Source, &cp.Query, &cp.MaxResults, &cp.LastPage,
		&cp.LastItemID, &seen, &pending, &cp.TotalDiscovered,
		&cp.TotalProcessed, &cp.TotalErrors, &cp.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Checkpoint{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("scan checkpoint: %w", err)
	}
	if cp.ID, err = uuid.Parse(id); err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("parse checkpoint id: %w", err)
	}
	if cp.SessionID, err = uuid.Parse(session); err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("parse session id: %w", err)
	}
	if err = json.Unmarshal([]byte(seen), &cp.SeenIDs); err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("decode seen ids: %w", err)
	}
	if err = json.Unmarshal([]byte(pending), &cp.PendingIDs); err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("decode pending ids: %w", err)
	}
	return cp, nil
}
