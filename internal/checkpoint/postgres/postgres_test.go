package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/lexharvest/lexharvest/internal/checkpoint"
	"github.com/lexharvest/lexharvest/internal/pipeline"
)

func testCheckpoint() pipeline.Checkpoint {
	return pipeline.Checkpoint{
		ID:              uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427"),
		SessionID:       uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Source:          "awards",
		Query:           "arbitraje",
		MaxResults:      100,
		LastPage:        4,
		LastItemID:      "exp-88",
		SeenIDs:         []string{"exp-87", "exp-88"},
		PendingIDs:      []string{"exp-88"},
		TotalDiscovered: 40,
		TotalProcessed:  39,
		TotalErrors:     1,
		CreatedAt:       time.Unix(1700000000, 0).UTC(),
	}
}

func TestSaveUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	cp := testCheckpoint()
	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs(
			cp.ID, cp.SessionID, cp.Source, cp.Query, cp.MaxResults,
			cp.LastPage, cp.LastItemID, cp.SeenIDs, cp.PendingIDs,
			cp.TotalDiscovered, cp.TotalProcessed, cp.TotalErrors,
			cp.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), cp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRejectsInvalidCheckpoint(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	err = store.Save(context.Background(), pipeline.Checkpoint{})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "invalid checkpoints never reach the database")
}

func TestLoadScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	cp := testCheckpoint()
	rows := pgxmock.NewRows([]string{
		"id", "session_id", "source", "query", "max_results", "last_page",
		"last_item_id", "seen_ids", "pending_ids", "total_discovered",
		"total_processed", "total_errors", "created_at",
	}).AddRow(
		cp.ID, cp.SessionID, cp.Source, cp.Query, cp.MaxResults, cp.LastPage,
		cp.LastItemID, cp.SeenIDs, cp.PendingIDs, cp.TotalDiscovered,
		cp.TotalProcessed, cp.TotalErrors, cp.CreatedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM checkpoints").
		WithArgs(cp.ID).
		WillReturnRows(rows)

	got, err := store.Load(context.Background(), cp.ID)
	require.NoError(t, err)
	require.Equal(t, cp, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM checkpoints").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = store.Load(context.Background(), id)
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestDeleteRemovesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectExec("DELETE FROM checkpoints").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Delete(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}
