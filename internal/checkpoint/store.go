// Package checkpoint defines durable storage for pipeline resume points.
// Providers live in sub-packages; the coordinator only sees this
// interface.
package checkpoint

import (
	"context"

	"github.com/google/uuid"

	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// ErrNotFound is returned when no checkpoint matches the lookup.
var ErrNotFound = pipeline.NewError(pipeline.KindNotFound, "checkpoint not found")

// Store persists pipeline checkpoints. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save upserts cp keyed by its ID.
	Save(ctx context.Context, cp pipeline.Checkpoint) error
	// Load fetches one checkpoint by ID.
	Load(ctx context.Context, id uuid.UUID) (pipeline.Checkpoint, error)
	// Latest fetches the most recently created checkpoint for a source,
	// across sessions.
	Latest(ctx context.Context, source string) (pipeline.Checkpoint, error)
	// Delete removes a checkpoint. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}
