package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Response is the raw result of one HTTP fetch.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves a URL. Callers must acquire the shared rate limiter
// before invoking Fetch.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// Source bundles everything the pipeline needs to crawl one archive:
// URL construction plus the pure parsing collaborators. Implementations
// do no I/O.
type Source interface {
	Name() string
	SearchURL(query string, page int) string
	ParseSearchResults(body []byte) ([]Item, error)
	ParsePagination(body []byte) (Pagination, error)
	ParseDetail(itemID string, body []byte) (Record, error)
}

// BlobSink persists downloaded binary assets and returns a URI.
type BlobSink interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher receives ItemReady / TextFragmented payloads. Persistence
// and embedding consumers attach behind this boundary.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session and checkpoint IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
