// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of a crawl pipeline.
type State string

// Pipeline states. Initializing is the only start state; Completed and
// Error are terminal.
const (
	StateInitializing State = "initializing"
	StateDiscovering  State = "discovering"
	StateScraping     State = "scraping"
	StateFragmenting  State = "fragmenting"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// Terminal reports whether no further work is accepted in this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Active reports whether the pipeline is doing work in this state.
func (s State) Active() bool {
	return s == StateDiscovering || s == StateScraping || s == StateFragmenting
}

// Statistics is an immutable snapshot of pipeline counters. Every mutation
// returns a new value, so snapshots handed to callers stay stable.
type Statistics struct {
	Discovered int `json:"discovered"`
	Processed  int `json:"processed"`
	Fragmented int `json:"fragmented"`
	Downloaded int `json:"downloaded"`
	Errors     int `json:"errors"`
}

// AddDiscovered returns a snapshot with the discovered counter bumped.
func (s Statistics) AddDiscovered(n int) Statistics {
	s.Discovered += n
	return s
}

// AddProcessed returns a snapshot with the processed counter bumped.
func (s Statistics) AddProcessed(n int) Statistics {
	s.Processed += n
	return s
}

// AddFragmented returns a snapshot counting n emitted fragments.
func (s Statistics) AddFragmented(n int) Statistics {
	s.Fragmented += n
	return s
}

// AddDownloaded returns a snapshot counting n persisted assets.
func (s Statistics) AddDownloaded(n int) Statistics {
	s.Downloaded += n
	return s
}

// AddErrors returns a snapshot with the error counter bumped.
func (s Statistics) AddErrors(n int) Statistics {
	s.Errors += n
	return s
}

// Item identifies one discovered document within a source.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	DetailURL string `json:"detail_url"`
}

// Record is the structured result produced by a detail parse.
type Record struct {
	ItemID    string            `json:"item_id"`
	Title     string            `json:"title"`
	Author    string            `json:"author,omitempty"`
	Date      string            `json:"date,omitempty"`
	Reference string            `json:"reference,omitempty"`
	Text      string            `json:"text,omitempty"`
	AssetURL  string            `json:"asset_url,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Fragment is one chunk of a fragmented document text.
type Fragment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Pagination describes where a search response sits in its result set.
type Pagination struct {
	CurrentPage int
	TotalPages  int
}

// Checkpoint is the durable snapshot that lets a paused or stopped
// pipeline resume discovery where it left off. Items listed in PendingIDs
// were discovered but not yet processed; on resume they are rediscovered
// and scraped again.
type Checkpoint struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	Source          string    `json:"source"`
	Query           string    `json:"query"`
	MaxResults      int       `json:"max_results"`
	LastPage        int       `json:"last_page"`
	LastItemID      string    `json:"last_item_id"`
	SeenIDs         []string  `json:"seen_ids"`
	PendingIDs      []string  `json:"pending_ids"`
	TotalDiscovered int       `json:"total_discovered"`
	TotalProcessed  int       `json:"total_processed"`
	TotalErrors     int       `json:"total_errors"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate performs coarse validation on Checkpoint payloads.
func (c Checkpoint) Validate() error {
	if c.ID == uuid.Nil {
		return NewError(KindContent, "checkpoint id is required")
	}
	if c.SessionID == uuid.Nil {
		return NewError(KindContent, "checkpoint session id is required")
	}
	if c.Source == "" {
		return NewError(KindContent, "checkpoint source is required")
	}
	if c.CreatedAt.IsZero() {
		return NewError(KindContent, "checkpoint timestamp is required")
	}
	return nil
}

// ResumeSeen returns the dedup set a resumed discovery should start with:
// everything seen before, minus the items still pending so they get
// rediscovered and handed back to the scraper.
func (c Checkpoint) ResumeSeen() map[string]struct{} {
	pending := make(map[string]struct{}, len(c.PendingIDs))
	for _, id := range c.PendingIDs {
		pending[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(c.SeenIDs))
	for _, id := range c.SeenIDs {
		if _, ok := pending[id]; ok {
			continue
		}
		seen[id] = struct{}{}
	}
	return seen
}
