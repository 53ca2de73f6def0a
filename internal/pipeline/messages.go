package pipeline

import "github.com/google/uuid"

// Message is the unit of actor communication. Messages are read-only
// after construction and carry the session (discovery run) they belong
// to. Handlers dispatch over the concrete type; the marker method keeps
// the set closed to this package.
type Message interface {
	Session() uuid.UUID
	message()
}

// Envelope carries the correlation ID shared by every message type.
// Embed it in a message struct to satisfy Message.
type Envelope struct {
	SessionID uuid.UUID
}

// Session returns the correlation ID grouping sub-requests of one run.
func (e Envelope) Session() uuid.UUID { return e.SessionID }

func (Envelope) message() {}

// Commands.

// StartPipeline asks the coordinator to begin a new discovery session.
type StartPipeline struct {
	Envelope
	Source     string
	Query      string
	MaxResults int
}

// ResumePipelineFrom seeds a new session from a checkpoint.
type ResumePipelineFrom struct {
	Envelope
	Checkpoint Checkpoint
}

// PausePipeline suspends forwarding and produces a checkpoint.
type PausePipeline struct {
	Envelope
}

// ResumePipeline restores the state recorded at pause.
type ResumePipeline struct {
	Envelope
}

// StopPipeline ends the run, optionally checkpointing first.
type StopPipeline struct {
	Envelope
	SaveProgress bool
}

// GetStatus queries the current state; answered with StatusReply.
type GetStatus struct {
	Envelope
}

// GetStatistics queries the counters; answered with StatisticsReply.
type GetStatistics struct {
	Envelope
}

// StartDiscovery tells the discovery actor to paginate a search.
type StartDiscovery struct {
	Envelope
	Source     string
	Query      string
	MaxResults int
	StartPage  int
	Seen       map[string]struct{}
}

// ScrapeItem tells the scraper to fetch and parse one item's detail page.
type ScrapeItem struct {
	Envelope
	Item Item
}

// DownloadAsset tells the downloader to fetch and persist one binary.
type DownloadAsset struct {
	Envelope
	ItemID string
	URL    string
}

// FragmentText tells the fragmenter to chunk one document's text.
type FragmentText struct {
	Envelope
	ItemID string
	Text   string
}

// Events.

// ItemDiscovered reports one new unique search result.
type ItemDiscovered struct {
	Envelope
	Item Item
	Page int
}

// DiscoveryComplete reports the end of pagination.
type DiscoveryComplete struct {
	Envelope
	Discovered int
	Pages      int
}

// ItemReady reports a successful detail scrape.
type ItemReady struct {
	Envelope
	Record Record
}

// ItemNotFound completes an item whose detail page returned 404.
type ItemNotFound struct {
	Envelope
	ItemID string
}

// AssetReady reports a persisted binary asset.
type AssetReady struct {
	Envelope
	ItemID string
	URI    string
	Bytes  int64
}

// TextFragmented reports the ordered chunk sequence for one document.
type TextFragmented struct {
	Envelope
	ItemID    string
	Fragments []Fragment
}

// ProcessingError escalates a structured failure to the coordinator.
type ProcessingError struct {
	Envelope
	Err *Error
}

// Replies.

// Ack is the empty successful reply to a command Ask.
type Ack struct {
	Envelope
}

// StatusReply answers GetStatus.
type StatusReply struct {
	Envelope
	State      State
	Paused     bool
	Breakers   map[string]string
	Statistics Statistics
}

// StatisticsReply answers GetStatistics.
type StatisticsReply struct {
	Envelope
	Statistics Statistics
}

// CheckpointSaved answers PausePipeline with the produced checkpoint.
type CheckpointSaved struct {
	Envelope
	Checkpoint Checkpoint
}
