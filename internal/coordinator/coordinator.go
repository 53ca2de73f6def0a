// Package coordinator implements the pipeline's supervising actor: the
// lifecycle state machine, work dispatch to the worker actors, counter
// bookkeeping, and checkpointed pause/resume.
package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/actor"
	"github.com/lexharvest/lexharvest/internal/checkpoint"
	"github.com/lexharvest/lexharvest/internal/metrics"
	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Config controls coordinator behavior.
type Config struct {
	// CheckpointEvery saves a checkpoint after this many processed items
	// (default 25). Zero disables periodic checkpoints; pause and stop
	// still checkpoint explicitly.
	CheckpointEvery int `mapstructure:"every_items"`
	// DownloadAssets dispatches a DownloadAsset for records carrying an
	// asset URL.
	DownloadAssets bool `mapstructure:"download_assets"`
	// FragmentText dispatches a FragmentText for records carrying text.
	FragmentText bool `mapstructure:"fragment_text"`
	// RecordsTopic and FragmentsTopic name the publisher destinations.
	RecordsTopic   string `mapstructure:"records_topic"`
	FragmentsTopic string `mapstructure:"fragments_topic"`
}

// Worker actor names. Escalated errors carry these as their origin, and
// the coordinator's bookkeeping depends on matching them.
const (
	NameDiscovery  = "discovery"
	NameScraper    = "scraper"
	NameDownloader = "downloader"
	NameFragmenter = "fragmenter"
)

// Refs are the worker actors the coordinator dispatches to. Bound after
// construction because workers need the coordinator ref first.
type Refs struct {
	Discovery  actor.Teller
	Scraper    actor.Teller
	Downloader actor.Teller
	Fragmenter actor.Teller
}

// Coordinator is the actor handler owning all pipeline state. The actor
// runtime serializes Handle calls, so the mutable fields need no lock.
type Coordinator struct {
	cfg    Config
	store  checkpoint.Store
	pub    pipeline.Publisher
	clock  pipeline.Clock
	logger *zap.Logger

	refs          Refs
	breakerStates func() map[string]string

	state      pipeline.State
	paused     bool
	sessionID  uuid.UUID
	source     string
	query      string
	maxResults int
	stats      pipeline.Statistics

	seen             map[string]struct{}
	pending          map[string]pipeline.Item
	deferred         []pipeline.ScrapeItem
	secondaryPending int
	discoveryDone    bool
	lastPage         int
	lastItemID       string
	sinceCheckpoint  int
	checkpointID     uuid.UUID
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithPublisher attaches an event publisher for records and fragments.
func WithPublisher(pub pipeline.Publisher) Option {
	return func(c *Coordinator) { c.pub = pub }
}

// WithBreakerStates supplies the circuit states reported by GetStatus.
func WithBreakerStates(fn func() map[string]string) Option {
	return func(c *Coordinator) { c.breakerStates = fn }
}

// WithClock replaces the wall clock (tests).
func WithClock(clock pipeline.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// New constructs a Coordinator persisting checkpoints to store.
func New(cfg Config, store checkpoint.Store, clock pipeline.Clock, logger *zap.Logger, opts ...Option) *Coordinator {
	if cfg.CheckpointEvery < 0 {
		cfg.CheckpointEvery = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cfg:     cfg,
		store:   store,
		clock:   clock,
		logger:  logger,
		state:   pipeline.StateInitializing,
		seen:    make(map[string]struct{}),
		pending: make(map[string]pipeline.Item),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind attaches the worker refs. Must be called before the first
// StartPipeline.
func (c *Coordinator) Bind(refs Refs) {
	c.refs = refs
}

// State returns the current lifecycle state. Only safe to call from
// within the actor's own goroutine or after the actor has stopped.
func (c *Coordinator) State() pipeline.State { return c.state }

// Handle processes one message.
func (c *Coordinator) Handle(ctx context.Context, msg pipeline.Message) (pipeline.Message, error) {
	switch m := msg.(type) {
	case pipeline.StartPipeline:
		return c.start(ctx, m)
	case pipeline.ResumePipelineFrom:
		return c.resumeFrom(ctx, m)
	case pipeline.PausePipeline:
		return c.pause(ctx, m)
	case pipeline.ResumePipeline:
		return c.resume(m)
	case pipeline.StopPipeline:
		return c.stop(ctx, m)
	case pipeline.GetStatus:
		return c.status(m), nil
	case pipeline.GetStatistics:
		return pipeline.StatisticsReply{Envelope: m.Envelope, Statistics: c.stats}, nil
	case pipeline.ItemDiscovered:
		c.onDiscovered(m)
	case pipeline.DiscoveryComplete:
		c.onDiscoveryComplete(ctx, m)
	case pipeline.ItemReady:
		c.onItemReady(ctx, m)
	case pipeline.ItemNotFound:
		c.onItemNotFound(ctx, m)
	case pipeline.AssetReady:
		c.onAssetReady(ctx, m)
	case pipeline.TextFragmented:
		c.onFragmented(ctx, m)
	case pipeline.ProcessingError:
		c.onError(ctx, m)
	default:
		return nil, pipeline.NewError(pipeline.KindContent,
			fmt.Sprintf("coordinator cannot handle %T", msg))
	}
	return nil, nil
}

// Lifecycle commands.

func (c *Coordinator) start(_ context.Context, m pipeline.StartPipeline) (pipeline.Message, error) {
	if err := c.transition(pipeline.StateDiscovering); err != nil {
		return nil, err
	}
	c.sessionID = m.SessionID
	if c.sessionID == uuid.Nil {
		c.sessionID = uuid.New()
	}
	c.source = m.Source
	c.query = m.Query
	c.maxResults = m.MaxResults
	c.checkpointID = uuid.New()

	c.logger.Info("pipeline started",
		zap.String("session_id", c.sessionID.String()),
		zap.String("source", c.source),
		zap.String("query", c.query),
		zap.Int("max_results", c.maxResults))

	c.refs.Discovery.Tell(pipeline.StartDiscovery{
		Envelope:   pipeline.Envelope{SessionID: c.sessionID},
		Source:     c.source,
		Query:      c.query,
		MaxResults: c.maxResults,
		StartPage:  1,
	})
	return pipeline.Ack{Envelope: pipeline.Envelope{SessionID: c.sessionID}}, nil
}

func (c *Coordinator) resumeFrom(ctx context.Context, m pipeline.ResumePipelineFrom) (pipeline.Message, error) {
	cp := m.Checkpoint
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	if err := c.transition(pipeline.StateDiscovering); err != nil {
		return nil, err
	}

	c.sessionID = cp.SessionID
	c.source = cp.Source
	c.query = cp.Query
	c.maxResults = cp.MaxResults
	c.checkpointID = cp.ID
	c.lastPage = cp.LastPage
	c.lastItemID = cp.LastItemID
	c.seen = cp.ResumeSeen()
	// Handled items stay counted; pending ones get rediscovered and
	// re-counted, so the discovered baseline excludes them.
	c.stats = pipeline.Statistics{
		Discovered: cp.TotalProcessed + cp.TotalErrors,
		Processed:  cp.TotalProcessed,
		Errors:     cp.TotalErrors,
	}

	remaining := c.maxResults - cp.TotalProcessed - cp.TotalErrors
	if c.maxResults > 0 && remaining <= 0 {
		c.discoveryDone = true
		c.maybeComplete(ctx)
		return pipeline.Ack{Envelope: pipeline.Envelope{SessionID: c.sessionID}}, nil
	}

	startPage := cp.LastPage
	if startPage < 1 {
		startPage = 1
	}
	c.logger.Info("pipeline resumed from checkpoint",
		zap.String("checkpoint_id", cp.ID.String()),
		zap.String("session_id", c.sessionID.String()),
		zap.String("source", c.source),
		zap.Int("start_page", startPage),
		zap.Int("pending", len(cp.PendingIDs)))

	c.refs.Discovery.Tell(pipeline.StartDiscovery{
		Envelope:   pipeline.Envelope{SessionID: c.sessionID},
		Source:     c.source,
		Query:      c.query,
		MaxResults: remaining,
		StartPage:  startPage,
		Seen:       cp.ResumeSeen(),
	})
	return pipeline.Ack{Envelope: pipeline.Envelope{SessionID: c.sessionID}}, nil
}

func (c *Coordinator) pause(ctx context.Context, m pipeline.PausePipeline) (pipeline.Message, error) {
	if !c.state.Active() {
		return nil, pipeline.NewError(pipeline.KindIllegalTransition,
			fmt.Sprintf("cannot pause pipeline in state %s", c.state))
	}
	if c.paused {
		return nil, pipeline.NewError(pipeline.KindIllegalTransition, "pipeline is already paused")
	}
	c.paused = true

	cp := c.buildCheckpoint()
	if err := c.store.Save(ctx, cp); err != nil {
		c.paused = false
		return nil, pipeline.WrapError(pipeline.KindTransient, "checkpoint save failed", err)
	}
	c.logger.Info("pipeline paused",
		zap.String("checkpoint_id", cp.ID.String()),
		zap.Int("pending", len(cp.PendingIDs)))
	return pipeline.CheckpointSaved{Envelope: m.Envelope, Checkpoint: cp}, nil
}

func (c *Coordinator) resume(m pipeline.ResumePipeline) (pipeline.Message, error) {
	if !c.paused {
		return nil, pipeline.NewError(pipeline.KindIllegalTransition, "pipeline is not paused")
	}
	c.paused = false

	flush := c.deferred
	c.deferred = nil
	for _, cmd := range flush {
		c.refs.Scraper.Tell(cmd)
	}
	c.logger.Info("pipeline resumed", zap.Int("flushed", len(flush)))
	return pipeline.Ack{Envelope: m.Envelope}, nil
}

func (c *Coordinator) stop(ctx context.Context, m pipeline.StopPipeline) (pipeline.Message, error) {
	if !c.state.Active() {
		return nil, pipeline.NewError(pipeline.KindIllegalTransition,
			fmt.Sprintf("cannot stop pipeline in state %s", c.state))
	}
	var saved *pipeline.Checkpoint
	if m.SaveProgress {
		cp := c.buildCheckpoint()
		if err := c.store.Save(ctx, cp); err != nil {
			return nil, pipeline.WrapError(pipeline.KindTransient, "checkpoint save failed", err)
		}
		saved = &cp
	}
	c.setState(pipeline.StateCompleted)
	c.logger.Info("pipeline stopped",
		zap.Bool("progress_saved", m.SaveProgress),
		zap.Int("processed", c.stats.Processed))

	if saved != nil {
		return pipeline.CheckpointSaved{Envelope: m.Envelope, Checkpoint: *saved}, nil
	}
	return pipeline.Ack{Envelope: m.Envelope}, nil
}

func (c *Coordinator) status(_ pipeline.GetStatus) pipeline.Message {
	reply := pipeline.StatusReply{
		Envelope:   pipeline.Envelope{SessionID: c.sessionID},
		State:      c.state,
		Paused:     c.paused,
		Statistics: c.stats,
	}
	if c.breakerStates != nil {
		reply.Breakers = c.breakerStates()
	}
	return reply
}

// Worker events.

func (c *Coordinator) onDiscovered(m pipeline.ItemDiscovered) {
	if c.stale(m.Envelope) {
		return
	}
	c.stats = c.stats.AddDiscovered(1)
	c.seen[m.Item.ID] = struct{}{}
	c.pending[m.Item.ID] = m.Item
	c.lastPage = m.Page
	c.lastItemID = m.Item.ID

	cmd := pipeline.ScrapeItem{
		Envelope: pipeline.Envelope{SessionID: c.sessionID},
		Item:     m.Item,
	}
	if c.paused {
		c.deferred = append(c.deferred, cmd)
		return
	}
	if c.state == pipeline.StateDiscovering {
		c.setState(pipeline.StateScraping)
	}
	c.refs.Scraper.Tell(cmd)
}

func (c *Coordinator) onDiscoveryComplete(ctx context.Context, m pipeline.DiscoveryComplete) {
	if c.stale(m.Envelope) {
		return
	}
	c.discoveryDone = true
	c.logger.Info("discovery complete",
		zap.Int("discovered", m.Discovered),
		zap.Int("pages", m.Pages))
	c.maybeComplete(ctx)
}

func (c *Coordinator) onItemReady(ctx context.Context, m pipeline.ItemReady) {
	if c.stale(m.Envelope) {
		return
	}
	rec := m.Record
	delete(c.pending, rec.ItemID)
	c.stats = c.stats.AddProcessed(1)
	c.publish(ctx, c.cfg.RecordsTopic, rec)

	if c.cfg.FragmentText && rec.Text != "" {
		c.secondaryPending++
		if c.state == pipeline.StateScraping {
			c.setState(pipeline.StateFragmenting)
		}
		c.refs.Fragmenter.Tell(pipeline.FragmentText{
			Envelope: pipeline.Envelope{SessionID: c.sessionID},
			ItemID:   rec.ItemID,
			Text:     rec.Text,
		})
	}
	if c.cfg.DownloadAssets && rec.AssetURL != "" {
		c.secondaryPending++
		c.refs.Downloader.Tell(pipeline.DownloadAsset{
			Envelope: pipeline.Envelope{SessionID: c.sessionID},
			ItemID:   rec.ItemID,
			URL:      rec.AssetURL,
		})
	}

	c.periodicCheckpoint(ctx)
	c.maybeComplete(ctx)
}

func (c *Coordinator) onItemNotFound(ctx context.Context, m pipeline.ItemNotFound) {
	if c.stale(m.Envelope) {
		return
	}
	delete(c.pending, m.ItemID)
	c.stats = c.stats.AddProcessed(1)
	c.logger.Debug("item completed with no result", zap.String("item_id", m.ItemID))
	c.periodicCheckpoint(ctx)
	c.maybeComplete(ctx)
}

func (c *Coordinator) onAssetReady(ctx context.Context, m pipeline.AssetReady) {
	if c.stale(m.Envelope) {
		return
	}
	c.stats = c.stats.AddDownloaded(1)
	c.secondaryPending--
	c.maybeComplete(ctx)
}

func (c *Coordinator) onFragmented(ctx context.Context, m pipeline.TextFragmented) {
	if c.stale(m.Envelope) {
		return
	}
	c.stats = c.stats.AddFragmented(len(m.Fragments))
	c.secondaryPending--
	if len(m.Fragments) > 0 {
		c.publish(ctx, c.cfg.FragmentsTopic, m)
	}
	if c.state == pipeline.StateFragmenting && len(c.pending) > 0 {
		c.setState(pipeline.StateScraping)
	}
	c.maybeComplete(ctx)
}

func (c *Coordinator) onError(ctx context.Context, m pipeline.ProcessingError) {
	if c.stale(m.Envelope) {
		return
	}
	perr := m.Err
	c.stats = c.stats.AddErrors(1)
	metrics.IncError(perr.Origin, string(perr.Kind))

	if perr.ItemID != "" {
		delete(c.pending, perr.ItemID)
	}
	c.logger.Warn("processing error",
		zap.String("origin", perr.Origin),
		zap.String("kind", string(perr.Kind)),
		zap.String("item_id", perr.ItemID),
		zap.Int("attempts", perr.Attempts),
		zap.Error(perr))

	if pipeline.IsFatal(perr) {
		c.setState(pipeline.StateError)
		return
	}
	switch perr.Origin {
	case NameDiscovery:
		// A failed discovery cannot produce more items.
		c.discoveryDone = true
	case NameDownloader, NameFragmenter:
		// The failed dispatch is settled work, or completion never fires.
		if c.secondaryPending > 0 {
			c.secondaryPending--
		}
		if c.state == pipeline.StateFragmenting && len(c.pending) > 0 {
			c.setState(pipeline.StateScraping)
		}
	}
	c.maybeComplete(ctx)
}

// State machine.

var legal = map[pipeline.State][]pipeline.State{
	pipeline.StateInitializing: {pipeline.StateDiscovering},
	pipeline.StateDiscovering:  {pipeline.StateScraping, pipeline.StateCompleted, pipeline.StateError},
	pipeline.StateScraping:     {pipeline.StateFragmenting, pipeline.StateCompleted, pipeline.StateError},
	pipeline.StateFragmenting:  {pipeline.StateScraping, pipeline.StateCompleted, pipeline.StateError},
}

func (c *Coordinator) transition(to pipeline.State) error {
	for _, next := range legal[c.state] {
		if next == to {
			c.setState(to)
			return nil
		}
	}
	return pipeline.NewError(pipeline.KindIllegalTransition,
		fmt.Sprintf("illegal pipeline transition %s -> %s", c.state, to))
}

func (c *Coordinator) setState(s pipeline.State) {
	if c.state == s {
		return
	}
	c.logger.Debug("pipeline state change",
		zap.String("from", string(c.state)),
		zap.String("to", string(s)))
	c.state = s
	metrics.SetPipelineState(string(s))
}

// maybeComplete transitions to Completed once discovery has ended and no
// primary or secondary work remains.
func (c *Coordinator) maybeComplete(ctx context.Context) {
	if c.state.Terminal() || c.paused {
		return
	}
	if !c.discoveryDone || len(c.pending) > 0 || len(c.deferred) > 0 || c.secondaryPending > 0 {
		return
	}
	c.setState(pipeline.StateCompleted)
	c.logger.Info("pipeline completed",
		zap.Int("discovered", c.stats.Discovered),
		zap.Int("processed", c.stats.Processed),
		zap.Int("fragmented", c.stats.Fragmented),
		zap.Int("downloaded", c.stats.Downloaded),
		zap.Int("errors", c.stats.Errors))

	// The resume point is obsolete once the run finishes.
	if c.checkpointID != uuid.Nil {
		if err := c.store.Delete(ctx, c.checkpointID); err != nil {
			c.logger.Warn("checkpoint cleanup failed", zap.Error(err))
		}
	}
}

// Checkpointing.

func (c *Coordinator) buildCheckpoint() pipeline.Checkpoint {
	seen := make([]string, 0, len(c.seen))
	for id := range c.seen {
		seen = append(seen, id)
	}
	pending := make([]string, 0, len(c.pending)+len(c.deferred))
	for id := range c.pending {
		pending = append(pending, id)
	}
	return pipeline.Checkpoint{
		ID:              c.checkpointID,
		SessionID:       c.sessionID,
		Source:          c.source,
		Query:           c.query,
		MaxResults:      c.maxResults,
		LastPage:        c.lastPage,
		LastItemID:      c.lastItemID,
		SeenIDs:         seen,
		PendingIDs:      pending,
		TotalDiscovered: c.stats.Discovered,
		TotalProcessed:  c.stats.Processed,
		TotalErrors:     c.stats.Errors,
		CreatedAt:       c.clock.Now(),
	}
}

func (c *Coordinator) periodicCheckpoint(ctx context.Context) {
	if c.cfg.CheckpointEvery <= 0 {
		return
	}
	c.sinceCheckpoint++
	if c.sinceCheckpoint < c.cfg.CheckpointEvery {
		return
	}
	c.sinceCheckpoint = 0
	cp := c.buildCheckpoint()
	if err := c.store.Save(ctx, cp); err != nil {
		// Periodic checkpoints are best-effort; pause/stop surface the
		// failure instead.
		c.logger.Warn("periodic checkpoint failed", zap.Error(err))
		return
	}
	c.logger.Debug("checkpoint saved",
		zap.String("checkpoint_id", cp.ID.String()),
		zap.Int("processed", cp.TotalProcessed))
}

func (c *Coordinator) publish(ctx context.Context, topic string, payload any) {
	if c.pub == nil || topic == "" {
		return
	}
	if _, err := c.pub.Publish(ctx, topic, payload); err != nil {
		c.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Coordinator) stale(env pipeline.Envelope) bool {
	if c.state.Terminal() {
		return true
	}
	if env.SessionID != c.sessionID {
		c.logger.Debug("dropping event from stale session",
			zap.String("session_id", env.SessionID.String()))
		return true
	}
	return false
}
