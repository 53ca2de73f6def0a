// Package discovery implements the paginated search actor: it
// enumerates candidate items, deduplicates them, and reports each new
// one to the coordinator.
package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/actor"
	"github.com/lexharvest/lexharvest/internal/metrics"
	"github.com/lexharvest/lexharvest/internal/pipeline"
	"github.com/lexharvest/lexharvest/internal/policy/ratelimit"
)

// Config controls discovery behavior.
type Config struct {
	// DefaultMaxResults caps a session that does not specify its own
	// maximum (default 100).
	DefaultMaxResults int `mapstructure:"default_max_results"`
}

// Worker handles StartDiscovery commands. All fetches pass through the
// shared rate limiter; fetch and parse failures escalate to the
// coordinator through the actor runtime.
type Worker struct {
	cfg     Config
	source  pipeline.Source
	fetcher pipeline.Fetcher
	limiter *ratelimit.Limiter
	coord   actor.Teller
	logger  *zap.Logger
}

// New constructs a discovery Worker reporting to coord.
func New(
	cfg Config,
	source pipeline.Source,
	fetcher pipeline.Fetcher,
	limiter *ratelimit.Limiter,
	coord actor.Teller,
	logger *zap.Logger,
) *Worker {
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:     cfg,
		source:  source,
		fetcher: fetcher,
		limiter: limiter,
		coord:   coord,
		logger:  logger,
	}
}

// Handle dispatches discovery commands.
func (w *Worker) Handle(ctx context.Context, msg pipeline.Message) (pipeline.Message, error) {
	switch m := msg.(type) {
	case pipeline.StartDiscovery:
		return nil, w.discover(ctx, m)
	default:
		return nil, pipeline.NewError(pipeline.KindContent,
			fmt.Sprintf("discovery cannot handle %T", msg))
	}
}

func (w *Worker) discover(ctx context.Context, m pipeline.StartDiscovery) error {
	maxResults := m.MaxResults
	if maxResults <= 0 {
		maxResults = w.cfg.DefaultMaxResults
	}
	page := m.StartPage
	if page < 1 {
		page = 1
	}
	seen := make(map[string]struct{}, len(m.Seen))
	for id := range m.Seen {
		seen[id] = struct{}{}
	}

	discovered := 0
	pagesVisited := 0
	for {
		body, err := w.fetchPage(ctx, m.Query, page)
		if err != nil {
			return err
		}
		pagesVisited++

		items, err := w.source.ParseSearchResults(body)
		if err != nil {
			return err
		}
		pag, err := w.source.ParsePagination(body)
		if err != nil {
			return err
		}

		for _, item := range items {
			if discovered >= maxResults {
				break
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			discovered++
			metrics.IncDiscovered(w.source.Name())
			w.coord.Tell(pipeline.ItemDiscovered{
				Envelope: pipeline.Envelope{SessionID: m.SessionID},
				Item:     item,
				Page:     page,
			})
		}

		w.logger.Debug("search page processed",
			zap.String("source", w.source.Name()),
			zap.Int("page", page),
			zap.Int("total_pages", pag.TotalPages),
			zap.Int("discovered", discovered))

		if discovered >= maxResults || pag.CurrentPage >= pag.TotalPages {
			break
		}
		page++
	}

	w.coord.Tell(pipeline.DiscoveryComplete{
		Envelope:   pipeline.Envelope{SessionID: m.SessionID},
		Discovered: discovered,
		Pages:      pagesVisited,
	})
	return nil
}

func (w *Worker) fetchPage(ctx context.Context, query string, page int) ([]byte, error) {
	if err := w.limiter.Acquire(ctx); err != nil {
		return nil, pipeline.WrapError(pipeline.KindTransient, "rate limiter interrupted", err)
	}
	url := w.source.SearchURL(query, page)
	resp, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, pipeline.ClassifyFetch(url, err)
	}
	if kind := pipeline.ClassifyStatus(resp.StatusCode); kind != "" {
		e := pipeline.NewError(kind, fmt.Sprintf("search page %d returned HTTP %d", page, resp.StatusCode))
		e.URL = url
		return nil, e
	}
	return resp.Body, nil
}
