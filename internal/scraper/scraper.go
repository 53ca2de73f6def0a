// Package scraper implements the detail-fetch actor: given a discovered
// item it retrieves the detail page, parses it, and reports the record
// or a structured failure to the coordinator.
package scraper

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/actor"
	"github.com/lexharvest/lexharvest/internal/metrics"
	"github.com/lexharvest/lexharvest/internal/pipeline"
	"github.com/lexharvest/lexharvest/internal/policy/breaker"
	"github.com/lexharvest/lexharvest/internal/policy/ratelimit"
	"github.com/lexharvest/lexharvest/internal/policy/retry"
)

// Worker handles ScrapeItem commands. Fetches go through the shared
// rate limiter, the per-source circuit breaker, and the retry policy;
// only recoverable failures are retried locally.
type Worker struct {
	source  pipeline.Source
	fetcher pipeline.Fetcher
	limiter *ratelimit.Limiter
	retrier *retry.Policy
	brk     *breaker.Breaker
	coord   actor.Teller
	logger  *zap.Logger
}

// New constructs a scraper Worker reporting to coord.
func New(
	source pipeline.Source,
	fetcher pipeline.Fetcher,
	limiter *ratelimit.Limiter,
	retrier *retry.Policy,
	brk *breaker.Breaker,
	coord actor.Teller,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		source:  source,
		fetcher: fetcher,
		limiter: limiter,
		retrier: retrier,
		brk:     brk,
		coord:   coord,
		logger:  logger,
	}
}

// Handle dispatches scrape commands.
func (w *Worker) Handle(ctx context.Context, msg pipeline.Message) (pipeline.Message, error) {
	switch m := msg.(type) {
	case pipeline.ScrapeItem:
		return nil, w.scrape(ctx, m)
	default:
		return nil, pipeline.NewError(pipeline.KindContent,
			fmt.Sprintf("scraper cannot handle %T", msg))
	}
}

func (w *Worker) scrape(ctx context.Context, m pipeline.ScrapeItem) error {
	var rec pipeline.Record
	notFound := false

	err := w.retrier.Execute(ctx, func(ctx context.Context) error {
		return w.brk.Execute(ctx, func(ctx context.Context) error {
			if err := w.limiter.Acquire(ctx); err != nil {
				return pipeline.WrapError(pipeline.KindTransient, "rate limiter interrupted", err)
			}
			resp, err := w.fetcher.Fetch(ctx, m.Item.DetailURL)
			if err != nil {
				return pipeline.ClassifyFetch(m.Item.DetailURL, err)
			}
			switch kind := pipeline.ClassifyStatus(resp.StatusCode); kind {
			case "":
			case pipeline.KindNotFound:
				// Not an error: the item completes with no result.
				notFound = true
				return pipeline.NewError(pipeline.KindNotFound,
					fmt.Sprintf("detail for %s returned HTTP 404", m.Item.ID))
			default:
				return pipeline.NewError(kind,
					fmt.Sprintf("detail for %s returned HTTP %d", m.Item.ID, resp.StatusCode))
			}
			parsed, err := w.source.ParseDetail(m.Item.ID, resp.Body)
			if err != nil {
				return err
			}
			rec = parsed
			return nil
		})
	})

	if notFound {
		w.logger.Debug("item not found upstream",
			zap.String("source", w.source.Name()),
			zap.String("item_id", m.Item.ID))
		w.coord.Tell(pipeline.ItemNotFound{
			Envelope: pipeline.Envelope{SessionID: m.SessionID},
			ItemID:   m.Item.ID,
		})
		return nil
	}
	if err != nil {
		return annotate(err, m.Item)
	}

	metrics.IncProcessed(w.source.Name())
	w.coord.Tell(pipeline.ItemReady{
		Envelope: pipeline.Envelope{SessionID: m.SessionID},
		Record:   rec,
	})
	return nil
}

// annotate attaches item context so the coordinator can schedule
// further retries.
func annotate(err error, item pipeline.Item) error {
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		annotated := pe.WithItem(item.ID, item.DetailURL)
		if annotated.Attempts == 0 {
			annotated.Attempts = 1
		}
		return annotated
	}
	wrapped := pipeline.WrapError(pipeline.KindContent, "scrape failed", err)
	return wrapped.WithItem(item.ID, item.DetailURL)
}
