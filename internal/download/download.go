// Package download implements the asset-download side of secondary
// processing: fetching PDF originals and persisting them to a blob sink.
package download

import (
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/actor"
	"github.com/lexharvest/lexharvest/internal/metrics"
	"github.com/lexharvest/lexharvest/internal/pipeline"
	"github.com/lexharvest/lexharvest/internal/policy/breaker"
	"github.com/lexharvest/lexharvest/internal/policy/ratelimit"
	"github.com/lexharvest/lexharvest/internal/policy/retry"
)

const assetContentType = "application/pdf"

// Worker handles DownloadAsset commands. Downloads share the source's
// rate limiter and circuit breaker with the scraper, since both hit the
// same remote host.
type Worker struct {
	source  string
	sink    pipeline.BlobSink
	fetcher pipeline.Fetcher
	limiter *ratelimit.Limiter
	retrier *retry.Policy
	brk     *breaker.Breaker
	coord   actor.Teller
	logger  *zap.Logger
}

// New constructs a download Worker writing under the named source's
// prefix in sink.
func New(
	source string,
	sink pipeline.BlobSink,
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
		sink:    sink,
		fetcher: fetcher,
		limiter: limiter,
		retrier: retrier,
		brk:     brk,
		coord:   coord,
		logger:  logger,
	}
}

// Handle dispatches download commands.
func (w *Worker) Handle(ctx context.Context, msg pipeline.Message) (pipeline.Message, error) {
	switch m := msg.(type) {
	case pipeline.DownloadAsset:
		return nil, w.download(ctx, m)
	default:
		return nil, pipeline.NewError(pipeline.KindContent,
			fmt.Sprintf("downloader cannot handle %T", msg))
	}
}

func (w *Worker) download(ctx context.Context, m pipeline.DownloadAsset) error {
	var body []byte

	err := w.retrier.Execute(ctx, func(ctx context.Context) error {
		return w.brk.Execute(ctx, func(ctx context.Context) error {
			if err := w.limiter.Acquire(ctx); err != nil {
				return pipeline.WrapError(pipeline.KindTransient, "rate limiter interrupted", err)
			}
			resp, err := w.fetcher.Fetch(ctx, m.URL)
			if err != nil {
				return pipeline.ClassifyFetch(m.URL, err)
			}
			if kind := pipeline.ClassifyStatus(resp.StatusCode); kind != "" {
				return pipeline.NewError(kind,
					fmt.Sprintf("asset for %s returned HTTP %d", m.ItemID, resp.StatusCode))
			}
			body = resp.Body
			return nil
		})
	})
	if err != nil {
		return annotate(err, m)
	}

	uri, err := w.sink.Put(ctx, path.Join(w.source, m.ItemID+".pdf"), assetContentType, body)
	if err != nil {
		return annotate(pipeline.WrapError(pipeline.KindTransient, "blob sink write failed", err), m)
	}

	n := int64(len(body))
	metrics.AddAssetBytes(w.source, n)
	w.logger.Debug("asset stored",
		zap.String("source", w.source),
		zap.String("item_id", m.ItemID),
		zap.String("uri", uri),
		zap.Int64("bytes", n))
	w.coord.Tell(pipeline.AssetReady{
		Envelope: pipeline.Envelope{SessionID: m.SessionID},
		ItemID:   m.ItemID,
		URI:      uri,
		Bytes:    n,
	})
	return nil
}

func annotate(err error, m pipeline.DownloadAsset) error {
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		return pe.WithItem(m.ItemID, m.URL)
	}
	wrapped := pipeline.WrapError(pipeline.KindContent, "download failed", err)
	return wrapped.WithItem(m.ItemID, m.URL)
}
