// Package fetch implements the HTTP fetch collaborator on top of Colly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/metrics"
	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Config controls the underlying collector.
type Config struct {
	UserAgent           string        `mapstructure:"user_agent"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes        int           `mapstructure:"max_body_bytes"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
}

// CollyFetcher implements pipeline.Fetcher using the Colly collector.
// Rate limiting is not configured here: every caller goes through the
// shared token bucket before Fetch.
type CollyFetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type fetchResult struct {
	resp pipeline.Response
	err  error
}

// New constructs a configured Colly-based Fetcher.
func New(cfg Config, logger *zap.Logger) (*CollyFetcher, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "lexharvest/1.0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 32
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	if cfg.MaxBodyBytes > 0 {
		base.MaxBodySize = cfg.MaxBodyBytes
	}
	base.WithTransport(newTransport(cfg))
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &CollyFetcher{
		baseCollector: base,
		logger:        logger,
	}, nil
}

func newTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// Fetch retrieves a page via a clone of the configured collector. HTTP
// error statuses are returned as responses, not errors; the error return
// covers transport failures only.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (pipeline.Response, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{resp: pipeline.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
			Duration:   time.Since(start),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			// HTTP-level failure (4xx/5xx). Surface the status so the
			// caller can classify it.
			send(fetchResult{resp: pipeline.Response{
				URL:        rawURL,
				StatusCode: r.StatusCode,
				Body:       append([]byte{}, r.Body...),
				Duration:   time.Since(start),
			}})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return pipeline.Response{}, fmt.Errorf("visit %s: %w", rawURL, err)
	}

	done := make(chan struct{})
	go func() {
		collector.Wait()
		close(done)
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			f.logger.Debug("fetch failed", zap.String("url", rawURL), zap.Error(res.err))
			return pipeline.Response{}, res.err
		}
		metrics.ObserveFetch(strconv.Itoa(res.resp.StatusCode/100*100), res.resp.Duration)
		return res.resp, nil
	case <-ctx.Done():
		return pipeline.Response{}, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
	case <-done:
		select {
		case res := <-resultCh:
			if res.err != nil {
				return pipeline.Response{}, res.err
			}
			return res.resp, nil
		default:
			return pipeline.Response{}, fmt.Errorf("fetch %s: no response received", rawURL)
		}
	}
}
