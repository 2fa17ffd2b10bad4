// Package page implements pipeline.Fetcher for web pages using gocolly.
package page

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Fetcher fetches page targets with a Colly collector. Each call clones
// the base collector so fetches never share per-visit state.
type Fetcher struct {
	cfg           Config
	clock         pipeline.Clock
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config, clock pipeline.Clock) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{cfg: cfg, clock: clock, baseCollector: c}
}

// Fetch executes a single GET for the target. The returned FetchResult
// always carries an Outcome; failures also return a FetchError that
// marks them transient or permanent.
func (f *Fetcher) Fetch(ctx context.Context, target pipeline.Target) (pipeline.FetchResult, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.MaxBodySize = f.cfg.MaxBodyBytes
	collector.SetRequestTimeout(f.cfg.Timeout)

	result := pipeline.FetchResult{
		Target:    target,
		Timestamp: f.clock.Now(),
	}
	var (
		status   int
		body     []byte
		fetchErr error
	)

	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.visit(ctx, collector, target.Identifier); err != nil {
		result.Outcome = pipeline.OutcomeTransient
		return result, pipeline.TransientFetch(target.Identifier, err)
	}

	result.StatusCode = status
	switch {
	case fetchErr == nil && status >= 200 && status < 300:
		result.Outcome = pipeline.OutcomeSuccess
		result.RawContent = body
		return result, nil
	case status == 0, status == http.StatusTooManyRequests, status >= 500:
		result.Outcome = pipeline.OutcomeTransient
		return result, pipeline.TransientFetch(target.Identifier, describeFailure(status, fetchErr))
	default:
		result.Outcome = pipeline.OutcomePermanent
		return result, pipeline.PermanentFetch(target.Identifier, describeFailure(status, fetchErr))
	}
}

// visit runs the collector in a goroutine so a canceled context unblocks
// the caller even if the transport is still dialing.
func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan struct{})
	go func() {
		_ = collector.Visit(url)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func describeFailure(status int, err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("status %d", status)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
