// Package channel implements pipeline.Fetcher for messaging channels via
// the channel gateway's REST API.
package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// Config controls the gateway client.
type Config struct {
	// BaseURL of the channel gateway, e.g. http://127.0.0.1:8200.
	BaseURL string
	// SampleSize is the number of recent messages requested per visit.
	// Zero means 50.
	SampleSize int
	Timeout    time.Duration
	UserAgent  string
}

// Fetcher pulls a recent message sample for a channel handle. Outcome
// mapping follows the gateway's status codes: missing or private channels
// are permanent failures, overload and gateway errors are transient.
type Fetcher struct {
	cfg    Config
	clock  pipeline.Clock
	client *http.Client
}

// New builds a Fetcher.
func New(cfg Config, clock pipeline.Clock) (*Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 50
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		cfg:    cfg,
		clock:  clock,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Fetch requests the channel's recent messages. RawContent is the
// gateway's JSON batch, handed as-is to the channel extractor.
func (f *Fetcher) Fetch(ctx context.Context, target pipeline.Target) (pipeline.FetchResult, error) {
	result := pipeline.FetchResult{
		Target:    target,
		Timestamp: f.clock.Now(),
	}

	endpoint := strings.TrimRight(f.cfg.BaseURL, "/") +
		"/channels/" + url.PathEscape(target.Identifier) +
		"/messages?limit=" + strconv.Itoa(f.cfg.SampleSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		result.Outcome = pipeline.OutcomePermanent
		return result, pipeline.PermanentFetch(target.Identifier, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		result.Outcome = pipeline.OutcomeTransient
		return result, pipeline.TransientFetch(target.Identifier, err)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			result.Outcome = pipeline.OutcomeTransient
			return result, pipeline.TransientFetch(target.Identifier, err)
		}
		result.Outcome = pipeline.OutcomeSuccess
		result.RawContent = body
		return result, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		result.Outcome = pipeline.OutcomeTransient
		return result, pipeline.TransientFetch(target.Identifier, fmt.Errorf("gateway status %d", resp.StatusCode))
	default:
		result.Outcome = pipeline.OutcomePermanent
		return result, pipeline.PermanentFetch(target.Identifier, fmt.Errorf("gateway status %d", resp.StatusCode))
	}
}
