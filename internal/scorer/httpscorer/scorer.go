// Package httpscorer implements pipeline.Scorer against a model server's
// predict endpoint.
package httpscorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// Config controls the scorer client.
type Config struct {
	// BaseURL of the model server, e.g. http://127.0.0.1:8100.
	BaseURL string
	Timeout time.Duration
}

// Scorer calls the model server over HTTP. Every transport, status, or
// decode failure maps to pipeline.ErrScorerUnavailable so the ensemble
// can degrade instead of propagating per-item errors.
type Scorer struct {
	endpoint string
	client   *http.Client
}

// New builds a Scorer.
func New(cfg Config) (*Scorer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("scorer base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Scorer{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/predict",
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type predictRequest struct {
	Text string `json:"text"`
}

// predictResponse accepts both server shapes: a full distribution or a
// single top label with its score.
type predictResponse struct {
	Labels map[pipeline.Label]float64 `json:"labels"`
	Label  pipeline.Label             `json:"label"`
	Score  float64                    `json:"score"`
}

// Score posts the text and returns the label distribution.
func (s *Scorer) Score(ctx context.Context, text string) (map[pipeline.Label]float64, error) {
	payload, err := json.Marshal(predictRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", pipeline.ErrScorerUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", pipeline.ErrScorerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrScorerUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", pipeline.ErrScorerUnavailable, resp.StatusCode)
	}

	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", pipeline.ErrScorerUnavailable, err)
	}

	if len(decoded.Labels) > 0 {
		return decoded.Labels, nil
	}
	if decoded.Label != "" {
		dist := map[pipeline.Label]float64{decoded.Label: decoded.Score}
		if decoded.Label != pipeline.LabelBenign {
			dist[pipeline.LabelBenign] = 1 - decoded.Score
		}
		return dist, nil
	}
	return nil, fmt.Errorf("%w: response carried no labels", pipeline.ErrScorerUnavailable)
}
