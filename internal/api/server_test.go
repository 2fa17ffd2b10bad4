package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	feedmem "github.com/goacyber/scamhound/internal/feedback/memory"
	frontmem "github.com/goacyber/scamhound/internal/frontier/memory"
	"github.com/goacyber/scamhound/internal/pipeline"
	storemem "github.com/goacyber/scamhound/internal/store/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("item-%d", g.n), nil
}

type fakeHealth struct{ degraded bool }

func (h *fakeHealth) Degraded() bool { return h.degraded }

type fixture struct {
	store    *storemem.StateStore
	feedback *feedmem.Queue
	frontier *frontmem.Frontier
	health   *fakeHealth
	server   *Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    storemem.NewStateStore(),
		feedback: feedmem.NewQueue(),
		health:   &fakeHealth{},
	}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	f.frontier = frontmem.New(clock, pipeline.DefaultBackoff(), pipeline.DefaultRevisitPolicy())
	f.server = NewServer(cfg, f.store, f.feedback, f.frontier, f.health, &seqIDs{}, clock, zap.NewNop())
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedVerdict(t *testing.T, identifier string, label pipeline.Label, prob float64, band pipeline.RiskBand) pipeline.Verdict {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, f.store.UpsertTarget(ctx, pipeline.Target{
		Identifier:   identifier,
		Kind:         pipeline.KindPage,
		DiscoveredAt: now,
		Status:       pipeline.StatusPending,
	}))
	v := pipeline.Verdict{
		ID:          identifier + "-v1",
		Identifier:  identifier,
		Kind:        pipeline.KindPage,
		Label:       label,
		Probability: prob,
		Band:        band,
		SourceHash:  "hash",
		ProducedAt:  now,
	}
	require.NoError(t, f.store.SaveVerdict(ctx, v))
	return v
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	rec := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.get(t, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.seedVerdict(t, "http://example.com", pipeline.LabelFraud, 0.85, pipeline.BandHigh)

	rec := f.get(t, "/v1/targets/http%3A%2F%2Fexample.com")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Target  pipeline.Target  `json:"target"`
		Verdict pipeline.Verdict `json:"verdict"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "http://example.com", payload.Target.Identifier)
	require.Equal(t, pipeline.LabelFraud, payload.Verdict.Label)

	rec = f.get(t, "/v1/targets/http%3A%2F%2Fnowhere.example.com")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTargetHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.seedVerdict(t, "lucky_slots", pipeline.LabelGambling, 0.9, pipeline.BandHigh)

	rec := f.get(t, "/v1/targets/lucky_slots/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Identifier string             `json:"identifier"`
		Verdicts   []pipeline.Verdict `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "lucky_slots", payload.Identifier)
	require.Len(t, payload.Verdicts, 1)

	rec = f.get(t, "/v1/targets/unseen_channel/history")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListVerdicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.seedVerdict(t, "http://bad.example.com", pipeline.LabelPhishing, 0.9, pipeline.BandHigh)
	f.seedVerdict(t, "http://ok.example.com", pipeline.LabelBenign, 0.1, pipeline.BandLow)

	rec := f.get(t, "/v1/verdicts?band=high")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Verdicts []pipeline.Verdict `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Verdicts, 1)
	require.Equal(t, "http://bad.example.com", payload.Verdicts[0].Identifier)

	rec = f.get(t, "/v1/verdicts?band=spicy")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.get(t, "/v1/verdicts")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.seedVerdict(t, "http://example.com", pipeline.LabelFraud, 0.8, pipeline.BandHigh)
	require.NoError(t, f.feedback.Enqueue(context.Background(), pipeline.FeedbackItem{ID: "f1", VerdictID: "v1"}))
	_, err := f.frontier.Enqueue(context.Background(), "http://example.com", pipeline.KindPage, 0)
	require.NoError(t, err)

	rec := f.get(t, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Stats         pipeline.Stats `json:"stats"`
		FrontierDepth int            `json:"frontier_depth"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, 1, payload.Stats.TargetsTotal)
	require.Equal(t, 1, payload.Stats.PendingFeedback)
	require.Equal(t, 1, payload.FrontierDepth)
}

func TestFeedbackDrainAndResolve(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	require.NoError(t, f.feedback.Enqueue(context.Background(), pipeline.FeedbackItem{
		ID:        "f1",
		VerdictID: "v1",
		Label:     pipeline.LabelSuspicious,
	}))

	rec := f.post(t, "/v1/feedback/drain", `{"limit":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Items []pipeline.FeedbackItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Items, 1)

	rec = f.post(t, "/v1/feedback/f1/resolve", `{"label":"fraud"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/v1/feedback/f1/resolve", `{"label":"sideways"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(t, "/v1/feedback/missing/resolve", `{"label":"benign"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlagTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	v := f.seedVerdict(t, "http://sketchy.example.com", pipeline.LabelSuspicious, 0.55, pipeline.BandUncertain)

	rec := f.post(t, "/v1/targets/http%3A%2F%2Fsketchy.example.com/flag", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var payload struct {
		ItemID    string `json:"item_id"`
		VerdictID string `json:"verdict_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, v.ID, payload.VerdictID)
	require.Equal(t, "item-1", payload.ItemID)

	items, err := f.feedback.Drain(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, pipeline.ReasonAnalystFlagged, items[0].Reason)
	require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), items[0].EnqueuedAt)

	rec = f.post(t, "/v1/targets/http%3A%2F%2Funseen.example.com/flag", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPipelineHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.health.degraded = true

	rec := f.get(t, "/v1/pipeline/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		ScorerDegraded bool `json:"scorer_degraded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, payload.ScorerDegraded)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AuthEnabled: true, APIKey: "sekrit"})

	rec := f.get(t, "/v1/stats")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("X-API-Key", "sekrit")
	okRec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(okRec, req)
	require.Equal(t, http.StatusOK, okRec.Code)
}
