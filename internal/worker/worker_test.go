package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	feedmem "github.com/goacyber/scamhound/internal/feedback/memory"
	frontmem "github.com/goacyber/scamhound/internal/frontier/memory"
	"github.com/goacyber/scamhound/internal/pipeline"
	pubmem "github.com/goacyber/scamhound/internal/publisher/memory"
	blobmem "github.com/goacyber/scamhound/internal/storage/memory"
	storemem "github.com/goacyber/scamhound/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFetcher struct {
	mu      sync.Mutex
	outcome pipeline.Outcome
	content []byte
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, target pipeline.Target) (pipeline.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	result := pipeline.FetchResult{Target: target, Outcome: f.outcome}
	switch f.outcome {
	case pipeline.OutcomeSuccess:
		result.StatusCode = 200
		result.RawContent = f.content
		return result, nil
	case pipeline.OutcomePermanent:
		result.StatusCode = 410
		return result, pipeline.PermanentFetch(target.Identifier, errors.New("gone"))
	default:
		result.StatusCode = 503
		return result, pipeline.TransientFetch(target.Identifier, errors.New("unavailable"))
	}
}

// cancelSensitiveFetcher fails when its context is already cancelled,
// so tests can tell whether shutdown reached an in-flight fetch.
type cancelSensitiveFetcher struct {
	fakeFetcher
}

func (f *cancelSensitiveFetcher) Fetch(ctx context.Context, target pipeline.Target) (pipeline.FetchResult, error) {
	if ctx.Err() != nil {
		return pipeline.FetchResult{Target: target, Outcome: pipeline.OutcomeTransient},
			pipeline.TransientFetch(target.Identifier, ctx.Err())
	}
	return f.fakeFetcher.Fetch(ctx, target)
}

type fakeExtractor struct {
	text       string
	discovered []pipeline.Discovery
	err        error
}

func (e *fakeExtractor) Extract(_ []byte, _ pipeline.Target) (pipeline.Extraction, error) {
	if e.err != nil {
		return pipeline.Extraction{}, e.err
	}
	return pipeline.Extraction{Text: e.text, Discovered: e.discovered}, nil
}

type fakeJudge struct {
	verdict   pipeline.Verdict
	uncertain bool
	err       error
}

func (j *fakeJudge) Classify(_ context.Context, _ string, target pipeline.Target) (pipeline.Verdict, error) {
	if j.err != nil {
		return pipeline.Verdict{}, j.err
	}
	v := j.verdict
	v.Identifier = target.Identifier
	v.Kind = target.Kind
	return v, nil
}

func (j *fakeJudge) Uncertain(pipeline.Verdict) bool { return j.uncertain }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type failingStore struct {
	pipeline.StateStore
	saveErr error
}

func (s *failingStore) SaveVerdict(ctx context.Context, v pipeline.Verdict) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.StateStore.SaveVerdict(ctx, v)
}

type harness struct {
	clock     *fakeClock
	frontier  *frontmem.Frontier
	store     *storemem.StateStore
	feedback  *feedmem.Queue
	publisher *pubmem.Publisher
	blobs     *blobmem.BlobStore
	worker    *Worker
}

func newHarness(t *testing.T, fetcher pipeline.Fetcher, extractor pipeline.Extractor, judge Judge, store pipeline.StateStore) *harness {
	t.Helper()

	h := &harness{
		clock:     &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()},
		feedback:  feedmem.NewQueue(),
		publisher: pubmem.NewPublisher(),
		blobs:     blobmem.New(),
	}
	h.frontier = frontmem.New(h.clock, pipeline.DefaultBackoff(), pipeline.DefaultRevisitPolicy())
	if store == nil {
		h.store = storemem.NewStateStore()
		store = h.store
	}

	h.worker = New(Config{EventTopic: "verdicts", SnapshotPrefix: "snapshots"}, Deps{
		Frontier: h.frontier,
		Store:    store,
		Fetchers: map[pipeline.TargetKind]pipeline.Fetcher{
			pipeline.KindPage:    fetcher,
			pipeline.KindChannel: fetcher,
		},
		Extractors: map[pipeline.TargetKind]pipeline.Extractor{
			pipeline.KindPage:    extractor,
			pipeline.KindChannel: extractor,
		},
		Judge:     judge,
		Feedback:  h.feedback,
		Publisher: h.publisher,
		Blobs:     h.blobs,
		IDs:       &seqIDs{},
		Clock:     h.clock,
		Logger:    zap.NewNop(),
	})
	return h
}

func (h *harness) dequeueOne(t *testing.T, identifier string, kind pipeline.TargetKind) pipeline.FrontierEntry {
	t.Helper()
	_, err := h.frontier.Enqueue(context.Background(), identifier, kind, 0)
	require.NoError(t, err)
	batch, err := h.frontier.DequeueBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	return batch[0]
}

func TestProcess_SuccessPersistsVerdictAndPublishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	judge := &fakeJudge{verdict: pipeline.Verdict{
		Label:       pipeline.LabelFraud,
		Probability: 0.85,
		Band:        pipeline.BandHigh,
		SourceHash:  "hash123",
		ProducedAt:  time.Unix(1_700_000_000, 0).UTC(),
	}}
	h := newHarness(t,
		&fakeFetcher{outcome: pipeline.OutcomeSuccess, content: []byte("<html>send bank details</html>")},
		&fakeExtractor{text: "send bank details"},
		judge, nil,
	)

	entry := h.dequeueOne(t, "http://example.com", pipeline.KindPage)
	require.NoError(t, h.worker.Process(ctx, entry))

	verdict, err := h.store.CurrentVerdict(ctx, "http://example.com")
	require.NoError(t, err)
	require.NotEmpty(t, verdict.ID)
	require.Equal(t, pipeline.LabelFraud, verdict.Label)
	require.Equal(t, "mem://snapshots/page/hash123", verdict.SnapshotURI)

	snap, ok := h.blobs.GetObject("snapshots/page/hash123")
	require.True(t, ok)
	require.Equal(t, "<html>send bank details</html>", string(snap))

	target, err := h.store.GetTarget(ctx, "http://example.com")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusDone, target.Status)
	require.Equal(t, 1, target.VisitCount)

	messages := h.publisher.Messages()
	require.Len(t, messages, 1)
	event, ok := messages[0].Payload.(pipeline.VerdictEvent)
	require.True(t, ok)
	require.Equal(t, "http://example.com", event.Identifier)
	require.Equal(t, pipeline.LabelFraud, event.Label)

	// High-risk verdicts are confident; nothing queued for review.
	n, err := h.feedback.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	// Rescheduled, not immediately eligible again.
	batch, err := h.frontier.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, batch)
	require.Equal(t, 1, h.frontier.Len())
}

func TestProcess_AdmitsDiscoveries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t,
		&fakeFetcher{outcome: pipeline.OutcomeSuccess, content: []byte("x")},
		&fakeExtractor{text: "x", discovered: []pipeline.Discovery{
			{Identifier: "http://next.example.com", Kind: pipeline.KindPage},
			{Identifier: "lucky_slots", Kind: pipeline.KindChannel},
		}},
		&fakeJudge{verdict: pipeline.Verdict{Label: pipeline.LabelBenign, Band: pipeline.BandLow, SourceHash: "h"}},
		nil,
	)

	entry := h.dequeueOne(t, "http://example.com", pipeline.KindPage)
	require.NoError(t, h.worker.Process(ctx, entry))

	for _, id := range []string{"http://next.example.com", "lucky_slots"} {
		target, err := h.store.GetTarget(ctx, id)
		require.NoError(t, err)
		require.Equal(t, pipeline.StatusPending, target.Status)
	}

	batch, err := h.frontier.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
}

func TestProcess_UncertainVerdictQueuesFeedback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t,
		&fakeFetcher{outcome: pipeline.OutcomeSuccess, content: []byte("x")},
		&fakeExtractor{text: "x"},
		&fakeJudge{
			verdict:   pipeline.Verdict{Label: pipeline.LabelSuspicious, Probability: 0.55, Band: pipeline.BandUncertain, SourceHash: "h"},
			uncertain: true,
		},
		nil,
	)

	entry := h.dequeueOne(t, "http://example.com", pipeline.KindPage)
	require.NoError(t, h.worker.Process(ctx, entry))

	items, err := h.feedback.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "http://example.com", items[0].Identifier)
	require.Equal(t, pipeline.ReasonLowConfidence, items[0].Reason)
	require.NotEmpty(t, items[0].VerdictID)
}

func TestProcess_TransientFailureRollsBackToPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t,
		&fakeFetcher{outcome: pipeline.OutcomeTransient},
		&fakeExtractor{},
		&fakeJudge{},
		nil,
	)

	entry := h.dequeueOne(t, "http://flaky.example.com", pipeline.KindPage)
	err := h.worker.Process(ctx, entry)
	require.True(t, pipeline.IsTransientFetch(err))

	target, getErr := h.store.GetTarget(ctx, "http://flaky.example.com")
	require.NoError(t, getErr)
	require.Equal(t, pipeline.StatusPending, target.Status)

	// Backed off, not immediately eligible.
	batch, err := h.frontier.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, batch)
}

func TestProcess_ExhaustedRetriesRetireTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t,
		&fakeFetcher{outcome: pipeline.OutcomeTransient},
		&fakeExtractor{},
		&fakeJudge{},
		nil,
	)

	entry := h.dequeueOne(t, "http://dead.example.com", pipeline.KindPage)
	require.Error(t, h.worker.Process(ctx, entry))

	for i := 0; i < 2; i++ {
		h.clock.Advance(time.Hour)
		batch, err := h.frontier.DequeueBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.Error(t, h.worker.Process(ctx, batch[0]))
	}

	target, err := h.store.GetTarget(ctx, "http://dead.example.com")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusFailed, target.Status)

	created, err := h.frontier.Enqueue(ctx, "http://dead.example.com", pipeline.KindPage, 0)
	require.NoError(t, err)
	require.False(t, created)
}

func TestProcess_PermanentFailureRetiresTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t,
		&fakeFetcher{outcome: pipeline.OutcomePermanent},
		&fakeExtractor{},
		&fakeJudge{},
		nil,
	)

	entry := h.dequeueOne(t, "http://gone.example.com", pipeline.KindPage)
	err := h.worker.Process(ctx, entry)
	require.True(t, pipeline.IsPermanentFetch(err))

	target, getErr := h.store.GetTarget(ctx, "http://gone.example.com")
	require.NoError(t, getErr)
	require.Equal(t, pipeline.StatusFailed, target.Status)
	require.Zero(t, h.frontier.Len())
}

func TestProcess_StoreWriteFailureReleasesForRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backing := storemem.NewStateStore()
	store := &failingStore{StateStore: backing, saveErr: errors.New("disk full")}

	h := newHarness(t,
		&fakeFetcher{outcome: pipeline.OutcomeSuccess, content: []byte("x")},
		&fakeExtractor{text: "x"},
		&fakeJudge{verdict: pipeline.Verdict{Label: pipeline.LabelBenign, Band: pipeline.BandLow, SourceHash: "h"}},
		store,
	)

	entry := h.dequeueOne(t, "http://example.com", pipeline.KindPage)
	err := h.worker.Process(ctx, entry)
	require.True(t, pipeline.IsStoreWrite(err))

	target, getErr := backing.GetTarget(ctx, "http://example.com")
	require.NoError(t, getErr)
	require.Equal(t, pipeline.StatusPending, target.Status)

	// No event for an unpersisted verdict.
	require.Empty(t, h.publisher.Messages())

	// Still schedulable after backoff.
	h.clock.Advance(time.Hour)
	batch, err := h.frontier.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestProcess_FinishesTargetAfterShutdownSignal(t *testing.T) {
	t.Parallel()

	fetcher := &cancelSensitiveFetcher{fakeFetcher{outcome: pipeline.OutcomeSuccess, content: []byte("x")}}
	h := newHarness(t,
		fetcher,
		&fakeExtractor{text: "x"},
		&fakeJudge{verdict: pipeline.Verdict{Label: pipeline.LabelBenign, Band: pipeline.BandLow, SourceHash: "h"}},
		nil,
	)

	entry := h.dequeueOne(t, "http://example.com", pipeline.KindPage)

	// Shutdown begins before the fetch: the dequeued target must still
	// be carried through to a persisted verdict, not abandoned.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.worker.Process(ctx, entry))

	target, err := h.store.GetTarget(context.Background(), "http://example.com")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusDone, target.Status)

	verdict, err := h.store.CurrentVerdict(context.Background(), "http://example.com")
	require.NoError(t, err)
	require.Equal(t, pipeline.LabelBenign, verdict.Label)
}

func TestPool_ProcessesAllEligibleEntries(t *testing.T) {
	t.Parallel()

	judge := &fakeJudge{verdict: pipeline.Verdict{Label: pipeline.LabelBenign, Band: pipeline.BandLow, SourceHash: "h"}}
	h := newHarness(t,
		&fakeFetcher{outcome: pipeline.OutcomeSuccess, content: []byte("x")},
		&fakeExtractor{text: "x"},
		judge, nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := []string{"http://a.example.com", "http://b.example.com", "http://c.example.com", "lucky_slots"}
	for _, id := range ids {
		kind := pipeline.KindPage
		if id == "lucky_slots" {
			kind = pipeline.KindChannel
		}
		_, err := h.frontier.Enqueue(ctx, id, kind, 0)
		require.NoError(t, err)
	}

	pool := NewPool(PoolConfig{Workers: 3, PollInterval: 10 * time.Millisecond}, h.worker, h.frontier, zap.NewNop())

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			target, err := h.store.GetTarget(context.Background(), id)
			if err != nil || target.Status != pipeline.StatusDone {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}
