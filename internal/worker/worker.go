// Package worker drives the fetch-extract-classify loop over frontier
// entries.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/goacyber/scamhound/internal/metrics"
	"github.com/goacyber/scamhound/internal/pipeline"
)

// Judge classifies extracted text and flags verdicts that need human
// review.
type Judge interface {
	pipeline.Classifier
	Uncertain(pipeline.Verdict) bool
}

// Config controls per-target processing.
type Config struct {
	// FetchTimeout bounds one fetch attempt. Zero means 30s.
	FetchTimeout time.Duration
	// EventTopic names the broker topic for verdict events.
	EventTopic string
	// SnapshotPrefix is the blob path prefix for content snapshots.
	SnapshotPrefix string
}

// Worker processes one frontier entry at a time: fetch, extract, enqueue
// discoveries, classify, persist, publish, release.
type Worker struct {
	cfg        Config
	frontier   pipeline.Frontier
	store      pipeline.StateStore
	fetchers   map[pipeline.TargetKind]pipeline.Fetcher
	extractors map[pipeline.TargetKind]pipeline.Extractor
	judge      Judge
	feedback   pipeline.FeedbackQueue
	publisher  pipeline.Publisher
	blobs      pipeline.BlobStore
	ids        pipeline.IDGenerator
	clock      pipeline.Clock
	logger     *zap.Logger
}

// Deps collects the worker's collaborators. Publisher and Blobs are
// optional; the rest are required.
type Deps struct {
	Frontier   pipeline.Frontier
	Store      pipeline.StateStore
	Fetchers   map[pipeline.TargetKind]pipeline.Fetcher
	Extractors map[pipeline.TargetKind]pipeline.Extractor
	Judge      Judge
	Feedback   pipeline.FeedbackQueue
	Publisher  pipeline.Publisher
	Blobs      pipeline.BlobStore
	IDs        pipeline.IDGenerator
	Clock      pipeline.Clock
	Logger     *zap.Logger
}

// New builds a Worker.
func New(cfg Config, deps Deps) *Worker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:        cfg,
		frontier:   deps.Frontier,
		store:      deps.Store,
		fetchers:   deps.Fetchers,
		extractors: deps.Extractors,
		judge:      deps.Judge,
		feedback:   deps.Feedback,
		publisher:  deps.Publisher,
		blobs:      deps.Blobs,
		ids:        deps.IDs,
		clock:      deps.Clock,
		logger:     logger,
	}
}

// Process handles one dequeued frontier entry end to end. The entry is
// always released back to the frontier, whatever the outcome.
//
// The caller's context only gates dispatch: once an entry is dequeued
// the target is finished even if shutdown begins, so a run is never
// abandoned mid-cycle. The fetch stays bounded by FetchTimeout.
func (w *Worker) Process(ctx context.Context, entry pipeline.FrontierEntry) error {
	ctx = context.WithoutCancel(ctx)
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() { metrics.SetFrontierDepth(w.frontier.Len()) }()

	log := w.logger.With(
		zap.String("identifier", entry.Identifier),
		zap.String("kind", string(entry.Kind)),
	)

	target := pipeline.Target{
		Identifier:   entry.Identifier,
		Kind:         entry.Kind,
		DiscoveredAt: entry.DiscoveredAt,
		Status:       pipeline.StatusPending,
	}
	if err := w.store.UpsertTarget(ctx, target); err != nil {
		return w.failTransient(ctx, entry, log, fmt.Errorf("upsert target: %w", err))
	}
	if err := w.store.SetTargetStatus(ctx, entry.Identifier, pipeline.StatusInProgress); err != nil {
		return w.failTransient(ctx, entry, log, fmt.Errorf("mark in-progress: %w", err))
	}

	fetcher, ok := w.fetchers[entry.Kind]
	if !ok {
		log.Error("no fetcher for target kind")
		return w.failPermanent(ctx, entry, log, fmt.Errorf("no fetcher for kind %q", entry.Kind))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	fetchStart := time.Now()
	result, fetchErr := fetcher.Fetch(fetchCtx, target)
	cancel()
	metrics.ObserveFetchDuration(string(entry.Kind), time.Since(fetchStart))
	metrics.ObserveTarget(string(entry.Kind), string(result.Outcome))

	switch result.Outcome {
	case pipeline.OutcomeSuccess:
	case pipeline.OutcomePermanent:
		log.Warn("permanent fetch failure", zap.Error(fetchErr), zap.Int("status", result.StatusCode))
		return w.failPermanent(ctx, entry, log, fetchErr)
	default:
		log.Warn("transient fetch failure",
			zap.Error(fetchErr),
			zap.Int("status", result.StatusCode),
			zap.Int("attempts", entry.Attempts+1),
		)
		return w.failTransient(ctx, entry, log, fetchErr)
	}

	extractor, ok := w.extractors[entry.Kind]
	if !ok {
		return w.failPermanent(ctx, entry, log, fmt.Errorf("no extractor for kind %q", entry.Kind))
	}
	extraction, err := extractor.Extract(result.RawContent, target)
	if err != nil {
		log.Warn("extraction failed", zap.Error(err))
		return w.failPermanent(ctx, entry, log, err)
	}

	w.admitDiscoveries(ctx, extraction.Discovered, log)

	verdict, err := w.judge.Classify(ctx, extraction.Text, target)
	if err != nil {
		return w.failTransient(ctx, entry, log, fmt.Errorf("classify: %w", err))
	}
	verdictID, err := w.ids.NewID()
	if err != nil {
		return w.failTransient(ctx, entry, log, fmt.Errorf("verdict id: %w", err))
	}
	verdict.ID = verdictID
	verdict.SnapshotURI = w.snapshot(ctx, entry, result.RawContent, verdict.SourceHash, log)

	if err := w.store.SaveVerdict(ctx, verdict); err != nil {
		werr := &pipeline.StoreWriteError{Op: "save verdict", Err: err}
		log.Error("verdict persistence failed, target rolled back", zap.Error(werr))
		return w.failTransient(ctx, entry, log, werr)
	}
	metrics.ObserveVerdict(string(verdict.Label))

	w.queueFeedback(ctx, verdict, log)
	w.publishEvent(ctx, verdict, log)

	disposition, err := w.frontier.Release(ctx, entry.Identifier, pipeline.OutcomeSuccess, verdict.Label, verdict.Probability)
	if err != nil {
		log.Error("release after success failed", zap.Error(err))
		return err
	}
	log.Info("target classified",
		zap.String("label", string(verdict.Label)),
		zap.Float64("probability", verdict.Probability),
		zap.String("band", string(verdict.Band)),
		zap.String("disposition", string(disposition)),
	)
	return nil
}

// admitDiscoveries registers each discovery and offers it to the
// frontier. Failures are logged and skipped; discovery is best effort.
func (w *Worker) admitDiscoveries(ctx context.Context, discovered []pipeline.Discovery, log *zap.Logger) {
	now := w.clock.Now()
	for _, d := range discovered {
		created, err := w.frontier.Enqueue(ctx, d.Identifier, d.Kind, 0)
		if err != nil {
			log.Warn("discovery enqueue failed", zap.String("discovered", d.Identifier), zap.Error(err))
			continue
		}
		if !created {
			continue
		}
		if err := w.store.UpsertTarget(ctx, pipeline.Target{
			Identifier:   d.Identifier,
			Kind:         d.Kind,
			DiscoveredAt: now,
			Status:       pipeline.StatusPending,
		}); err != nil {
			log.Warn("discovery upsert failed", zap.String("discovered", d.Identifier), zap.Error(err))
			continue
		}
		metrics.ObserveDiscovered(string(d.Kind))
	}
}

// snapshot stores the raw content and returns its URI, or "" when no
// blob store is configured or the write fails.
func (w *Worker) snapshot(ctx context.Context, entry pipeline.FrontierEntry, raw []byte, sourceHash string, log *zap.Logger) string {
	if w.blobs == nil || len(raw) == 0 {
		return ""
	}
	path := fmt.Sprintf("%s/%s/%s", w.cfg.SnapshotPrefix, entry.Kind, sourceHash)
	contentType := "text/html"
	if entry.Kind == pipeline.KindChannel {
		contentType = "application/json"
	}
	uri, err := w.blobs.PutObject(ctx, path, contentType, raw)
	if err != nil {
		log.Warn("snapshot write failed", zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) queueFeedback(ctx context.Context, verdict pipeline.Verdict, log *zap.Logger) {
	if w.feedback == nil || !w.judge.Uncertain(verdict) {
		return
	}
	itemID, err := w.ids.NewID()
	if err != nil {
		log.Warn("feedback id generation failed", zap.Error(err))
		return
	}
	item := pipeline.FeedbackItem{
		ID:          itemID,
		VerdictID:   verdict.ID,
		Identifier:  verdict.Identifier,
		Label:       verdict.Label,
		Probability: verdict.Probability,
		Reason:      pipeline.ReasonLowConfidence,
		EnqueuedAt:  w.clock.Now(),
	}
	if err := w.feedback.Enqueue(ctx, item); err != nil {
		log.Warn("feedback enqueue failed", zap.Error(err))
		return
	}
	metrics.ObserveFeedbackEnqueued(string(pipeline.ReasonLowConfidence))
}

func (w *Worker) publishEvent(ctx context.Context, verdict pipeline.Verdict, log *zap.Logger) {
	if w.publisher == nil {
		return
	}
	event := pipeline.VerdictEvent{
		Identifier:  verdict.Identifier,
		Kind:        verdict.Kind,
		Label:       verdict.Label,
		Probability: verdict.Probability,
		SourceHash:  verdict.SourceHash,
		SnapshotURI: verdict.SnapshotURI,
		ProducedAt:  verdict.ProducedAt,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.EventTopic, event); err != nil {
		log.Warn("verdict event publish failed", zap.Error(err))
	}
}

// failTransient releases the entry for retry and rolls the target back to
// pending, or marks it failed when the retry budget is exhausted.
func (w *Worker) failTransient(ctx context.Context, entry pipeline.FrontierEntry, log *zap.Logger, cause error) error {
	disposition, err := w.frontier.Release(ctx, entry.Identifier, pipeline.OutcomeTransient, "", 0)
	if err != nil {
		log.Error("release after transient failure failed", zap.Error(err))
		return err
	}
	status := pipeline.StatusPending
	if disposition == pipeline.DispositionExhausted {
		status = pipeline.StatusFailed
		log.Warn("retry budget exhausted, target retired")
	}
	if err := w.store.SetTargetStatus(ctx, entry.Identifier, status); err != nil {
		log.Error("status rollback failed", zap.Error(err))
	}
	return cause
}

// failPermanent retires the entry and marks the target permanently
// failed.
func (w *Worker) failPermanent(ctx context.Context, entry pipeline.FrontierEntry, log *zap.Logger, cause error) error {
	if _, err := w.frontier.Release(ctx, entry.Identifier, pipeline.OutcomePermanent, "", 0); err != nil {
		log.Error("release after permanent failure failed", zap.Error(err))
	}
	if err := w.store.SetTargetStatus(ctx, entry.Identifier, pipeline.StatusFailed); err != nil {
		log.Error("status update failed", zap.Error(err))
	}
	return cause
}
