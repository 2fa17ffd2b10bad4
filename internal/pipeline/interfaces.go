package pipeline

import (
	"context"
	"time"
)

// Fetcher performs a single fetch of a target. The returned FetchResult
// always carries an Outcome; err adds detail for the failure outcomes.
// Implementations must honor the context deadline.
type Fetcher interface {
	Fetch(ctx context.Context, target Target) (FetchResult, error)
}

// Extractor turns raw content into a normalized text body and the set of
// newly discovered target identifiers.
type Extractor interface {
	Extract(content []byte, target Target) (Extraction, error)
}

// Scorer is the pluggable model backend. It returns a probability
// distribution over labels, or ErrScorerUnavailable when the backend is
// down or times out. Calls are stateless.
type Scorer interface {
	Score(ctx context.Context, text string) (map[Label]float64, error)
}

// Classifier combines rule and model signals into a single Verdict.
type Classifier interface {
	Classify(ctx context.Context, text string, target Target) (Verdict, error)
}

// Frontier is the prioritized, deduplicated queue of pending (re)visits.
type Frontier interface {
	// Enqueue is idempotent: re-enqueueing an identifier that is already
	// pending may only raise its priority. It reports whether a new entry
	// was created.
	Enqueue(ctx context.Context, identifier string, kind TargetKind, priority int) (bool, error)
	// DequeueBatch returns up to n eligible entries ordered by descending
	// priority, atomically marking them in-progress. An entry handed to
	// one caller is never handed to another before Release.
	DequeueBatch(ctx context.Context, n int) ([]FrontierEntry, error)
	// Release finishes an in-progress entry. On success the verdict label
	// and probability drive the revisit interval.
	Release(ctx context.Context, identifier string, outcome Outcome, label Label, probability float64) (Disposition, error)
	// Requeue returns a dequeued entry to the pending set without charging
	// a retry attempt, for entries that were never handed to a worker.
	Requeue(ctx context.Context, identifier string) error
	// Len reports pending plus in-progress entries.
	Len() int
}

// StateStore is the durable record of every target ever seen.
type StateStore interface {
	// UpsertTarget registers a target, keeping the earliest DiscoveredAt
	// if it already exists.
	UpsertTarget(ctx context.Context, target Target) error
	GetTarget(ctx context.Context, identifier string) (Target, error)
	SetTargetStatus(ctx context.Context, identifier string, status TargetStatus) error
	// SaveVerdict appends to history, upserts the current verdict, and
	// bumps the target's visit bookkeeping as one atomic unit.
	SaveVerdict(ctx context.Context, verdict Verdict) error
	CurrentVerdict(ctx context.Context, identifier string) (Verdict, error)
	VerdictHistory(ctx context.Context, identifier string, limit int) ([]Verdict, error)
	// ListResumable returns every target that is not permanently failed,
	// with its current verdict when one exists, for frontier rebuild.
	ListResumable(ctx context.Context) ([]ResumeEntry, error)
	ListByRiskBand(ctx context.Context, band RiskBand, limit, offset int) ([]Verdict, error)
	Stats(ctx context.Context) (Stats, error)
}

// FeedbackQueue holds low-confidence or analyst-flagged verdicts for
// human labeling. An external training pipeline drains and resolves it.
type FeedbackQueue interface {
	Enqueue(ctx context.Context, item FeedbackItem) error
	Drain(ctx context.Context, limit int) ([]FeedbackItem, error)
	Resolve(ctx context.Context, itemID string, humanLabel Label) error
	PendingCount(ctx context.Context) (int, error)
}

// Publisher pushes verdict events to a broker (Kafka, Pub/Sub, memory).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore persists raw content snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes content fingerprints for idempotent re-classification.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces verdict and feedback item IDs.
type IDGenerator interface {
	NewID() (string, error)
}
