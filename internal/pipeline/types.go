// Package pipeline defines the core types and interfaces shared by the
// discovery-and-classification subsystems: frontier, workers, ensemble,
// state store, and feedback queue.
package pipeline

import "time"

// TargetKind distinguishes web pages from messaging channels.
type TargetKind string

// Target kinds tracked by the pipeline.
const (
	KindPage    TargetKind = "page"
	KindChannel TargetKind = "channel"
)

// TargetStatus represents the lifecycle state of a tracked target.
type TargetStatus string

// Target status values persisted in the state store.
const (
	StatusPending    TargetStatus = "pending"
	StatusInProgress TargetStatus = "in-progress"
	StatusDone       TargetStatus = "done"
	StatusFailed     TargetStatus = "permanently-failed"
)

// Target is one unit of crawl work. Identifier is always canonicalized
// before a Target is constructed, so equality on Identifier is equality
// on the logical target.
type Target struct {
	Identifier    string       `json:"identifier"`
	Kind          TargetKind   `json:"kind"`
	DiscoveredAt  time.Time    `json:"discovered_at"`
	LastVisitedAt *time.Time   `json:"last_visited_at,omitempty"`
	VisitCount    int          `json:"visit_count"`
	Status        TargetStatus `json:"status"`
}

// Outcome classifies the result of one fetch attempt.
type Outcome string

// Fetch outcomes.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient-failure"
	OutcomePermanent Outcome = "permanent-failure"
)

// Discovery is a newly found identifier, already canonicalized.
type Discovery struct {
	Identifier string     `json:"identifier"`
	Kind       TargetKind `json:"kind"`
}

// FetchResult is the ephemeral output of one fetch attempt. RawContent is
// only present when Outcome is success.
type FetchResult struct {
	Target     Target    `json:"target"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    Outcome   `json:"outcome"`
	StatusCode int       `json:"status_code,omitempty"`
	RawContent []byte    `json:"-"`
}

// Extraction holds the normalized text body and the discovered targets
// produced from raw content.
type Extraction struct {
	Text       string
	Discovered []Discovery
}

// Label is a risk classification from the fixed label set.
type Label string

// The closed set of verdict labels.
const (
	LabelBenign     Label = "benign"
	LabelFraud      Label = "fraud"
	LabelPhishing   Label = "phishing"
	LabelGambling   Label = "gambling"
	LabelMalware    Label = "malware"
	LabelSuspicious Label = "suspicious"
)

// Labels lists every valid label, in reporting order.
func Labels() []Label {
	return []Label{LabelBenign, LabelFraud, LabelPhishing, LabelGambling, LabelMalware, LabelSuspicious}
}

// RuleSignal records one triggered rule: its name, fixed weight, and the
// label it hints at. Signals are reported in rule-definition order.
type RuleSignal struct {
	Rule   string  `json:"rule"`
	Weight float64 `json:"weight"`
	Label  Label   `json:"label"`
}

// Verdict is the durable classification record for a target. A target has
// at most one current Verdict; prior Verdicts are retained append-only.
type Verdict struct {
	ID          string       `json:"id"`
	Identifier  string       `json:"identifier"`
	Kind        TargetKind   `json:"kind"`
	Label       Label        `json:"label"`
	Probability float64      `json:"probability"`
	RuleSignals []RuleSignal `json:"rule_signals,omitempty"`
	ModelScore  *float64     `json:"model_score,omitempty"`
	Band        RiskBand     `json:"band"`
	SourceHash  string       `json:"source_hash"`
	SnapshotURI string       `json:"snapshot_uri,omitempty"`
	ProducedAt  time.Time    `json:"produced_at"`
}

// FrontierEntry is the lightweight scheduling record held by the frontier.
// It references a Target by identifier and never owns the persisted record.
type FrontierEntry struct {
	Identifier   string     `json:"identifier"`
	Kind         TargetKind `json:"kind"`
	Priority     int        `json:"priority"`
	NotBefore    time.Time  `json:"not_before"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	Attempts     int        `json:"attempts"`
}

// Disposition is the frontier's answer to a Release call.
type Disposition string

// Release dispositions.
const (
	// DispositionRescheduled means the entry got a fresh revisit slot.
	DispositionRescheduled Disposition = "rescheduled"
	// DispositionRetrying means a transient failure was backed off.
	DispositionRetrying Disposition = "retrying"
	// DispositionExhausted means the retry cap was hit; the caller must
	// record the target as permanently failed.
	DispositionExhausted Disposition = "exhausted"
	// DispositionRemoved means the entry left scheduling for good.
	DispositionRemoved Disposition = "removed"
)

// FeedbackReason explains why a verdict entered the feedback queue.
type FeedbackReason string

// Feedback reasons.
const (
	ReasonLowConfidence  FeedbackReason = "low-confidence"
	ReasonAnalystFlagged FeedbackReason = "analyst-flagged"
)

// FeedbackItem holds a verdict awaiting human review. HumanLabel is set
// once an analyst resolves the item.
type FeedbackItem struct {
	ID          string         `json:"id"`
	VerdictID   string         `json:"verdict_id"`
	Identifier  string         `json:"identifier"`
	Label       Label          `json:"label"`
	Probability float64        `json:"probability"`
	Reason      FeedbackReason `json:"reason"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
	Resolved    bool           `json:"resolved"`
	HumanLabel  *Label         `json:"human_label,omitempty"`
}

// RiskBand buckets verdicts for the read API.
type RiskBand string

// Risk bands derived from the current verdict.
const (
	BandHigh      RiskBand = "high"
	BandUncertain RiskBand = "uncertain"
	BandLow       RiskBand = "low"
)

// Stats aggregates pipeline state for the read API.
type Stats struct {
	TargetsTotal    int                  `json:"targets_total"`
	ByStatus        map[TargetStatus]int `json:"by_status"`
	ByLabel         map[Label]int        `json:"by_label"`
	PendingFeedback int                  `json:"pending_feedback"`
}

// ResumeEntry is what the state store hands back for frontier
// reconstruction: the target plus its current verdict, if any.
type ResumeEntry struct {
	Target      Target
	HasVerdict  bool
	Label       Label
	Probability float64
}

// VerdictEvent is the payload published after every classification.
type VerdictEvent struct {
	Identifier  string     `json:"identifier"`
	Kind        TargetKind `json:"kind"`
	Label       Label      `json:"label"`
	Probability float64    `json:"probability"`
	SourceHash  string     `json:"source_hash"`
	SnapshotURI string     `json:"snapshot_uri,omitempty"`
	ProducedAt  time.Time  `json:"produced_at"`
}
