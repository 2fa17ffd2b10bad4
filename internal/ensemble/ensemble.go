package ensemble

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/goacyber/scamhound/internal/metrics"
	"github.com/goacyber/scamhound/internal/pipeline"
)

// Config tunes the blend without redeploying logic.
type Config struct {
	// RuleWeight is the rule share of the blend; the model gets the rest.
	RuleWeight float64
	// UncertainBand is the half-width around the decision boundary within
	// which verdicts are routed to human review.
	UncertainBand float64
	// ScorerTimeout bounds each model invocation.
	ScorerTimeout time.Duration
}

// Ensemble implements pipeline.Classifier. A nil scorer means rule-only
// operation by configuration; a failing scorer means degraded mode.
type Ensemble struct {
	rules    *RuleEngine
	scorer   pipeline.Scorer
	hasher   pipeline.Hasher
	clock    pipeline.Clock
	revisit  pipeline.RevisitPolicy
	cfg      Config
	logger   *zap.Logger
	degraded atomic.Bool
}

// New constructs an Ensemble.
func New(
	rules *RuleEngine,
	scorer pipeline.Scorer,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	revisit pipeline.RevisitPolicy,
	cfg Config,
	logger *zap.Logger,
) *Ensemble {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RuleWeight <= 0 || cfg.RuleWeight > 1 {
		cfg.RuleWeight = 0.7
	}
	if cfg.UncertainBand < 0 {
		cfg.UncertainBand = 0
	}
	if cfg.ScorerTimeout <= 0 {
		cfg.ScorerTimeout = 10 * time.Second
	}
	return &Ensemble{
		rules:   rules,
		scorer:  scorer,
		hasher:  hasher,
		clock:   clock,
		revisit: revisit,
		cfg:     cfg,
		logger:  logger,
	}
}

// Classify combines rule and model signals into a Verdict. Identical
// text always produces an identical verdict apart from ProducedAt; the
// caller assigns the verdict ID and snapshot URI.
func (e *Ensemble) Classify(ctx context.Context, text string, target pipeline.Target) (pipeline.Verdict, error) {
	hash, err := e.hasher.Hash([]byte(text))
	if err != nil {
		return pipeline.Verdict{}, fmt.Errorf("hash content: %w", err)
	}

	signals := e.rules.Evaluate(text, target)
	ruleScores := cumulativeWeights(signals)

	modelDist := e.score(ctx, text, target)

	var (
		label      pipeline.Label
		prob       float64
		modelScore *float64
	)
	if modelDist == nil {
		label, prob = argmax(ruleScores)
	} else {
		combined := make(map[pipeline.Label]float64, len(pipeline.Labels()))
		for _, l := range pipeline.Labels() {
			combined[l] = e.cfg.RuleWeight*ruleScores[l] + (1-e.cfg.RuleWeight)*modelDist[l]
		}
		label, prob = argmax(combined)
		ms := modelDist[label]
		modelScore = &ms
	}

	return pipeline.Verdict{
		Identifier:  target.Identifier,
		Kind:        target.Kind,
		Label:       label,
		Probability: prob,
		RuleSignals: signals,
		ModelScore:  modelScore,
		Band:        e.revisit.Band(label, prob),
		SourceHash:  hash,
		ProducedAt:  e.clock.Now(),
	}, nil
}

// Uncertain reports whether the verdict's probability falls within the
// configured band around the decision boundary, marking it for human
// review.
func (e *Ensemble) Uncertain(v pipeline.Verdict) bool {
	return math.Abs(v.Probability-e.revisit.Boundary) <= e.cfg.UncertainBand
}

// Degraded reports whether the last model invocation failed. Persistent
// degraded mode is a pipeline health signal, not a per-item error.
func (e *Ensemble) Degraded() bool {
	return e.degraded.Load()
}

// score invokes the model with a bounded timeout. Any scorer failure is
// folded into the unavailable mode: classification proceeds rule-only.
func (e *Ensemble) score(ctx context.Context, text string, target pipeline.Target) map[pipeline.Label]float64 {
	if e.scorer == nil {
		return nil
	}
	scoreCtx, cancel := context.WithTimeout(ctx, e.cfg.ScorerTimeout)
	defer cancel()

	dist, err := e.scorer.Score(scoreCtx, text)
	if err != nil {
		if !e.degraded.Swap(true) {
			e.logger.Warn("model scorer unavailable, degrading to rule-only",
				zap.String("identifier", target.Identifier),
				zap.Error(err),
			)
		}
		metrics.ObserveScorerUnavailable()
		metrics.SetScorerUp(false)
		return nil
	}
	if e.degraded.Swap(false) {
		e.logger.Info("model scorer recovered")
	}
	metrics.SetScorerUp(true)
	return dist
}

// cumulativeWeights sums triggered rule weights per label, capped at 1.
func cumulativeWeights(signals []pipeline.RuleSignal) map[pipeline.Label]float64 {
	scores := make(map[pipeline.Label]float64, len(signals))
	for _, s := range signals {
		scores[s.Label] = math.Min(1, scores[s.Label]+s.Weight)
	}
	return scores
}

// argmax picks the highest-scoring label, breaking ties in the fixed
// label order so the outcome is deterministic. No signal at all means
// benign.
func argmax(scores map[pipeline.Label]float64) (pipeline.Label, float64) {
	best := pipeline.LabelBenign
	bestScore := scores[pipeline.LabelBenign]
	for _, l := range pipeline.Labels() {
		if scores[l] > bestScore {
			best = l
			bestScore = scores[l]
		}
	}
	return best, bestScore
}
