package pipeline

import "time"

// RevisitPolicy maps a target's current verdict to its revisit interval
// and risk band. Higher-risk targets are revisited sooner so their
// verdicts stay fresh; benign ones wait the longest.
type RevisitPolicy struct {
	HighRisk  time.Duration
	Uncertain time.Duration
	Benign    time.Duration
	Boundary  float64
}

// DefaultRevisitPolicy returns the intervals used when config leaves
// them unset.
func DefaultRevisitPolicy() RevisitPolicy {
	return RevisitPolicy{
		HighRisk:  time.Hour,
		Uncertain: 6 * time.Hour,
		Benign:    24 * time.Hour,
		Boundary:  0.6,
	}
}

// Band buckets a verdict for scheduling and the read API.
func (p RevisitPolicy) Band(label Label, probability float64) RiskBand {
	switch {
	case label != LabelBenign && probability >= p.Boundary:
		return BandHigh
	case label == LabelBenign:
		return BandLow
	default:
		return BandUncertain
	}
}

// Interval returns the minimum wait before the target is eligible for a
// revisit.
func (p RevisitPolicy) Interval(label Label, probability float64) time.Duration {
	switch p.Band(label, probability) {
	case BandHigh:
		return p.HighRisk
	case BandUncertain:
		return p.Uncertain
	default:
		return p.Benign
	}
}
