// Package ensemble combines deterministic rule signals with a pluggable
// model scorer into a single risk verdict.
package ensemble

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// Rule is one deterministic predicate. Rules are independent and
// side-effect-free; a rule fires when any of its keywords appear in the
// text, its pattern matches, or the target identifier hits an indicator.
type Rule struct {
	Name       string         `mapstructure:"name"`
	Label      pipeline.Label `mapstructure:"label"`
	Weight     float64        `mapstructure:"weight"`
	Keywords   []string       `mapstructure:"keywords"`
	Pattern    string         `mapstructure:"pattern"`
	Indicators []string       `mapstructure:"indicators"`

	re *regexp.Regexp
}

// RuleEngine evaluates an ordered rule set. Evaluation order only
// affects the order evidence is reported in, never the triggered set.
type RuleEngine struct {
	rules []Rule
}

// NewRuleEngine compiles the rule set, falling back to DefaultRules when
// none are supplied.
func NewRuleEngine(rules []Rule) (*RuleEngine, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d has no name", i)
		}
		if r.Weight <= 0 || r.Weight > 1 {
			return nil, fmt.Errorf("rule %q: weight must be in (0,1]", r.Name)
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: compile pattern: %w", r.Name, err)
			}
			r.re = re
		}
		for j, kw := range r.Keywords {
			r.Keywords[j] = strings.ToLower(kw)
		}
		compiled[i] = r
	}
	return &RuleEngine{rules: compiled}, nil
}

// Evaluate returns the signals of every triggered rule, in definition
// order, so identical input always yields identical evidence.
func (e *RuleEngine) Evaluate(text string, target pipeline.Target) []pipeline.RuleSignal {
	lower := strings.ToLower(text)
	host := identifierHost(target)

	var signals []pipeline.RuleSignal
	for _, r := range e.rules {
		if r.matches(lower, host) {
			signals = append(signals, pipeline.RuleSignal{Rule: r.Name, Weight: r.Weight, Label: r.Label})
		}
	}
	return signals
}

func (r Rule) matches(lowerText, host string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(lowerText, kw) {
			return true
		}
	}
	if r.re != nil && r.re.MatchString(lowerText) {
		return true
	}
	for _, ind := range r.Indicators {
		if host != "" && host == strings.ToLower(ind) {
			return true
		}
	}
	return false
}

func identifierHost(target pipeline.Target) string {
	if target.Kind == pipeline.KindChannel {
		return target.Identifier
	}
	u, err := url.Parse(target.Identifier)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// DefaultRules is the built-in rule set. Weights and phrasing track the
// scam families the pipeline hunts: payment-detail phishing, gambling
// promotion, predatory loan and job offers, and sideloaded binaries.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "bank-details-request",
			Label:    pipeline.LabelFraud,
			Weight:   0.9,
			Keywords: []string{"send bank details", "share your bank account", "send your upi pin"},
		},
		{
			Name:     "credential-phish",
			Label:    pipeline.LabelPhishing,
			Weight:   0.8,
			Keywords: []string{"verify your account", "account suspended", "confirm your password", "update your kyc"},
		},
		{
			Name:     "advance-fee",
			Label:    pipeline.LabelFraud,
			Weight:   0.7,
			Keywords: []string{"processing fee", "advance payment to claim", "registration fee to receive"},
		},
		{
			Name:     "gambling-promo",
			Label:    pipeline.LabelGambling,
			Weight:   0.7,
			Keywords: []string{"casino", "betting id", "jackpot", "matka", "teen patti"},
		},
		{
			Name:     "loan-bait",
			Label:    pipeline.LabelFraud,
			Weight:   0.6,
			Keywords: []string{"instant loan", "loan without documents", "loan approval in minutes"},
		},
		{
			Name:     "job-bait",
			Label:    pipeline.LabelSuspicious,
			Weight:   0.5,
			Keywords: []string{"work from home", "earn daily", "part time job guaranteed"},
		},
		{
			Name:    "sideload-binary",
			Label:   pipeline.LabelMalware,
			Weight:  0.6,
			Pattern: `(?i)download\s+(the\s+)?(apk|\.exe)|\.apk\b`,
		},
		{
			Name:     "adult-meetup-bait",
			Label:    pipeline.LabelSuspicious,
			Weight:   0.4,
			Keywords: []string{"escort service", "call girls", "dating girls number"},
		},
	}
}
