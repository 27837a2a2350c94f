// Package scoring computes a deterministic confidence score for a claim
// from the evidence collected for it.
package scoring

import (
	"depverify/internal/evidence"
)

// DefaultThreshold is the confidence at or above which a claim is confirmed.
const DefaultThreshold = 0.7

// Rule names reported in a score breakdown.
const (
	RuleStatic    = "static-evidence"
	RuleRuntime   = "runtime-evidence"
	RuleAgreement = "multi-source-agreement"
	RuleCollision = "name-collision"
)

// Weights are expressed in hundredths so sums stay exact.
type Weights struct {
	Static    int
	Runtime   int
	Agreement int
	Collision int // subtracted
}

// DefaultWeights is +0.3 static, +0.3 runtime, +0.2 agreement, -0.2 collision.
var DefaultWeights = Weights{Static: 30, Runtime: 30, Agreement: 20, Collision: 20}

// Contribution is one rule that moved the score.
type Contribution struct {
	Rule  string  `json:"rule"`
	Delta float64 `json:"delta"`
}

// Result is the outcome of scoring one evidence sequence.
type Result struct {
	Confidence    float64        `json:"confidence"`
	Confirmed     bool           `json:"confirmed"`
	Contributions []Contribution `json:"contributions,omitempty"`
}

// Scorer turns evidence into a confidence score. Implementations must be
// pure: the same multiset of evidence always yields the same Result.
type Scorer interface {
	Score(items []evidence.Evidence) Result
}

// RuleScorer applies the fixed additive rule set.
type RuleScorer struct {
	Weights   Weights
	Threshold float64
}

// New returns a RuleScorer with default weights and the given threshold.
// A non-positive threshold selects DefaultThreshold.
func New(threshold float64) *RuleScorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &RuleScorer{Weights: DefaultWeights, Threshold: threshold}
}

// Default returns the scorer used when none is configured.
func Default() *RuleScorer {
	return New(DefaultThreshold)
}

// Score implements Scorer. It never fails; empty input scores 0.
func (s *RuleScorer) Score(items []evidence.Evidence) Result {
	var (
		hasStatic, hasRuntime, collision bool
		sources                          = make(map[string]struct{})
	)

	for _, e := range items {
		if e.Collision {
			collision = true
		}
		if e.Negative {
			continue
		}
		if e.Kind.StaticFamily() {
			hasStatic = true
		}
		if e.Kind == evidence.KindRuntime {
			hasRuntime = true
		}
		if e.Source != "" {
			sources[e.Source] = struct{}{}
		}
	}

	var (
		total         int
		contributions []Contribution
	)
	add := func(rule string, delta int) {
		total += delta
		contributions = append(contributions, Contribution{Rule: rule, Delta: hundredths(delta)})
	}

	if hasStatic {
		add(RuleStatic, s.Weights.Static)
	}
	if hasRuntime {
		add(RuleRuntime, s.Weights.Runtime)
	}
	if len(sources) >= 2 {
		add(RuleAgreement, s.Weights.Agreement)
	}
	if collision {
		add(RuleCollision, -s.Weights.Collision)
	}

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	confidence := hundredths(total)
	return Result{
		Confidence:    confidence,
		Confirmed:     confidence >= s.threshold(),
		Contributions: contributions,
	}
}

func (s *RuleScorer) threshold() float64 {
	if s.Threshold <= 0 {
		return DefaultThreshold
	}
	return s.Threshold
}

func hundredths(v int) float64 {
	return float64(v) / 100
}

// Confidence scores items with the default rule set.
func Confidence(items []evidence.Evidence) float64 {
	return Default().Score(items).Confidence
}
