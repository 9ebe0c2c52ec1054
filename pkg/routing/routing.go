// Package routing decides which lane handles a classified obstacle:
// deterministic mutation, freestyle collaboration, or hybrid. The decision
// is weighted pattern confidence against two thresholds, with a
// persistable per-signature weight store the review engine tunes over time.
package routing

import (
	"fmt"

	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/obstacle"
	"github.com/bypassforge/bypassforge/pkg/signature"
)

// Lane names the strategy lane an obstacle is routed to.
type Lane string

const (
	LaneDeterministic Lane = "deterministic"
	LaneFreestyle     Lane = "freestyle"
	LaneHybrid        Lane = "hybrid"
)

// Decision explains a routing outcome. Reasoning is prose for the anomaly
// trail and review reports, not for machine consumption.
type Decision struct {
	Lane           Lane                    `json:"lane"`
	Classification obstacle.Classification `json:"classification"`
	Confidence     float64                 `json:"confidence"`
	SignatureID    string                  `json:"signature_id,omitempty"`
	MatchedPattern string                  `json:"matched_pattern,omitempty"`
	Reasoning      string                  `json:"reasoning"`

	// FallbackEligible marks decisions with a fallback left to try:
	// deterministic routes can escalate to freestyle after abandonment,
	// and unmatched obstacles can fall back to human review.
	FallbackEligible bool `json:"fallback_eligible"`
}

// DecayChecker reports per-classification confidence decay. Satisfied by
// *scoring.Scorer.
type DecayChecker interface {
	ConfidenceDecayed(engagementID string, class obstacle.Classification) bool
}

// Router routes classified obstacles to lanes.
type Router struct {
	library       *signature.Library
	weights       *WeightStore
	decay         DecayChecker
	deterministic float64
	freestyle     float64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithThresholds overrides the lane thresholds.
func WithThresholds(deterministic, freestyle float64) RouterOption {
	return func(r *Router) {
		r.deterministic = deterministic
		r.freestyle = freestyle
	}
}

// WithDecayChecker wires the confidence-decay signal in.
func WithDecayChecker(d DecayChecker) RouterOption {
	return func(r *Router) { r.decay = d }
}

// NewRouter creates a Router over a signature library and weight store.
func NewRouter(library *signature.Library, weights *WeightStore, opts ...RouterOption) *Router {
	r := &Router{
		library:       library,
		weights:       weights,
		deterministic: defaults.DeterministicThreshold,
		freestyle:     defaults.FreestyleThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route classifies the event's terminal output and picks a lane. With no
// signature match the obstacle is unknown and goes straight to freestyle.
// A decayed classification that would route deterministic is held back to
// hybrid instead; the mid band stays hybrid either way.
func (r *Router) Route(ev *obstacle.Event) Decision {
	matches := r.library.Classify(ev.TerminalOutput)
	if len(matches) == 0 {
		return Decision{
			Lane:             LaneFreestyle,
			Classification:   obstacle.ClassUnknown,
			Confidence:       defaults.NoMatchConfidence,
			Reasoning:        "no signature matched the terminal output",
			FallbackEligible: true,
		}
	}

	best := matches[0]
	weighted := best.Confidence * r.weights.Get(best.Signature.ID)

	if rec := Lane(best.Signature.LaneRecommendation); rec == LaneDeterministic || rec == LaneFreestyle || rec == LaneHybrid {
		return Decision{
			Lane:             rec,
			Classification:   best.Signature.Classification,
			Confidence:       weighted,
			SignatureID:      best.Signature.ID,
			MatchedPattern:   best.MatchedPattern,
			Reasoning:        fmt.Sprintf("signature %s pins the %s lane", best.Signature.ID, rec),
			FallbackEligible: rec == LaneDeterministic,
		}
	}

	decayed := r.decay != nil && r.decay.ConfidenceDecayed(ev.EngagementID, best.Signature.Classification)
	lane, reason := r.decideLane(weighted, decayed)

	return Decision{
		Lane:             lane,
		Classification:   best.Signature.Classification,
		Confidence:       weighted,
		SignatureID:      best.Signature.ID,
		MatchedPattern:   best.MatchedPattern,
		Reasoning:        reason,
		FallbackEligible: lane == LaneDeterministic,
	}
}

func (r *Router) decideLane(weighted float64, decayed bool) (Lane, string) {
	switch {
	case weighted >= r.deterministic:
		if decayed {
			return LaneHybrid, fmt.Sprintf(
				"weighted confidence %.2f clears the deterministic threshold but the classification is decaying", weighted)
		}
		return LaneDeterministic, fmt.Sprintf(
			"weighted confidence %.2f clears the deterministic threshold %.2f", weighted, r.deterministic)
	case weighted < r.freestyle:
		return LaneFreestyle, fmt.Sprintf(
			"weighted confidence %.2f is below the freestyle threshold %.2f", weighted, r.freestyle)
	default:
		return LaneHybrid, fmt.Sprintf(
			"weighted confidence %.2f falls between the lane thresholds", weighted)
	}
}
