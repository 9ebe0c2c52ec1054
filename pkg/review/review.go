// Package review runs the between-engagements learning loop: it reads the
// engagement's outcomes and anomaly trail, scores how well each signature's
// routing performed, and produces weight adjustments and new signature
// candidates. Nothing is applied until Promote is called, so a human can
// inspect the report first.
package review

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bypassforge/bypassforge/pkg/anomaly"
	"github.com/bypassforge/bypassforge/pkg/obstacle"
	"github.com/bypassforge/bypassforge/pkg/routing"
	"github.com/bypassforge/bypassforge/pkg/signature"
)

const (
	// weightStep is the per-review adjustment applied to a signature's
	// routing weight.
	weightStep = 0.05

	// promoteMinRecurrence is how often an anomaly pattern must recur
	// before it is proposed as a signature.
	promoteMinRecurrence = 3

	// successRateFloor marks a signature's deterministic routing as
	// underperforming.
	successRateFloor = 0.25

	// successRateCeiling marks it as reliably good.
	successRateCeiling = 0.75
)

// Outcome is one concluded obstacle, as the pipeline reports it back.
type Outcome struct {
	ObstacleID       string                  `json:"obstacle_id"`
	Classification   obstacle.Classification `json:"classification"`
	SignatureID      string                  `json:"signature_id,omitempty"`
	Lane             routing.Lane            `json:"lane"`
	FinalScore       float64                 `json:"final_score"`
	ExploitConfirmed bool                    `json:"exploit_confirmed"`
	Abandoned        bool                    `json:"abandoned"`
}

// Stats aggregates an engagement's outcomes.
type Stats struct {
	Obstacles      int                             `json:"obstacles"`
	Exploits       int                             `json:"exploits"`
	Abandoned      int                             `json:"abandoned"`
	MeanFinalScore float64                         `json:"mean_final_score"`
	ByLane         map[routing.Lane]int            `json:"by_lane,omitempty"`
	ByClass        map[obstacle.Classification]int `json:"by_classification,omitempty"`
}

// WeightAdjustment is one proposed routing-weight change.
type WeightAdjustment struct {
	SignatureID string  `json:"signature_id"`
	Delta       float64 `json:"delta"`
	Reason      string  `json:"reason"`
}

// Report is the full review output for one engagement.
type Report struct {
	EngagementID string    `json:"engagement_id"`
	GeneratedAt  time.Time `json:"generated_at"`

	Stats             Stats                 `json:"stats"`
	WeightAdjustments []WeightAdjustment    `json:"weight_adjustments,omitempty"`
	NewSignatures     []signature.Signature `json:"new_signatures,omitempty"`
	Recommendations   []string              `json:"recommendations,omitempty"`
}

// Engine reviews engagements against a signature library and weight store.
type Engine struct {
	library *signature.Library
	weights *routing.WeightStore
}

// New creates a review engine over the live library and weight store.
func New(library *signature.Library, weights *routing.WeightStore) *Engine {
	return &Engine{library: library, weights: weights}
}

// Review builds the report. It reads state but changes nothing.
func (e *Engine) Review(engagementID string, outcomes []Outcome, records []anomaly.Record) *Report {
	report := &Report{
		EngagementID: engagementID,
		GeneratedAt:  time.Now().UTC(),
		Stats:        aggregate(outcomes),
	}
	report.WeightAdjustments = e.proposeWeights(outcomes)
	report.NewSignatures = proposeSignatures(records)
	report.Recommendations = recommend(report)
	return report
}

// Promote applies a report: each weight adjustment and signature upsert is
// atomic on its own store, so a partial failure cannot leave a signature
// half-applied.
func (e *Engine) Promote(report *Report) {
	for _, adj := range report.WeightAdjustments {
		e.weights.Adjust(adj.SignatureID, adj.Delta)
	}
	for _, sig := range report.NewSignatures {
		e.library.Upsert(sig)
	}
}

func aggregate(outcomes []Outcome) Stats {
	stats := Stats{
		ByLane:  make(map[routing.Lane]int),
		ByClass: make(map[obstacle.Classification]int),
	}
	var total float64
	for _, o := range outcomes {
		stats.Obstacles++
		stats.ByLane[o.Lane]++
		stats.ByClass[o.Classification]++
		total += o.FinalScore
		if o.ExploitConfirmed {
			stats.Exploits++
		}
		if o.Abandoned {
			stats.Abandoned++
		}
	}
	if stats.Obstacles > 0 {
		stats.MeanFinalScore = total / float64(stats.Obstacles)
	}
	return stats
}

// proposeWeights grades each signature by how its deterministic routing
// fared: a high exploit rate earns more trust, mostly-abandoned routing
// loses it.
func (e *Engine) proposeWeights(outcomes []Outcome) []WeightAdjustment {
	type tally struct {
		routed   int
		exploits int
	}
	perSig := make(map[string]*tally)
	for _, o := range outcomes {
		if o.SignatureID == "" || o.Lane == routing.LaneFreestyle {
			continue
		}
		t, ok := perSig[o.SignatureID]
		if !ok {
			t = &tally{}
			perSig[o.SignatureID] = t
		}
		t.routed++
		if o.ExploitConfirmed {
			t.exploits++
		}
	}

	var adjustments []WeightAdjustment
	for id, t := range perSig {
		rate := float64(t.exploits) / float64(t.routed)
		switch {
		case rate >= successRateCeiling:
			adjustments = append(adjustments, WeightAdjustment{
				SignatureID: id,
				Delta:       weightStep,
				Reason: fmt.Sprintf("deterministic routing confirmed %d/%d bypasses",
					t.exploits, t.routed),
			})
		case rate <= successRateFloor:
			adjustments = append(adjustments, WeightAdjustment{
				SignatureID: id,
				Delta:       -weightStep,
				Reason: fmt.Sprintf("deterministic routing confirmed only %d/%d bypasses",
					t.exploits, t.routed),
			})
		}
	}
	sort.Slice(adjustments, func(i, j int) bool {
		return adjustments[i].SignatureID < adjustments[j].SignatureID
	})
	return adjustments
}

// proposeSignatures promotes recurring transport-level anomaly patterns
// into signature candidates. A target that keeps resetting connections on
// certain payloads is a recognizable defensive behavior worth routing on.
func proposeSignatures(records []anomaly.Record) []signature.Signature {
	counts := make(map[string]int)
	for _, rec := range records {
		if rec.Delta.ProbeErrorClass != "" {
			counts[rec.Delta.ProbeErrorClass]++
		}
	}

	var proposed []signature.Signature
	for class, n := range counts {
		if n < promoteMinRecurrence {
			continue
		}
		proposed = append(proposed, signature.Signature{
			ID:             "anomaly_" + class,
			Patterns:       []string{strings.ReplaceAll(class, "_", " ")},
			Classification: obstacle.ClassTimeoutOrDrop,
			Confidence:     0.6,
		})
	}
	sort.Slice(proposed, func(i, j int) bool { return proposed[i].ID < proposed[j].ID })
	return proposed
}

func recommend(report *Report) []string {
	var recs []string
	if report.Stats.Obstacles == 0 {
		return nil
	}
	abandonRate := float64(report.Stats.Abandoned) / float64(report.Stats.Obstacles)
	if abandonRate > 0.5 {
		recs = append(recs, fmt.Sprintf(
			"%.0f%% of obstacles were abandoned; consider widening the freestyle lane thresholds",
			abandonRate*100))
	}
	for _, adj := range report.WeightAdjustments {
		if adj.Delta < 0 {
			recs = append(recs, fmt.Sprintf(
				"signature %s is routing to a lane it cannot win; weight reduced", adj.SignatureID))
		}
	}
	for _, sig := range report.NewSignatures {
		recs = append(recs, fmt.Sprintf(
			"recurring anomaly pattern promoted as signature %s", sig.ID))
	}
	return recs
}
