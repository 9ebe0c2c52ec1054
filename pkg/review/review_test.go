package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bypassforge/bypassforge/pkg/anomaly"
	"github.com/bypassforge/bypassforge/pkg/delta"
	"github.com/bypassforge/bypassforge/pkg/obstacle"
	"github.com/bypassforge/bypassforge/pkg/routing"
	"github.com/bypassforge/bypassforge/pkg/signature"
)

func newReviewEngine() (*Engine, *routing.WeightStore, *signature.Library) {
	lib := signature.DefaultLibrary()
	weights := routing.NewWeightStore()
	return New(lib, weights), weights, lib
}

func TestReviewAggregatesStats(t *testing.T) {
	e, _, _ := newReviewEngine()
	outcomes := []Outcome{
		{Lane: routing.LaneDeterministic, Classification: obstacle.ClassWAFBlock, FinalScore: 0.9, ExploitConfirmed: true},
		{Lane: routing.LaneDeterministic, Classification: obstacle.ClassWAFBlock, FinalScore: 0.1, Abandoned: true},
		{Lane: routing.LaneFreestyle, Classification: obstacle.ClassUnknown, FinalScore: 0.5},
	}

	report := e.Review("eng-1", outcomes, nil)
	assert.Equal(t, 3, report.Stats.Obstacles)
	assert.Equal(t, 1, report.Stats.Exploits)
	assert.Equal(t, 1, report.Stats.Abandoned)
	assert.Equal(t, 2, report.Stats.ByLane[routing.LaneDeterministic])
	assert.InDelta(t, 0.5, report.Stats.MeanFinalScore, 0.0001)
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestReviewRaisesWeightForWinningSignature(t *testing.T) {
	e, _, _ := newReviewEngine()
	outcomes := []Outcome{
		{SignatureID: "waf_block_generic", Lane: routing.LaneDeterministic, ExploitConfirmed: true},
		{SignatureID: "waf_block_generic", Lane: routing.LaneDeterministic, ExploitConfirmed: true},
		{SignatureID: "waf_block_generic", Lane: routing.LaneDeterministic, ExploitConfirmed: true},
		{SignatureID: "waf_block_generic", Lane: routing.LaneDeterministic, ExploitConfirmed: false},
	}

	report := e.Review("eng-1", outcomes, nil)
	require.Len(t, report.WeightAdjustments, 1)
	assert.Equal(t, "waf_block_generic", report.WeightAdjustments[0].SignatureID)
	assert.Greater(t, report.WeightAdjustments[0].Delta, 0.0)
}

func TestReviewLowersWeightForLosingSignature(t *testing.T) {
	e, _, _ := newReviewEngine()
	outcomes := []Outcome{
		{SignatureID: "char_filter_generic", Lane: routing.LaneDeterministic, Abandoned: true},
		{SignatureID: "char_filter_generic", Lane: routing.LaneDeterministic, Abandoned: true},
		{SignatureID: "char_filter_generic", Lane: routing.LaneDeterministic, Abandoned: true},
		{SignatureID: "char_filter_generic", Lane: routing.LaneDeterministic, ExploitConfirmed: true},
	}

	report := e.Review("eng-1", outcomes, nil)
	require.Len(t, report.WeightAdjustments, 1)
	assert.Less(t, report.WeightAdjustments[0].Delta, 0.0)
	assert.NotEmpty(t, report.Recommendations)
}

func TestReviewIgnoresFreestyleOutcomesForWeights(t *testing.T) {
	e, _, _ := newReviewEngine()
	outcomes := []Outcome{
		{SignatureID: "waf_block_generic", Lane: routing.LaneFreestyle, Abandoned: true},
	}
	report := e.Review("eng-1", outcomes, nil)
	assert.Empty(t, report.WeightAdjustments)
}

func TestReviewPromotesRecurringAnomalyPattern(t *testing.T) {
	e, _, _ := newReviewEngine()

	var records []anomaly.Record
	for i := 0; i < 3; i++ {
		records = append(records, anomaly.Record{
			Delta: delta.Delta{ErrorClassChanged: true, ProbeErrorClass: "connection_reset"},
		})
	}
	records = append(records, anomaly.Record{
		Delta: delta.Delta{ErrorClassChanged: true, ProbeErrorClass: "timeout"},
	})

	report := e.Review("eng-1", nil, records)
	require.Len(t, report.NewSignatures, 1)
	sig := report.NewSignatures[0]
	assert.Equal(t, "anomaly_connection_reset", sig.ID)
	assert.Equal(t, []string{"connection reset"}, sig.Patterns)
	assert.Equal(t, obstacle.ClassTimeoutOrDrop, sig.Classification)
}

func TestPromoteAppliesReport(t *testing.T) {
	e, weights, lib := newReviewEngine()

	report := &Report{
		WeightAdjustments: []WeightAdjustment{
			{SignatureID: "waf_block_generic", Delta: -0.05},
		},
		NewSignatures: []signature.Signature{
			{ID: "anomaly_connection_reset", Patterns: []string{"connection reset"},
				Classification: obstacle.ClassTimeoutOrDrop, Confidence: 0.6},
		},
	}
	e.Promote(report)

	assert.InDelta(t, 0.85, weights.Get("waf_block_generic"), 0.0001)
	_, ok := lib.Get("anomaly_connection_reset")
	assert.True(t, ok)
}

func TestReviewEmptyEngagement(t *testing.T) {
	e, _, _ := newReviewEngine()
	report := e.Review("eng-1", nil, nil)
	assert.Zero(t, report.Stats.Obstacles)
	assert.Empty(t, report.Recommendations)
}
