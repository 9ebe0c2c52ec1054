package engine

import (
	"context"
	"log/slog"

	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/freestyle"
	"github.com/bypassforge/bypassforge/pkg/mutation"
	"github.com/bypassforge/bypassforge/pkg/obstacle"
	"github.com/bypassforge/bypassforge/pkg/probe"
	"github.com/bypassforge/bypassforge/pkg/routing"
	"github.com/bypassforge/bypassforge/pkg/scoring"
)

// deterministicLane walks the mutation plan for the obstacle's
// classification in priority order until an exploit confirms, the attempt
// budget abandons, or the plan runs out.
func (e *Engine) deterministicLane(ctx context.Context, ev *obstacle.Event, state *engagementState, decision routing.Decision) (*Result, error) {
	plan := mutation.BuildPlan(decision.Classification)
	base := ev.LastPayload(fallbackPayload)
	budget := e.scorer.Config().MaxAttempts

	var best scoring.ScoreVector
	var bestPayload string

	for _, step := range plan {
		if e.scorer.ShouldAbandon(ev.EngagementID, ev.ObstacleID) {
			break
		}
		if e.scorer.AttemptCount(ev.EngagementID, ev.ObstacleID) >= budget {
			break
		}

		strategy := step.Strategy()
		mres, err := step.Family.Apply(base, step.Variant.Name, state.mctx)
		if err != nil {
			// Closed variant tables make this a programming error.
			e.logger.Error("mutation apply failed",
				slog.String("strategy", strategy), slog.Any("error", err))
			continue
		}

		vector, exploit, err := e.attempt(ctx, ev, state, decision,
			strategy, mres.Payload, mergeOptions(state.probeOps, mres))
		if err != nil {
			return nil, err
		}
		if exploit {
			return e.exploitResult(ev, decision, vector, mres.Payload), nil
		}
		if vector.WeightedTotal > best.WeightedTotal {
			best = vector
			bestPayload = mres.Payload
		}
	}

	// A flat run abandons regardless of how the loop ended. Short plans can
	// run out before the attempt budget does, and escalating them without a
	// single scoring attempt would just replay the same dead end in hybrid.
	if best.WeightedTotal <= e.scorer.Config().ProgressFloor {
		res := e.abandonResult(ev, decision, ReasonExhausted, nil)
		res.ScoreVector = best
		res.Confidence = best.WeightedTotal
		return res, nil
	}

	// Budget spent or plan exhausted with partial progress: hand the best
	// attempt upward so the hybrid path can build on it.
	return &Result{
		ObstacleID:   ev.ObstacleID,
		EngagementID: ev.EngagementID,
		StrategyUsed: best.Strategy,
		LaneRouted:   decision.Lane,
		Payload:      bestPayload,
		Confidence:   best.WeightedTotal,
		ScoreVector:  best,
		Class:        decision.Classification,
		NextSteps:    []string{"escalate_to_hybrid"},
	}, nil
}

// freestyleLane asks the collaborator for one suggestion, then verifies it
// against the live target. Collaborator failure is a structured abandonment,
// never a crash: the pipeline keeps moving.
func (e *Engine) freestyleLane(ctx context.Context, ev *obstacle.Event, state *engagementState, decision routing.Decision, stalled *obstacle.AttemptRecord) (*Result, error) {
	if e.suggester == nil {
		return e.abandonResult(ev, decision, ReasonFreestyleFailure, nil), nil
	}

	brief := freestyle.NewBrief(ev, decision.Classification, stalled)
	fctx, cancel := context.WithTimeout(ctx, defaults.FreestyleTimeout)
	defer cancel()

	suggestion, err := e.suggester.Suggest(fctx, brief)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("freestyle collaborator failed",
			slog.String("obstacle_id", ev.ObstacleID),
			slog.Any("error", err))
		return e.abandonResult(ev, decision, ReasonFreestyleFailure, nil), nil
	}
	if err := suggestion.Validate(); err != nil {
		e.logger.Warn("freestyle suggestion rejected",
			slog.String("obstacle_id", ev.ObstacleID),
			slog.Any("error", err))
		return e.abandonResult(ev, decision, ReasonFreestyleFailure, nil), nil
	}

	base := ev.LastPayload(fallbackPayload)
	payload := suggestion.Render(base)
	strategy := "freestyle/" + suggestion.Strategy

	opts := state.probeOps
	if fam, err := mutation.ParseFamily(suggestion.MutationFamily); err == nil && fam == mutation.FamilyTiming {
		opts.TimingSamples = 2
	}

	vector, exploit, err := e.attempt(ctx, ev, state, decision, strategy, payload, opts)
	if err != nil {
		return nil, err
	}
	if exploit {
		return e.exploitResult(ev, decision, vector, payload), nil
	}

	if e.scorer.ShouldAbandon(ev.EngagementID, ev.ObstacleID) {
		res := e.abandonResult(ev, decision, ReasonExhausted, nil)
		res.StrategyUsed = strategy
		res.ScoreVector = vector
		res.Confidence = vector.WeightedTotal
		return res, nil
	}

	return &Result{
		ObstacleID:   ev.ObstacleID,
		EngagementID: ev.EngagementID,
		StrategyUsed: strategy,
		LaneRouted:   decision.Lane,
		Payload:      payload,
		Confidence:   vector.WeightedTotal,
		ScoreVector:  vector,
		Class:        decision.Classification,
		NextSteps:    []string{"reinvoke_freestyle"},
	}, nil
}

// hybridLane runs the deterministic plan first and escalates its best
// stalled attempt to the collaborator when the plan does not confirm.
func (e *Engine) hybridLane(ctx context.Context, ev *obstacle.Event, state *engagementState, decision routing.Decision) (*Result, error) {
	det, err := e.deterministicLane(ctx, ev, state, decision)
	if err != nil {
		return nil, err
	}
	det.LaneRouted = routing.LaneHybrid
	if det.ExploitConfirmed {
		return det, nil
	}

	var stalled *obstacle.AttemptRecord
	if det.StrategyUsed != "" {
		stalled = &obstacle.AttemptRecord{
			Strategy: det.StrategyUsed,
			Payload:  det.Payload,
			Score:    det.Confidence,
			Outcome:  "stalled",
		}
	}

	free, err := e.freestyleLane(ctx, ev, state, decision, stalled)
	if err != nil {
		return nil, err
	}
	free.LaneRouted = routing.LaneHybrid

	// The collaborator failing after a stalled plan leaves the best
	// deterministic attempt as the answer.
	if free.Abandon && free.AbandonReason == ReasonFreestyleFailure && det.Confidence > 0 {
		det.HumanReviewFlag = true
		det.NextSteps = []string{"human_review"}
		return det, nil
	}
	return free, nil
}

func (e *Engine) exploitResult(ev *obstacle.Event, decision routing.Decision, vector scoring.ScoreVector, payload string) *Result {
	if e.metrics != nil {
		e.metrics.ExploitsTotal.WithLabelValues(string(decision.Lane)).Inc()
	}
	e.logger.Info("bypass confirmed",
		slog.String("obstacle_id", ev.ObstacleID),
		slog.String("strategy", vector.Strategy),
		slog.Float64("score", vector.WeightedTotal))
	return &Result{
		ObstacleID:       ev.ObstacleID,
		EngagementID:     ev.EngagementID,
		StrategyUsed:     vector.Strategy,
		LaneRouted:       decision.Lane,
		Payload:          payload,
		Confidence:       vector.WeightedTotal,
		ScoreVector:      vector,
		Class:            decision.Classification,
		ExploitConfirmed: true,
		NextSteps:        []string{"resume_attack"},
	}
}

// mergeOptions overlays a mutation's request adjustments onto the
// engagement's base probe options.
func mergeOptions(base probe.RequestOptions, mres mutation.Result) probe.RequestOptions {
	opts := base
	if mres.Method != "" {
		opts.Method = mres.Method
	}
	if mres.DelayBefore > 0 {
		opts.DelayBefore = mres.DelayBefore
	}
	if mres.TimingSamples > 0 {
		opts.TimingSamples = mres.TimingSamples
	}
	if len(mres.Headers) > 0 {
		merged := make(map[string]string, len(base.Headers)+len(mres.Headers))
		for k, v := range base.Headers {
			merged[k] = v
		}
		for k, v := range mres.Headers {
			merged[k] = v
		}
		opts.Headers = merged
	}
	return opts
}
