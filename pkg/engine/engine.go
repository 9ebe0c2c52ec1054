// Package engine is the orchestrator: it takes a blocked-attempt event,
// routes it to a lane, drives mutation and probing, scores the outcome,
// and emits a single result the upstream pipeline can act on. One engine
// serves every lane; the lanes differ only in where candidates come from.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/bypassforge/bypassforge/pkg/anomaly"
	"github.com/bypassforge/bypassforge/pkg/baseline"
	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/delta"
	"github.com/bypassforge/bypassforge/pkg/freestyle"
	"github.com/bypassforge/bypassforge/pkg/mutation"
	"github.com/bypassforge/bypassforge/pkg/obstacle"
	"github.com/bypassforge/bypassforge/pkg/probe"
	"github.com/bypassforge/bypassforge/pkg/routing"
	"github.com/bypassforge/bypassforge/pkg/scoring"
)

// fallbackPayload is probed when an event carries no attempt history to
// extract a working payload from.
const fallbackPayload = "' OR '1'='1"

// Abandonment reasons surfaced in results.
const (
	ReasonExhausted        = "attempt_budget_exhausted"
	ReasonFreestyleFailure = "freestyle_llm_failure"
	ReasonBaselineFailure  = "baseline_capture_failed"
)

// Result is the engine's answer for one obstacle event.
type Result struct {
	ObstacleID   string `json:"obstacle_id"`
	EngagementID string `json:"engagement_id"`

	StrategyUsed string                  `json:"strategy_used,omitempty"`
	LaneRouted   routing.Lane            `json:"lane_routed"`
	Payload      string                  `json:"payload,omitempty"`
	Confidence   float64                 `json:"confidence"`
	ScoreVector  scoring.ScoreVector     `json:"score_vector"`
	Class        obstacle.Classification `json:"classification"`
	SignatureID  string                  `json:"signature_id,omitempty"`

	ExploitConfirmed bool     `json:"exploit_confirmed"`
	NextSteps        []string `json:"next_steps,omitempty"`

	Abandon         bool   `json:"abandon"`
	AbandonReason   string `json:"abandon_reason,omitempty"`
	HumanReviewFlag bool   `json:"human_review_flag"`

	TraceID string `json:"trace_id,omitempty"`
}

// engagementState is everything the engine holds per engagement. The
// mutex serializes obstacle processing within one engagement; distinct
// engagements run concurrently.
type engagementState struct {
	mu       sync.Mutex
	stats    *baseline.Statistics
	buffer   *anomaly.Buffer
	mctx     *mutation.Context
	probeOps probe.RequestOptions
}

// Engine drives the full mutate-probe-score loop.
type Engine struct {
	exec      probe.Executor
	baselines *baseline.Manager
	store     *baseline.Store
	scorer    *scoring.Scorer
	router    *routing.Router
	suggester freestyle.Suggester

	anomalyRoot string
	seed        int64
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer

	mu          sync.Mutex
	engagements map[string]*engagementState
}

// Option configures an Engine.
type Option func(*Engine)

// WithSuggester wires the freestyle collaborator in. Without one, the
// freestyle lane abandons immediately with a structured reason.
func WithSuggester(s freestyle.Suggester) Option {
	return func(e *Engine) { e.suggester = s }
}

// WithBaselineManager replaces the default baseline capture manager.
func WithBaselineManager(m *baseline.Manager) Option {
	return func(e *Engine) { e.baselines = m }
}

// WithBaselineStore enables baseline persistence across restarts.
func WithBaselineStore(s *baseline.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets a metrics registry to publish into.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = NewMetrics(reg) }
}

// WithTracer sets the trace source for per-obstacle spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithSeed fixes the mutation randomness seed, making candidate sequences
// reproducible across runs.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// New creates an Engine. exec, scorer, and router are required; everything
// else has a working default.
func New(exec probe.Executor, scorer *scoring.Scorer, router *routing.Router, anomalyRoot string, opts ...Option) *Engine {
	e := &Engine{
		exec:        exec,
		scorer:      scorer,
		router:      router,
		anomalyRoot: anomalyRoot,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:      noop.NewTracerProvider().Tracer(defaults.ToolName),
		engagements: make(map[string]*engagementState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.baselines == nil {
		e.baselines = baseline.NewManager(exec, baseline.WithLogger(e.logger))
	}
	return e
}

// ProcessObstacle handles one blocked-attempt event end to end. Calls for
// the same engagement are serialized; calls across engagements proceed in
// parallel.
func (e *Engine) ProcessObstacle(ctx context.Context, ev *obstacle.Event) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.process_obstacle",
		trace.WithAttributes(
			attribute.String("obstacle.id", ev.ObstacleID),
			attribute.String("engagement.id", ev.EngagementID),
			attribute.String("phase", ev.Phase),
		))
	defer span.End()

	state, err := e.engagement(ctx, ev)
	if err != nil {
		if errors.Is(err, baseline.ErrCaptureFailed) {
			return e.abandonResult(ev, routing.Decision{}, ReasonBaselineFailure, span), nil
		}
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	decision := e.router.Route(ev)
	span.SetAttributes(
		attribute.String("lane", string(decision.Lane)),
		attribute.String("classification", string(decision.Classification)),
	)
	if e.metrics != nil {
		e.metrics.ObstaclesTotal.WithLabelValues(string(decision.Lane), string(decision.Classification)).Inc()
	}
	e.logger.Info("obstacle routed",
		slog.String("obstacle_id", ev.ObstacleID),
		slog.String("engagement_id", ev.EngagementID),
		slog.String("lane", string(decision.Lane)),
		slog.String("classification", string(decision.Classification)),
		slog.Float64("confidence", decision.Confidence))

	var res *Result
	switch decision.Lane {
	case routing.LaneDeterministic:
		res, err = e.deterministicLane(ctx, ev, state, decision)
	case routing.LaneFreestyle:
		res, err = e.freestyleLane(ctx, ev, state, decision, nil)
	case routing.LaneHybrid:
		res, err = e.hybridLane(ctx, ev, state, decision)
	default:
		err = fmt.Errorf("engine: unknown lane %q", decision.Lane)
	}
	if err != nil {
		return nil, err
	}

	e.scorer.NoteClassification(ev.EngagementID, decision.Classification, res.ScoreVector.WeightedTotal)
	res.SignatureID = decision.SignatureID
	res.TraceID = traceID(span)
	return res, nil
}

// engagement returns the engagement state, capturing and persisting the
// baseline on first contact.
func (e *Engine) engagement(ctx context.Context, ev *obstacle.Event) (*engagementState, error) {
	e.mu.Lock()
	state, ok := e.engagements[ev.EngagementID]
	if !ok {
		state = &engagementState{
			mctx:     mutation.NewContext(e.seed),
			probeOps: probe.RequestOptions{},
		}
		e.engagements[ev.EngagementID] = state
	}
	e.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.stats != nil {
		return state, nil
	}

	if e.store != nil {
		snap, err := e.store.Load(ev.EngagementID)
		if err != nil {
			return nil, err
		}
		if snap != nil && snap.TargetURL == ev.TargetURL {
			state.stats = snap.Statistics
			e.logger.Info("baseline restored from store",
				slog.String("engagement_id", ev.EngagementID))
		}
	}

	if state.stats == nil {
		stats, err := e.baselines.Capture(ctx, ev.TargetURL, state.probeOps)
		if err != nil {
			return nil, err
		}
		state.stats = stats
		if e.store != nil {
			snap := &baseline.Snapshot{
				EngagementID: ev.EngagementID,
				TargetURL:    ev.TargetURL,
				CapturedAt:   time.Now().UTC(),
				Statistics:   stats,
			}
			if err := e.store.Save(snap); err != nil {
				e.logger.Warn("baseline persist failed", slog.Any("error", err))
			}
		}
	}

	if state.buffer == nil {
		buf, err := anomaly.Open(e.anomalyRoot, ev.EngagementID, e.logger)
		if err != nil {
			return nil, err
		}
		state.buffer = buf
	}
	return state, nil
}

// attempt fires one mutated probe and scores it. Probe failures that still
// yield a fingerprint are scored: the failure class is itself a delta.
func (e *Engine) attempt(ctx context.Context, ev *obstacle.Event, state *engagementState, decision routing.Decision, strategy, payload string, opts probe.RequestOptions) (scoring.ScoreVector, bool, error) {
	if e.metrics != nil {
		e.metrics.ProbesTotal.Inc()
	}
	fp, err := e.exec.Execute(ctx, ev.TargetURL, payload, opts)
	if err != nil && !errors.Is(err, probe.ErrProbeFailed) {
		return scoring.ScoreVector{}, false, err
	}

	d := delta.Calculate(state.stats, fp, payload)
	vector := e.scorer.Evaluate(strategy, d)
	progress := e.scorer.Record(ev.EngagementID, ev.ObstacleID, vector)
	if e.metrics != nil {
		e.metrics.ScoreObserved.Observe(vector.WeightedTotal)
	}

	exploit := e.scorer.IsExploitConfirmed(vector)
	if d.HasAnyChange() && !exploit {
		_, aerr := state.buffer.Append(anomaly.Record{
			ObstacleID:      ev.ObstacleID,
			Delta:           d,
			ConfidenceScore: vector.WeightedTotal,
			ChangeSummary:   summarize(d),
			Context: map[string]string{
				"strategy": strategy,
				"lane":     string(decision.Lane),
				"payload":  truncate(payload, 200),
			},
		})
		if aerr != nil {
			e.logger.Warn("anomaly append failed", slog.Any("error", aerr))
		} else if e.metrics != nil {
			e.metrics.AnomaliesTotal.Inc()
		}
	}

	e.logger.Debug("attempt scored",
		slog.String("obstacle_id", ev.ObstacleID),
		slog.String("strategy", strategy),
		slog.Float64("score", vector.WeightedTotal),
		slog.Bool("progress", progress),
		slog.Bool("exploit", exploit))
	return vector, exploit, nil
}

// CloseEngagement finalizes an engagement: prunes and closes the anomaly
// buffer and drops all in-memory scoring state. The baseline snapshot and
// the anomaly trail stay on disk.
func (e *Engine) CloseEngagement(engagementID string) error {
	e.mu.Lock()
	state, ok := e.engagements[engagementID]
	delete(e.engagements, engagementID)
	e.mu.Unlock()

	e.scorer.ResetEngagement(engagementID)
	if !ok {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.buffer == nil {
		return nil
	}
	if err := state.buffer.Prune(defaults.AnomalyMaxRecords, defaults.AnomalyMaxAge); err != nil {
		e.logger.Warn("anomaly prune failed", slog.Any("error", err))
	}
	return state.buffer.Close()
}

// AnomalyBuffer exposes an engagement's anomaly buffer, used by exports
// and the review engine. Nil when the engagement is unknown or closed.
func (e *Engine) AnomalyBuffer(engagementID string) *anomaly.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.engagements[engagementID]; ok {
		return state.buffer
	}
	return nil
}

func (e *Engine) abandonResult(ev *obstacle.Event, decision routing.Decision, reason string, span trace.Span) *Result {
	if e.metrics != nil {
		e.metrics.AbandonmentsTotal.WithLabelValues(reason).Inc()
	}
	e.logger.Warn("obstacle abandoned",
		slog.String("obstacle_id", ev.ObstacleID),
		slog.String("reason", reason))
	return &Result{
		ObstacleID:      ev.ObstacleID,
		EngagementID:    ev.EngagementID,
		LaneRouted:      decision.Lane,
		Class:           decision.Classification,
		Abandon:         true,
		AbandonReason:   reason,
		HumanReviewFlag: true,
		NextSteps:       []string{"human_review"},
		TraceID:         traceID(span),
	}
}

func traceID(span trace.Span) string {
	if span == nil {
		return ""
	}
	sc := span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// summarize renders a one-line human summary of a delta for the anomaly
// trail.
func summarize(d delta.Delta) string {
	switch {
	case d.StatusChanged:
		return fmt.Sprintf("status %d -> %d", d.BaselineStatus, d.ProbeStatus)
	case d.ErrorClassChanged:
		return fmt.Sprintf("transport behavior changed: %s", d.ProbeErrorClass)
	case d.BodyContainsPayload:
		return "payload reflected in response body"
	case d.Similarity < defaults.SimilarityChangeFloor:
		return fmt.Sprintf("body similarity dropped to %.2f", d.Similarity)
	case d.BodyLengthDelta > defaults.BodyLengthChangeRatio:
		return fmt.Sprintf("body length shifted %.1f%%", d.BodyLengthDelta*100)
	case len(d.ChangedHeaders) > 0:
		return fmt.Sprintf("headers changed: %v", d.ChangedHeaders)
	default:
		return fmt.Sprintf("timing shifted %.1f stddev", d.TimingDeltaStd)
	}
}
