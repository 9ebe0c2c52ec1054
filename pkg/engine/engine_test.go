package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bypassforge/bypassforge/pkg/baseline"
	"github.com/bypassforge/bypassforge/pkg/freestyle"
	"github.com/bypassforge/bypassforge/pkg/obstacle"
	"github.com/bypassforge/bypassforge/pkg/probe"
	"github.com/bypassforge/bypassforge/pkg/routing"
	"github.com/bypassforge/bypassforge/pkg/scoring"
	"github.com/bypassforge/bypassforge/pkg/signature"
)

const blockedBody = "403 forbidden: request blocked by security policy"

// fakeExecutor answers baseline probes (empty payload) with a stable
// blocked response and delegates mutated probes to respond.
type fakeExecutor struct {
	mu      sync.Mutex
	probes  int
	respond func(payload string, opts probe.RequestOptions) *probe.Fingerprint
}

func (f *fakeExecutor) Execute(ctx context.Context, targetURL, payload string, opts probe.RequestOptions) (*probe.Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if payload == "" {
		return blockedFingerprint(), nil
	}

	f.mu.Lock()
	f.probes++
	f.mu.Unlock()

	fp := f.respond(payload, opts)
	if !fp.OK() {
		return fp, fmt.Errorf("%w: %s", probe.ErrProbeFailed, fp.ErrorClass)
	}
	return fp, nil
}

func blockedFingerprint() *probe.Fingerprint {
	return &probe.Fingerprint{
		StatusCode:     403,
		BodyLength:     len(blockedBody),
		ResponseTimeMs: []float64{100},
		Headers:        map[string]string{"Server": "nginx"},
		RawBodySample:  blockedBody,
	}
}

func bypassFingerprint(payload string) *probe.Fingerprint {
	body := "<html>welcome to the admin dashboard, query was " + payload + "</html>"
	return &probe.Fingerprint{
		StatusCode:     200,
		BodyLength:     len(body),
		ResponseTimeMs: []float64{100},
		Headers:        map[string]string{"Server": "nginx"},
		RawBodySample:  body,
	}
}

type fakeSuggester struct {
	suggestion *freestyle.Suggestion
	err        error
	calls      int
	lastBrief  freestyle.Brief
}

func (f *fakeSuggester) Suggest(ctx context.Context, brief freestyle.Brief) (*freestyle.Suggestion, error) {
	f.calls++
	f.lastBrief = brief
	if f.err != nil {
		return nil, f.err
	}
	return f.suggestion, nil
}

func wafEvent(obstacleID string) *obstacle.Event {
	return &obstacle.Event{
		ObstacleID:     obstacleID,
		EngagementID:   "eng-1",
		Phase:          "exploitation",
		TerminalOutput: blockedBody,
		TargetURL:      "http://target/app",
	}
}

func newTestEngine(t *testing.T, exec probe.Executor, opts ...Option) *Engine {
	t.Helper()
	scorer := scoring.NewScorer(scoring.DefaultConfig())
	router := routing.NewRouter(signature.DefaultLibrary(), routing.NewWeightStore(),
		routing.WithDecayChecker(scorer))
	manager := baseline.NewManager(exec, baseline.WithSamples(3), baseline.WithSampleDelay(0))

	all := append([]Option{WithBaselineManager(manager), WithSeed(7)}, opts...)
	return New(exec, scorer, router, t.TempDir(), all...)
}

func TestDeterministicLaneConfirmsExploit(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			return bypassFingerprint(payload)
		},
	}
	e := newTestEngine(t, exec)

	res, err := e.ProcessObstacle(context.Background(), wafEvent("obs-1"))
	require.NoError(t, err)

	assert.True(t, res.ExploitConfirmed)
	assert.Equal(t, routing.LaneDeterministic, res.LaneRouted)
	assert.Equal(t, obstacle.ClassWAFBlock, res.Class)
	assert.GreaterOrEqual(t, res.Confidence, 0.85)
	assert.False(t, res.Abandon)
	assert.Equal(t, []string{"resume_attack"}, res.NextSteps)

	// The plan leads with url_single against a WAF block; the very first
	// candidate confirms, so exactly one mutated probe fired.
	assert.Equal(t, "encoding/url_single", res.StrategyUsed)
	assert.Equal(t, 1, exec.probes)
	assert.NotEmpty(t, res.Payload)
}

func TestDeterministicLaneAbandonsAfterFlatRun(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			// Identical to baseline: no delta, no progress, ever.
			return blockedFingerprint()
		},
	}
	e := newTestEngine(t, exec)

	res, err := e.ProcessObstacle(context.Background(), wafEvent("obs-1"))
	require.NoError(t, err)

	assert.True(t, res.Abandon)
	assert.Equal(t, ReasonExhausted, res.AbandonReason)
	assert.True(t, res.HumanReviewFlag)
	assert.Equal(t, []string{"human_review"}, res.NextSteps)
	assert.Equal(t, 12, exec.probes)
	assert.Zero(t, res.Confidence)
}

func TestDeterministicLaneAbandonsShortPlanWithoutProgress(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			return blockedFingerprint()
		},
	}
	e := newTestEngine(t, exec)

	// Rate limits carry a nine-candidate plan, shorter than the attempt
	// budget. Running it dry without a single scoring delta must still
	// abandon rather than bounce the same dead end into hybrid.
	ev := wafEvent("obs-1")
	ev.TerminalOutput = "429 too many requests"

	res, err := e.ProcessObstacle(context.Background(), ev)
	require.NoError(t, err)

	assert.True(t, res.Abandon)
	assert.Equal(t, ReasonExhausted, res.AbandonReason)
	assert.True(t, res.HumanReviewFlag)
	assert.Equal(t, 9, exec.probes)
	assert.Zero(t, res.Confidence)
}

func TestDeterministicLaneStallWithProgressEscalates(t *testing.T) {
	var calls int
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			calls++
			if calls == 1 {
				// One partial signal, then flatline.
				fp := blockedFingerprint()
				fp.StatusCode = 500
				return fp
			}
			return blockedFingerprint()
		},
	}
	e := newTestEngine(t, exec)

	res, err := e.ProcessObstacle(context.Background(), wafEvent("obs-1"))
	require.NoError(t, err)

	assert.False(t, res.Abandon)
	assert.Equal(t, []string{"escalate_to_hybrid"}, res.NextSteps)
	assert.InDelta(t, 0.40, res.Confidence, 0.0001)
	assert.Equal(t, "encoding/url_single", res.StrategyUsed)
}

func TestFreestyleLaneConfirmsExploit(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			if strings.HasPrefix(payload, "NOVEL:") {
				return bypassFingerprint(payload)
			}
			return blockedFingerprint()
		},
	}
	sug := &fakeSuggester{
		suggestion: &freestyle.Suggestion{
			Strategy:        "novel_prefix",
			MutationFamily:  "encoding",
			PayloadTemplate: "NOVEL:{{payload}}",
		},
	}
	e := newTestEngine(t, exec, WithSuggester(sug))

	ev := wafEvent("obs-1")
	ev.TerminalOutput = "proprietary unrecognizable vendor gibberish"

	res, err := e.ProcessObstacle(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, routing.LaneFreestyle, res.LaneRouted)
	assert.Equal(t, obstacle.ClassUnknown, res.Class)
	assert.True(t, res.ExploitConfirmed)
	assert.Equal(t, "freestyle/novel_prefix", res.StrategyUsed)
	assert.True(t, strings.HasPrefix(res.Payload, "NOVEL:"))
	assert.Equal(t, 1, sug.calls)
}

func TestFreestyleFailureIsStructuredAbandonment(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			return blockedFingerprint()
		},
	}
	sug := &fakeSuggester{err: errors.New("model unavailable")}
	e := newTestEngine(t, exec, WithSuggester(sug))

	ev := wafEvent("obs-1")
	ev.TerminalOutput = "proprietary unrecognizable vendor gibberish"

	res, err := e.ProcessObstacle(context.Background(), ev)
	require.NoError(t, err)

	assert.True(t, res.Abandon)
	assert.Equal(t, ReasonFreestyleFailure, res.AbandonReason)
	assert.True(t, res.HumanReviewFlag)
	assert.Zero(t, exec.probes)
}

func TestFreestyleWithoutSuggesterAbandons(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			return blockedFingerprint()
		},
	}
	e := newTestEngine(t, exec)

	ev := wafEvent("obs-1")
	ev.TerminalOutput = "proprietary unrecognizable vendor gibberish"

	res, err := e.ProcessObstacle(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, res.Abandon)
	assert.Equal(t, ReasonFreestyleFailure, res.AbandonReason)
}

func TestHybridLaneEscalatesStalledPlan(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			if strings.HasPrefix(payload, "NOVEL:") {
				return bypassFingerprint(payload)
			}
			return blockedFingerprint()
		},
	}
	sug := &fakeSuggester{
		suggestion: &freestyle.Suggestion{
			Strategy:        "novel_prefix",
			PayloadTemplate: "NOVEL:{{payload}}",
		},
	}

	scorer := scoring.NewScorer(scoring.DefaultConfig())
	weights := routing.NewWeightStore()
	weights.Set("waf_block_generic", 0.60) // force the hybrid band
	router := routing.NewRouter(signature.DefaultLibrary(), weights)
	manager := baseline.NewManager(exec, baseline.WithSamples(3), baseline.WithSampleDelay(0))
	e := New(exec, scorer, router, t.TempDir(),
		WithBaselineManager(manager), WithSuggester(sug), WithSeed(7))

	res, err := e.ProcessObstacle(context.Background(), wafEvent("obs-1"))
	require.NoError(t, err)

	assert.Equal(t, routing.LaneHybrid, res.LaneRouted)
	assert.True(t, res.ExploitConfirmed)
	assert.Equal(t, "freestyle/novel_prefix", res.StrategyUsed)
	assert.Equal(t, 1, sug.calls)
}

func TestBaselineFailureAbandons(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			return blockedFingerprint()
		},
	}
	failing := &failingExecutor{}
	manager := baseline.NewManager(failing, baseline.WithSamples(2), baseline.WithSampleDelay(0))
	scorer := scoring.NewScorer(scoring.DefaultConfig())
	router := routing.NewRouter(signature.DefaultLibrary(), routing.NewWeightStore())
	e := New(exec, scorer, router, t.TempDir(), WithBaselineManager(manager))

	res, err := e.ProcessObstacle(context.Background(), wafEvent("obs-1"))
	require.NoError(t, err)
	assert.True(t, res.Abandon)
	assert.Equal(t, ReasonBaselineFailure, res.AbandonReason)
	assert.True(t, res.HumanReviewFlag)
}

type failingExecutor struct{}

func (f *failingExecutor) Execute(ctx context.Context, targetURL, payload string, opts probe.RequestOptions) (*probe.Fingerprint, error) {
	return &probe.Fingerprint{ErrorClass: "connection_refused"},
		fmt.Errorf("%w: connection_refused", probe.ErrProbeFailed)
}

func TestAnomalyTrailRecordsPartialChanges(t *testing.T) {
	var calls int
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			calls++
			fp := blockedFingerprint()
			if calls == 1 {
				fp.StatusCode = 500 // partial signal, below exploit
			}
			return fp
		},
	}
	e := newTestEngine(t, exec)

	_, err := e.ProcessObstacle(context.Background(), wafEvent("obs-1"))
	require.NoError(t, err)

	buf := e.AnomalyBuffer("eng-1")
	require.NotNil(t, buf)
	records := buf.Records()
	require.NotEmpty(t, records)
	assert.Equal(t, "obs-1", records[0].ObstacleID)
	assert.Equal(t, "status 403 -> 500", records[0].ChangeSummary)
	assert.Equal(t, "encoding/url_single", records[0].Context["strategy"])
}

func TestCloseEngagementResetsState(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			return blockedFingerprint()
		},
	}
	e := newTestEngine(t, exec)

	_, err := e.ProcessObstacle(context.Background(), wafEvent("obs-1"))
	require.NoError(t, err)
	require.NoError(t, e.CloseEngagement("eng-1"))

	assert.Nil(t, e.AnomalyBuffer("eng-1"))

	// A reopened engagement starts with a fresh attempt budget.
	res, err := e.ProcessObstacle(context.Background(), wafEvent("obs-1"))
	require.NoError(t, err)
	assert.Equal(t, ReasonExhausted, res.AbandonReason)
}

func TestResultCarriesTraceAndIdentity(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(payload string, opts probe.RequestOptions) *probe.Fingerprint {
			return bypassFingerprint(payload)
		},
	}
	e := newTestEngine(t, exec)

	res, err := e.ProcessObstacle(context.Background(), wafEvent("obs-7"))
	require.NoError(t, err)
	assert.Equal(t, "obs-7", res.ObstacleID)
	assert.Equal(t, "eng-1", res.EngagementID)
}
