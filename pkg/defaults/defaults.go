// Package defaults provides canonical default values for the entire codebase.
// This is the single source of truth for runtime tunables.
//
// Usage:
//
//	cfg.MaxDeterministicAttempts = defaults.MaxDeterministicAttempts
//	req.Timeout = defaults.ProbeTimeout
//
// Do not hardcode values like `Timeout: 10 * time.Second` elsewhere.
// Reference the appropriate constant from this package instead.
package defaults

import "time"

// Version is the current engine version.
const Version = "0.3.1"

// ToolName identifies the engine in user agents and telemetry.
const ToolName = "bypassforge"

// ============================================================================
// PROBE EXECUTION
// ============================================================================

const (
	// ProbeTimeout is the per-request timeout for a single probe.
	ProbeTimeout = 10 * time.Second

	// ProbeRateLimit is the sustained probes-per-second ceiling.
	ProbeRateLimit = 25

	// BodySampleSize is how many bytes of a response body are retained
	// in a fingerprint for similarity and reflection checks.
	BodySampleSize = 2048

	// MaxBodyRead caps how much of a response body is read at all.
	MaxBodyRead = 1 << 20
)

// ============================================================================
// HTTP TRANSPORT
// ============================================================================

const (
	// DialTimeout bounds connection establishment, TLS handshake included.
	DialTimeout = 10 * time.Second

	// KeepAliveInterval is the TCP keep-alive probe interval.
	KeepAliveInterval = 30 * time.Second

	// IdleConnTimeout is how long idle connections stay pooled.
	IdleConnTimeout = 90 * time.Second

	// ExpectContinueTimeout bounds the 100-continue wait.
	ExpectContinueTimeout = 1 * time.Second
)

// ============================================================================
// BASELINE CAPTURE
// ============================================================================

const (
	// BaselineSamples is the number of clean probes fired per engagement.
	BaselineSamples = 5

	// BaselineSampleDelay is the intentional pause between baseline
	// samples. Sequential pacing keeps server-side burst detection from
	// skewing the baseline.
	BaselineSampleDelay = 1 * time.Second

	// BaselineStatusFallback is used when sampled status codes disagree.
	BaselineStatusFallback = 200
)

// ============================================================================
// DELTA THRESHOLDS
// ============================================================================

const (
	// BodyLengthChangeRatio is the relative body-length change below which
	// a response is considered unchanged (1%).
	BodyLengthChangeRatio = 0.01

	// TimingChangeStdDev is the timing shift, in baseline standard
	// deviations, below which a response is considered unchanged.
	TimingChangeStdDev = 0.5

	// SimilarityChangeFloor is the Jaccard similarity above which bodies
	// are considered unchanged (95%).
	SimilarityChangeFloor = 0.95
)

// ============================================================================
// SCORING AND ABANDONMENT
// ============================================================================
//
// The thresholds here are tunable configuration, not law. They ship as the
// observed-good operating point and are overridable via scoring.Config.
// ============================================================================

const (
	// ExploitThreshold is the weighted score above which a mutation is
	// treated as a confirmed bypass.
	ExploitThreshold = 0.85

	// ProgressFloor is the minimum weighted score for an attempt to count
	// as progress at all.
	ProgressFloor = 0.10

	// MaxDeterministicAttempts bounds the deterministic lane per obstacle.
	MaxDeterministicAttempts = 12

	// StallWindow is how many trailing attempts must show no new best
	// score before the obstacle is abandoned.
	StallWindow = 3

	// DecayWindow is how many trailing per-classification scores feed the
	// confidence-decay trend check.
	DecayWindow = 4

	// DecaySlope is the downward per-attempt trend beyond which a
	// classification is considered decaying.
	DecaySlope = 0.05
)

// ============================================================================
// ROUTING
// ============================================================================

const (
	// DeterministicThreshold routes to the deterministic lane above it.
	DeterministicThreshold = 0.75

	// FreestyleThreshold routes to the freestyle lane below it.
	FreestyleThreshold = 0.40

	// NoMatchConfidence is the routing confidence when no signature matches.
	NoMatchConfidence = 0.10

	// RouteWeight is the initial routing weight for every signature id.
	RouteWeight = 0.90

	// RouteWeightMin and RouteWeightMax bound review-engine adjustments.
	RouteWeightMin = 0.10
	RouteWeightMax = 1.00
)

// ============================================================================
// FREESTYLE COLLABORATOR
// ============================================================================

const (
	// TerminalExcerptMax bounds the terminal-output excerpt in a brief.
	TerminalExcerptMax = 1500

	// RecentStrategyCount bounds the attempted-strategy list in a brief.
	RecentStrategyCount = 5

	// FreestyleTimeout bounds one collaborator call.
	FreestyleTimeout = 60 * time.Second
)

// ============================================================================
// TIMING MUTATIONS
// ============================================================================

const (
	// TimingDelayShort is the short pre-probe pause for rate-window tests.
	TimingDelayShort = 500 * time.Millisecond

	// TimingDelayLong is the long pre-probe pause for sliding-window tests.
	TimingDelayLong = 3 * time.Second
)

// ShutdownTimeout bounds graceful teardown of exporters and buffers.
const ShutdownTimeout = 5 * time.Second

// ============================================================================
// ANOMALY BUFFER
// ============================================================================

const (
	// AnomalyMaxRecords is the per-engagement record cap applied on prune.
	AnomalyMaxRecords = 1000

	// AnomalyMaxAge is the record age cap applied on prune.
	AnomalyMaxAge = 30 * 24 * time.Hour
)
