// Package scoring turns measured deltas into confidence: how likely a
// mutation actually got past the defensive control. The scorer also owns
// the per-obstacle attempt bookkeeping that drives progress, abandonment,
// and confidence-decay decisions.
package scoring

import (
	"math"
	"sync"

	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/delta"
	"github.com/bypassforge/bypassforge/pkg/obstacle"
)

// SignalWeights maps each delta signal to its score contribution. The
// strongest signals are the ones a defender cannot fake: status flips,
// transport behavior changes, and payload reflection.
type SignalWeights struct {
	StatusChange     float64 `json:"status_change" yaml:"status_change"`
	ErrorClassChange float64 `json:"error_class_change" yaml:"error_class_change"`
	Reflection       float64 `json:"reflection" yaml:"reflection"`
	BodyHashChange   float64 `json:"body_hash_change" yaml:"body_hash_change"`
	BodyLength       float64 `json:"body_length" yaml:"body_length"`
	Timing           float64 `json:"timing" yaml:"timing"`
	Headers          float64 `json:"headers" yaml:"headers"`
	Dissimilarity    float64 `json:"dissimilarity" yaml:"dissimilarity"`
	StrongDissim     float64 `json:"strong_dissimilarity" yaml:"strong_dissimilarity"`
}

// Config tunes the scorer. All thresholds are operating points, not law.
type Config struct {
	Weights          SignalWeights `json:"weights" yaml:"weights"`
	ExploitThreshold float64       `json:"exploit_threshold" yaml:"exploit_threshold"`
	ProgressFloor    float64       `json:"progress_floor" yaml:"progress_floor"`
	MaxAttempts      int           `json:"max_attempts" yaml:"max_attempts"`
	StallWindow      int           `json:"stall_window" yaml:"stall_window"`
	DecayWindow      int           `json:"decay_window" yaml:"decay_window"`
	DecaySlope       float64       `json:"decay_slope" yaml:"decay_slope"`
}

// DefaultConfig returns the shipped operating point.
func DefaultConfig() Config {
	return Config{
		Weights: SignalWeights{
			StatusChange:     0.40,
			ErrorClassChange: 0.30,
			Reflection:       0.35,
			BodyHashChange:   0.10,
			BodyLength:       0.15,
			Timing:           0.10,
			Headers:          0.05,
			Dissimilarity:    0.10,
			StrongDissim:     0.10,
		},
		ExploitThreshold: defaults.ExploitThreshold,
		ProgressFloor:    defaults.ProgressFloor,
		MaxAttempts:      defaults.MaxDeterministicAttempts,
		StallWindow:      defaults.StallWindow,
		DecayWindow:      defaults.DecayWindow,
		DecaySlope:       defaults.DecaySlope,
	}
}

// ScoreVector is the full scoring breakdown for one attempt. Signals holds
// each contributing signal by name so a reviewer can see why a score is
// what it is.
type ScoreVector struct {
	Strategy      string             `json:"strategy"`
	Signals       map[string]float64 `json:"signals"`
	WeightedTotal float64            `json:"weighted_total"`
}

// attemptState tracks one obstacle's scoring history within an engagement.
type attemptState struct {
	attempts  int
	best      float64
	sinceBest int
}

type key struct {
	engagement string
	obstacle   string
}

type classKey struct {
	engagement string
	class      obstacle.Classification
}

// Scorer evaluates deltas and tracks attempt history per obstacle. Safe
// for concurrent use across engagements.
type Scorer struct {
	cfg Config

	mu       sync.Mutex
	attempts map[key]*attemptState
	decay    map[classKey][]float64
}

// NewScorer creates a Scorer. Zero-valued config fields fall back to the
// defaults, so a partial override keeps the rest of the operating point.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.Weights == (SignalWeights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.ExploitThreshold == 0 {
		cfg.ExploitThreshold = def.ExploitThreshold
	}
	if cfg.ProgressFloor == 0 {
		cfg.ProgressFloor = def.ProgressFloor
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.StallWindow == 0 {
		cfg.StallWindow = def.StallWindow
	}
	if cfg.DecayWindow == 0 {
		cfg.DecayWindow = def.DecayWindow
	}
	if cfg.DecaySlope == 0 {
		cfg.DecaySlope = def.DecaySlope
	}
	return &Scorer{
		cfg:      cfg,
		attempts: make(map[key]*attemptState),
		decay:    make(map[classKey][]float64),
	}
}

// Config returns the scorer's resolved configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Evaluate scores a delta. A delta below every change threshold scores
// exactly zero. The weighted total is clamped to [0,1].
func (s *Scorer) Evaluate(strategy string, d delta.Delta) ScoreVector {
	v := ScoreVector{
		Strategy: strategy,
		Signals:  make(map[string]float64),
	}
	if !d.HasAnyChange() {
		return v
	}

	w := s.cfg.Weights
	if d.StatusChanged {
		v.Signals["status_change"] = w.StatusChange
	}
	if d.ErrorClassChanged {
		v.Signals["error_class_change"] = w.ErrorClassChange
	}
	if d.BodyContainsPayload {
		v.Signals["reflection"] = w.Reflection
	}
	if d.BodyHashChanged {
		v.Signals["body_hash_change"] = w.BodyHashChange
	}
	if d.BodyLengthDelta > defaults.BodyLengthChangeRatio {
		v.Signals["body_length"] = w.BodyLength * math.Min(d.BodyLengthDelta, 1.0)
	}
	if d.TimingDeltaStd > defaults.TimingChangeStdDev {
		v.Signals["timing"] = w.Timing * math.Min(d.TimingDeltaStd/3.0, 1.0)
	}
	if len(d.ChangedHeaders) > 0 {
		v.Signals["headers"] = w.Headers
	}
	if d.Similarity < 0.8 {
		v.Signals["dissimilarity"] = w.Dissimilarity
	}
	if d.Similarity < 0.5 {
		v.Signals["strong_dissimilarity"] = w.StrongDissim
	}

	var total float64
	for _, contribution := range v.Signals {
		total += contribution
	}
	v.WeightedTotal = clamp01(total)
	return v
}

// IsExploitConfirmed reports whether a score crosses the exploit threshold.
func (s *Scorer) IsExploitConfirmed(v ScoreVector) bool {
	return v.WeightedTotal >= s.cfg.ExploitThreshold
}

// Record books an attempt against an obstacle and reports whether it made
// progress: strictly above both the prior best and the progress floor.
// Matching the prior best is not progress.
func (s *Scorer) Record(engagementID, obstacleID string, v ScoreVector) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{engagement: engagementID, obstacle: obstacleID}
	st, ok := s.attempts[k]
	if !ok {
		st = &attemptState{}
		s.attempts[k] = st
	}

	progress := v.WeightedTotal > st.best && v.WeightedTotal > s.cfg.ProgressFloor
	st.attempts++
	if v.WeightedTotal > st.best {
		st.best = v.WeightedTotal
		st.sinceBest = 0
	} else {
		st.sinceBest++
	}
	return progress
}

// ShouldAbandon reports whether an obstacle has burned its attempt budget
// without recent improvement: the attempt cap is reached and the trailing
// stall window produced no new best score.
func (s *Scorer) ShouldAbandon(engagementID, obstacleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.attempts[key{engagement: engagementID, obstacle: obstacleID}]
	if !ok {
		return false
	}
	return st.attempts >= s.cfg.MaxAttempts && st.sinceBest >= s.cfg.StallWindow
}

// AttemptCount returns how many attempts have been recorded for an obstacle.
func (s *Scorer) AttemptCount(engagementID, obstacleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.attempts[key{engagement: engagementID, obstacle: obstacleID}]; ok {
		return st.attempts
	}
	return 0
}

// BestScore returns the best recorded score for an obstacle.
func (s *Scorer) BestScore(engagementID, obstacleID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.attempts[key{engagement: engagementID, obstacle: obstacleID}]; ok {
		return st.best
	}
	return 0
}

// NoteClassification feeds a final obstacle score into the
// per-classification trend that backs confidence decay.
func (s *Scorer) NoteClassification(engagementID string, class obstacle.Classification, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := classKey{engagement: engagementID, class: class}
	scores := append(s.decay[k], score)
	if len(scores) > s.cfg.DecayWindow {
		scores = scores[len(scores)-s.cfg.DecayWindow:]
	}
	s.decay[k] = scores
}

// ConfidenceDecayed reports whether a classification's recent outcomes
// trend downward steeply enough that deterministic routing should stop
// trusting it. The trend is the least-squares slope over a full window.
func (s *Scorer) ConfidenceDecayed(engagementID string, class obstacle.Classification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	scores := s.decay[classKey{engagement: engagementID, class: class}]
	if len(scores) < s.cfg.DecayWindow {
		return false
	}
	return slope(scores) < -s.cfg.DecaySlope
}

// ResetEngagement drops all scoring state for an engagement.
func (s *Scorer) ResetEngagement(engagementID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.attempts {
		if k.engagement == engagementID {
			delete(s.attempts, k)
		}
	}
	for k := range s.decay {
		if k.engagement == engagementID {
			delete(s.decay, k)
		}
	}
}

// slope returns the least-squares slope of values over index positions.
func slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
