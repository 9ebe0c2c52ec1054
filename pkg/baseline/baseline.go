// Package baseline captures the target's normal response behavior before
// any mutation fires. Every delta downstream is measured against these
// statistics, so a skewed baseline poisons the whole engagement.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/probe"
)

// ErrCaptureFailed is returned when no baseline sample completed.
var ErrCaptureFailed = errors.New("baseline: capture failed, no usable samples")

// Statistics summarizes the clean-probe samples for one engagement target.
type Statistics struct {
	MeanResponseTime   float64           `json:"mean_response_time_ms"`
	StdDevResponseTime float64           `json:"stddev_response_time_ms"`
	MeanBodyLength     float64           `json:"mean_body_length"`
	StdDevBodyLength   float64           `json:"stddev_body_length"`
	CommonHeaders      map[string]string `json:"common_headers,omitempty"`
	StatusCode         int               `json:"status_code"`
	Samples            int               `json:"samples"`

	// Reference is the fingerprint of the final successful sample, kept
	// for body-similarity comparisons.
	Reference *probe.Fingerprint `json:"reference"`
}

// Compute derives Statistics from captured fingerprints. Timing samples
// are pooled across fingerprints. Headers survive into CommonHeaders only
// when their value is identical across every sample. Disagreeing status
// codes fall back to a neutral 200.
func Compute(samples []*probe.Fingerprint) *Statistics {
	if len(samples) == 0 {
		return nil
	}

	var timings []float64
	var lengths []float64
	for _, fp := range samples {
		timings = append(timings, fp.ResponseTimeMs...)
		lengths = append(lengths, float64(fp.BodyLength))
	}

	stats := &Statistics{
		Samples:   len(samples),
		Reference: samples[len(samples)-1],
	}
	stats.MeanResponseTime, stats.StdDevResponseTime = meanStdDev(timings)
	stats.MeanBodyLength, stats.StdDevBodyLength = meanStdDev(lengths)

	stats.StatusCode = samples[0].StatusCode
	for _, fp := range samples[1:] {
		if fp.StatusCode != stats.StatusCode {
			stats.StatusCode = defaults.BaselineStatusFallback
			break
		}
	}

	common := make(map[string]string, len(samples[0].Headers))
	for k, v := range samples[0].Headers {
		common[k] = v
	}
	for _, fp := range samples[1:] {
		for k, v := range common {
			if fp.Headers[k] != v {
				delete(common, k)
			}
		}
	}
	if len(common) > 0 {
		stats.CommonHeaders = common
	}

	return stats
}

func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / float64(len(values)))
}

// Manager captures baselines through a probe executor.
type Manager struct {
	exec    probe.Executor
	samples int
	delay   time.Duration
	logger  *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSamples overrides the sample count.
func WithSamples(n int) ManagerOption {
	return func(m *Manager) { m.samples = n }
}

// WithSampleDelay overrides the pause between samples.
func WithSampleDelay(d time.Duration) ManagerOption {
	return func(m *Manager) { m.delay = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager with the default sample count and pacing.
func NewManager(exec probe.Executor, opts ...ManagerOption) *Manager {
	m := &Manager{
		exec:    exec,
		samples: defaults.BaselineSamples,
		delay:   defaults.BaselineSampleDelay,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Capture fires the clean probe sequentially with a fixed pause between
// samples, then computes statistics over the samples that completed.
// Failed samples are logged and skipped. If every sample fails the
// engagement cannot proceed and ErrCaptureFailed is returned.
func (m *Manager) Capture(ctx context.Context, targetURL string, opts probe.RequestOptions) (*Statistics, error) {
	var usable []*probe.Fingerprint
	for i := 0; i < m.samples; i++ {
		if i > 0 && m.delay > 0 {
			select {
			case <-time.After(m.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		fp, err := m.exec.Execute(ctx, targetURL, "", opts)
		if err != nil {
			if errors.Is(err, probe.ErrProbeFailed) {
				m.logger.Warn("baseline sample failed",
					slog.Int("sample", i+1),
					slog.String("error_class", fp.ErrorClass))
				continue
			}
			return nil, fmt.Errorf("baseline: sample %d: %w", i+1, err)
		}
		usable = append(usable, fp)
	}

	if len(usable) == 0 {
		return nil, ErrCaptureFailed
	}

	stats := Compute(usable)
	m.logger.Info("baseline captured",
		slog.String("target", targetURL),
		slog.Int("samples", stats.Samples),
		slog.Int("status", stats.StatusCode),
		slog.Float64("mean_ms", stats.MeanResponseTime))
	return stats, nil
}
