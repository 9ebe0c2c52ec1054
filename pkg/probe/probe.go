// Package probe sends mutated payloads at a target and condenses each
// response into a Fingerprint: the minimal facts delta analysis needs.
// The Executor interface is the seam the engine is tested through; the
// HTTP implementation lives in executor.go.
package probe

import (
	"context"
	"errors"
	"time"
)

// ErrProbeFailed wraps transport-level failures that still produced a
// usable Fingerprint (the failure class is itself a signal).
var ErrProbeFailed = errors.New("probe: request failed")

// Fingerprint condenses one probe response. A failed probe still yields a
// Fingerprint with ErrorClass set and StatusCode zero.
type Fingerprint struct {
	StatusCode     int               `json:"status_code"`
	BodyHash       uint64            `json:"body_hash"`
	BodyLength     int               `json:"body_length"`
	ResponseTimeMs []float64         `json:"response_time_ms"`
	Headers        map[string]string `json:"headers,omitempty"`
	ErrorClass     string            `json:"error_class,omitempty"`

	// RawBodySample holds the leading bytes of the body for reflection
	// and signature checks. Never the full body.
	RawBodySample string `json:"raw_body_sample,omitempty"`
}

// OK reports whether the probe completed at the transport level.
func (f *Fingerprint) OK() bool {
	return f.ErrorClass == ""
}

// MeanResponseTime averages the collected timing samples in milliseconds.
func (f *Fingerprint) MeanResponseTime() float64 {
	if len(f.ResponseTimeMs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range f.ResponseTimeMs {
		sum += v
	}
	return sum / float64(len(f.ResponseTimeMs))
}

// RequestOptions carries the request-level adjustments a mutation asked
// for. The zero value is a plain GET with the payload in the target param.
type RequestOptions struct {
	// Method overrides the HTTP method. Empty means GET.
	Method string

	// Headers are added to the request verbatim.
	Headers map[string]string

	// ParamName is the query (or form) parameter carrying the payload.
	// Empty means "id".
	ParamName string

	// DelayBefore pauses before the first sample fires.
	DelayBefore time.Duration

	// TimingSamples is how many times to fire the probe. Values below 1
	// are treated as 1. The Fingerprint reflects the final response with
	// one timing entry per sample.
	TimingSamples int

	// Timeout bounds each individual sample. Zero uses the executor
	// default.
	Timeout time.Duration
}

// Executor sends a payload at a target and returns its fingerprint.
//
// Implementations must honor ctx cancellation and must return a non-nil
// Fingerprint whenever the error is ErrProbeFailed, so callers can score
// the failure class itself.
type Executor interface {
	Execute(ctx context.Context, targetURL, payload string, opts RequestOptions) (*Fingerprint, error)
}
