// Package delta compares a mutated probe's fingerprint against the
// engagement baseline. A Delta is a pure measurement: it says what moved,
// not whether the movement matters. Weighing is the scorer's job.
package delta

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/bypassforge/bypassforge/pkg/baseline"
	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/probe"
)

// Delta captures every measured difference between a probe response and
// the baseline.
type Delta struct {
	StatusChanged  bool `json:"status_changed"`
	BaselineStatus int  `json:"baseline_status"`
	ProbeStatus    int  `json:"probe_status"`

	// BodyHashChanged reports that the full body hash moved against the
	// baseline reference. Catches content changes the sampled similarity
	// and length measures smooth over, like a single flipped digit.
	BodyHashChanged bool `json:"body_hash_changed"`

	// BodyLengthDelta is the relative body-length change against the
	// baseline mean. 1.0 means "baseline was empty, response is not".
	BodyLengthDelta float64 `json:"body_length_delta"`

	// TimingDeltaStd is the absolute timing shift in baseline standard
	// deviations. Zero when the baseline showed no timing variance at all.
	TimingDeltaStd float64 `json:"timing_delta_std"`

	// Similarity is the Jaccard similarity of the body samples, in [0,1].
	Similarity float64 `json:"similarity"`

	// BodyContainsPayload reports payload reflection in the response body.
	BodyContainsPayload bool `json:"body_contains_payload"`

	ErrorClassChanged bool   `json:"error_class_changed"`
	ProbeErrorClass   string `json:"probe_error_class,omitempty"`

	// ChangedHeaders lists baseline-stable headers whose value moved or
	// vanished, plus headers the probe response added, sorted.
	ChangedHeaders []string `json:"changed_headers,omitempty"`
}

// Calculate measures fp against stats. payload is the mutated payload as
// sent, used for the reflection check.
func Calculate(stats *baseline.Statistics, fp *probe.Fingerprint, payload string) Delta {
	d := Delta{
		BaselineStatus:  stats.StatusCode,
		ProbeStatus:     fp.StatusCode,
		StatusChanged:   fp.StatusCode != stats.StatusCode,
		ProbeErrorClass: fp.ErrorClass,
	}

	baselineErr := ""
	if stats.Reference != nil {
		baselineErr = stats.Reference.ErrorClass
		d.BodyHashChanged = fp.BodyHash != stats.Reference.BodyHash
	}
	d.ErrorClassChanged = fp.ErrorClass != baselineErr

	d.BodyLengthDelta = bodyLengthDelta(stats.MeanBodyLength, float64(fp.BodyLength))
	d.TimingDeltaStd = timingDeltaStd(stats, fp)

	var baselineBody string
	if stats.Reference != nil {
		baselineBody = stats.Reference.RawBodySample
	}
	d.Similarity = JaccardSimilarity(baselineBody, fp.RawBodySample)

	if payload != "" && fp.RawBodySample != "" {
		d.BodyContainsPayload = strings.Contains(
			strings.ToLower(fp.RawBodySample), strings.ToLower(payload))
	}

	for k, v := range stats.CommonHeaders {
		if fp.Headers[k] != v {
			d.ChangedHeaders = append(d.ChangedHeaders, k)
		}
	}
	for k := range fp.Headers {
		if _, ok := stats.CommonHeaders[k]; !ok {
			d.ChangedHeaders = append(d.ChangedHeaders, k)
		}
	}
	sort.Strings(d.ChangedHeaders)

	return d
}

func bodyLengthDelta(mean, length float64) float64 {
	if mean == 0 {
		if length == 0 {
			return 0
		}
		return 1.0
	}
	return math.Abs(length-mean) / mean
}

func timingDeltaStd(stats *baseline.Statistics, fp *probe.Fingerprint) float64 {
	if stats.StdDevResponseTime <= 0 || len(fp.ResponseTimeMs) == 0 {
		return 0
	}
	return math.Abs(fp.MeanResponseTime()-stats.MeanResponseTime) / stats.StdDevResponseTime
}

// JaccardSimilarity tokenizes both strings on whitespace and punctuation,
// lowercases the tokens, and returns intersection over union. Identical
// inputs score 1.0 even when empty; one-sided emptiness scores 0.0.
func JaccardSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0.0
	}

	var intersection int
	for tok := range tokensA {
		if _, ok := tokensB[tok]; ok {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	// Block pages are markup-heavy with few spaces; splitting only on
	// whitespace would collapse whole tags into single tokens.
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// HasAnyChange reports whether the delta crosses any of the change
// thresholds. Below all of them the response is treated as identical to
// baseline and scores zero.
func (d Delta) HasAnyChange() bool {
	if d.StatusChanged || d.ErrorClassChanged || d.BodyHashChanged || d.BodyContainsPayload {
		return true
	}
	if len(d.ChangedHeaders) > 0 {
		return true
	}
	if d.BodyLengthDelta > defaults.BodyLengthChangeRatio {
		return true
	}
	if d.TimingDeltaStd > defaults.TimingChangeStdDev {
		return true
	}
	if d.Similarity < defaults.SimilarityChangeFloor {
		return true
	}
	return false
}
