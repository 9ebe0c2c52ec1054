// Package signature classifies blocked-attempt terminal output against a
// library of known defensive-response patterns. Matching is deliberately
// dumb: lowercase substring checks. Terminal output is too messy for
// anchored regexes to survive contact with real engagements.
package signature

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bypassforge/bypassforge/pkg/obstacle"
	"github.com/bypassforge/bypassforge/presets"
)

// Signature is one recognizable defensive response.
type Signature struct {
	ID             string                  `json:"id" yaml:"id"`
	Patterns       []string                `json:"patterns" yaml:"patterns"`
	Classification obstacle.Classification `json:"classification" yaml:"classification"`

	// Confidence is the base confidence when a single pattern matches.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// LaneRecommendation optionally pins a lane regardless of the
	// weighted confidence. Empty defers to the router thresholds.
	LaneRecommendation string `json:"lane_recommendation,omitempty" yaml:"lane_recommendation,omitempty"`
}

// Match is one signature hit against a terminal excerpt.
type Match struct {
	Signature      Signature
	MatchedPattern string

	// Confidence is the base confidence boosted for every additional
	// matched pattern, capped at 1.0.
	Confidence float64
}

// Library is a concurrent-safe signature set.
type Library struct {
	mu   sync.RWMutex
	sigs map[string]Signature
}

// DefaultLibrary returns the shipped signature set.
func DefaultLibrary() *Library {
	lib := &Library{sigs: make(map[string]Signature)}
	for _, sig := range builtinSignatures {
		lib.sigs[sig.ID] = sig
	}
	return lib
}

var builtinSignatures = []Signature{
	{
		ID: "waf_block_generic",
		Patterns: []string{
			"403 forbidden",
			"request blocked",
			"access denied",
			"security policy",
			"blocked by",
			"web application firewall",
			"mod_security",
			"cloudflare ray id",
		},
		Classification: obstacle.ClassWAFBlock,
		Confidence:     0.9,
	},
	{
		ID: "rate_limit_generic",
		Patterns: []string{
			"429",
			"too many requests",
			"rate limit",
			"retry-after",
			"slow down",
		},
		Classification: obstacle.ClassRateLimit,
		Confidence:     0.9,
	},
	{
		ID: "auth_failure_generic",
		Patterns: []string{
			"401 unauthorized",
			"authentication required",
			"invalid credentials",
			"session expired",
			"login required",
		},
		Classification: obstacle.ClassAuthFailure,
		Confidence:     0.85,
	},
	{
		ID: "char_filter_generic",
		Patterns: []string{
			"invalid character",
			"illegal character",
			"input validation",
			"malformed input",
			"disallowed characters",
		},
		Classification: obstacle.ClassCharFilter,
		Confidence:     0.8,
	},
	{
		ID: "server_error_generic",
		Patterns: []string{
			"500 internal server error",
			"502 bad gateway",
			"503 service unavailable",
			"stack trace",
			"unhandled exception",
		},
		Classification: obstacle.ClassServerError,
		Confidence:     0.75,
	},
	{
		ID: "empty_response",
		Patterns: []string{
			"connection reset",
			"connection refused",
			"timed out",
			"empty reply",
			"eof",
		},
		Classification: obstacle.ClassTimeoutOrDrop,
		Confidence:     0.7,
	},
}

// Upsert adds or replaces a signature by id.
func (l *Library) Upsert(sig Signature) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sigs[sig.ID] = sig
}

// Get returns a signature by id.
func (l *Library) Get(id string) (Signature, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sig, ok := l.sigs[id]
	return sig, ok
}

// Len returns the number of signatures in the library.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sigs)
}

// All returns the signatures sorted by id.
func (l *Library) All() []Signature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Signature, 0, len(l.sigs))
	for _, sig := range l.sigs {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadYAML merges signatures from a YAML preset file into the library,
// replacing any existing signature with the same id.
func (l *Library) LoadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("signature: read preset: %w", err)
	}
	return l.mergeYAML(data)
}

// LoadPreset loads a preset by file path when the file exists, otherwise
// by bundled pack name ("cloudflare", "modsecurity", "aws-waf", "akamai").
// Matches the install-anywhere behavior of the rest of the tool: presets
// work without an on-disk presets directory.
func (l *Library) LoadPreset(nameOrPath string) error {
	if _, err := os.Stat(nameOrPath); err == nil {
		return l.LoadYAML(nameOrPath)
	}
	data, err := presets.FS.ReadFile(nameOrPath + ".yaml")
	if err != nil {
		return fmt.Errorf("signature: no preset file or bundled pack %q", nameOrPath)
	}
	return l.mergeYAML(data)
}

func (l *Library) mergeYAML(data []byte) error {
	var preset struct {
		Signatures []Signature `yaml:"signatures"`
	}
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return fmt.Errorf("signature: parse preset: %w", err)
	}
	for _, sig := range preset.Signatures {
		if sig.ID == "" || len(sig.Patterns) == 0 {
			return fmt.Errorf("signature: preset entry missing id or patterns")
		}
		l.Upsert(sig)
	}
	return nil
}

// Classify matches terminal output against the library, best match first.
// Entirely empty output is itself a signal: dropped or hanging connections
// produce nothing, so it classifies as a timeout-or-drop hit.
func (l *Library) Classify(terminalOutput string) []Match {
	if strings.TrimSpace(terminalOutput) == "" {
		sig, _ := l.Get("empty_response")
		return []Match{{
			Signature:      sig,
			MatchedPattern: "",
			Confidence:     sig.Confidence,
		}}
	}

	lowered := strings.ToLower(terminalOutput)

	l.mu.RLock()
	defer l.mu.RUnlock()

	var matches []Match
	for _, sig := range l.sigs {
		var hits []string
		for _, p := range sig.Patterns {
			if strings.Contains(lowered, strings.ToLower(p)) {
				hits = append(hits, p)
			}
		}
		if len(hits) == 0 {
			continue
		}
		confidence := sig.Confidence + 0.05*float64(len(hits)-1)
		if confidence > 1.0 {
			confidence = 1.0
		}
		matches = append(matches, Match{
			Signature:      sig,
			MatchedPattern: hits[0],
			Confidence:     confidence,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Signature.ID < matches[j].Signature.ID
	})
	return matches
}
