// Package obstacle defines the event contract between the upstream attacking
// agent and the mutation engine. An Event is emitted each time an attack
// attempt is blocked by a defensive control (WAF, filter, rate limiter) and
// is consumed exactly once per engine call.
package obstacle

// Classification labels the kind of defensive response that blocked an
// attempt. The pattern matcher assigns one of these to every event.
type Classification string

const (
	ClassWAFBlock      Classification = "waf_block"
	ClassCharFilter    Classification = "char_filter"
	ClassRateLimit     Classification = "rate_limit"
	ClassAuthFailure   Classification = "auth_failure"
	ClassTimeoutOrDrop Classification = "timeout_or_drop"
	ClassServerError   Classification = "server_error"
	ClassUnknown       Classification = "unknown"
)

// Event describes one blocked attack attempt. Immutable once emitted.
type Event struct {
	ObstacleID     string          `json:"obstacle_id"`
	EngagementID   string          `json:"engagement_id"`
	Phase          string          `json:"phase"`
	TerminalOutput string          `json:"terminal_output"`
	TargetURL      string          `json:"target_url"`
	AttemptHistory []AttemptRecord `json:"attempt_history,omitempty"`
}

// AttemptRecord is one prior attempt against the same obstacle. History is
// append-only and grows monotonically across calls for the same obstacle id.
type AttemptRecord struct {
	Strategy string  `json:"strategy"`
	Payload  string  `json:"payload"`
	Score    float64 `json:"score"`
	Outcome  string  `json:"outcome"`
}

// LastPayload returns the payload of the most recent attempt, or fallback
// when the event carries no history.
func (e *Event) LastPayload(fallback string) string {
	for i := len(e.AttemptHistory) - 1; i >= 0; i-- {
		if e.AttemptHistory[i].Payload != "" {
			return e.AttemptHistory[i].Payload
		}
	}
	return fallback
}

// RecentStrategies returns up to n strategy names from the newest attempts,
// oldest first. Used to keep the freestyle brief bounded.
func (e *Event) RecentStrategies(n int) []string {
	if n <= 0 || len(e.AttemptHistory) == 0 {
		return nil
	}
	start := len(e.AttemptHistory) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(e.AttemptHistory)-start)
	for _, a := range e.AttemptHistory[start:] {
		out = append(out, a.Strategy)
	}
	return out
}
