// Package freestyle hands obstacles the deterministic lane cannot crack to
// an LLM collaborator. The collaborator proposes a strategy; the engine
// still validates, renders, probes, and scores it against the real target.
// A suggestion is never trusted on its own say-so.
package freestyle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/obstacle"
)

// PayloadPlaceholder marks where the working payload is substituted into a
// suggested template.
const PayloadPlaceholder = "{{payload}}"

// ErrMalformedSuggestion is returned when the collaborator's reply cannot
// be used: not JSON, missing fields, or a template without the payload
// placeholder.
var ErrMalformedSuggestion = errors.New("freestyle: malformed suggestion")

// Brief is the bounded context handed to the collaborator. Nothing outside
// the brief reaches the model: no credentials, no full transcripts.
type Brief struct {
	Classification   obstacle.Classification `json:"classification"`
	Phase            string                  `json:"phase"`
	TerminalExcerpt  string                  `json:"terminal_excerpt"`
	RecentStrategies []string                `json:"recent_strategies,omitempty"`

	// StalledAttempt carries the best deterministic attempt when the
	// hybrid lane escalates, so the collaborator builds on it instead of
	// starting cold.
	StalledAttempt *obstacle.AttemptRecord `json:"stalled_attempt,omitempty"`
}

// NewBrief builds a bounded brief from an obstacle event. The terminal
// excerpt is truncated and the strategy list capped so brief size cannot
// grow with engagement length.
func NewBrief(ev *obstacle.Event, class obstacle.Classification, stalled *obstacle.AttemptRecord) Brief {
	excerpt := ev.TerminalOutput
	if len(excerpt) > defaults.TerminalExcerptMax {
		excerpt = excerpt[:defaults.TerminalExcerptMax]
	}
	return Brief{
		Classification:   class,
		Phase:            ev.Phase,
		TerminalExcerpt:  excerpt,
		RecentStrategies: ev.RecentStrategies(defaults.RecentStrategyCount),
		StalledAttempt:   stalled,
	}
}

// Suggestion is one proposed bypass strategy from the collaborator.
type Suggestion struct {
	Strategy        string `json:"strategy"`
	MutationFamily  string `json:"mutation_family"`
	PayloadTemplate string `json:"payload_template"`
	Rationale       string `json:"rationale"`
}

// Validate checks the suggestion is structurally usable. The template must
// embed the payload placeholder so rendering has somewhere to put the
// working payload.
func (s *Suggestion) Validate() error {
	if strings.TrimSpace(s.Strategy) == "" {
		return fmt.Errorf("%w: empty strategy", ErrMalformedSuggestion)
	}
	if strings.TrimSpace(s.PayloadTemplate) == "" {
		return fmt.Errorf("%w: empty payload template", ErrMalformedSuggestion)
	}
	if !strings.Contains(s.PayloadTemplate, PayloadPlaceholder) {
		return fmt.Errorf("%w: template missing %s placeholder", ErrMalformedSuggestion, PayloadPlaceholder)
	}
	return nil
}

// Render substitutes the working payload into the template.
func (s *Suggestion) Render(payload string) string {
	return strings.ReplaceAll(s.PayloadTemplate, PayloadPlaceholder, payload)
}

// Suggester produces a bypass suggestion for a brief. Implementations must
// honor ctx cancellation; the engine bounds every call with a timeout.
type Suggester interface {
	Suggest(ctx context.Context, brief Brief) (*Suggestion, error)
}
