// Package mutation provides the payload transform library used to bypass
// defensive controls. Transforms are grouped into four closed families:
// encoding, structural, timing, and protocol. Every transform is pure and
// deterministic given a Context, so a candidate list can be replayed exactly.
package mutation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Family identifies one of the four mutation families. The set is closed:
// adding a family means extending the switch in Apply and Variants, which
// the compiler checks, rather than registering a name at runtime.
type Family int

const (
	FamilyEncoding Family = iota
	FamilyStructural
	FamilyTiming
	FamilyProtocol
)

// ErrUnknownVariant is returned when a variant name is not part of the
// family it was requested from. This signals a caller-side bug and is never
// retried.
var ErrUnknownVariant = errors.New("mutation: unknown variant")

// ErrUnknownFamily is returned by ParseFamily for unrecognized names.
var ErrUnknownFamily = errors.New("mutation: unknown family")

// Variant describes one named transform within a family.
type Variant struct {
	Name         string
	Description  string
	BypassTarget string
}

// Result is a transformed probe: the mutated payload plus any request-level
// adjustments the variant calls for. Zero-value fields mean "unchanged".
type Result struct {
	Payload string

	// Headers are added to the probe request.
	Headers map[string]string

	// Method overrides the probe HTTP method.
	Method string

	// DelayBefore pauses before the probe fires (timing family).
	DelayBefore time.Duration

	// TimingSamples repeats the probe to collect extra timing samples
	// (timing family race variants). Zero means one sample.
	TimingSamples int
}

// String returns the family's wire name.
func (f Family) String() string {
	switch f {
	case FamilyEncoding:
		return "encoding"
	case FamilyStructural:
		return "structural"
	case FamilyTiming:
		return "timing"
	case FamilyProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// ParseFamily maps a wire name back to a Family. Matching is
// case-insensitive because freestyle suggestions arrive as free text.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "encoding", "encoder":
		return FamilyEncoding, nil
	case "structural", "structure":
		return FamilyStructural, nil
	case "timing":
		return FamilyTiming, nil
	case "protocol":
		return FamilyProtocol, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
}

// Families returns all families in declaration order.
func Families() []Family {
	return []Family{FamilyEncoding, FamilyStructural, FamilyTiming, FamilyProtocol}
}

// Variants returns the family's ordered variant table.
func (f Family) Variants() []Variant {
	switch f {
	case FamilyEncoding:
		return encodingVariants
	case FamilyStructural:
		return structuralVariants
	case FamilyTiming:
		return timingVariants
	case FamilyProtocol:
		return protocolVariants
	default:
		return nil
	}
}

// Apply runs the named variant of this family against payload. Unknown
// variant names return ErrUnknownVariant.
func (f Family) Apply(payload, variant string, ctx *Context) (Result, error) {
	if ctx == nil {
		ctx = NewContext(0)
	}
	switch f {
	case FamilyEncoding:
		return applyEncoding(payload, variant)
	case FamilyStructural:
		return applyStructural(payload, variant, ctx)
	case FamilyTiming:
		return applyTiming(payload, variant)
	case FamilyProtocol:
		return applyProtocol(payload, variant)
	default:
		return Result{}, fmt.Errorf("%w: family %d", ErrUnknownFamily, int(f))
	}
}

func unknownVariant(f Family, name string) error {
	return fmt.Errorf("%w: %q in family %s", ErrUnknownVariant, name, f)
}

// HasVariant reports whether name is a variant of this family.
func (f Family) HasVariant(name string) bool {
	for _, v := range f.Variants() {
		if v.Name == name {
			return true
		}
	}
	return false
}
