package mutation

import "github.com/bypassforge/bypassforge/pkg/obstacle"

// familyPriority maps an obstacle classification to the ordered list of
// families worth trying against it. Lower index is tried first.
var familyPriority = map[obstacle.Classification][]Family{
	obstacle.ClassWAFBlock:      {FamilyEncoding, FamilyStructural, FamilyProtocol, FamilyTiming},
	obstacle.ClassCharFilter:    {FamilyEncoding, FamilyStructural},
	obstacle.ClassRateLimit:     {FamilyTiming, FamilyProtocol},
	obstacle.ClassAuthFailure:   {FamilyProtocol, FamilyStructural},
	obstacle.ClassTimeoutOrDrop: {FamilyTiming, FamilyProtocol, FamilyEncoding},
	obstacle.ClassServerError:   {FamilyStructural, FamilyEncoding},
}

// defaultPriority is used for unknown classifications: everything, in
// declaration order.
var defaultPriority = []Family{FamilyEncoding, FamilyStructural, FamilyTiming, FamilyProtocol}

// Step is one candidate in a deterministic mutation plan.
type Step struct {
	Family  Family
	Variant Variant
}

// Strategy returns the step's wire name, family/variant.
func (s Step) Strategy() string {
	return s.Family.String() + "/" + s.Variant.Name
}

// FamiliesFor returns the ordered families applicable to a classification.
func FamiliesFor(class obstacle.Classification) []Family {
	if fams, ok := familyPriority[class]; ok {
		return fams
	}
	return defaultPriority
}

// BuildPlan expands the applicable families into a flat, ordered candidate
// list: families by priority, variants in table order within each family.
func BuildPlan(class obstacle.Classification) []Step {
	var plan []Step
	for _, fam := range FamiliesFor(class) {
		for _, v := range fam.Variants() {
			plan = append(plan, Step{Family: fam, Variant: v})
		}
	}
	return plan
}
