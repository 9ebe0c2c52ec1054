package mutation

import "github.com/bypassforge/bypassforge/pkg/defaults"

// Timing variants leave the payload alone and shift how the probe fires.
// They target rate limiters and race-window checks.
var timingVariants = []Variant{
	{Name: "delay_short", Description: "Pause 500ms before the probe", BypassTarget: "request-rate windows"},
	{Name: "delay_long", Description: "Pause 3s before the probe", BypassTarget: "sliding-window limiters"},
	{Name: "race_paired", Description: "Fire the probe twice back to back", BypassTarget: "check-then-act windows"},
	{Name: "race_burst", Description: "Fire the probe five times back to back", BypassTarget: "non-atomic counters"},
}

func applyTiming(payload, variant string) (Result, error) {
	switch variant {
	case "delay_short":
		return Result{Payload: payload, DelayBefore: defaults.TimingDelayShort}, nil
	case "delay_long":
		return Result{Payload: payload, DelayBefore: defaults.TimingDelayLong}, nil
	case "race_paired":
		return Result{Payload: payload, TimingSamples: 2}, nil
	case "race_burst":
		return Result{Payload: payload, TimingSamples: 5}, nil
	default:
		return Result{}, unknownVariant(FamilyTiming, variant)
	}
}
