// Package weather runs the global modifier regime: a process-wide state
// machine re-rolled every 1-3 hours that scales production, visibility,
// and combat thresholds for every agent.
package weather

import "time"

// Regime is one of the six global weather states.
type Regime uint8

const (
	Normal Regime = iota
	Storm
	Drought
	Volatile
	Fog
	Glitch
)

// String returns the wire name of the regime.
func (r Regime) String() string {
	switch r {
	case Normal:
		return "NORMAL"
	case Storm:
		return "STORM"
	case Drought:
		return "DROUGHT"
	case Volatile:
		return "VOLATILE"
	case Fog:
		return "FOG"
	case Glitch:
		return "GLITCH"
	default:
		return "UNKNOWN"
	}
}

// ParseRegime maps a wire name back to a Regime. Unknown names map to NORMAL.
func ParseRegime(s string) Regime {
	switch s {
	case "STORM":
		return Storm
	case "DROUGHT":
		return Drought
	case "VOLATILE":
		return Volatile
	case "FOG":
		return Fog
	case "GLITCH":
		return Glitch
	default:
		return Normal
	}
}

// Modifiers are the per-regime multipliers applied by the production
// scheduler, radar, and combat resolver.
type Modifiers struct {
	Production float64 // Income multiplier
	Visibility float64 // Radar score multiplier
	Threshold  float64 // Combat pass-threshold scale (1.0 = unchanged)
	L1Bypass   bool    // DROUGHT: armor-break requirement removed
}

// FogRange is the distance beyond which FOG crushes visibility.
const FogRange = 100.0

// FogFarVisibility replaces the visibility multiplier under FOG for
// targets farther than FogRange.
const FogFarVisibility = 0.3

var modifierTable = map[Regime]Modifiers{
	Normal:   {Production: 1.0, Visibility: 1.0, Threshold: 1.0},
	Storm:    {Production: 2.0, Visibility: 1.5, Threshold: 0.8},
	Drought:  {Production: 0.6, Visibility: 1.0, Threshold: 1.0, L1Bypass: true},
	Volatile: {Production: 1.5, Visibility: 1.2, Threshold: 1.0},
	Fog:      {Production: 1.0, Visibility: 1.0, Threshold: 1.0},
	Glitch:   {Production: 1.0, Visibility: 1.0, Threshold: 1.0},
}

// Mods returns the modifier row for a regime.
func Mods(r Regime) Modifiers {
	return modifierTable[r]
}

// Description returns a short human-readable regime summary for status
// endpoints and logs.
func Description(r Regime) string {
	switch r {
	case Storm:
		return "entropy storm: double production, sharpened radar, softened defenses"
	case Drought:
		return "entropy drought: lean production, armor checks suspended"
	case Volatile:
		return "volatile flux: elevated production and visibility"
	case Fog:
		return "signal fog: long-range radar suppressed"
	case Glitch:
		return "network glitch: regional cooldowns wiped, production stalled"
	default:
		return "normal network conditions"
	}
}

// Transition probabilities per re-roll.
var transitionWeights = []struct {
	regime Regime
	weight float64
}{
	{Normal, 0.70},
	{Storm, 0.05},
	{Drought, 0.10},
	{Volatile, 0.10},
	{Fog, 0.03},
	{Glitch, 0.02},
}

// roll picks the next regime from a uniform draw in [0, 1).
func roll(u float64) Regime {
	acc := 0.0
	for _, tw := range transitionWeights {
		acc += tw.weight
		if u < acc {
			return tw.regime
		}
	}
	return Normal
}

// Re-roll window bounds after entering a state.
const (
	minHold = time.Hour
	maxHold = 3 * time.Hour
)
