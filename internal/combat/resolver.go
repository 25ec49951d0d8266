// Package combat resolves the three-layer attack cascade: armor break,
// intelligence war, annihilation. Resolution is pure computation over the
// submitted plan, the defender's configuration, the weather modifiers and
// an injected random source — the engine applies the committed effects
// inside a registry pair transaction.
package combat

import (
	"github.com/google/uuid"

	"github.com/sacaslabs/sacas-daemon/internal/entropy"
	"github.com/sacaslabs/sacas-daemon/internal/radar"
	"github.com/sacaslabs/sacas-daemon/internal/registry"
	"github.com/sacaslabs/sacas-daemon/internal/weather"
)

// Layer thresholds and engagement constants.
const (
	L1ThresholdFactor = 1.2  // X1 must exceed Y1 x 1.2
	L3ThresholdFactor = 1.5  // X3 must exceed Y3 x 1.5
	BreachWeakening   = 0.30 // L1 pass weakens effective L2/L3 by 30%
	MissChance        = 0.20 // Blind-fire miss probability after a failed L2
)

// Outcome strings, as reported to clients.
const (
	OutcomePARASITIZED = "PARASITIZED"
	OutcomeREPELLED    = "REPELLED"
)

// Plan is the attacker's per-layer investment, drawn from reserve at
// submission time. Ephemeral, never persisted.
type Plan struct {
	X1 uint64 `json:"x1"`
	X2 uint64 `json:"x2"`
	X3 uint64 `json:"x3"`
}

// Total is the full reserve commitment of the plan.
func (p Plan) Total() uint64 {
	return p.X1 + p.X2 + p.X3
}

// LayerResult records one layer of the engagement.
type LayerResult struct {
	Invested    uint64  `json:"attack"`
	Defense     uint64  `json:"defense"`
	Threshold   float64 `json:"threshold,omitempty"`
	SuccessRate float64 `json:"success_rate,omitempty"`
	Roll        float64 `json:"roll,omitempty"`
	Miss        bool    `json:"miss,omitempty"`
	Passed      bool    `json:"success"`
}

// Result is the full engagement record.
type Result struct {
	BattleID string `json:"battle_id"`
	Outcome  string `json:"outcome"`

	L1 LayerResult `json:"l1"`
	L2 LayerResult `json:"l2"`
	L3 LayerResult `json:"l3"`

	// PointsLost is deducted from the attacker's reserve on failure.
	PointsLost uint64 `json:"points_lost"`
	// Parasitized means the engine must plunder and establish a contract.
	Parasitized bool `json:"parasitized"`
}

// Resolve runs the cascade against a defender configuration. Layer
// weakenings are engagement-local; the caller persists only the committed
// effects in Result.
func Resolve(plan Plan, defense registry.DefenseArray, mods weather.Modifiers, src entropy.Source) Result {
	res := Result{BattleID: uuid.NewString()}

	// L1 armor break. DROUGHT removes the requirement entirely.
	y1 := defense.L1
	if mods.L1Bypass {
		y1 = 0
	}
	l1Threshold := float64(y1) * L1ThresholdFactor * mods.Threshold
	res.L1 = LayerResult{
		Invested:  plan.X1,
		Defense:   y1,
		Threshold: l1Threshold,
		Passed:    float64(plan.X1) > l1Threshold,
	}

	// A breach weakens the deeper layers for this engagement only.
	effL2 := float64(defense.L2)
	effL3 := float64(defense.L3)
	if res.L1.Passed {
		effL2 *= 1 - BreachWeakening
		effL3 *= 1 - BreachWeakening
	}

	// L2 intelligence war: single contested draw.
	p2 := radar.ContestProbability(plan.X2, uint64(effL2))
	roll2 := src.Float()
	res.L2 = LayerResult{
		Invested:    plan.X2,
		Defense:     uint64(effL2),
		SuccessRate: p2,
		Roll:        roll2,
		Passed:      roll2 < p2,
	}

	// L3 annihilation. A failed intel war risks firing blind.
	res.L3 = LayerResult{Invested: plan.X3, Defense: uint64(effL3)}
	if !res.L2.Passed {
		missRoll := src.Float()
		res.L3.Roll = missRoll
		if missRoll < MissChance {
			// Complete failure: the L3 investment is burned.
			res.L3.Miss = true
			res.Outcome = OutcomeREPELLED
			res.PointsLost = plan.X3
			return res
		}
	}

	l3Threshold := effL3 * L3ThresholdFactor * mods.Threshold
	res.L3.Threshold = l3Threshold
	res.L3.Passed = float64(plan.X3) > l3Threshold

	if res.L3.Passed {
		res.Outcome = OutcomePARASITIZED
		res.Parasitized = true
		return res
	}

	// Failed annihilation destroys the full invested stack.
	res.Outcome = OutcomeREPELLED
	res.PointsLost = plan.Total()
	return res
}

// Simulation is the analytic preview of an engagement: per-layer win
// probabilities and expected loot, computed without consuming anything.
type Simulation struct {
	L1Win        float64 `json:"l1_win"`
	L2Success    float64 `json:"l2_success"`
	L3Parasitize float64 `json:"l3_parasitize"`
	ExpectedLoot uint64  `json:"expected_loot"`
	RiskLevel    string  `json:"risk_level"`
}

// Simulate computes the cascade probabilities for a plan against a
// defender snapshot under the given modifiers.
func Simulate(plan Plan, defender registry.Agent, mods weather.Modifiers) Simulation {
	y1 := defender.Defense.L1
	if mods.L1Bypass {
		y1 = 0
	}
	l1Pass := float64(plan.X1) > float64(y1)*L1ThresholdFactor*mods.Threshold

	effL2 := float64(defender.Defense.L2)
	effL3 := float64(defender.Defense.L3)
	if l1Pass {
		effL2 *= 1 - BreachWeakening
		effL3 *= 1 - BreachWeakening
	}

	p2 := radar.ContestProbability(plan.X2, uint64(effL2))
	l3Pass := float64(plan.X3) > effL3*L3ThresholdFactor*mods.Threshold

	var p3 float64
	if l3Pass {
		// Reach L3 either through intel or by surviving the miss check.
		p3 = p2 + (1-p2)*(1-MissChance)
	}

	sim := Simulation{
		L2Success:    p2,
		L3Parasitize: p3,
		ExpectedLoot: uint64(p3 * parasitePlunder * float64(defender.Entropy)),
	}
	if l1Pass {
		sim.L1Win = 1
	}
	switch {
	case p3 >= 0.8:
		sim.RiskLevel = "low"
	case p3 >= 0.4:
		sim.RiskLevel = "moderate"
	default:
		sim.RiskLevel = "high"
	}
	return sim
}

// parasitePlunder mirrors parasite.PlunderShare without importing the
// ledger package.
const parasitePlunder = 0.50
