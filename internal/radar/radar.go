// Package radar computes asymmetric visibility between agents: the cheap
// tiered scan and the expensive probabilistic deep scan. Scores grow with
// the target's karma and holdings, shrink with distance and regional
// noise, and scale with the observer's L2 and the weather.
package radar

import (
	"math"

	"github.com/sacaslabs/sacas-daemon/internal/entropy"
	"github.com/sacaslabs/sacas-daemon/internal/registry"
	"github.com/sacaslabs/sacas-daemon/internal/topology"
	"github.com/sacaslabs/sacas-daemon/internal/weather"
)

// Tier is the discretized scan outcome.
type Tier uint8

const (
	TierInvisible Tier = iota // No information
	TierFuzzy                 // Approximate location, coarse karma bracket
	TierLocked                // Exact karma, distance, estimated holdings
)

// String returns the wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierFuzzy:
		return "FUZZY"
	case TierLocked:
		return "LOCKED"
	default:
		return "INVISIBLE"
	}
}

// Scan cost and tier thresholds.
const (
	ScanCost = 10 // Ω, fixed

	fuzzyThreshold  = 15.0
	lockedThreshold = 40.0
)

// Deep scan cost bounds.
const (
	DeepScanCostFloor   = 50_000
	DeepScanCostCeiling = 175_000
)

// Score computes the raw visibility of target from observer's position.
func Score(observer, target registry.Agent, field *topology.NoiseField, st weather.State) float64 {
	dist := topology.Distance(observer.Position, target.Position)

	// Bigger and richer targets shine brighter.
	signal := math.Sqrt(float64(target.Karma)) + math.Sqrt(float64(target.Entropy))/10

	// Distance attenuates, observer L2 amplifies.
	score := signal / (1 + dist/100)
	score *= 1 + float64(observer.Defense.L2)/250

	// Regional noise swallows up to half the signal.
	if field != nil {
		score *= 1 - 0.5*field.At(target.Position)
	}

	// Weather: FOG crushes long-range returns, other regimes scale flat.
	vis := st.Mods().Visibility
	if st.Regime == weather.Fog && dist > weather.FogRange {
		vis = weather.FogFarVisibility
	}
	return score * vis
}

// Classify discretizes a score into a tier.
func Classify(score float64) Tier {
	switch {
	case score >= lockedThreshold:
		return TierLocked
	case score >= fuzzyThreshold:
		return TierFuzzy
	default:
		return TierInvisible
	}
}

// KarmaBracket is the coarse strength class revealed at FUZZY tier.
func KarmaBracket(karma uint64) string {
	switch {
	case karma < 500:
		return "small"
	case karma < 5000:
		return "medium"
	default:
		return "large"
	}
}

// Report is the information released by a scan, trimmed to the tier.
// Defense configuration is never included at any tier.
type Report struct {
	Target registry.AgentID `json:"target"`
	Tier   string           `json:"tier"`

	// FUZZY and up.
	ApproxDistance float64 `json:"approx_distance,omitempty"`
	KarmaBracket   string  `json:"karma_bracket,omitempty"`

	// LOCKED only.
	Karma             uint64  `json:"karma,omitempty"`
	Distance          float64 `json:"distance,omitempty"`
	EstimatedHoldings uint64  `json:"estimated_holdings,omitempty"`
}

// BuildReport runs a scan between two agents and trims the result.
func BuildReport(observer, target registry.Agent, field *topology.NoiseField, st weather.State) Report {
	tier := Classify(Score(observer, target, field, st))
	r := Report{Target: target.ID, Tier: tier.String()}

	dist := topology.Distance(observer.Position, target.Position)
	switch tier {
	case TierFuzzy:
		// Distance quantized to 50-unit buckets; karma in brackets.
		r.ApproxDistance = math.Round(dist/50) * 50
		r.KarmaBracket = KarmaBracket(target.Karma)
	case TierLocked:
		r.ApproxDistance = math.Round(dist/50) * 50
		r.KarmaBracket = KarmaBracket(target.Karma)
		r.Karma = target.Karma
		r.Distance = dist
		// Holdings estimated to the nearest thousand.
		r.EstimatedHoldings = (target.Entropy / 1000) * 1000
	}
	return r
}

// DeepScanCost scales with the target's karma and holdings, clamped to
// the 50k-175k band.
func DeepScanCost(target registry.Agent) uint64 {
	cost := uint64(DeepScanCostFloor) + target.Karma*50 + target.Entropy/10
	if cost > DeepScanCostCeiling {
		return DeepScanCostCeiling
	}
	return cost
}

// DeepScanSuccess resolves the contested deep scan:
// p = observerL2 / (observerL2 + targetL2).
func DeepScanSuccess(observerL2, targetL2 uint64, src entropy.Source) (ok bool, p float64) {
	p = ContestProbability(observerL2, targetL2)
	return src.Float() < p, p
}

// ContestProbability is the shared x/(x+y) contest rule, with the natural
// limits at the axes: no investment never wins, an uncontested investment
// always does.
func ContestProbability(x, y uint64) float64 {
	if x == 0 {
		return 0
	}
	if y == 0 {
		return 1
	}
	return float64(x) / float64(x+y)
}
