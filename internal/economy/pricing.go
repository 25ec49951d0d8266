// Package economy drives the Ω flow: the production tick, over-capacity
// decay, parasitic tax routing, and the combat-point price schedule.
package economy

// Combat-point price tiers. The price depends on how many points the
// agent already owns; past the listed tiers every further 1000-point
// block doubles the rate.
type priceTier struct {
	upTo  uint64 // Cumulative point boundary (exclusive)
	price uint64 // Ω per point inside the tier
}

var priceTiers = []priceTier{
	{upTo: 500, price: 200},
	{upTo: 1000, price: 400},
	{upTo: 2000, price: 800},
}

// PriceAt returns the Ω cost of the (owned+1)-th combat point.
func PriceAt(owned uint64) uint64 {
	for _, t := range priceTiers {
		if owned < t.upTo {
			return t.price
		}
	}
	price := uint64(1600)
	for block := (owned - 2000) / 1000; block > 0; block-- {
		price *= 2
	}
	return price
}

// PointsCost returns the total Ω cost of buying amount points on top of
// the current total.
func PointsCost(current, amount uint64) uint64 {
	var cost uint64
	for i := uint64(0); i < amount; i++ {
		cost += PriceAt(current + i)
	}
	return cost
}
