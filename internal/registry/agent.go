// Package registry owns canonical per-agent state. It is a pure storage
// layer: atomic read/mutate per agent, ordered two-agent transactions for
// combat and tax transfers. Game rules live in the packages above it.
package registry

import (
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/topology"
)

// AgentID is a unique identifier for an agent (UUID string).
type AgentID string

// Defense layer caps.
const (
	L1Cap uint64 = 300
	L2Cap uint64 = 500
	L3Cap uint64 = 1000
)

// DefenseArray is an agent's three-layer defense allocation.
// L1 = armor/firewall, L2 = encryption/intel, L3 = core/anti-parasitism.
type DefenseArray struct {
	L1 uint64 `json:"l1"`
	L2 uint64 `json:"l2"`
	L3 uint64 `json:"l3"`
}

// Total returns the points allocated across all three layers.
func (d DefenseArray) Total() uint64 {
	return d.L1 + d.L2 + d.L3
}

// Agent is the core entity: one player-controlled node in the network.
type Agent struct {
	ID    AgentID `json:"id"`
	Karma uint64  `json:"karma"` // Immutable strength metric

	// Location in the latency embedding.
	Position topology.Coord `json:"position"`

	// Economy
	Entropy        uint64  `json:"entropy"`         // Spendable Ω balance
	NetworkQuality float64 `json:"network_quality"` // Yield factor, clamped [0.1, 1.5]

	// Combat points: allocated defense plus unallocated reserve.
	Defense DefenseArray `json:"defense"`
	Reserve uint64       `json:"reserve"`

	CreatedAt time.Time `json:"created_at"`
}

// Capacity is the Ω ceiling above which decay applies.
func (a *Agent) Capacity() uint64 {
	return a.Karma * 100
}

// TotalPoints is the agent's full combat-point pool.
func (a *Agent) TotalPoints() uint64 {
	return a.Defense.Total() + a.Reserve
}

// Debit removes amount from the balance, flooring at zero.
func (a *Agent) Debit(amount uint64) {
	if amount > a.Entropy {
		a.Entropy = 0
		return
	}
	a.Entropy -= amount
}
