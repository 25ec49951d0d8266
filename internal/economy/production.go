package economy

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sacaslabs/sacas-daemon/internal/parasite"
	"github.com/sacaslabs/sacas-daemon/internal/registry"
	"github.com/sacaslabs/sacas-daemon/internal/topology"
	"github.com/sacaslabs/sacas-daemon/internal/weather"
)

// DefaultTickInterval is the production cadence.
const DefaultTickInterval = 5 * time.Second

// DecayRate is the per-tick decay applied to balance above capacity.
const DecayRate = 0.02

// BaseYield is the per-tick Ω income before modifiers:
// sqrt(karma) x 0.5 x network quality.
func BaseYield(karma uint64, quality float64) uint64 {
	return uint64(math.Sqrt(float64(karma)) * 0.5 * quality)
}

// DecayExcess applies over-capacity decay to a balance: the portion above
// capacity shrinks by 2%.
func DecayExcess(balance, capacity uint64) uint64 {
	if balance <= capacity {
		return balance
	}
	excess := balance - capacity
	return capacity + excess - uint64(float64(excess)*DecayRate)
}

// Scheduler advances the global economy on a fixed cadence. Each tick is
// atomic per agent; taxed victims are ticked together with their master
// under the registry's ordered pair lock.
type Scheduler struct {
	Registry *registry.Store
	Ledger   *parasite.Ledger
	Weather  *weather.Controller
	Interval time.Duration

	ticks uint64
}

// NewScheduler wires a production scheduler with the default cadence.
func NewScheduler(reg *registry.Store, ledger *parasite.Ledger, wc *weather.Controller) *Scheduler {
	return &Scheduler{
		Registry: reg,
		Ledger:   ledger,
		Weather:  wc,
		Interval: DefaultTickInterval,
	}
}

// Run drives the tick loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	slog.Info("production scheduler started", "interval", s.Interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("production scheduler stopped", "ticks", s.ticks)
			return
		case <-ticker.C:
			s.TickOnce()
		}
	}
}

// TickOnce runs one production tick across every agent.
func (s *Scheduler) TickOnce() {
	st := s.Weather.Current()
	s.ticks++

	var minted, taxed uint64
	for _, id := range s.Registry.IDs() {
		contract, isVictim := s.Ledger.ContractFor(id)
		if isVictim {
			m, tx := s.tickVictim(id, contract, st)
			minted += m
			taxed += tx
			continue
		}
		minted += s.tickFree(id, st)
	}

	// Hourly summary at the 5s cadence.
	if s.ticks%720 == 0 {
		slog.Info("economy report",
			"tick", s.ticks,
			"regime", st.Regime.String(),
			"minted", humanize.Comma(int64(minted)),
			"taxed", humanize.Comma(int64(taxed)),
			"agents", s.Registry.Len(),
		)
	}
}

// tickFree credits an untaxed agent and applies decay.
func (s *Scheduler) tickFree(id registry.AgentID, st weather.State) uint64 {
	var minted uint64
	err := s.Registry.Mutate(id, func(a *registry.Agent) error {
		income := tickIncome(a, st)
		a.Entropy = DecayExcess(a.Entropy+income, a.Capacity())
		minted = income
		return nil
	})
	if err != nil {
		slog.Warn("production tick failed", "agent", id, "error", err)
	}
	return minted
}

// tickVictim credits a taxed agent, routing the master's share first.
// Both records are locked for the transfer, same ordering discipline as
// combat.
func (s *Scheduler) tickVictim(id registry.AgentID, c parasite.Contract, st weather.State) (minted, taxed uint64) {
	err := s.Registry.MutatePair(id, c.Master, func(victim, master *registry.Agent) error {
		income := tickIncome(victim, st)
		victimShare, masterShare := parasite.Tax(income)
		master.Entropy += masterShare
		victim.Entropy = DecayExcess(victim.Entropy+victimShare, victim.Capacity())
		minted = income
		taxed = masterShare
		return nil
	})
	if err != nil {
		slog.Warn("taxed production tick failed", "victim", id, "master", c.Master, "error", err)
		return 0, 0
	}
	if taxed > 0 {
		s.Ledger.AddCollected(id, taxed)
	}
	return minted, taxed
}

// tickIncome computes one tick of income under the current regime.
// GLITCH stalls production for agents inside the affected region.
func tickIncome(a *registry.Agent, st weather.State) uint64 {
	if st.Regime == weather.Glitch && topology.RegionOf(a.Position) == st.Region {
		return 0
	}
	return uint64(float64(BaseYield(a.Karma, a.NetworkQuality)) * st.Mods().Production)
}
