// Package engine ties the world systems together and exposes the full
// player-facing operation set: registration, point purchase, defense
// configuration, scanning, attack, and the parasitic contract actions.
// Every mutating operation passes through cooldown gating first, then
// runs inside a registry transaction.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sacaslabs/sacas-daemon/internal/combat"
	"github.com/sacaslabs/sacas-daemon/internal/cooldown"
	"github.com/sacaslabs/sacas-daemon/internal/economy"
	"github.com/sacaslabs/sacas-daemon/internal/entropy"
	"github.com/sacaslabs/sacas-daemon/internal/parasite"
	"github.com/sacaslabs/sacas-daemon/internal/radar"
	"github.com/sacaslabs/sacas-daemon/internal/registry"
	"github.com/sacaslabs/sacas-daemon/internal/topology"
	"github.com/sacaslabs/sacas-daemon/internal/weather"
)

// DefaultKarma is assigned when registration carries no external karma.
const DefaultKarma = 1000

// Core is the operation dispatcher over the world systems.
type Core struct {
	Registry  *registry.Store
	Cooldowns *cooldown.Manager
	Weather   *weather.Controller
	Ledger    *parasite.Ledger
	Noise     *topology.NoiseField
	Rand      entropy.Source
	Events    *Feed
}

// NewCore wires the systems together, including the GLITCH hook: a glitch
// over a region clears every cooldown for the agents inside it.
func NewCore(reg *registry.Store, cds *cooldown.Manager, wc *weather.Controller, ledger *parasite.Ledger, noise *topology.NoiseField, src entropy.Source) *Core {
	c := &Core{
		Registry:  reg,
		Cooldowns: cds,
		Weather:   wc,
		Ledger:    ledger,
		Noise:     noise,
		Rand:      src,
		Events:    NewFeed(),
	}

	wc.RegionSource(c.occupiedRegions)
	wc.OnGlitch(func(region topology.Region) {
		affected := c.agentsIn(region)
		c.Cooldowns.ResetAll(affected)
		c.Events.Emit("weather", "", fmt.Sprintf("glitch over region (%d,%d): %d agents reset", region.CX, region.CY, len(affected)))
		slog.Info("glitch cooldown reset", "region", region, "agents", len(affected))
	})
	return c
}

// occupiedRegions lists the distinct regions holding at least one agent.
func (c *Core) occupiedRegions() []topology.Region {
	seen := make(map[topology.Region]struct{})
	var out []topology.Region
	for _, a := range c.Registry.All() {
		r := topology.RegionOf(a.Position)
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// agentsIn lists every agent inside a region.
func (c *Core) agentsIn(region topology.Region) []registry.AgentID {
	var out []registry.AgentID
	for _, a := range c.Registry.All() {
		if topology.RegionOf(a.Position) == region {
			out = append(out, a.ID)
		}
	}
	return out
}

// RegisterAgent creates a new agent at the given position. Zero karma
// falls back to the default.
func (c *Core) RegisterAgent(karma uint64, pos topology.Coord) (registry.Agent, error) {
	if karma == 0 {
		karma = DefaultKarma
	}
	id := registry.AgentID(uuid.NewString())
	a, err := c.Registry.Create(id, karma, pos)
	if err != nil {
		return registry.Agent{}, fmt.Errorf("register: %w", err)
	}
	c.Events.Emit("registry", id, fmt.Sprintf("agent joined with karma %d", karma))
	slog.Info("agent registered", "agent", id, "karma", karma, "position", pos)
	return a, nil
}

// AgentState is the full self-view of one agent.
type AgentState struct {
	Agent     registry.Agent                    `json:"agent"`
	Capacity  uint64                            `json:"capacity"`
	Cooldowns map[cooldown.Action]time.Duration `json:"cooldowns,omitempty"`
	Contract  *parasite.Contract                `json:"contract,omitempty"` // Active contract as victim
	Holdings  []parasite.Contract               `json:"holdings,omitempty"` // Contracts held as master
	Weather   weather.State                     `json:"weather"`
}

// GetState returns the agent's own record, timers, and contract view.
func (c *Core) GetState(id registry.AgentID) (AgentState, error) {
	a, err := c.Registry.Get(id)
	if err != nil {
		return AgentState{}, err
	}
	st := AgentState{
		Agent:     a,
		Capacity:  a.Capacity(),
		Cooldowns: c.Cooldowns.Snapshot(id),
		Holdings:  c.Ledger.ContractsOf(id),
		Weather:   c.Weather.Current(),
	}
	if contract, ok := c.Ledger.ContractFor(id); ok {
		st.Contract = &contract
	}
	return st, nil
}

// PurchasePoints converts Ω into reserve combat points at the tiered
// price. Returns the Ω spent.
func (c *Core) PurchasePoints(id registry.AgentID, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("purchase: zero amount: %w", ErrInvalidAllocation)
	}

	var cost uint64
	err := c.Registry.Mutate(id, func(a *registry.Agent) error {
		cost = economy.PointsCost(a.TotalPoints(), amount)
		if a.Entropy < cost {
			return fmt.Errorf("purchase of %d points costs %d: %w", amount, cost, ErrInsufficientFunds)
		}
		a.Debit(cost)
		a.Reserve += amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.Events.Emit("economy", id, fmt.Sprintf("purchased %d points for %d entropy", amount, cost))
	return cost, nil
}

// ConfigureDefense reallocates the agent's point pool across the three
// layers. Gated by the karma-scaled inertia cooldown; unallocated points
// return to reserve.
func (c *Core) ConfigureDefense(id registry.AgentID, def registry.DefenseArray) error {
	if def.L1 > registry.L1Cap || def.L2 > registry.L2Cap || def.L3 > registry.L3Cap {
		return fmt.Errorf("layer over cap: %w", ErrInvalidAllocation)
	}

	a, err := c.Registry.Get(id)
	if err != nil {
		return err
	}
	if def.Total() > a.TotalPoints() {
		return fmt.Errorf("allocation %d exceeds pool %d: %w", def.Total(), a.TotalPoints(), ErrInvalidAllocation)
	}

	if remaining, ok := c.Cooldowns.CheckAndSet(id, cooldown.ActionDefense, cooldown.InertiaDuration(a.Karma)); !ok {
		return &CooldownError{Action: cooldown.ActionDefense, Remaining: remaining}
	}

	err = c.Registry.Mutate(id, func(a *registry.Agent) error {
		if def.Total() > a.TotalPoints() {
			return fmt.Errorf("allocation %d exceeds pool %d: %w", def.Total(), a.TotalPoints(), ErrInvalidAllocation)
		}
		a.Reserve = a.TotalPoints() - def.Total()
		a.Defense = def
		return nil
	})
	if err != nil {
		return err
	}
	c.Events.Emit("registry", id, "defense reconfigured")
	return nil
}

// Scan runs a basic visibility check against one target. Costs a flat fee
// and shares the scan cooldown with RadarSweep.
func (c *Core) Scan(observer, target registry.AgentID) (radar.Report, error) {
	if observer == target {
		return radar.Report{}, fmt.Errorf("scan: %w", ErrSelfTarget)
	}
	obs, err := c.Registry.Get(observer)
	if err != nil {
		return radar.Report{}, err
	}
	tgt, err := c.Registry.Get(target)
	if err != nil {
		return radar.Report{}, err
	}
	if obs.Entropy < radar.ScanCost {
		return radar.Report{}, fmt.Errorf("scan fee %d exceeds balance %d: %w", radar.ScanCost, obs.Entropy, ErrInsufficientFunds)
	}

	if remaining, ok := c.Cooldowns.CheckAndSet(observer, cooldown.ActionScan, cooldown.ScanDuration); !ok {
		return radar.Report{}, &CooldownError{Action: cooldown.ActionScan, Remaining: remaining}
	}
	if err := c.payFee(observer, radar.ScanCost); err != nil {
		return radar.Report{}, err
	}

	return radar.BuildReport(obs, tgt, c.Noise, c.Weather.Current()), nil
}

// RadarSweep scans every other agent at once, returning only the targets
// that register above INVISIBLE. Same fee and cooldown as Scan.
func (c *Core) RadarSweep(observer registry.AgentID) ([]radar.Report, error) {
	obs, err := c.Registry.Get(observer)
	if err != nil {
		return nil, err
	}
	if obs.Entropy < radar.ScanCost {
		return nil, fmt.Errorf("sweep fee %d exceeds balance %d: %w", radar.ScanCost, obs.Entropy, ErrInsufficientFunds)
	}

	if remaining, ok := c.Cooldowns.CheckAndSet(observer, cooldown.ActionScan, cooldown.ScanDuration); !ok {
		return nil, &CooldownError{Action: cooldown.ActionScan, Remaining: remaining}
	}
	if err := c.payFee(observer, radar.ScanCost); err != nil {
		return nil, err
	}

	st := c.Weather.Current()
	var out []radar.Report
	for _, tgt := range c.Registry.All() {
		if tgt.ID == observer {
			continue
		}
		r := radar.BuildReport(obs, tgt, c.Noise, st)
		if r.Tier != radar.TierInvisible.String() {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeepScanReport is the outcome of a contested deep scan. The fee is
// consumed whether or not the probe wins; a winning probe reveals the
// target's exact configuration, timers, and contract position.
type DeepScanReport struct {
	Target      registry.AgentID                  `json:"target"`
	Cost        uint64                            `json:"cost"`
	Success     bool                              `json:"success"`
	Probability float64                           `json:"probability"`
	Karma       uint64                            `json:"karma,omitempty"`
	Entropy     uint64                            `json:"entropy,omitempty"`
	Defense     *registry.DefenseArray            `json:"defense,omitempty"`
	Distance    float64                           `json:"distance,omitempty"`
	Cooldowns   map[cooldown.Action]time.Duration `json:"cooldowns,omitempty"`
	Contract    *parasite.Contract                `json:"contract,omitempty"` // Target's contract as victim
	Holdings    []parasite.Contract               `json:"holdings,omitempty"` // Contracts the target holds
}

// DeepScan probes a target's exact configuration. Success is contested on
// L2 investments; the karma-scaled cost is spent either way.
func (c *Core) DeepScan(observer, target registry.AgentID) (DeepScanReport, error) {
	if observer == target {
		return DeepScanReport{}, fmt.Errorf("deep scan: %w", ErrSelfTarget)
	}
	obs, err := c.Registry.Get(observer)
	if err != nil {
		return DeepScanReport{}, err
	}
	tgt, err := c.Registry.Get(target)
	if err != nil {
		return DeepScanReport{}, err
	}
	cost := radar.DeepScanCost(tgt)
	if obs.Entropy < cost {
		return DeepScanReport{}, fmt.Errorf("deep scan costs %d, balance %d: %w", cost, obs.Entropy, ErrInsufficientFunds)
	}

	if remaining, ok := c.Cooldowns.CheckAndSet(observer, cooldown.ActionDeepScan, cooldown.DeepScanDuration); !ok {
		return DeepScanReport{}, &CooldownError{Action: cooldown.ActionDeepScan, Remaining: remaining}
	}
	if err := c.payFee(observer, cost); err != nil {
		return DeepScanReport{}, err
	}

	ok, p := radar.DeepScanSuccess(obs.Defense.L2, tgt.Defense.L2, c.Rand)
	report := DeepScanReport{Target: target, Cost: cost, Success: ok, Probability: p}
	if ok {
		def := tgt.Defense
		report.Karma = tgt.Karma
		report.Entropy = tgt.Entropy
		report.Defense = &def
		report.Distance = topology.Distance(obs.Position, tgt.Position)
		report.Cooldowns = c.Cooldowns.Snapshot(target)
		report.Holdings = c.Ledger.ContractsOf(target)
		if contract, haveContract := c.Ledger.ContractFor(target); haveContract {
			report.Contract = &contract
		}
	}
	c.Events.Emit("radar", observer, fmt.Sprintf("deep scan of %s: success=%v", target, ok))
	return report, nil
}

// payFee deducts a fixed Ω fee from an agent.
func (c *Core) payFee(id registry.AgentID, fee uint64) error {
	return c.Registry.Mutate(id, func(a *registry.Agent) error {
		if a.Entropy < fee {
			return fmt.Errorf("fee %d exceeds balance %d: %w", fee, a.Entropy, ErrInsufficientFunds)
		}
		a.Debit(fee)
		return nil
	})
}

// AttackReport is the committed outcome of an engagement.
type AttackReport struct {
	combat.Result

	Plunder             uint64             `json:"plunder,omitempty"`
	ContractEstablished bool               `json:"contract_established,omitempty"`
	FreedVictims        []registry.AgentID `json:"freed_victims,omitempty"`
}

// Attack submits a three-layer plan against a LOCKED target. The plan is
// drawn from reserve: returned intact on success, partially or fully
// destroyed on failure. A successful annihilation plunders half the
// target's balance and, if the victim is unclaimed, establishes a
// parasitic contract. Defeating a master frees all its victims.
func (c *Core) Attack(attacker, target registry.AgentID, plan combat.Plan) (AttackReport, error) {
	if attacker == target {
		return AttackReport{}, fmt.Errorf("attack: %w", ErrSelfTarget)
	}
	if plan.Total() == 0 {
		return AttackReport{}, fmt.Errorf("attack: empty plan: %w", ErrInvalidAllocation)
	}
	att, err := c.Registry.Get(attacker)
	if err != nil {
		return AttackReport{}, err
	}
	tgt, err := c.Registry.Get(target)
	if err != nil {
		return AttackReport{}, err
	}

	st := c.Weather.Current()
	if radar.Classify(radar.Score(att, tgt, c.Noise, st)) != radar.TierLocked {
		return AttackReport{}, fmt.Errorf("attack %s: %w", target, ErrNotLocked)
	}
	if att.Reserve < plan.Total() {
		return AttackReport{}, fmt.Errorf("plan costs %d, reserve %d: %w", plan.Total(), att.Reserve, ErrInsufficientFunds)
	}

	if remaining, ok := c.Cooldowns.CheckAndSet(attacker, cooldown.ActionAttack, cooldown.AttackDuration); !ok {
		return AttackReport{}, &CooldownError{Action: cooldown.ActionAttack, Remaining: remaining}
	}

	var report AttackReport
	err = c.Registry.MutatePair(attacker, target, func(a, t *registry.Agent) error {
		if a.Reserve < plan.Total() {
			return fmt.Errorf("plan costs %d, reserve %d: %w", plan.Total(), a.Reserve, ErrInsufficientFunds)
		}
		a.Reserve -= plan.Total()

		res := combat.Resolve(plan, t.Defense, st.Mods(), c.Rand)
		report.Result = res

		if !res.Parasitized {
			a.Reserve += plan.Total() - res.PointsLost
			return nil
		}

		// Victory: the invested points survive, half the target's balance
		// moves over, and the target's own holdings collapse.
		a.Reserve += plan.Total()
		plunder := uint64(float64(t.Entropy) * parasite.PlunderShare)
		t.Debit(plunder)
		a.Entropy += plunder
		report.Plunder = plunder

		report.FreedVictims = c.Ledger.TerminateAllOf(target)
		if _, taken := c.Ledger.ContractFor(target); !taken {
			if _, err := c.Ledger.Establish(attacker, target); err == nil {
				report.ContractEstablished = true
			}
		}
		return nil
	})
	if err != nil {
		return AttackReport{}, err
	}

	c.Events.Emit("combat", attacker, fmt.Sprintf("battle %s vs %s: %s", attacker, target, report.Outcome))
	slog.Info("battle resolved",
		"battle_id", report.BattleID,
		"attacker", attacker,
		"target", target,
		"outcome", report.Outcome,
		"plunder", report.Plunder,
		"points_lost", report.PointsLost,
	)
	return report, nil
}

// SimulateBattle previews a plan against a LOCKED target without spending
// anything or arming cooldowns.
func (c *Core) SimulateBattle(attacker, target registry.AgentID, plan combat.Plan) (combat.Simulation, error) {
	if attacker == target {
		return combat.Simulation{}, fmt.Errorf("simulate: %w", ErrSelfTarget)
	}
	att, err := c.Registry.Get(attacker)
	if err != nil {
		return combat.Simulation{}, err
	}
	tgt, err := c.Registry.Get(target)
	if err != nil {
		return combat.Simulation{}, err
	}

	st := c.Weather.Current()
	if radar.Classify(radar.Score(att, tgt, c.Noise, st)) != radar.TierLocked {
		return combat.Simulation{}, fmt.Errorf("simulate %s: %w", target, ErrNotLocked)
	}
	return combat.Simulate(plan, tgt, st.Mods()), nil
}

// Ransom buys the victim out of its contract for half its capacity. The
// payment is destroyed, not transferred.
func (c *Core) Ransom(victim registry.AgentID) (uint64, error) {
	if _, ok := c.Ledger.ContractFor(victim); !ok {
		return 0, fmt.Errorf("ransom %s: %w", victim, parasite.ErrNoContract)
	}

	var cost uint64
	err := c.Registry.Mutate(victim, func(a *registry.Agent) error {
		cost = parasite.RansomCost(a.Capacity())
		if a.Entropy < cost {
			return fmt.Errorf("ransom costs %d, balance %d: %w", cost, a.Entropy, ErrInsufficientFunds)
		}
		// Terminate under the record lock so payment and release commit
		// together; a racing release surfaces here before anything is spent.
		if err := c.Ledger.Terminate(victim); err != nil {
			return fmt.Errorf("ransom %s: %w", victim, err)
		}
		a.Debit(cost)
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.Events.Emit("parasite", victim, fmt.Sprintf("ransomed free for %d entropy", cost))
	return cost, nil
}

// ResistReport records a resist attempt.
type ResistReport struct {
	Success   bool    `json:"success"`
	Threshold float64 `json:"threshold"`
	Reward    uint64  `json:"reward,omitempty"`
}

// Resist is the victim's forcible escape: an L3 strike against the master
// under the annihilation rule. Success terminates the contract and pays
// the victim a tenth of the master's balance; failure burns the invested
// points and leaves the contract standing.
func (c *Core) Resist(victim registry.AgentID, investment uint64) (ResistReport, error) {
	contract, ok := c.Ledger.ContractFor(victim)
	if !ok {
		return ResistReport{}, fmt.Errorf("resist %s: %w", victim, parasite.ErrNoContract)
	}

	if remaining, ok := c.Cooldowns.CheckAndSet(victim, cooldown.ActionResist, cooldown.ResistDuration); !ok {
		return ResistReport{}, &CooldownError{Action: cooldown.ActionResist, Remaining: remaining}
	}

	st := c.Weather.Current()
	var report ResistReport
	err := c.Registry.MutatePair(victim, contract.Master, func(v, m *registry.Agent) error {
		// The contract may have been released or reassigned between the
		// gate check and taking the record locks.
		cur, held := c.Ledger.ContractFor(victim)
		if !held || cur.Master != contract.Master {
			return fmt.Errorf("resist %s: %w", victim, parasite.ErrNoContract)
		}
		if investment > v.Reserve {
			return fmt.Errorf("resist investment %d exceeds reserve %d: %w", investment, v.Reserve, ErrInsufficientFunds)
		}

		report.Threshold = float64(m.Defense.L3) * combat.L3ThresholdFactor * st.Mods().Threshold
		report.Success = float64(investment) > report.Threshold
		if !report.Success {
			v.Reserve -= investment
			return nil
		}

		if err := c.Ledger.Terminate(victim); err != nil {
			return fmt.Errorf("resist %s: %w", victim, err)
		}
		reward := uint64(float64(m.Entropy) * parasite.ResistReward)
		m.Debit(reward)
		v.Entropy += reward
		report.Reward = reward
		return nil
	})
	if err != nil {
		return ResistReport{}, err
	}

	if report.Success {
		c.Events.Emit("parasite", victim, fmt.Sprintf("broke free from %s, reward %d", contract.Master, report.Reward))
	}
	return report, nil
}

// Harvest force-transfers the victim's entire balance to its master.
func (c *Core) Harvest(master, victim registry.AgentID) (uint64, error) {
	contract, ok := c.Ledger.ContractFor(victim)
	if !ok || contract.Master != master {
		return 0, fmt.Errorf("harvest %s by %s: %w", victim, master, parasite.ErrNoContract)
	}

	if remaining, ok := c.Cooldowns.CheckAndSet(master, cooldown.ActionHarvest, cooldown.HarvestDuration); !ok {
		return 0, &CooldownError{Action: cooldown.ActionHarvest, Remaining: remaining}
	}

	var amount uint64
	err := c.Registry.MutatePair(master, victim, func(m, v *registry.Agent) error {
		// Re-check under the record locks: the victim may have been
		// ransomed or broken free since the gate check.
		cur, held := c.Ledger.ContractFor(victim)
		if !held || cur.Master != master {
			return fmt.Errorf("harvest %s by %s: %w", victim, master, parasite.ErrNoContract)
		}
		amount = v.Entropy
		v.Entropy = 0
		m.Entropy += amount
		if amount > 0 {
			c.Ledger.AddCollected(victim, amount)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.Events.Emit("parasite", master, fmt.Sprintf("harvested %d entropy from %s", amount, victim))
	return amount, nil
}
