package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/combat"
	"github.com/sacaslabs/sacas-daemon/internal/cooldown"
	"github.com/sacaslabs/sacas-daemon/internal/entropy"
	"github.com/sacaslabs/sacas-daemon/internal/parasite"
	"github.com/sacaslabs/sacas-daemon/internal/registry"
	"github.com/sacaslabs/sacas-daemon/internal/topology"
	"github.com/sacaslabs/sacas-daemon/internal/weather"
)

// winSrc drives every contested roll to success.
type winSrc struct{}

func (winSrc) Float() float64 { return 0.0 }

// loseSrc fails contests but survives miss checks.
type loseSrc struct{}

func (loseSrc) Float() float64 { return 0.999 }

func newTestCore(src entropy.Source) *Core {
	return NewCore(
		registry.NewStore(),
		cooldown.NewManager(),
		weather.NewController(entropy.NewSeeded(1)),
		parasite.NewLedger(),
		nil,
		src,
	)
}

// loudTarget makes a target that locks from the observer's position.
func loudTarget(c *Core, id registry.AgentID, pos topology.Coord) {
	c.Registry.Create(id, 9000, pos)
	c.Registry.Mutate(id, func(a *registry.Agent) error {
		a.Entropy = 500_000
		a.Defense = registry.DefenseArray{L1: 100, L2: 100, L3: 100}
		return nil
	})
}

func TestRegisterAndGetState(t *testing.T) {
	c := newTestCore(winSrc{})

	a, err := c.RegisterAgent(0, topology.Coord{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.Karma != DefaultKarma {
		t.Fatalf("karma = %d, want default %d", a.Karma, DefaultKarma)
	}

	st, err := c.GetState(a.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.Capacity != DefaultKarma*100 {
		t.Fatalf("capacity = %d", st.Capacity)
	}
	if st.Weather.Regime != weather.Normal {
		t.Fatalf("regime = %s", st.Weather.Regime)
	}

	if _, err := c.GetState("missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("missing agent: %v", err)
	}
}

func TestPurchasePoints(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("a", 1000, topology.Coord{})
	c.Registry.Mutate("a", func(ag *registry.Agent) error {
		ag.Entropy = 100_000
		return nil
	})

	cost, err := c.PurchasePoints("a", 500)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if cost != 100_000 {
		t.Fatalf("cost = %d, want 100000", cost)
	}
	a, _ := c.Registry.Get("a")
	if a.Entropy != 0 || a.Reserve != 500 {
		t.Fatalf("after purchase: entropy=%d reserve=%d", a.Entropy, a.Reserve)
	}

	// Can no longer afford the second, pricier tier.
	if _, err := c.PurchasePoints("a", 500); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	a, _ = c.Registry.Get("a")
	if a.Reserve != 500 {
		t.Fatalf("failed purchase must not change reserve: %d", a.Reserve)
	}
}

func TestConfigureDefense(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("a", 1000, topology.Coord{})
	c.Registry.Mutate("a", func(ag *registry.Agent) error {
		ag.Reserve = 600
		return nil
	})

	if err := c.ConfigureDefense("a", registry.DefenseArray{L1: 301}); !errors.Is(err, ErrInvalidAllocation) {
		t.Fatalf("cap violation: %v", err)
	}
	if err := c.ConfigureDefense("a", registry.DefenseArray{L1: 300, L2: 301}); !errors.Is(err, ErrInvalidAllocation) {
		t.Fatalf("pool violation: %v", err)
	}

	if err := c.ConfigureDefense("a", registry.DefenseArray{L1: 200, L2: 300, L3: 50}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	a, _ := c.Registry.Get("a")
	if a.Defense.Total() != 550 || a.Reserve != 50 {
		t.Fatalf("after configure: defense=%d reserve=%d", a.Defense.Total(), a.Reserve)
	}

	// Inertia blocks the immediate follow-up.
	err := c.ConfigureDefense("a", registry.DefenseArray{L1: 100})
	ce, ok := AsCooldown(err)
	if !ok || ce.Action != cooldown.ActionDefense {
		t.Fatalf("want cooldown error, got %v", err)
	}
}

func TestGlitchResetAllowsImmediateReconfigure(t *testing.T) {
	src := &seqSource{draws: []float64{0.0, 0.99, 0.5, 0.0}}
	wc := weather.NewController(src) // consumes the first hold draw

	c := NewCore(registry.NewStore(), cooldown.NewManager(), wc, parasite.NewLedger(), nil, winSrc{})
	c.Registry.Create("a", 1000, topology.Coord{X: 10, Y: 10})
	c.Registry.Mutate("a", func(ag *registry.Agent) error {
		ag.Reserve = 100
		return nil
	})

	if err := c.ConfigureDefense("a", registry.DefenseArray{L1: 100}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := c.ConfigureDefense("a", registry.DefenseArray{L1: 50}); err == nil {
		t.Fatal("second configure should be gated by inertia")
	}

	// Force the scheduled re-roll into the past, landing a GLITCH on the
	// agent's region.
	wc.SetClock(func() time.Time { return time.Now().Add(4 * time.Hour) })
	if !wc.Advance() {
		t.Fatal("advance should transition")
	}
	if wc.Current().Regime != weather.Glitch {
		t.Fatalf("regime = %s, want GLITCH", wc.Current().Regime)
	}

	if err := c.ConfigureDefense("a", registry.DefenseArray{L1: 50}); err != nil {
		t.Fatalf("glitch should have cleared the inertia timer: %v", err)
	}
}

func TestScanGating(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("obs", 1000, topology.Coord{})
	loudTarget(c, "tgt", topology.Coord{X: 10})
	c.Registry.Mutate("obs", func(a *registry.Agent) error {
		a.Entropy = 15
		return nil
	})

	if _, err := c.Scan("obs", "obs"); !errors.Is(err, ErrSelfTarget) {
		t.Fatalf("self scan: %v", err)
	}

	r, err := c.Scan("obs", "tgt")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if r.Tier != "LOCKED" {
		t.Fatalf("tier = %s", r.Tier)
	}
	obs, _ := c.Registry.Get("obs")
	if obs.Entropy != 5 {
		t.Fatalf("scan fee not charged: %d", obs.Entropy)
	}

	// One-minute gate.
	if _, err := c.Scan("obs", "tgt"); err == nil {
		t.Fatal("second scan should be gated")
	}
}

func TestAttackVictoryEstablishesContract(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("att", 1000, topology.Coord{})
	loudTarget(c, "tgt", topology.Coord{X: 10})
	c.Registry.Mutate("att", func(a *registry.Agent) error {
		a.Reserve = 1000
		return nil
	})

	plan := combat.Plan{X1: 200, X2: 100, X3: 200}
	rep, err := c.Attack("att", "tgt", plan)
	if err != nil {
		t.Fatalf("attack: %v", err)
	}
	if rep.Outcome != combat.OutcomePARASITIZED {
		t.Fatalf("outcome = %s", rep.Outcome)
	}
	if rep.Plunder != 250_000 {
		t.Fatalf("plunder = %d, want 250000", rep.Plunder)
	}
	if !rep.ContractEstablished {
		t.Fatal("contract should be established")
	}

	att, _ := c.Registry.Get("att")
	tgt, _ := c.Registry.Get("tgt")
	if att.Reserve != 1000 {
		t.Fatalf("victorious plan must return to reserve: %d", att.Reserve)
	}
	if att.Entropy != 250_000 || tgt.Entropy != 250_000 {
		t.Fatalf("plunder split: att=%d tgt=%d", att.Entropy, tgt.Entropy)
	}

	contract, ok := c.Ledger.ContractFor("tgt")
	if !ok || contract.Master != "att" {
		t.Fatalf("contract = %+v ok=%v", contract, ok)
	}

	// Attack cooldown armed.
	if _, err := c.Attack("att", "tgt", plan); err == nil {
		t.Fatal("second attack should be gated")
	}
}

func TestAttackFailureBurnsPoints(t *testing.T) {
	c := newTestCore(loseSrc{})
	c.Registry.Create("att", 1000, topology.Coord{})
	loudTarget(c, "tgt", topology.Coord{X: 10})
	c.Registry.Mutate("att", func(a *registry.Agent) error {
		a.Reserve = 1000
		return nil
	})

	// X3 cannot clear 100 x 1.5.
	rep, err := c.Attack("att", "tgt", combat.Plan{X1: 200, X2: 100, X3: 100})
	if err != nil {
		t.Fatalf("attack: %v", err)
	}
	if rep.Outcome != combat.OutcomeREPELLED {
		t.Fatalf("outcome = %s", rep.Outcome)
	}
	att, _ := c.Registry.Get("att")
	if att.Reserve != 600 {
		t.Fatalf("reserve = %d, want 600 after burning 400", att.Reserve)
	}
	if _, ok := c.Ledger.ContractFor("tgt"); ok {
		t.Fatal("failed attack must not establish a contract")
	}
}

func TestAttackGates(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("att", 1000, topology.Coord{})
	c.Registry.Create("dim", 100, topology.Coord{X: 5000})
	loudTarget(c, "tgt", topology.Coord{X: 10})

	if _, err := c.Attack("att", "att", combat.Plan{X1: 1}); !errors.Is(err, ErrSelfTarget) {
		t.Fatalf("self attack: %v", err)
	}
	if _, err := c.Attack("att", "tgt", combat.Plan{}); !errors.Is(err, ErrInvalidAllocation) {
		t.Fatalf("empty plan: %v", err)
	}
	if _, err := c.Attack("att", "dim", combat.Plan{X1: 1}); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("unlocked target: %v", err)
	}
	// Locked but unaffordable.
	if _, err := c.Attack("att", "tgt", combat.Plan{X1: 1}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("empty reserve: %v", err)
	}
}

func TestDefeatedMasterFreesVictims(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("att", 1000, topology.Coord{})
	loudTarget(c, "boss", topology.Coord{X: 10})
	c.Registry.Create("v1", 1000, topology.Coord{X: 300})
	c.Registry.Create("v2", 1000, topology.Coord{X: 400})
	c.Ledger.Establish("boss", "v1")
	c.Ledger.Establish("boss", "v2")
	c.Registry.Mutate("att", func(a *registry.Agent) error {
		a.Reserve = 1000
		return nil
	})

	rep, err := c.Attack("att", "boss", combat.Plan{X1: 200, X2: 100, X3: 200})
	if err != nil {
		t.Fatalf("attack: %v", err)
	}
	if len(rep.FreedVictims) != 2 {
		t.Fatalf("freed = %v", rep.FreedVictims)
	}
	if _, ok := c.Ledger.ContractFor("v1"); ok {
		t.Fatal("v1 should be free")
	}
	if contract, ok := c.Ledger.ContractFor("boss"); !ok || contract.Master != "att" {
		t.Fatal("boss should now serve att")
	}
}

func TestAttackOnTakenVictimPlundersOnly(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("att", 1000, topology.Coord{})
	c.Registry.Create("owner", 1000, topology.Coord{X: 600})
	loudTarget(c, "tgt", topology.Coord{X: 10})
	c.Ledger.Establish("owner", "tgt")
	c.Registry.Mutate("att", func(a *registry.Agent) error {
		a.Reserve = 1000
		return nil
	})

	rep, err := c.Attack("att", "tgt", combat.Plan{X1: 200, X2: 100, X3: 200})
	if err != nil {
		t.Fatalf("attack: %v", err)
	}
	if rep.ContractEstablished {
		t.Fatal("taken victim must keep its original master")
	}
	if rep.Plunder == 0 {
		t.Fatal("plunder should still apply")
	}
	contract, _ := c.Ledger.ContractFor("tgt")
	if contract.Master != "owner" {
		t.Fatalf("master = %s", contract.Master)
	}
}

func TestRansom(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("m", 1000, topology.Coord{})
	c.Registry.Create("v", 1000, topology.Coord{X: 300})
	c.Ledger.Establish("m", "v")

	// Cost is half of capacity (1000 x 100 / 2).
	if _, err := c.Ransom("v"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("broke victim: %v", err)
	}

	c.Registry.Mutate("v", func(a *registry.Agent) error {
		a.Entropy = 60_000
		return nil
	})
	cost, err := c.Ransom("v")
	if err != nil {
		t.Fatalf("ransom: %v", err)
	}
	if cost != 50_000 {
		t.Fatalf("cost = %d", cost)
	}
	v, _ := c.Registry.Get("v")
	m, _ := c.Registry.Get("m")
	if v.Entropy != 10_000 {
		t.Fatalf("victim balance = %d", v.Entropy)
	}
	// Burned, not paid to the master.
	if m.Entropy != 0 {
		t.Fatalf("master balance = %d", m.Entropy)
	}
	if _, ok := c.Ledger.ContractFor("v"); ok {
		t.Fatal("contract should be gone")
	}

	if _, err := c.Ransom("v"); !errors.Is(err, parasite.ErrNoContract) {
		t.Fatalf("repeat ransom: %v", err)
	}
}

func TestResist(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("m", 1000, topology.Coord{})
	c.Registry.Create("v", 1000, topology.Coord{X: 300})
	c.Ledger.Establish("m", "v")
	c.Registry.Mutate("m", func(a *registry.Agent) error {
		a.Entropy = 1000
		a.Defense = registry.DefenseArray{L3: 100}
		return nil
	})
	c.Registry.Mutate("v", func(a *registry.Agent) error {
		a.Reserve = 400
		return nil
	})

	// 150 does not clear 100 x 1.5 (strictly greater required).
	rep, err := c.Resist("v", 150)
	if err != nil {
		t.Fatalf("resist: %v", err)
	}
	if rep.Success {
		t.Fatal("150 vs threshold 150 must fail")
	}
	v, _ := c.Registry.Get("v")
	if v.Reserve != 250 {
		t.Fatalf("failed resist should burn the investment: reserve=%d", v.Reserve)
	}
	if _, ok := c.Ledger.ContractFor("v"); !ok {
		t.Fatal("contract must survive a failed resist")
	}

	// Hour-long gate on the retry.
	if _, err := c.Resist("v", 151); err == nil {
		t.Fatal("immediate retry should be gated")
	}

	// Clear the timer and break free.
	c.Cooldowns.ResetAll([]registry.AgentID{"v"})
	rep, err = c.Resist("v", 151)
	if err != nil {
		t.Fatalf("resist: %v", err)
	}
	if !rep.Success || rep.Reward != 100 {
		t.Fatalf("resist report = %+v", rep)
	}
	v, _ = c.Registry.Get("v")
	m, _ := c.Registry.Get("m")
	if v.Entropy != 100 || m.Entropy != 900 {
		t.Fatalf("reward transfer: v=%d m=%d", v.Entropy, m.Entropy)
	}
	if v.Reserve != 250 {
		t.Fatalf("successful resist keeps the investment: reserve=%d", v.Reserve)
	}
	if _, ok := c.Ledger.ContractFor("v"); ok {
		t.Fatal("contract should be terminated")
	}
}

func TestHarvest(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("m", 1000, topology.Coord{})
	c.Registry.Create("v", 1000, topology.Coord{X: 300})
	c.Registry.Create("stranger", 1000, topology.Coord{X: 700})
	c.Ledger.Establish("m", "v")
	c.Registry.Mutate("v", func(a *registry.Agent) error {
		a.Entropy = 12_345
		return nil
	})

	if _, err := c.Harvest("stranger", "v"); !errors.Is(err, parasite.ErrNoContract) {
		t.Fatalf("stranger harvest: %v", err)
	}

	amount, err := c.Harvest("m", "v")
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if amount != 12_345 {
		t.Fatalf("amount = %d", amount)
	}
	v, _ := c.Registry.Get("v")
	m, _ := c.Registry.Get("m")
	if v.Entropy != 0 || m.Entropy != 12_345 {
		t.Fatalf("balances: v=%d m=%d", v.Entropy, m.Entropy)
	}
	contract, _ := c.Ledger.ContractFor("v")
	if contract.TotalCollected != 12_345 {
		t.Fatalf("total collected = %d", contract.TotalCollected)
	}
}

func TestEventFeed(t *testing.T) {
	f := NewFeed()
	id, ch := f.Subscribe()
	defer f.Unsubscribe(id)

	f.Emit("combat", "a", "first")
	f.Emit("economy", "b", "second")

	recent := f.Recent(10)
	if len(recent) != 2 || recent[0].Seq != 1 || recent[1].Description != "second" {
		t.Fatalf("recent = %+v", recent)
	}

	e := <-ch
	if e.Category != "combat" {
		t.Fatalf("streamed = %+v", e)
	}
}

// seqSource replays fixed draws, then repeats the last one.
type seqSource struct {
	draws []float64
	i     int
}

func (s *seqSource) Float() float64 {
	if s.i >= len(s.draws) {
		return s.draws[len(s.draws)-1]
	}
	v := s.draws[s.i]
	s.i++
	return v
}

func TestFailedScanLeavesCooldownCold(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("obs", 1000, topology.Coord{})
	loudTarget(c, "tgt", topology.Coord{X: 10})

	if _, err := c.Scan("obs", "tgt"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("broke scan: %v", err)
	}

	c.Registry.Mutate("obs", func(a *registry.Agent) error {
		a.Entropy = 100
		return nil
	})
	if _, err := c.Scan("obs", "tgt"); err != nil {
		t.Fatalf("funded retry should not be gated: %v", err)
	}
}

func TestFailedDeepScanLeavesCooldownCold(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("obs", 1000, topology.Coord{})
	c.Registry.Create("tgt", 100, topology.Coord{X: 3})

	if _, err := c.DeepScan("obs", "tgt"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("broke deep scan: %v", err)
	}

	c.Registry.Mutate("obs", func(a *registry.Agent) error {
		a.Entropy = 60_000
		return nil
	})
	report, err := c.DeepScan("obs", "tgt")
	if err != nil {
		t.Fatalf("funded retry should not be gated: %v", err)
	}
	if report.Cost != 55_000 {
		t.Fatalf("cost = %d, want 55000 for karma 100", report.Cost)
	}
}

func TestDeepScanRevealsTimersAndContracts(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("obs", 1000, topology.Coord{})
	c.Registry.Mutate("obs", func(a *registry.Agent) error {
		a.Entropy = 200_000
		a.Defense = registry.DefenseArray{L2: 100}
		return nil
	})
	loudTarget(c, "tgt", topology.Coord{X: 10})
	c.Ledger.Establish("boss", "tgt")
	c.Ledger.Establish("tgt", "sub")
	c.Cooldowns.CheckAndSet("tgt", cooldown.ActionAttack, cooldown.AttackDuration)

	report, err := c.DeepScan("obs", "tgt")
	if err != nil {
		t.Fatalf("deep scan: %v", err)
	}
	if !report.Success {
		t.Fatalf("report = %+v, want success at p=0.5 with winning source", report)
	}
	if report.Cooldowns[cooldown.ActionAttack] <= 0 {
		t.Fatalf("cooldowns = %v, want target's attack timer revealed", report.Cooldowns)
	}
	if report.Contract == nil || report.Contract.Master != "boss" {
		t.Fatalf("contract = %+v, want the target's own contract", report.Contract)
	}
	if len(report.Holdings) != 1 || report.Holdings[0].Victim != "sub" {
		t.Fatalf("holdings = %+v, want the target's victim listed", report.Holdings)
	}
}

func TestConcurrentRansomChargesOnce(t *testing.T) {
	c := newTestCore(winSrc{})
	c.Registry.Create("m", 1000, topology.Coord{})
	c.Registry.Create("v", 1000, topology.Coord{X: 1})
	c.Registry.Mutate("v", func(a *registry.Agent) error {
		a.Entropy = 200_000
		return nil
	})
	c.Ledger.Establish("m", "v")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Ransom("v")
		}(i)
	}
	wg.Wait()

	var released, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			released++
		case errors.Is(err, parasite.ErrNoContract):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if released != 1 || rejected != 1 {
		t.Fatalf("errs = %v, want exactly one release", errs)
	}

	v, _ := c.Registry.Get("v")
	if v.Entropy != 150_000 {
		t.Fatalf("entropy = %d, want a single 50000 charge", v.Entropy)
	}
}
