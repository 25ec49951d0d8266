package weather

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/entropy"
	"github.com/sacaslabs/sacas-daemon/internal/topology"
)

// State is an immutable snapshot of the current regime. A new State is
// published on every transition; readers never block writers.
type State struct {
	Regime   Regime          `json:"regime"`
	Since    time.Time       `json:"since"`
	NextRoll time.Time       `json:"next_roll"`
	Region   topology.Region `json:"region"` // GLITCH-affected cell; zero otherwise
}

// Mods returns the modifier row for the snapshot's regime.
func (s State) Mods() Modifiers {
	return Mods(s.Regime)
}

// Controller advances the regime on its own timer and hands out lock-free
// snapshots. GLITCH events pick an affected region and fire the reset hook.
type Controller struct {
	cur atomic.Pointer[State]
	src entropy.Source
	now func() time.Time

	mu       sync.Mutex
	onGlitch func(topology.Region)
	regions  func() []topology.Region
}

// NewController creates a controller in NORMAL with the first re-roll
// scheduled 1-3 hours out.
func NewController(src entropy.Source) *Controller {
	c := &Controller{src: src, now: time.Now}
	now := c.now()
	c.cur.Store(&State{
		Regime:   Normal,
		Since:    now,
		NextRoll: now.Add(c.holdDuration()),
	})
	return c
}

// SetClock overrides the time source, for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// OnGlitch registers the cooldown-reset hook invoked with the affected
// region when a GLITCH lands.
func (c *Controller) OnGlitch(fn func(topology.Region)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGlitch = fn
}

// RegionSource registers the provider of currently-populated regions,
// from which a GLITCH picks its target.
func (c *Controller) RegionSource(fn func() []topology.Region) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regions = fn
}

// Current returns the latest snapshot. Reads may be stale by up to one
// controller tick; weather is advisory, not safety-critical.
func (c *Controller) Current() State {
	return *c.cur.Load()
}

// Restore replaces the current state, used when loading persisted state.
func (c *Controller) Restore(st State) {
	c.cur.Store(&st)
}

// Advance re-rolls the regime if the scheduled window has elapsed.
// Returns true when a transition occurred.
func (c *Controller) Advance() bool {
	now := c.now()
	cur := c.cur.Load()
	if now.Before(cur.NextRoll) {
		return false
	}

	next := State{
		Regime:   roll(c.src.Float()),
		Since:    now,
		NextRoll: now.Add(c.holdDuration()),
	}

	if next.Regime == Glitch {
		next.Region = c.pickRegion()
	}

	c.cur.Store(&next)
	slog.Info("weather transition",
		"from", cur.Regime.String(),
		"to", next.Regime.String(),
		"next_roll", next.NextRoll,
	)

	if next.Regime == Glitch {
		c.mu.Lock()
		hook := c.onGlitch
		c.mu.Unlock()
		if hook != nil {
			hook(next.Region)
		}
	}
	return true
}

// Run drives Advance on a timer until the context is cancelled.
func (c *Controller) Run(ctx context.Context, checkEvery time.Duration) {
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	slog.Info("weather controller started", "regime", c.Current().Regime.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("weather controller stopped")
			return
		case <-ticker.C:
			c.Advance()
		}
	}
}

// holdDuration draws the next re-roll delay uniformly from [1h, 3h].
func (c *Controller) holdDuration() time.Duration {
	span := float64(maxHold - minHold)
	return minHold + time.Duration(c.src.Float()*span)
}

// pickRegion chooses a populated region uniformly; zero region when the
// world is empty.
func (c *Controller) pickRegion() topology.Region {
	c.mu.Lock()
	src := c.regions
	c.mu.Unlock()
	if src == nil {
		return topology.Region{}
	}
	regions := src()
	if len(regions) == 0 {
		return topology.Region{}
	}
	i := int(c.src.Float() * float64(len(regions)))
	if i >= len(regions) {
		i = len(regions) - 1
	}
	return regions[i]
}
