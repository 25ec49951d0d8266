// Package cooldown gates mutating actions behind per-agent, per-action
// timers. One keyed table with atomic check-and-set replaces scattered
// per-action flags.
package cooldown

import (
	"math"
	"sync"
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/registry"
)

// Action identifies a gated action kind.
type Action string

const (
	ActionDefense  Action = "defense_reconfigure" // "inertia"
	ActionScan     Action = "scan"
	ActionDeepScan Action = "deep_scan"
	ActionAttack   Action = "attack"
	ActionResist   Action = "resist"
	ActionHarvest  Action = "harvest"
)

// Fixed action durations. Inertia scales with karma, see InertiaDuration.
const (
	ScanDuration     = time.Minute
	DeepScanDuration = 10 * time.Minute
	AttackDuration   = 5 * time.Minute
	ResistDuration   = time.Hour
	HarvestDuration  = time.Minute
)

// InertiaDuration is the defense-reconfigure cooldown: ln(karma) x 600s.
// Roughly 69 minutes at karma 1000.
func InertiaDuration(karma uint64) time.Duration {
	if karma < 2 {
		return 10 * time.Minute
	}
	secs := math.Log(float64(karma)) * 600
	return time.Duration(secs * float64(time.Second))
}

type key struct {
	agent  registry.AgentID
	action Action
}

// Manager tracks ready-at timestamps. Check-and-set is atomic so two
// concurrent requests cannot both pass the same gate.
type Manager struct {
	mu    sync.Mutex
	ready map[key]time.Time
	now   func() time.Time
}

// NewManager creates a cooldown manager.
func NewManager() *Manager {
	return &Manager{
		ready: make(map[key]time.Time),
		now:   time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// CheckAndSet passes if the (agent, action) timer is ready and arms it for
// the given duration. Returns the remaining wait and false when gated.
// Entries are created lazily on first use.
func (m *Manager) CheckAndSet(id registry.AgentID, action Action, d time.Duration) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{agent: id, action: action}
	now := m.now()
	if at, ok := m.ready[k]; ok && now.Before(at) {
		return at.Sub(now), false
	}
	m.ready[k] = now.Add(d)
	return 0, true
}

// Remaining reports the wait left on a timer without arming it.
func (m *Manager) Remaining(id registry.AgentID, action Action) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.ready[key{agent: id, action: action}]
	if !ok {
		return 0
	}
	if left := at.Sub(m.now()); left > 0 {
		return left
	}
	return 0
}

// Snapshot returns the active timers for one agent, keyed by action.
func (m *Manager) Snapshot(id registry.AgentID) map[Action]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make(map[Action]time.Duration)
	for k, at := range m.ready {
		if k.agent != id {
			continue
		}
		if left := at.Sub(now); left > 0 {
			out[k.action] = left
		}
	}
	return out
}

// ResetAll clears every timer for the given agents. Invoked by the weather
// controller on a GLITCH event; the only path that moves ready-at backward.
func (m *Manager) ResetAll(ids []registry.AgentID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	affected := make(map[registry.AgentID]struct{}, len(ids))
	for _, id := range ids {
		affected[id] = struct{}{}
	}
	for k := range m.ready {
		if _, ok := affected[k.agent]; ok {
			delete(m.ready, k)
		}
	}
}

// Restore arms a timer to an absolute ready-at time, used when loading
// persisted state. Timestamps already in the past are dropped.
func (m *Manager) Restore(id registry.AgentID, action Action, readyAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.now().Before(readyAt) {
		return
	}
	m.ready[key{agent: id, action: action}] = readyAt
}

// Active returns every armed timer as (agent, action, ready-at) rows for
// persistence.
func (m *Manager) Active() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []Entry
	for k, at := range m.ready {
		if at.After(now) {
			out = append(out, Entry{Agent: k.agent, Action: k.action, ReadyAt: at})
		}
	}
	return out
}

// Entry is a persisted cooldown row.
type Entry struct {
	Agent   registry.AgentID
	Action  Action
	ReadyAt time.Time
}
