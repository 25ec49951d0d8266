// Package parasite tracks the standing tax relationships created by a
// successful L3 annihilation. The ledger owns contract bookkeeping; the
// Ω movements themselves happen inside registry transactions driven by
// the engine.
package parasite

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/registry"
)

// TaxRate is the fixed share of a victim's production routed to its master.
const TaxRate = 0.30

// PlunderShare is the fraction of the victim's balance seized on establish.
const PlunderShare = 0.50

// RansomShare of the victim's capacity that buys the contract out.
const RansomShare = 0.50

// ResistReward is the fraction of the master's balance paid to a victim
// that breaks free by force.
const ResistReward = 0.10

var (
	// ErrAlreadyParasitized rejects a second contract on the same victim.
	ErrAlreadyParasitized = errors.New("victim already has an active contract")
	// ErrNoContract is returned for ransom/resist/harvest without a contract.
	ErrNoContract = errors.New("no active contract")
	// ErrSelfContract rejects an agent parasitizing itself.
	ErrSelfContract = errors.New("master and victim must differ")
)

// Contract is one active master/victim tax relationship.
type Contract struct {
	Master      registry.AgentID `json:"master"`
	Victim      registry.AgentID `json:"victim"`
	Established time.Time        `json:"established"`
	TaxRate     float64          `json:"tax_rate"`
	// TotalCollected accumulates every Ω the master has drawn through
	// taxation and harvests. Diagnostic only.
	TotalCollected uint64 `json:"total_collected"`
}

// Ledger holds all active contracts. A victim has at most one contract;
// a master may hold many.
type Ledger struct {
	mu       sync.RWMutex
	byVictim map[registry.AgentID]*Contract
	now      func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byVictim: make(map[registry.AgentID]*Contract),
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Establish records a new contract. Fails if the victim is already taxed
// (single master per victim) or master == victim.
func (l *Ledger) Establish(master, victim registry.AgentID) (Contract, error) {
	if master == victim {
		return Contract{}, ErrSelfContract
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byVictim[victim]; ok {
		return Contract{}, fmt.Errorf("establish %s -> %s: %w", master, victim, ErrAlreadyParasitized)
	}

	c := &Contract{
		Master:      master,
		Victim:      victim,
		Established: l.now().UTC(),
		TaxRate:     TaxRate,
	}
	l.byVictim[victim] = c
	return *c, nil
}

// Restore inserts a persisted contract verbatim.
func (l *Ledger) Restore(c Contract) error {
	if c.Master == c.Victim {
		return ErrSelfContract
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byVictim[c.Victim]; ok {
		return ErrAlreadyParasitized
	}
	cc := c
	l.byVictim[c.Victim] = &cc
	return nil
}

// Terminate removes the victim's contract (ransom, resist, master defeat).
func (l *Ledger) Terminate(victim registry.AgentID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byVictim[victim]; !ok {
		return fmt.Errorf("terminate %s: %w", victim, ErrNoContract)
	}
	delete(l.byVictim, victim)
	return nil
}

// TerminateAllOf removes every contract the given master holds. Invoked
// when the master itself is defeated by a third party. Returns the freed
// victims.
func (l *Ledger) TerminateAllOf(master registry.AgentID) []registry.AgentID {
	l.mu.Lock()
	defer l.mu.Unlock()

	var freed []registry.AgentID
	for victim, c := range l.byVictim {
		if c.Master == master {
			delete(l.byVictim, victim)
			freed = append(freed, victim)
		}
	}
	return freed
}

// ContractFor returns the victim's active contract, if any.
func (l *Ledger) ContractFor(victim registry.AgentID) (Contract, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.byVictim[victim]
	if !ok {
		return Contract{}, false
	}
	return *c, true
}

// ContractsOf returns all contracts held by a master.
func (l *Ledger) ContractsOf(master registry.AgentID) []Contract {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Contract
	for _, c := range l.byVictim {
		if c.Master == master {
			out = append(out, *c)
		}
	}
	return out
}

// All returns every active contract, for persistence and status.
func (l *Ledger) All() []Contract {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Contract, 0, len(l.byVictim))
	for _, c := range l.byVictim {
		out = append(out, *c)
	}
	return out
}

// AddCollected accumulates Ω drawn through the victim's contract.
func (l *Ledger) AddCollected(victim registry.AgentID, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.byVictim[victim]; ok {
		c.TotalCollected += amount
	}
}

// Tax splits one tick of victim income into the victim's and master's
// shares (70/30).
func Tax(income uint64) (victimShare, masterShare uint64) {
	masterShare = uint64(float64(income) * TaxRate)
	return income - masterShare, masterShare
}

// RansomCost is what the victim pays to terminate: half its capacity,
// regardless of current balance. The payment is destroyed, not transferred.
func RansomCost(capacity uint64) uint64 {
	return uint64(float64(capacity) * RansomShare)
}
