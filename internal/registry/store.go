package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/topology"
)

// ErrNotFound is returned for operations against an unknown agent id.
var ErrNotFound = errors.New("agent not found")

// ErrExists is returned when creating an agent id twice.
var ErrExists = errors.New("agent already exists")

// Store holds all agent records. Each record carries its own lock;
// two-record transactions always lock in ascending id order.
type Store struct {
	mu     sync.RWMutex
	agents map[AgentID]*record
}

type record struct {
	mu    sync.Mutex
	agent Agent
}

// NewStore creates an empty agent store.
func NewStore() *Store {
	return &Store{agents: make(map[AgentID]*record)}
}

// Create registers a new agent with the given immutable karma and location.
func (s *Store) Create(id AgentID, karma uint64, pos topology.Coord) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; ok {
		return Agent{}, fmt.Errorf("create %s: %w", id, ErrExists)
	}

	a := Agent{
		ID:             id,
		Karma:          karma,
		Position:       pos,
		NetworkQuality: 1.0,
		CreatedAt:      time.Now().UTC(),
	}
	s.agents[id] = &record{agent: a}
	return a, nil
}

// Insert adds a fully-populated agent, used when restoring from storage.
func (s *Store) Insert(a Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[a.ID]; ok {
		return fmt.Errorf("insert %s: %w", a.ID, ErrExists)
	}
	s.agents[a.ID] = &record{agent: a}
	return nil
}

// Get returns a snapshot copy of the agent.
func (s *Store) Get(id AgentID) (Agent, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Agent{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.agent, nil
}

// Mutate applies fn to the agent under its record lock. If fn returns an
// error the mutation is discarded.
func (s *Store) Mutate(id AgentID, fn func(*Agent) error) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	scratch := rec.agent
	if err := fn(&scratch); err != nil {
		return err
	}
	rec.agent = scratch
	return nil
}

// MutatePair applies fn to two distinct agents atomically. Records are
// locked in ascending id order so that symmetric operations (A attacks B
// while B attacks A) cannot deadlock. If fn returns an error neither
// record is changed.
func (s *Store) MutatePair(first, second AgentID, fn func(a, b *Agent) error) error {
	if first == second {
		return fmt.Errorf("mutate pair: ids must differ")
	}

	ra, err := s.lookup(first)
	if err != nil {
		return err
	}
	rb, err := s.lookup(second)
	if err != nil {
		return err
	}

	lo, hi := ra, rb
	if second < first {
		lo, hi = rb, ra
	}
	lo.mu.Lock()
	defer lo.mu.Unlock()
	hi.mu.Lock()
	defer hi.mu.Unlock()

	sa := ra.agent
	sb := rb.agent
	if err := fn(&sa, &sb); err != nil {
		return err
	}
	ra.agent = sa
	rb.agent = sb
	return nil
}

// IDs returns all agent ids in ascending order.
func (s *Store) IDs() []AgentID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]AgentID, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// All returns snapshot copies of every agent, in id order.
func (s *Store) All() []Agent {
	ids := s.IDs()
	out := make([]Agent, 0, len(ids))
	for _, id := range ids {
		if a, err := s.Get(id); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of registered agents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

func (s *Store) lookup(id AgentID) (*record, error) {
	s.mu.RLock()
	rec, ok := s.agents[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return rec, nil
}
