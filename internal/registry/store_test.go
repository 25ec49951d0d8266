package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/sacaslabs/sacas-daemon/internal/topology"
)

func TestCreateGetMutate(t *testing.T) {
	s := NewStore()
	a, err := s.Create("a-1", 1000, topology.Coord{X: 10, Y: 20})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Capacity() != 100000 {
		t.Fatalf("capacity = %d, want 100000", a.Capacity())
	}
	if a.NetworkQuality != 1.0 {
		t.Fatalf("network quality = %v, want 1.0", a.NetworkQuality)
	}

	if _, err := s.Create("a-1", 500, topology.Coord{}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate create: %v", err)
	}

	if err := s.Mutate("a-1", func(ag *Agent) error {
		ag.Entropy = 5000
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	got, err := s.Get("a-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Entropy != 5000 {
		t.Fatalf("entropy = %d, want 5000", got.Entropy)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing get: %v", err)
	}
	if err := s.Mutate("missing", func(*Agent) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing mutate: %v", err)
	}
}

func TestMutateRollbackOnError(t *testing.T) {
	s := NewStore()
	s.Create("a-1", 100, topology.Coord{})

	wantErr := errors.New("boom")
	err := s.Mutate("a-1", func(ag *Agent) error {
		ag.Entropy = 999
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}

	got, _ := s.Get("a-1")
	if got.Entropy != 0 {
		t.Fatalf("failed mutate leaked: entropy = %d", got.Entropy)
	}
}

func TestMutatePairRollback(t *testing.T) {
	s := NewStore()
	s.Create("a-1", 100, topology.Coord{})
	s.Create("b-2", 100, topology.Coord{})

	wantErr := errors.New("no deal")
	err := s.MutatePair("a-1", "b-2", func(a, b *Agent) error {
		a.Entropy = 10
		b.Entropy = 20
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}
	a, _ := s.Get("a-1")
	b, _ := s.Get("b-2")
	if a.Entropy != 0 || b.Entropy != 0 {
		t.Fatalf("failed pair mutate leaked: %d / %d", a.Entropy, b.Entropy)
	}
}

// Symmetric pair mutations must not deadlock regardless of argument order.
func TestMutatePairNoDeadlock(t *testing.T) {
	s := NewStore()
	s.Create("a-1", 100, topology.Coord{})
	s.Create("b-2", 100, topology.Coord{})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.MutatePair("a-1", "b-2", func(a, b *Agent) error {
				a.Entropy++
				b.Entropy++
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			s.MutatePair("b-2", "a-1", func(b, a *Agent) error {
				a.Entropy++
				b.Entropy++
				return nil
			})
		}()
	}
	wg.Wait()

	a, _ := s.Get("a-1")
	b, _ := s.Get("b-2")
	if a.Entropy != 400 || b.Entropy != 400 {
		t.Fatalf("lost updates: %d / %d, want 400 each", a.Entropy, b.Entropy)
	}
}

func TestMutatePairSameID(t *testing.T) {
	s := NewStore()
	s.Create("a-1", 100, topology.Coord{})
	if err := s.MutatePair("a-1", "a-1", func(a, b *Agent) error { return nil }); err == nil {
		t.Fatal("same-id pair mutate should fail")
	}
}

func TestIDsSorted(t *testing.T) {
	s := NewStore()
	for _, id := range []AgentID{"c", "a", "b"} {
		s.Create(id, 1, topology.Coord{})
	}
	ids := s.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("ids = %v", ids)
	}
}
