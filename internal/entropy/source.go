// Package entropy provides the random sources behind every probabilistic
// draw in the game: combat rolls, deep-scan checks, weather transitions.
// Production uses crypto/rand (optionally topped up from random.org);
// tests and replay use a seeded source.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
)

// Source yields uniform random floats in [0, 1). Implementations must be
// safe for concurrent use.
type Source interface {
	Float() float64
}

// CryptoSource draws from crypto/rand. The zero value is ready to use.
type CryptoSource struct{}

// Float returns a random float64 in [0, 1).
func (CryptoSource) Float() float64 {
	return cryptoRandFloat()
}

// SeededSource is a deterministic source for tests and battle replay.
type SeededSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeeded creates a deterministic source from a seed.
func NewSeeded(seed int64) *SeededSource {
	return &SeededSource{rng: mrand.New(mrand.NewSource(seed))}
}

// Float returns the next float64 in the seeded stream.
func (s *SeededSource) Float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// This should never happen but return 0.5 as a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}
