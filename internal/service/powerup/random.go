package powerup

import (
	"math/rand/v2"
	"sync"
)

// Random is the source of chance for lucky draws.
type Random interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// IntN returns a value in [0, n).
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// seededRand is a reproducible source shared between goroutines.
type seededRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededRandom returns a Random with a fixed seed.
func NewSeededRandom(seed uint64) Random {
	return &seededRand{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *seededRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *seededRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}
