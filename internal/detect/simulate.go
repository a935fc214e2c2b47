package detect

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Simulator produces stand-in scores when a model is unavailable. A fixed
// seed makes its sequence reproducible.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator seeds from seed, or from the clock when seed is 0.
func NewSimulator(seed uint64) *Simulator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Simulator{rng: rand.New(rand.NewPCG(seed, seed^0x5deece66d))}
}

// Verdict returns a coin-flip outcome and a confidence uniform in
// [0.5, 0.95] rounded to two decimals.
func (s *Simulator) Verdict() (bool, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	positive := s.rng.IntN(2) == 1
	conf := 0.5 + s.rng.Float64()*0.45
	return positive, math.Round(conf*100) / 100
}

// PhishingScore returns a model-like probability uniform in [0.1, 0.9].
func (s *Simulator) PhishingScore() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return 0.1 + s.rng.Float64()*0.8
}
