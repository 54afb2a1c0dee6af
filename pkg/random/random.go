package random

import (
	"math/rand"
	"sync"
	"time"
)

// Source supplies the probabilistic branches of the validation policy.
// Passing it explicitly keeps decisions reproducible in tests.
type Source interface {
	Float64() float64
}

type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a seeded Source safe for concurrent use.
func New(seed int64) Source {
	return &lockedSource{r: rand.New(rand.NewSource(seed))}
}

// TimeSeeded returns a Source seeded from the wall clock.
func TimeSeeded() Source {
	return New(time.Now().UnixNano())
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}
