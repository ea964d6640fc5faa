package orchestrator

import (
	"sync"

	"github.com/reproserver/reproserver/pkg/metrics"
)

// InFlight tracks the runs currently executing. It is shared between the
// orchestrator and, in cluster mode, the pod supervisor; the current-runs
// gauge mirrors its size at every mutation.
type InFlight struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewInFlight creates an empty set.
func NewInFlight() *InFlight {
	return &InFlight{ids: make(map[int64]struct{})}
}

// Add inserts the id and bumps the gauge. Returns false if it was already
// present.
func (s *InFlight) Add(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	metrics.CurrentRuns.Inc()
	return true
}

// Remove deletes the id and drops the gauge. Returns false if it was not
// present.
func (s *InFlight) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	metrics.CurrentRuns.Dec()
	return true
}

// Has reports whether the id is tracked.
func (s *InFlight) Has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of tracked runs.
func (s *InFlight) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
