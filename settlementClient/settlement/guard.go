package settlement

import (
	"sync"
	"sync/atomic"
)

// InFlightGuard blocks a second submission while one is running.
type InFlightGuard struct {
	busy atomic.Bool
}

// TryAcquire returns false when a submission is already in flight.
func (g *InFlightGuard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release must run on every exit path of the submission that acquired the guard.
func (g *InFlightGuard) Release() {
	g.busy.Store(false)
}

// InFlight reports whether a submission holds the guard.
func (g *InFlightGuard) InFlight() bool {
	return g.busy.Load()
}

// guardSet holds one guard per submitter key while a submission runs. Keys are dropped
// on release, so the set only ever holds in-flight submissions.
type guardSet struct {
	mu     sync.Mutex
	guards map[string]*InFlightGuard
}

// acquire takes the guard for key. The returned release must run on every exit path.
func (s *guardSet) acquire(key string) (release func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guards == nil {
		s.guards = make(map[string]*InFlightGuard)
	}
	g, exists := s.guards[key]
	if !exists {
		g = &InFlightGuard{}
	}
	if !g.TryAcquire() {
		return nil, false
	}
	s.guards[key] = g
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		g.Release()
		delete(s.guards, key)
	}, true
}

func (s *guardSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.guards)
}
