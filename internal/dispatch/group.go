package dispatch

import "sync"

// groupSemaphore bounds concurrent attempts of one job id. Tokens are
// pre-filled up to the limit; acquisition never blocks — a firing that
// cannot get a token is dropped, not queued.
type groupSemaphore struct {
	ch chan struct{}
}

func newGroupSemaphore(limit int) *groupSemaphore {
	if limit <= 0 {
		limit = 1
	}
	gs := &groupSemaphore{ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		gs.ch <- struct{}{}
	}
	return gs
}

func (g *groupSemaphore) tryAcquire() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

func (g *groupSemaphore) release() {
	// Never block on release.
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

type groupStore struct {
	mu     sync.Mutex
	limit  int
	groups map[string]*groupSemaphore
}

func newGroupStore(limit int) *groupStore {
	return &groupStore{limit: limit, groups: make(map[string]*groupSemaphore)}
}

func (s *groupStore) get(jobID string) *groupSemaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs := s.groups[jobID]
	if gs == nil {
		gs = newGroupSemaphore(s.limit)
		s.groups[jobID] = gs
	}
	return gs
}

func (s *groupStore) drop(jobID string) {
	s.mu.Lock()
	delete(s.groups, jobID)
	s.mu.Unlock()
}
