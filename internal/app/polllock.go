package app

import (
	"sync"

	"github.com/google/uuid"
)

// pollLocks hands out one mutex per poll. An entry lives only while some
// caller holds or waits for it.
type pollLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*pollLock
}

type pollLock struct {
	mu   sync.Mutex
	refs int
}

func (l *pollLocks) lock(pollID uuid.UUID) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[uuid.UUID]*pollLock)
	}
	pl, ok := l.locks[pollID]
	if !ok {
		pl = &pollLock{}
		l.locks[pollID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()

		l.mu.Lock()
		defer l.mu.Unlock()
		if pl.refs--; pl.refs == 0 {
			delete(l.locks, pollID)
		}
	}
}

func (l *pollLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
