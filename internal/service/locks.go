package service

import "sync"

// userLocks serializes cart mutations and the snapshot+authorize step per
// user, so a concurrent AddItem can never interleave with an in-flight
// checkout and authorize a stale amount. For a multi-node deployment the
// session table's partial unique index is the cross-node guard; this mutex
// covers the single-process case.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// Lock blocks until the user's lock is held and returns the unlock function.
// Entries are reference-counted so the map does not grow with every user
// ever seen.
func (l *userLocks) Lock(userID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[userID]
	if !ok {
		entry = &userLock{}
		l.locks[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
