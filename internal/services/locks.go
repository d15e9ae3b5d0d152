package services

import "sync"

// UserLocks serializes read-modify-write cycles per username. Entries are
// dropped once no goroutine holds or waits on them.
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*userLock)}
}

// Lock acquires the lock for username and returns its release function.
func (l *UserLocks) Lock(username string) func() {
	l.mu.Lock()
	ul, ok := l.locks[username]
	if !ok {
		ul = &userLock{}
		l.locks[username] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, username)
		}
		l.mu.Unlock()
	}
}

func (l *UserLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
