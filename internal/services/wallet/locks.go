package wallet

import "sync"

// accountLocks is the in-process half of the non-blocking row lock. Ids are
// claimed all at once or not at all, so a transfer never holds one side while
// waiting on the other.
type accountLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{held: make(map[string]struct{})}
}

// tryLock claims every id or none. ok is false when any id is already held.
func (l *accountLocks) tryLock(ids ...string) (unlock func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		if _, busy := l.held[id]; busy {
			return nil, false
		}
	}
	for _, id := range ids {
		l.held[id] = struct{}{}
	}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for _, id := range ids {
			delete(l.held, id)
		}
	}, true
}
