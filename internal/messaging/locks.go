package messaging

import "sync"

// phoneLocks is a keyed mutex. Entries are dropped once no turn holds or waits on them.
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*phoneLock
}

type phoneLock struct {
	mu   sync.Mutex
	refs int
}

func newPhoneLocks() *phoneLocks {
	return &phoneLocks{locks: make(map[string]*phoneLock)}
}

// Lock blocks until phone's turn lock is held and returns its release func.
func (p *phoneLocks) Lock(phone string) func() {
	p.mu.Lock()
	l, ok := p.locks[phone]
	if !ok {
		l = &phoneLock{}
		p.locks[phone] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, phone)
		}
		p.mu.Unlock()
	}
}

func (p *phoneLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
