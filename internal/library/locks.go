package library

import "sync"

// Locks 按会话 ID 串行化元数据写入
// Locks serializes metadata mutation per session ID
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the lock for id is held and returns its release function.
func (l *Locks) Lock(id string) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, id)
			}
			l.mu.Unlock()
		})
	}
}

// With runs fn while holding the lock for id. The lock is released on every
// return path, including panics.
func (l *Locks) With(id string, fn func() error) error {
	unlock := l.Lock(id)
	defer unlock()
	return fn()
}

func (l *Locks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
