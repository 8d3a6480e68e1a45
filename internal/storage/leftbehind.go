package storage

import "sync"

// LeftBehind is the registry of files that exhausted their move retries.
// Each filename is held at most once; only short operations run under the
// lock.
type LeftBehind struct {
	mu    sync.Mutex
	names []string
	seen  map[string]struct{}
}

func NewLeftBehind() *LeftBehind {
	return &LeftBehind{seen: make(map[string]struct{})}
}

// Push queues name for a later retry. It returns false if name was already
// queued.
func (l *LeftBehind) Push(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[name]; ok {
		return false
	}
	l.seen[name] = struct{}{}
	l.names = append(l.names, name)
	return true
}

// DrainAll atomically empties the registry and returns what it held, oldest
// first.
func (l *LeftBehind) DrainAll() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.names
	l.names = nil
	l.seen = make(map[string]struct{})
	return out
}

// Len reports how many files are waiting.
func (l *LeftBehind) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.names)
}

// Contains reports whether name is queued.
func (l *LeftBehind) Contains(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[name]
	return ok
}
