// Package listeners holds the callback registry shared by session handles.
package listeners

import "sync"

// Set is a callback list whose callbacks run outside its lock, so a
// callback may unsubscribe itself. The zero value is ready to use.
type Set[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(T)
}

// Add registers fn and returns an idempotent unsubscribe func.
func (l *Set[T]) Add(fn func(T)) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(T))
	}
	l.next++
	id := l.next
	l.fns[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *Set[T]) Emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *Set[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// Clear drops every callback.
func (l *Set[T]) Clear() {
	l.mu.Lock()
	l.fns = nil
	l.mu.Unlock()
}
