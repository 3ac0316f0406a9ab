package client

import "sync"

type listener[T any] struct {
	id uint64
	fn func(T)
}

// listeners is a registration-ordered set of callbacks.
type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  []listener[T]
}

// add registers fn and returns a function that removes it.
func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	id := l.next
	l.fns = append(l.fns, listener[T]{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, x := range l.fns {
			if x.id == id {
				l.fns = append(l.fns[:i:i], l.fns[i+1:]...)
				return
			}
		}
	}
}

// emit calls every listener outside the lock so callbacks may register or
// remove listeners.
func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), len(l.fns))
	for i, x := range l.fns {
		fns[i] = x.fn
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	l.fns = nil
	l.mu.Unlock()
}
