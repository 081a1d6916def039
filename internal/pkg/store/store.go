// Package store holds a single value with one writer and many readers.
package store

import "sync"

type Store[T any] struct {
	mu     sync.Mutex
	value  T
	copyFn func(T) T
	next   int
	subs   map[int]chan T
}

// New creates a store. copyFn, when set, is applied to every value handed
// out so readers never share memory with the writer.
func New[T any](initial T, copyFn func(T) T) *Store[T] {
	return &Store[T]{
		value:  initial,
		copyFn: copyFn,
		subs:   map[int]chan T{},
	}
}

func (s *Store[T]) copy(v T) T {
	if s.copyFn == nil {
		return v
	}
	return s.copyFn(v)
}

func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copy(s.value)
}

// Set replaces the value and notifies every subscriber. Slow subscribers
// skip intermediate values and only see the newest one.
func (s *Store[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	for _, ch := range s.subs {
		offer(ch, s.copy(v))
	}
}

// Subscribe returns a channel that immediately holds the current value. The
// cancel func closes the channel and is safe to call more than once.
func (s *Store[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan T, 1)
	ch <- s.copy(s.value)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// Subscribers is the number of open subscriptions.
func (s *Store[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
