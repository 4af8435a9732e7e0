// util/signal.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"slices"
	"sync"
)

type ConnectionID int

type slot[T any] struct {
	id ConnectionID
	fn func(T)
}

// Signal holds a set of callbacks that are invoked, in the order they were
// connected, each time Emit is called. Callbacks run on the goroutine that
// calls Emit, after the Signal's lock has been released, so they may
// connect or disconnect callbacks themselves.
type Signal[T any] struct {
	mu    sync.Mutex
	next  ConnectionID
	slots []slot[T]
}

func (s *Signal[T]) Connect(fn func(T)) ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.slots = append(s.slots, slot[T]{id: s.next, fn: fn})
	return s.next
}

func (s *Signal[T]) Disconnect(id ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = slices.DeleteFunc(s.slots, func(sl slot[T]) bool { return sl.id == id })
}

func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = nil
}

func (s *Signal[T]) NumConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.slots)
}

func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	slots := slices.Clone(s.slots)
	s.mu.Unlock()

	for _, sl := range slots {
		sl.fn(v)
	}
}

// Notifier is a Signal that carries no value.
type Notifier struct {
	sig Signal[struct{}]
}

func (n *Notifier) Connect(fn func()) ConnectionID {
	return n.sig.Connect(func(struct{}) { fn() })
}

func (n *Notifier) Disconnect(id ConnectionID) { n.sig.Disconnect(id) }
func (n *Notifier) DisconnectAll() { n.sig.DisconnectAll() }
func (n *Notifier) NumConnections() int { return n.sig.NumConnections() }
func (n *Notifier) Notify() { n.sig.Emit(struct{}{}) }
