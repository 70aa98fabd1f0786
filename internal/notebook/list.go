package notebook

import (
	"sync"

	"github.com/roach88/mercury/internal/event"
)

// ChangeType names the kind of structural mutation a ListChange describes.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeRemove ChangeType = "remove"
	ChangeMove   ChangeType = "move"
	ChangeSet    ChangeType = "set"
)

// ListChange describes one mutation of an observable list.
//
// For add, NewIndex is the position of the first inserted value. For
// remove, OldIndex is the position the first removed value had. A move
// carries both indices and the moved value in NewValues and OldValues. A
// set replaces the value at NewIndex (== OldIndex).
type ListChange[T any] struct {
	Type      ChangeType
	OldIndex  int
	NewIndex  int
	OldValues []T
	NewValues []T
}

// List is an ordered collection that reports every mutation on Changed.
// Mutations emit after the internal lock is released.
type List[T any] struct {
	mu    sync.RWMutex
	items []T

	Changed event.Signal[ListChange[T]]
}

// NewList returns a list holding values in order.
func NewList[T any](values ...T) *List[T] {
	items := make([]T, len(values))
	copy(items, values)
	return &List[T]{items: items}
}

// Len returns the number of values.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Get returns the value at i. It panics if i is out of range, like a slice.
func (l *List[T]) Get(i int) T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.items[i]
}

// Items returns a copy of the current values.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Push appends values.
func (l *List[T]) Push(values ...T) {
	l.Insert(l.Len(), values...)
}

// Insert places values starting at index i (clamped to [0, Len]).
func (l *List[T]) Insert(i int, values ...T) {
	if len(values) == 0 {
		return
	}
	l.mu.Lock()
	if i < 0 {
		i = 0
	}
	if i > len(l.items) {
		i = len(l.items)
	}
	next := make([]T, 0, len(l.items)+len(values))
	next = append(next, l.items[:i]...)
	next = append(next, values...)
	next = append(next, l.items[i:]...)
	l.items = next
	l.mu.Unlock()

	added := make([]T, len(values))
	copy(added, values)
	l.Changed.Emit(ListChange[T]{Type: ChangeAdd, OldIndex: -1, NewIndex: i, NewValues: added})
}

// Remove deletes the value at i and returns it. ok is false when i is out
// of range.
func (l *List[T]) Remove(i int) (T, bool) {
	var zero T
	l.mu.Lock()
	if i < 0 || i >= len(l.items) {
		l.mu.Unlock()
		return zero, false
	}
	v := l.items[i]
	l.items = append(l.items[:i:i], l.items[i+1:]...)
	l.mu.Unlock()

	l.Changed.Emit(ListChange[T]{Type: ChangeRemove, OldIndex: i, NewIndex: -1, OldValues: []T{v}})
	return v, true
}

// Move relocates the value at from so it ends up at index to.
func (l *List[T]) Move(from, to int) bool {
	l.mu.Lock()
	n := len(l.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		l.mu.Unlock()
		return false
	}
	if from == to {
		l.mu.Unlock()
		return true
	}
	v := l.items[from]
	rest := append(l.items[:from:from], l.items[from+1:]...)
	next := make([]T, 0, n)
	next = append(next, rest[:to]...)
	next = append(next, v)
	next = append(next, rest[to:]...)
	l.items = next
	l.mu.Unlock()

	l.Changed.Emit(ListChange[T]{Type: ChangeMove, OldIndex: from, NewIndex: to, OldValues: []T{v}, NewValues: []T{v}})
	return true
}

// Set replaces the value at i.
func (l *List[T]) Set(i int, v T) bool {
	l.mu.Lock()
	if i < 0 || i >= len(l.items) {
		l.mu.Unlock()
		return false
	}
	old := l.items[i]
	l.items[i] = v
	l.mu.Unlock()

	l.Changed.Emit(ListChange[T]{Type: ChangeSet, OldIndex: i, NewIndex: i, OldValues: []T{old}, NewValues: []T{v}})
	return true
}

// Clear removes every value with a single remove change.
func (l *List[T]) Clear() {
	l.mu.Lock()
	if len(l.items) == 0 {
		l.mu.Unlock()
		return
	}
	old := l.items
	l.items = nil
	l.mu.Unlock()

	l.Changed.Emit(ListChange[T]{Type: ChangeRemove, OldIndex: 0, NewIndex: -1, OldValues: old})
}
