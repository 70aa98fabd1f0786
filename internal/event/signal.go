package event

import "sync"

// Signal is a typed, synchronous event emitter.
//
// The zero value is ready to use. Handlers run in connection order.
// Emit snapshots the handler list, so handlers may connect or close
// subscriptions (including their own) while being dispatched.
type Signal[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []handler[T]
}

type handler[T any] struct {
	id uint64
	fn func(T)
}

// Connect registers fn and returns the subscription that removes it.
func (s *Signal[T]) Connect(fn func(T)) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handler[T]{id: id, fn: fn})

	return &Subscription{cancel: func() { s.disconnect(id) }}
}

// Emit calls every connected handler with v.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	snapshot := make([]handler[T], len(s.handlers))
	copy(snapshot, s.handlers)
	s.mu.Unlock()

	for _, h := range snapshot {
		if !s.connected(h.id) {
			continue
		}
		h.fn(v)
	}
}

// Len returns the number of connected handlers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Clear disconnects every handler.
func (s *Signal[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = nil
}

func (s *Signal[T]) disconnect(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.handlers {
		if h.id == id {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			return
		}
	}
}

func (s *Signal[T]) connected(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.handlers {
		if h.id == id {
			return true
		}
	}
	return false
}

// Subscription is the handle returned by Connect.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close disconnects the handler. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Scope owns a group of subscriptions and closes them together.
type Scope struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// Add takes ownership of sub. If the scope is already closed, sub is
// closed immediately.
func (sc *Scope) Add(sub *Subscription) *Subscription {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		sub.Close()
		return sub
	}
	sc.subs = append(sc.subs, sub)
	sc.mu.Unlock()
	return sub
}

// Len returns the number of subscriptions held.
func (sc *Scope) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.subs)
}

// Close closes every subscription, newest first.
func (sc *Scope) Close() {
	sc.mu.Lock()
	subs := sc.subs
	sc.subs = nil
	sc.closed = true
	sc.mu.Unlock()

	for i := len(subs) - 1; i >= 0; i-- {
		subs[i].Close()
	}
}
