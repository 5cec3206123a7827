package entry

import (
	"context"
	"slices"
	"sync"
)

// Unsubscribe removes a registration. Calling it more than once is a no-op.
type Unsubscribe func()

// StaticInfoCallback receives every EntityInfo of one type from an update batch.
type StaticInfoCallback func(infos []EntityInfo)

// KeyUpdatedCallback receives the new EntityInfo for one specific key.
type KeyUpdatedCallback func(info EntityInfo)

// KeyRemovedCallback is invoked when the entity for one key is removed.
// It may block; removal waits for all callbacks of a batch to return.
type KeyRemovedCallback func(ctx context.Context) error

// StateCallback is invoked after a state update for one key was applied.
type StateCallback func()

// registration pairs a callback with the id used to remove it.
type registration[T any] struct {
	id uint64
	cb T
}

// callbackList is an ordered list of callbacks removable by id.
type callbackList[T any] struct {
	items []registration[T]
}

func (l *callbackList[T]) add(id uint64, cb T) {
	l.items = append(l.items, registration[T]{id: id, cb: cb})
}

func (l *callbackList[T]) remove(id uint64) {
	l.items = slices.DeleteFunc(l.items, func(r registration[T]) bool { return r.id == id })
}

// snapshot copies the callbacks so they can be invoked without holding a lock.
func (l *callbackList[T]) snapshot() []T {
	if l == nil || len(l.items) == 0 {
		return nil
	}
	out := make([]T, len(l.items))
	for i, r := range l.items {
		out[i] = r.cb
	}
	return out
}

// subscriptions holds the callback registries of one entry.
//
// It is not safe for concurrent use on its own; every method is called with
// RuntimeData's mutex held.
type subscriptions struct {
	nextID uint64

	staticInfo map[EntityType]*callbackList[StaticInfoCallback]
	keyRemoved map[subscriptionKey]*callbackList[KeyRemovedCallback]
	keyUpdated map[subscriptionKey]*callbackList[KeyUpdatedCallback]
	state      map[subscriptionKey]registration[StateCallback]
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		staticInfo: make(map[EntityType]*callbackList[StaticInfoCallback]),
		keyRemoved: make(map[subscriptionKey]*callbackList[KeyRemovedCallback]),
		keyUpdated: make(map[subscriptionKey]*callbackList[KeyUpdatedCallback]),
		state:      make(map[subscriptionKey]registration[StateCallback]),
	}
}

func (s *subscriptions) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *subscriptions) addStaticInfo(typ EntityType, cb StaticInfoCallback) uint64 {
	l, ok := s.staticInfo[typ]
	if !ok {
		l = &callbackList[StaticInfoCallback]{}
		s.staticInfo[typ] = l
	}
	id := s.id()
	l.add(id, cb)
	return id
}

func (s *subscriptions) removeStaticInfo(typ EntityType, id uint64) {
	if l, ok := s.staticInfo[typ]; ok {
		l.remove(id)
		if len(l.items) == 0 {
			delete(s.staticInfo, typ)
		}
	}
}

func (s *subscriptions) addKeyRemoved(sk subscriptionKey, cb KeyRemovedCallback) uint64 {
	l, ok := s.keyRemoved[sk]
	if !ok {
		l = &callbackList[KeyRemovedCallback]{}
		s.keyRemoved[sk] = l
	}
	id := s.id()
	l.add(id, cb)
	return id
}

func (s *subscriptions) removeKeyRemoved(sk subscriptionKey, id uint64) {
	if l, ok := s.keyRemoved[sk]; ok {
		l.remove(id)
		if len(l.items) == 0 {
			delete(s.keyRemoved, sk)
		}
	}
}

func (s *subscriptions) addKeyUpdated(sk subscriptionKey, cb KeyUpdatedCallback) uint64 {
	l, ok := s.keyUpdated[sk]
	if !ok {
		l = &callbackList[KeyUpdatedCallback]{}
		s.keyUpdated[sk] = l
	}
	id := s.id()
	l.add(id, cb)
	return id
}

func (s *subscriptions) removeKeyUpdated(sk subscriptionKey, id uint64) {
	if l, ok := s.keyUpdated[sk]; ok {
		l.remove(id)
		if len(l.items) == 0 {
			delete(s.keyUpdated, sk)
		}
	}
}

// setState installs the sole state callback for a key. It reports whether
// another callback was already active (a caller contract violation; the new
// callback wins).
func (s *subscriptions) setState(sk subscriptionKey, cb StateCallback) (uint64, bool) {
	_, replaced := s.state[sk]
	id := s.id()
	s.state[sk] = registration[StateCallback]{id: id, cb: cb}
	return id, replaced
}

// removeState removes the state callback only if it is still the one that
// was registered with id.
func (s *subscriptions) removeState(sk subscriptionKey, id uint64) {
	if cur, ok := s.state[sk]; ok && cur.id == id {
		delete(s.state, sk)
	}
}

func (s *subscriptions) stateCallback(sk subscriptionKey) StateCallback {
	if cur, ok := s.state[sk]; ok {
		return cur.cb
	}
	return nil
}

// listeners is a simple list of no-argument or single-argument listeners
// guarded by its own mutex. It backs the device-level signals.
type listeners[T any] struct {
	mu     sync.Mutex
	nextID uint64
	list   callbackList[T]
}

func (l *listeners[T]) add(cb T) Unsubscribe {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.list.add(id, cb)
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		l.list.remove(id)
		l.mu.Unlock()
	}
}

func (l *listeners[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.snapshot()
}
