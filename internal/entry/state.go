package entry

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// UpdateOutcome reports whether a state update was stored and dispatched.
type UpdateOutcome int

const (
	// Suppressed means the update was an identical repeat and was dropped.
	Suppressed UpdateOutcome = iota

	// Applied means the update was stored and the subscriber (if any) notified.
	Applied
)

// String returns a readable name for the outcome.
func (o UpdateOutcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "suppressed"
}

// subscriptionKey identifies one entity across types.
type subscriptionKey struct {
	typ EntityType
	key uint32
}

// equateStates treats nil and empty value maps as equal.
var equateStates = cmpopts.EquateEmpty()

// stateStore is the last-known-state cache with staleness tracking.
// It is not safe for concurrent use; RuntimeData serialises access.
type stateStore struct {
	states map[EntityType]map[uint32]EntityState
	stale  map[subscriptionKey]struct{}
}

func newStateStore() *stateStore {
	return &stateStore{
		states: make(map[EntityType]map[uint32]EntityState),
		stale:  make(map[subscriptionKey]struct{}),
	}
}

// update stores state unless it repeats the stored value exactly.
//
// A repeat is still applied when the key is stale, when the type is the
// camera stream, or when forceUpdate is set for the entity.
func (s *stateStore) update(state EntityState, forceUpdate bool) UpdateOutcome {
	sk := subscriptionKey{typ: state.Type, key: state.Key}
	byKey := s.states[state.Type]

	if current, ok := byKey[state.Key]; ok {
		_, stale := s.stale[sk]
		if !stale &&
			state.Type != TypeCamera &&
			!forceUpdate &&
			cmp.Equal(current, state, equateStates) {
			return Suppressed
		}
	}

	delete(s.stale, sk)
	if byKey == nil {
		byKey = make(map[uint32]EntityState)
		s.states[state.Type] = byKey
	}
	byKey[state.Key] = state
	return Applied
}

// get returns the stored state for a key.
func (s *stateStore) get(typ EntityType, key uint32) (EntityState, bool) {
	st, ok := s.states[typ][key]
	return st, ok
}

// markAllStale flags every known key so its next update is always applied.
func (s *stateStore) markAllStale() int {
	for typ, byKey := range s.states {
		for key := range byKey {
			s.stale[subscriptionKey{typ: typ, key: key}] = struct{}{}
		}
	}
	return len(s.stale)
}

// isStale reports whether a key is currently marked stale.
func (s *stateStore) isStale(typ EntityType, key uint32) bool {
	_, ok := s.stale[subscriptionKey{typ: typ, key: key}]
	return ok
}

// count returns the number of stored states.
func (s *stateStore) count() int {
	n := 0
	for _, byKey := range s.states {
		n += len(byKey)
	}
	return n
}
