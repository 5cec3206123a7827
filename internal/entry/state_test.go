package entry

import "testing"

func TestStateStoreUpdate(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(s *stateStore)
		update EntityState
		force  bool
		want   UpdateOutcome
	}{
		{
			name:   "first update applied",
			update: sensorState(1, 21.5),
			want:   Applied,
		},
		{
			name:   "identical repeat suppressed",
			setup:  func(s *stateStore) { s.update(sensorState(1, 21.5), false) },
			update: sensorState(1, 21.5),
			want:   Suppressed,
		},
		{
			name:   "changed value applied",
			setup:  func(s *stateStore) { s.update(sensorState(1, 21.5), false) },
			update: sensorState(1, 22),
			want:   Applied,
		},
		{
			name: "stale repeat applied",
			setup: func(s *stateStore) {
				s.update(sensorState(1, 21.5), false)
				s.markAllStale()
			},
			update: sensorState(1, 21.5),
			want:   Applied,
		},
		{
			name:   "force update repeat applied",
			setup:  func(s *stateStore) { s.update(sensorState(1, 21.5), false) },
			update: sensorState(1, 21.5),
			force:  true,
			want:   Applied,
		},
		{
			name: "camera repeat applied",
			setup: func(s *stateStore) {
				s.update(EntityState{Type: TypeCamera, Key: 4, Value: map[string]any{"image": "abc"}}, false)
			},
			update: EntityState{Type: TypeCamera, Key: 4, Value: map[string]any{"image": "abc"}},
			want:   Applied,
		},
		{
			name:   "same key different type applied",
			setup:  func(s *stateStore) { s.update(sensorState(1, 1), false) },
			update: EntityState{Type: TypeSwitch, Key: 1, Value: map[string]any{"state": 1.0}},
			want:   Applied,
		},
		{
			name: "nil and empty value equal",
			setup: func(s *stateStore) {
				s.update(EntityState{Type: TypeButton, Key: 2, Value: map[string]any{}}, false)
			},
			update: EntityState{Type: TypeButton, Key: 2},
			want:   Suppressed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStateStore()
			if tt.setup != nil {
				tt.setup(s)
			}
			if got := s.update(tt.update, tt.force); got != tt.want {
				t.Errorf("update() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateStoreStaleCleared(t *testing.T) {
	s := newStateStore()
	s.update(sensorState(1, 1), false)
	s.update(sensorState(2, 2), false)

	if n := s.markAllStale(); n != 2 {
		t.Fatalf("markAllStale() = %d, want 2", n)
	}
	if !s.isStale(TypeSensor, 1) {
		t.Fatal("key 1 should be stale")
	}

	if got := s.update(sensorState(1, 1), false); got != Applied {
		t.Fatalf("stale update = %v, want applied", got)
	}
	if s.isStale(TypeSensor, 1) {
		t.Error("applied update should clear stale mark")
	}
	if !s.isStale(TypeSensor, 2) {
		t.Error("key 2 should still be stale")
	}
	if got := s.update(sensorState(1, 1), false); got != Suppressed {
		t.Errorf("repeat after clearing = %v, want suppressed", got)
	}
	if s.count() != 2 {
		t.Errorf("count() = %d, want 2", s.count())
	}
}
