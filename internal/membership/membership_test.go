package membership

import (
	"testing"
)

func TestTrackerApplyCurrentRoom(t *testing.T) {
	tr := NewTracker()
	tr.SetRoom("general")

	if !tr.Apply("general", []string{"a", "b", "c"}) {
		t.Fatal("expected snapshot for current room to apply")
	}

	users, ok := tr.Current()
	if !ok {
		t.Fatal("expected snapshot to be available")
	}
	if len(users) != 3 || users[0] != "a" || users[1] != "b" || users[2] != "c" {
		t.Errorf("expected [a b c] in order, got %v", users)
	}
	if tr.Count() != 3 {
		t.Errorf("expected count 3, got %d", tr.Count())
	}
}

func TestTrackerIgnoresOtherRoom(t *testing.T) {
	tr := NewTracker()
	tr.SetRoom("general")
	tr.Apply("general", []string{"a", "b"})

	// A snapshot tagged for a different room must not replace state.
	if tr.Apply("random", []string{"x"}) {
		t.Error("expected snapshot for other room to be rejected")
	}

	users, ok := tr.Current()
	if !ok {
		t.Fatal("expected snapshot to remain available")
	}
	if len(users) != 2 || users[0] != "a" {
		t.Errorf("expected [a b] unchanged, got %v", users)
	}
}

func TestTrackerUnavailableBeforeFirstSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.SetRoom("general")

	if _, ok := tr.Current(); ok {
		t.Error("expected no snapshot before the first frame")
	}
	if tr.Count() != 0 {
		t.Errorf("expected count 0, got %d", tr.Count())
	}
}

func TestTrackerMarkUnavailable(t *testing.T) {
	tr := NewTracker()
	tr.SetRoom("general")
	tr.Apply("general", []string{"a", "b"})

	tr.MarkUnavailable()

	users, ok := tr.Current()
	if ok {
		t.Errorf("expected unavailable after close, got %v", users)
	}
	if users != nil {
		t.Errorf("unavailable must not look like an empty room, got %v", users)
	}
	if tr.Count() != 0 {
		t.Errorf("expected count 0, got %d", tr.Count())
	}

	// The room is still tracked, so a fresh frame resynchronizes.
	if !tr.Apply("general", []string{"a"}) {
		t.Error("expected resync for tracked room to apply")
	}
}

func TestTrackerSetRoomDropsSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.SetRoom("general")
	tr.Apply("general", []string{"a"})

	tr.SetRoom("random")

	if _, ok := tr.Current(); ok {
		t.Error("expected snapshot to be dropped on room switch")
	}
	if tr.Apply("general", []string{"a"}) {
		t.Error("expected stale frame for the old room to be rejected")
	}
	if !tr.Apply("random", []string{"z"}) {
		t.Error("expected frame for the new room to apply")
	}
}

func TestTrackerEmptyRoomIsNotUnavailable(t *testing.T) {
	tr := NewTracker()
	tr.SetRoom("general")
	tr.Apply("general", []string{})

	users, ok := tr.Current()
	if !ok {
		t.Fatal("an empty user list is still an available snapshot")
	}
	if len(users) != 0 {
		t.Errorf("expected empty list, got %v", users)
	}
}

func TestTrackerApplyCopiesCallerSlice(t *testing.T) {
	tr := NewTracker()
	tr.SetRoom("general")

	frame := []string{"a", "b"}
	tr.Apply("general", frame)
	frame[0] = "mutated"

	users, _ := tr.Current()
	if users[0] != "a" {
		t.Errorf("Apply must copy the caller's slice, got %v", users)
	}
}

func TestTrackerCurrentReturnsCopy(t *testing.T) {
	tr := NewTracker()
	tr.SetRoom("general")
	tr.Apply("general", []string{"a", "b"})

	users, _ := tr.Current()
	users[0] = "mutated"

	again, _ := tr.Current()
	if again[0] != "a" {
		t.Error("Current must return a copy, not the internal slice")
	}
}
