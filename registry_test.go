package main

import (
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	reg := NewRegistry(10, clockwork.NewFakeClock())

	room, err := reg.GetOrCreate("room-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if room.Snapshot() != (PlaybackState{}) {
		t.Errorf("new room state = %+v, want zero value", room.Snapshot())
	}

	again, err := reg.GetOrCreate("room-1")
	if err != nil {
		t.Fatal(err)
	}
	if again != room {
		t.Error("GetOrCreate should return the existing room")
	}
	if reg.Len() != 1 {
		t.Errorf("registry size = %d, want 1", reg.Len())
	}
}

func TestRegistry_CapFailsClosed(t *testing.T) {
	reg := NewRegistry(2, clockwork.NewFakeClock())

	if _, err := reg.GetOrCreate("room-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.GetOrCreate("room-2"); err != nil {
		t.Fatal(err)
	}

	_, err := reg.GetOrCreate("room-3")
	if !errors.Is(err, errRoomLimit) {
		t.Fatalf("err = %v, want errRoomLimit", err)
	}

	// Existing rooms are unaffected; lookups of them still succeed.
	if _, ok := reg.Get("room-1"); !ok {
		t.Error("room-1 should still exist")
	}
	if _, err := reg.GetOrCreate("room-2"); err != nil {
		t.Error("existing room lookup should not hit the cap")
	}
	if reg.Len() != 2 {
		t.Errorf("registry size = %d, want 2", reg.Len())
	}
}

func TestRegistry_RemoveIfEmpty(t *testing.T) {
	reg := NewRegistry(10, clockwork.NewFakeClock())
	room, err := reg.GetOrCreate("r1")
	if err != nil {
		t.Fatal(err)
	}

	c := testClient("alice")
	room.Add("alice", c)
	if reg.RemoveIfEmpty(room) {
		t.Error("occupied room must not be removed")
	}

	room.Remove("alice", c)
	if !reg.RemoveIfEmpty(room) {
		t.Error("empty room should be removed")
	}

	// A stale pointer to a previous incarnation must not take out the
	// replacement room.
	fresh, err := reg.GetOrCreate("r1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh == room {
		t.Fatal("expected a fresh room after removal")
	}
	if reg.RemoveIfEmpty(room) {
		t.Error("stale room pointer must not remove the replacement")
	}
	if _, ok := reg.Get("r1"); !ok {
		t.Error("replacement room should remain registered")
	}

	reg.Pin("r1")
	if reg.RemoveIfEmpty(fresh) {
		t.Error("pinned room must not be removed")
	}
}

func TestRegistry_RemoveSkipsPinned(t *testing.T) {
	reg := NewRegistry(10, clockwork.NewFakeClock())

	if _, err := reg.GetOrCreate("lounge"); err != nil {
		t.Fatal(err)
	}
	reg.Pin("lounge")

	reg.Remove("lounge")
	if _, ok := reg.Get("lounge"); !ok {
		t.Error("pinned room must survive Remove")
	}

	if _, err := reg.GetOrCreate("scratch"); err != nil {
		t.Fatal(err)
	}
	reg.Remove("scratch")
	if _, ok := reg.Get("scratch"); ok {
		t.Error("unpinned room should be removed")
	}
}
