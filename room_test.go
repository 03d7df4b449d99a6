package main

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func testClient(user string) *Client {
	return &Client{
		id:     "conn-" + user,
		user:   user,
		roomID: "test-room",
		send:   make(chan []byte, 16),
	}
}

func recvFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.send:
		return data
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no frame received")
		return nil
	}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame % x", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoom_NewConnectionStartsStale(t *testing.T) {
	room := NewRoom("test-room", clockwork.NewFakeClock())
	room.Add("alice", testClient("alice"))

	if room.IsUpToDate("alice") {
		t.Error("new connection should start stale")
	}
	if room.CanUpdate("alice", actionState, false) {
		t.Error("stale connection must not drive state")
	}
}

func TestRoom_AuthorizationGate(t *testing.T) {
	room := NewRoom("test-room", clockwork.NewFakeClock())
	room.Add("alice", testClient("alice"))
	room.Add("bob", testClient("bob"))
	room.MarkUpToDate("alice")
	room.MarkUpToDate("bob")

	// Alice's update wins: she stays trusted, bob goes stale.
	if !room.ApplyState("alice", true, 10) {
		t.Fatal("alice's update should be accepted")
	}
	if !room.IsUpToDate("alice") {
		t.Error("author should remain up to date")
	}
	if room.IsUpToDate("bob") {
		t.Error("bob should be stale after alice's update")
	}

	// Bob cannot follow up without catching up first.
	if room.ApplyTime("bob", 12, false) {
		t.Error("stale bob's update should be rejected")
	}

	room.MarkUpToDate("bob")
	if !room.ApplyTime("bob", 12, false) {
		t.Error("bob's update should be accepted after UPTODATE")
	}
	if room.Snapshot().Position != 12 {
		t.Errorf("position = %d, want 12", room.Snapshot().Position)
	}
}

func TestRoom_TimeDebounce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	room := NewRoom("test-room", clock)
	room.Add("alice", testClient("alice"))
	room.MarkUpToDate("alice")

	if !room.ApplyTime("alice", 10, false) {
		t.Fatal("first TIME should be accepted")
	}
	if room.ApplyTime("alice", 11, false) {
		t.Error("second TIME within 500ms should be rejected")
	}

	clock.Advance(timeDebounce)
	if !room.ApplyTime("alice", 12, false) {
		t.Error("TIME after debounce interval should be accepted")
	}
}

func TestRoom_DebounceDenialKeepsTimestamp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	room := NewRoom("test-room", clock)
	room.Add("alice", testClient("alice"))
	room.MarkUpToDate("alice")

	room.ApplyTime("alice", 1, false)
	clock.Advance(300 * time.Millisecond)
	if room.ApplyTime("alice", 2, false) {
		t.Fatal("update 300ms after the last accepted one should be rejected")
	}
	// The denied attempt must not have reset the window.
	clock.Advance(250 * time.Millisecond)
	if !room.ApplyTime("alice", 3, false) {
		t.Error("update 550ms after the last accepted one should pass")
	}
}

func TestRoom_PassiveBypassesGateAndState(t *testing.T) {
	room := NewRoom("test-room", clockwork.NewFakeClock())
	room.Add("alice", testClient("alice"))
	room.Add("bob", testClient("bob"))
	room.MarkUpToDate("alice")

	// Bob is stale, but a passive drift report is always accepted.
	if !room.ApplyTime("bob", 33, true) {
		t.Fatal("passive TIME should bypass the authorization gate")
	}
	if room.Snapshot().Position != 33 {
		t.Errorf("position = %d, want 33", room.Snapshot().Position)
	}

	// And it never touches anyone's up-to-date flag.
	if !room.IsUpToDate("alice") {
		t.Error("passive update must not mark others stale")
	}
	if room.IsUpToDate("bob") {
		t.Error("passive update must not grant up-to-date status")
	}

	// Passive reports are exempt from the debounce window too.
	if !room.ApplyTime("bob", 34, true) {
		t.Error("back-to-back passive TIME should be accepted")
	}
}

func TestRoom_AddDisplacesPreviousClient(t *testing.T) {
	room := NewRoom("test-room", clockwork.NewFakeClock())
	c1 := testClient("alice")
	c2 := testClient("alice")

	if displaced := room.Add("alice", c1); displaced != nil {
		t.Fatal("first Add should not displace")
	}
	room.MarkUpToDate("alice")

	displaced := room.Add("alice", c2)
	if displaced != c1 {
		t.Fatal("second Add for the same user should displace the first client")
	}
	if room.MemberCount() != 1 {
		t.Errorf("member count = %d, want 1", room.MemberCount())
	}
	if room.IsUpToDate("alice") {
		t.Error("replacement connection must start stale")
	}
}

func TestRoom_RemoveIsIdempotentAndDisplacementSafe(t *testing.T) {
	room := NewRoom("test-room", clockwork.NewFakeClock())
	c1 := testClient("alice")
	c2 := testClient("alice")

	room.Add("alice", c1)
	room.Add("alice", c2)

	// The displaced connection's late disconnect must not evict c2.
	if room.Remove("alice", c1) {
		t.Error("removing a displaced client should be a no-op")
	}
	if room.MemberCount() != 1 {
		t.Fatalf("member count = %d, want 1", room.MemberCount())
	}

	if !room.Remove("alice", c2) {
		t.Error("removing the live client should succeed")
	}
	if room.Remove("alice", c2) {
		t.Error("second removal should be a no-op")
	}
}

func TestRoom_BroadcastExcludesSender(t *testing.T) {
	room := NewRoom("test-room", clockwork.NewFakeClock())
	alice := testClient("alice")
	bob := testClient("bob")
	carol := testClient("carol")
	room.Add("alice", alice)
	room.Add("bob", bob)
	room.Add("carol", carol)

	frame := EncodeTime(42, 0, false)
	room.Broadcast("alice", frame)

	for _, c := range []*Client{bob, carol} {
		got := recvFrame(t, c)
		if string(got) != string(frame) {
			t.Errorf("%s got % x, want % x", c.user, got, frame)
		}
	}
	expectNoFrame(t, alice)
}

func TestRoom_ApplyURLResetsPlayback(t *testing.T) {
	room := NewRoom("test-room", clockwork.NewFakeClock())
	room.Add("alice", testClient("alice"))
	room.MarkUpToDate("alice")
	room.SetPlayback(PlaybackState{URL: "https://old.example.com/a.mp4", Position: 500, SubtitleExists: true})

	if !room.ApplyURL("alice", "https://example.com/b.mp4") {
		t.Fatal("url change should be accepted")
	}
	state := room.Snapshot()
	if state.URL != "https://example.com/b.mp4" {
		t.Errorf("url = %q", state.URL)
	}
	if state.Position != 0 || !state.Playing || state.SubtitleExists {
		t.Errorf("state after url change = %+v, want position=0 playing=true subtitle=false", state)
	}
	if state.URLUser != "alice" {
		t.Errorf("url user = %q, want alice", state.URLUser)
	}
}
