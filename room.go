package main

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// timeDebounce is the minimum interval between authoritative TIME updates
// from the same user. Passive drift reports are exempt.
const timeDebounce = 500 * time.Millisecond

const (
	actionTime  = "time"
	actionState = "state"
	actionURL   = "url"
)

// member is one participant's seat in a room: the live transport plus the
// catch-up flag that gates authoritative updates.
type member struct {
	user       string
	client     *Client
	upToDate   bool
	lastAction map[string]time.Time
}

// Room holds one session's playback state and its connections. The room
// mutex is the unit of serialization: every read or mutation of the state
// or the member map goes through it, so concurrent updates from different
// connections are applied one at a time while other rooms proceed freely.
type Room struct {
	id    string
	clock clockwork.Clock

	mu      sync.RWMutex
	state   PlaybackState
	members map[string]*member
}

func NewRoom(id string, clock clockwork.Clock) *Room {
	return &Room{
		id:      id,
		clock:   clock,
		members: make(map[string]*member),
	}
}

func (r *Room) ID() string { return r.id }

// Add seats a client for user. If the user already holds a seat the old
// client is displaced: the caller receives it and must close it. A new or
// replaced seat always starts stale — the client must send UPTODATE after
// applying the INIT snapshot before it may drive state.
func (r *Room) Add(user string, c *Client) (displaced *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.members[user]; ok {
		displaced = m.client
		m.client = c
		m.upToDate = false
		m.lastAction = make(map[string]time.Time)
		return displaced
	}
	r.members[user] = &member{
		user:       user,
		client:     c,
		lastAction: make(map[string]time.Time),
	}
	return nil
}

// Remove drops user's seat, but only if it is still held by c. The guard
// makes removal idempotent and keeps a displaced connection's late
// disconnect from evicting its replacement.
func (r *Room) Remove(user string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[user]
	if !ok || m.client != c {
		return false
	}
	delete(r.members, user)
	return true
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// CanUpdate decides whether user may issue an update of the given kind.
// Passive updates bypass every gate and never touch authorization state.
// A successful authoritative TIME check records the debounce timestamp.
func (r *Room) CanUpdate(user, action string, passive bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canUpdateLocked(user, action, passive)
}

func (r *Room) canUpdateLocked(user, action string, passive bool) bool {
	m, ok := r.members[user]
	if !ok {
		return false
	}
	if passive {
		return true
	}
	if !m.upToDate {
		return false
	}
	if action == actionTime {
		now := r.clock.Now()
		if last, ok := m.lastAction[action]; ok && now.Sub(last) < timeDebounce {
			return false
		}
		m.lastAction[action] = now
	}
	return true
}

// MarkAllNotUpToDate makes exceptUser the sole trusted writer: everyone
// else must absorb the broadcast change and say UPTODATE before their next
// authoritative update is accepted.
func (r *Room) MarkAllNotUpToDate(exceptUser string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markAllNotUpToDateLocked(exceptUser)
}

func (r *Room) markAllNotUpToDateLocked(exceptUser string) {
	for user, m := range r.members {
		m.upToDate = user == exceptUser
	}
}

// MarkUpToDate records that user has applied the room's current snapshot.
func (r *Room) MarkUpToDate(user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[user]; ok {
		m.upToDate = true
	}
}

func (r *Room) IsUpToDate(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[user]
	return ok && m.upToDate
}

// ApplyTime runs the authorization check and the position write as one
// atomic step. Passive reports update the position without touching any
// up-to-date flag; authoritative ones additionally mark everyone else
// stale.
func (r *Room) ApplyTime(user string, position uint32, passive bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canUpdateLocked(user, actionTime, passive) {
		return false
	}
	r.state.Position = position
	r.state.PositionUser = user
	if !passive {
		r.markAllNotUpToDateLocked(user)
	}
	return true
}

// ApplyState applies a play/pause change plus its position.
func (r *Room) ApplyState(user string, playing bool, position uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canUpdateLocked(user, actionState, false) {
		return false
	}
	r.state.Playing = playing
	r.state.Position = position
	r.state.PlayingUser = user
	r.state.PositionUser = user
	r.markAllNotUpToDateLocked(user)
	return true
}

// ApplyURL switches the room to a new video: position rewinds to zero,
// playback starts, and any subtitle flag is cleared. The URL must already
// be validated.
func (r *Room) ApplyURL(user, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canUpdateLocked(user, actionURL, false) {
		return false
	}
	r.setURLLocked(user, url)
	return true
}

// ForceURL is the administrative variant of ApplyURL: it bypasses the
// authorization gate (the caller is not a room member) but still marks
// every connection stale.
func (r *Room) ForceURL(user, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setURLLocked(user, url)
}

func (r *Room) setURLLocked(user, url string) {
	r.state.URL = url
	r.state.Position = 0
	r.state.Playing = true
	r.state.SubtitleExists = false
	r.state.URLUser = user
	r.markAllNotUpToDateLocked(user)
}

func (r *Room) Snapshot() PlaybackState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// SetPlayback replaces the whole state; used when hydrating from the store.
func (r *Room) SetPlayback(state PlaybackState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

func (r *Room) SetSubtitleExists(exists bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.SubtitleExists = exists
}

// Broadcast enqueues data to every member except exceptUser. A member
// whose send buffer is full just misses the frame; delivery to the rest
// continues.
func (r *Room) Broadcast(exceptUser string, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for user, m := range r.members {
		if user == exceptUser {
			continue
		}
		m.client.Enqueue(data)
	}
}

// Clients snapshots the current transports, for shutdown.
func (r *Room) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		clients = append(clients, m.client)
	}
	return clients
}
