package main

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	maxURLLength = 2048

	// departureGrace absorbs fast reconnects: the "left" event and any
	// empty-room teardown wait this long and are cancelled if the same
	// user reappears.
	departureGrace = 5 * time.Second

	checkpointInterval = 5 * time.Minute
	collaboratorWait   = 3 * time.Second
)

// SyncHandler dispatches decoded frames to room operations, drives
// broadcasts and acknowledgements, and owns the connection lifecycle:
// join, reconnect displacement, disconnect and deferred departure.
type SyncHandler struct {
	cfg      *Config
	registry *Registry
	store    RoomStateStore
	history  HistorySink
	subs     SubtitleStore
	clock    clockwork.Clock

	msgLimiter     *RateLimiter
	passiveLimiter *RateLimiter

	mu         sync.Mutex
	gen        uint64
	departures map[string]departure
}

// departure is a pending deferred-departure timer. The generation guards
// the commit in completeDeparture: a timer that fired just before being
// replaced must not consume its successor's entry.
type departure struct {
	timer clockwork.Timer
	gen   uint64
}

func NewSyncHandler(cfg *Config, registry *Registry, store RoomStateStore, history HistorySink, subs SubtitleStore, clock clockwork.Clock) *SyncHandler {
	return &SyncHandler{
		cfg:            cfg,
		registry:       registry,
		store:          store,
		history:        history,
		subs:           subs,
		clock:          clock,
		msgLimiter:     NewRateLimiter(cfg.MsgLimit, cfg.MsgWindow, clock),
		passiveLimiter: NewRateLimiter(cfg.PassiveLimit, cfg.MsgWindow, clock),
		departures:     make(map[string]departure),
	}
}

// Run drives periodic room-state checkpoints until ctx is cancelled, then
// flushes every room and closes all connections.
func (h *SyncHandler) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Flush(context.Background())
			h.closeAll()
			return
		case <-ticker.Chan():
			h.Flush(ctx)
		}
	}
}

// Connect seats an authenticated client in its room and sends the INIT
// snapshot. A full registry refuses the connection; an existing seat for
// the same user is displaced and closed. A join racing an empty-room
// teardown re-verifies the room is still registered after seating and
// retries with a fresh room if it lost.
func (h *SyncHandler) Connect(c *Client) error {
	h.cancelDeparture(c.roomID, c.user)

	var room *Room
	var displaced *Client
	for {
		r, err := h.registry.GetOrCreate(c.roomID)
		if err != nil {
			log.Error().
				Str("user", c.user).
				Str("room", c.roomID).
				Msg("room limit reached, refusing connection")
			return err
		}
		displaced = r.Add(c.user, c)
		if cur, ok := h.registry.Get(c.roomID); ok && cur == r {
			room = r
			break
		}
		// Torn down between lookup and seating. Release the seat; the
		// next pass creates a fresh room.
		r.Remove(c.user, c)
	}

	if displaced != nil {
		log.Info().
			Str("user", c.user).
			Str("room", c.roomID).
			Msg("displacing previous connection")
		displaced.ClosePolicy("new connection")
	}

	room.SetSubtitleExists(h.subs.Exists(c.roomID))
	c.Enqueue(EncodeInit(room.Snapshot(), 0))

	log.Info().
		Str("user", c.user).
		Str("room", c.roomID).
		Str("conn", c.id).
		Msg("joined room")
	return nil
}

// Disconnect removes the client from its room exactly once and schedules
// the deferred departure. A displaced connection's late disconnect is a
// no-op because its seat already belongs to the replacement.
func (h *SyncHandler) Disconnect(c *Client) {
	room, ok := h.registry.Get(c.roomID)
	if !ok {
		return
	}
	if !room.Remove(c.user, c) {
		return
	}
	h.scheduleDeparture(room, c.user)
}

func (h *SyncHandler) scheduleDeparture(room *Room, user string) {
	key := room.ID() + "/" + user
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.departures[key]; ok {
		d.timer.Stop()
	}
	h.gen++
	gen := h.gen
	h.departures[key] = departure{
		gen: gen,
		timer: h.clock.AfterFunc(departureGrace, func() {
			h.completeDeparture(room.ID(), user, gen)
		}),
	}
}

func (h *SyncHandler) cancelDeparture(roomID, user string) {
	key := roomID + "/" + user
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.departures[key]; ok {
		d.timer.Stop()
		delete(h.departures, key)
	}
}

func (h *SyncHandler) completeDeparture(roomID, user string, gen uint64) {
	key := roomID + "/" + user
	h.mu.Lock()
	d, ok := h.departures[key]
	if !ok || d.gen != gen {
		// Cancelled by a reconnect after the timer fired, or superseded
		// by a newer timer for the same seat.
		h.mu.Unlock()
		return
	}
	delete(h.departures, key)
	h.mu.Unlock()

	log.Info().Str("user", user).Str("room", roomID).Msg("left room")

	room, ok := h.registry.Get(roomID)
	if !ok || room.MemberCount() > 0 || h.registry.Pinned(roomID) {
		return
	}
	// The checkpoint can block on the store; emptiness is re-verified
	// atomically with removal so a join landing meanwhile keeps the room.
	h.checkpointRoom(room)
	if h.registry.RemoveIfEmpty(room) {
		log.Info().Str("room", roomID).Msg("room removed (no connections)")
	}
}

// HandleFrame is the per-frame entry point from a connection's read loop.
// Oversized and malformed frames are dropped with the connection left
// open; rate-limited frames are dropped before any decode work.
func (h *SyncHandler) HandleFrame(c *Client, data []byte) {
	if len(data) > h.cfg.MaxFrameSize {
		log.Warn().
			Str("user", c.user).
			Str("room", c.roomID).
			Int("size", len(data)).
			Msg("dropping oversized frame")
		return
	}
	if !h.msgLimiter.Allow("msg:" + c.user + "@" + c.roomID) {
		log.Warn().
			Str("user", c.user).
			Str("room", c.roomID).
			Msg("rate limited")
		return
	}

	msg := Decode(data)
	if msg == nil {
		log.Warn().
			Str("user", c.user).
			Str("room", c.roomID).
			Msg("dropping malformed frame")
		return
	}

	room, ok := h.registry.Get(c.roomID)
	if !ok {
		return
	}

	switch m := msg.(type) {
	case SyncReqMsg:
		c.Enqueue(EncodeInit(room.Snapshot(), m.RequestID))

	case UptodateMsg:
		room.MarkUpToDate(c.user)

	case TimeMsg:
		h.handleTime(c, room, m)

	case StateMsg:
		h.handleState(c, room, m)

	case URLMsg:
		h.handleURL(c, room, m)

	case AuthMsg:
		// Handshake already happened; a second auth frame is noise.
		log.Debug().Str("user", c.user).Msg("ignoring repeated auth frame")
	}
}

func (h *SyncHandler) handleTime(c *Client, room *Room, m TimeMsg) {
	if m.Passive && !h.passiveLimiter.Allow("passive:"+c.user+"@"+c.roomID) {
		// Passive floods are dropped without an ACK; they never carry a
		// request the client waits on.
		return
	}
	if !room.ApplyTime(c.user, m.Position, m.Passive) {
		c.Enqueue(EncodeAck(false, m.RequestID, "not authorized"))
		return
	}
	room.Broadcast(c.user, EncodeTime(m.Position, 0, m.Passive))
	c.Enqueue(EncodeAck(true, m.RequestID, ""))
}

func (h *SyncHandler) handleState(c *Client, room *Room, m StateMsg) {
	if !room.ApplyState(c.user, m.Playing, m.Position) {
		c.Enqueue(EncodeAck(false, m.RequestID, "not authorized"))
		return
	}
	room.Broadcast(c.user, EncodeState(m.Playing, m.Position, 0))
	c.Enqueue(EncodeAck(true, m.RequestID, ""))
}

func (h *SyncHandler) handleURL(c *Client, room *Room, m URLMsg) {
	valid := validateURL(m.URL)
	h.recordHistory(c.roomID, c.user, m.URL, valid)

	if !valid {
		c.Enqueue(EncodeAck(false, m.RequestID, "invalid url"))
		return
	}
	if !room.ApplyURL(c.user, m.URL) {
		c.Enqueue(EncodeAck(false, m.RequestID, "not authorized"))
		return
	}
	h.subs.Delete(c.roomID)
	room.Broadcast(c.user, EncodeURL(m.URL, 0))
	c.Enqueue(EncodeAck(true, m.RequestID, ""))
}

var errInvalidURL = errors.New("invalid url")

// SetURL is the administrative entry point used by upload/control
// frontends: it applies a URL change to a room without a socket, bypassing
// the membership gate but still validating, recording history, clearing
// subtitles and marking every connection stale.
func (h *SyncHandler) SetURL(roomID, user, rawURL string) error {
	valid := validateURL(rawURL)
	h.recordHistory(roomID, user, rawURL, valid)
	if !valid {
		return errInvalidURL
	}
	room, err := h.registry.GetOrCreate(roomID)
	if err != nil {
		return err
	}
	room.ForceURL(user, rawURL)
	h.subs.Delete(roomID)
	room.Broadcast("", EncodeURL(rawURL, 0))
	return nil
}

// SetSubtitle stores a subtitle blob for a room, flips the room flag and
// announces it to every connection.
func (h *SyncHandler) SetSubtitle(roomID string, data []byte) error {
	if err := h.subs.Save(roomID, data); err != nil {
		return err
	}
	if room, ok := h.registry.Get(roomID); ok {
		room.SetSubtitleExists(true)
		room.Broadcast("", EncodeSubtitleFlag(true, 0))
	}
	return nil
}

// Hydrate loads persisted room snapshots into the registry at startup.
// Failures are logged and non-fatal.
func (h *SyncHandler) Hydrate(ctx context.Context) {
	states, err := h.store.LoadAllRoomStates(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load room states")
		return
	}
	loaded := 0
	for _, state := range states {
		if !validRoomID(state.RoomID) {
			continue
		}
		room, err := h.registry.GetOrCreate(state.RoomID)
		if err != nil {
			log.Warn().Str("room", state.RoomID).Msg("room limit reached during hydration")
			break
		}
		room.SetPlayback(PlaybackState{
			URL:            state.URL,
			Position:       state.Position,
			Playing:        state.Playing,
			SubtitleExists: state.SubtitleExists,
		})
		loaded++
	}
	log.Info().Int("rooms", loaded).Msg("hydrated room states")
}

// Flush checkpoints every live room. Failures are logged per room and do
// not stop the sweep.
func (h *SyncHandler) Flush(ctx context.Context) {
	rooms := h.registry.All()
	for _, room := range rooms {
		h.checkpointRoom(room)
	}
	log.Debug().Int("rooms", len(rooms)).Msg("checkpointed room states")
}

func (h *SyncHandler) checkpointRoom(room *Room) {
	state := room.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), collaboratorWait)
	defer cancel()
	err := h.store.SaveRoomState(ctx, RoomState{
		RoomID:         room.ID(),
		URL:            state.URL,
		Position:       state.Position,
		Playing:        state.Playing,
		SubtitleExists: state.SubtitleExists,
	})
	if err != nil {
		log.Error().Err(err).Str("room", room.ID()).Msg("failed to save room state")
	}
}

func (h *SyncHandler) recordHistory(roomID, user, rawURL string, accepted bool) {
	ctx, cancel := context.WithTimeout(context.Background(), collaboratorWait)
	defer cancel()
	if err := h.history.RecordURLChange(ctx, roomID, user, rawURL, accepted); err != nil {
		log.Error().Err(err).
			Str("room", roomID).
			Str("user", user).
			Msg("failed to record url change")
	}
}

// Stats reports live room and connection counts.
func (h *SyncHandler) Stats() (rooms, connections int) {
	all := h.registry.All()
	for _, room := range all {
		connections += room.MemberCount()
	}
	return len(all), connections
}

func (h *SyncHandler) closeAll() {
	for _, room := range h.registry.All() {
		for _, c := range room.Clients() {
			c.Close()
		}
	}
}

// validateURL accepts only https URLs of bounded length whose host is not
// a loopback or private-range address, so a shared session cannot be
// pointed at internal network resources.
func validateURL(raw string) bool {
	if raw == "" || len(raw) > maxURLLength {
		return false
	}
	if !strings.HasPrefix(raw, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	switch host {
	case "", "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return false
	}
	if strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "172.") || strings.HasPrefix(host, "192.168.") {
		return false
	}
	return true
}
