package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RoomState is the coarse per-room snapshot that survives restarts.
type RoomState struct {
	RoomID         string
	URL            string
	Position       uint32
	Playing        bool
	SubtitleExists bool
}

// RoomStateStore persists room snapshots. Calls are best-effort: a failure
// is logged and the in-memory state stays authoritative for the running
// process.
type RoomStateStore interface {
	SaveRoomState(ctx context.Context, state RoomState) error
	LoadAllRoomStates(ctx context.Context) ([]RoomState, error)
}

// HistorySink records every URL change attempt, accepted or not.
type HistorySink interface {
	RecordURLChange(ctx context.Context, roomID, user, url string, accepted bool) error
}

// PostgresStore backs RoomStateStore and HistorySink with Postgres so
// room state survives process restarts and URL history is queryable.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS room_playback (
	room_id         TEXT PRIMARY KEY,
	url             TEXT NOT NULL DEFAULT '',
	position        BIGINT NOT NULL DEFAULT 0,
	is_playing      BOOLEAN NOT NULL DEFAULT FALSE,
	subtitle_exists BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS room_history (
	id       BIGSERIAL PRIMARY KEY,
	room_id  TEXT NOT NULL,
	username TEXT NOT NULL,
	url      TEXT NOT NULL,
	accepted BOOLEAN NOT NULL,
	at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRoomState(ctx context.Context, state RoomState) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO room_playback (room_id, url, position, is_playing, subtitle_exists, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (room_id) DO UPDATE SET
	url = EXCLUDED.url,
	position = EXCLUDED.position,
	is_playing = EXCLUDED.is_playing,
	subtitle_exists = EXCLUDED.subtitle_exists,
	updated_at = now()
`, state.RoomID, state.URL, int64(state.Position), state.Playing, state.SubtitleExists)
	if err != nil {
		return fmt.Errorf("save room state %s: %w", state.RoomID, err)
	}
	return nil
}

func (s *PostgresStore) LoadAllRoomStates(ctx context.Context) ([]RoomState, error) {
	rows, err := s.pool.Query(ctx, `
SELECT room_id, url, position, is_playing, subtitle_exists FROM room_playback
`)
	if err != nil {
		return nil, fmt.Errorf("load room states: %w", err)
	}
	defer rows.Close()

	var states []RoomState
	for rows.Next() {
		var state RoomState
		var position int64
		if err := rows.Scan(&state.RoomID, &state.URL, &position, &state.Playing, &state.SubtitleExists); err != nil {
			return nil, fmt.Errorf("scan room state: %w", err)
		}
		if position < 0 {
			position = 0
		}
		state.Position = uint32(position)
		states = append(states, state)
	}
	return states, rows.Err()
}

func (s *PostgresStore) RecordURLChange(ctx context.Context, roomID, user, url string, accepted bool) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO room_history (room_id, username, url, accepted) VALUES ($1, $2, $3, $4)
`, roomID, user, url, accepted)
	if err != nil {
		return fmt.Errorf("record url change: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// MemoryStore keeps snapshots and history in process memory. It serves
// tests and DB-less deployments, where losing state on restart is
// acceptable.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[string]RoomState
	history []URLChange
}

type URLChange struct {
	RoomID   string
	User     string
	URL      string
	Accepted bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]RoomState)}
}

func (s *MemoryStore) SaveRoomState(_ context.Context, state RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RoomID] = state
	return nil
}

func (s *MemoryStore) LoadAllRoomStates(_ context.Context) ([]RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]RoomState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	return states, nil
}

func (s *MemoryStore) RecordURLChange(_ context.Context, roomID, user, url string, accepted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, URLChange{RoomID: roomID, User: user, URL: url, Accepted: accepted})
	return nil
}

// History returns a copy of the recorded URL change attempts.
func (s *MemoryStore) History() []URLChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]URLChange, len(s.history))
	copy(out, s.history)
	return out
}
