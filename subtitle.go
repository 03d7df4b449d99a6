package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

const maxSubtitleSize = 10 * 1024 * 1024

// roomIDPattern keys every external lookup — subtitle paths included — so
// a room id is never allowed to escape into the filesystem.
var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func validRoomID(roomID string) bool {
	return roomIDPattern.MatchString(roomID)
}

var errSubtitleTooLarge = errors.New("subtitle too large")

// SubtitleStore holds at most one subtitle blob per room.
type SubtitleStore interface {
	Save(roomID string, data []byte) error
	Load(roomID string) ([]byte, error)
	Delete(roomID string) bool
	Exists(roomID string) bool
}

// FileSubtitleStore keeps subtitles as <dir>/<roomID>.vtt.
type FileSubtitleStore struct {
	dir string
}

func NewFileSubtitleStore(dir string) (*FileSubtitleStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create subtitle dir: %w", err)
	}
	return &FileSubtitleStore{dir: dir}, nil
}

func (s *FileSubtitleStore) path(roomID string) string {
	return filepath.Join(s.dir, roomID+".vtt")
}

func (s *FileSubtitleStore) Save(roomID string, data []byte) error {
	if !validRoomID(roomID) {
		return fmt.Errorf("invalid room id %q", roomID)
	}
	if len(data) > maxSubtitleSize {
		return errSubtitleTooLarge
	}
	if err := os.WriteFile(s.path(roomID), data, 0o644); err != nil {
		return fmt.Errorf("save subtitle for %s: %w", roomID, err)
	}
	return nil
}

func (s *FileSubtitleStore) Load(roomID string) ([]byte, error) {
	if !validRoomID(roomID) {
		return nil, fmt.Errorf("invalid room id %q", roomID)
	}
	data, err := os.ReadFile(s.path(roomID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load subtitle for %s: %w", roomID, err)
	}
	return data, nil
}

func (s *FileSubtitleStore) Delete(roomID string) bool {
	if !validRoomID(roomID) {
		return false
	}
	return os.Remove(s.path(roomID)) == nil
}

func (s *FileSubtitleStore) Exists(roomID string) bool {
	if !validRoomID(roomID) {
		return false
	}
	_, err := os.Stat(s.path(roomID))
	return err == nil
}

// MemorySubtitleStore is the in-process variant used in tests.
type MemorySubtitleStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemorySubtitleStore() *MemorySubtitleStore {
	return &MemorySubtitleStore{blobs: make(map[string][]byte)}
}

func (s *MemorySubtitleStore) Save(roomID string, data []byte) error {
	if !validRoomID(roomID) {
		return fmt.Errorf("invalid room id %q", roomID)
	}
	if len(data) > maxSubtitleSize {
		return errSubtitleTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[roomID] = append([]byte(nil), data...)
	return nil
}

func (s *MemorySubtitleStore) Load(roomID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.blobs[roomID]; ok {
		return append([]byte(nil), data...), nil
	}
	return nil, nil
}

func (s *MemorySubtitleStore) Delete(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[roomID]; !ok {
		return false
	}
	delete(s.blobs, roomID)
	return true
}

func (s *MemorySubtitleStore) Exists(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[roomID]
	return ok
}
