package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"SYNC_ADDR", "SYNC_MAX_ROOMS", "SYNC_MSG_LIMIT", "SYNC_MSG_WINDOW"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	if cfg.Addr != ":8443" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.MaxRooms != 1000 {
		t.Errorf("MaxRooms = %d", cfg.MaxRooms)
	}
	if cfg.MaxFrameSize != 65536 {
		t.Errorf("MaxFrameSize = %d", cfg.MaxFrameSize)
	}
	if cfg.MsgLimit != 100 || cfg.MsgWindow != 10*time.Second {
		t.Errorf("message limit = %d/%v", cfg.MsgLimit, cfg.MsgWindow)
	}
	if cfg.LoginLimit != 30 || cfg.LoginWindow != time.Minute {
		t.Errorf("login limit = %d/%v", cfg.LoginLimit, cfg.LoginWindow)
	}
	if cfg.PassiveLimit != 300 {
		t.Errorf("PassiveLimit = %d", cfg.PassiveLimit)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SYNC_ADDR", ":9000")
	t.Setenv("SYNC_MAX_ROOMS", "5")
	t.Setenv("SYNC_MSG_WINDOW", "30")
	t.Setenv("SYNC_LOG_LEVEL", "debug")

	cfg := LoadConfig()
	if cfg.Addr != ":9000" || cfg.MaxRooms != 5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MsgWindow != 30*time.Second {
		t.Errorf("MsgWindow = %v", cfg.MsgWindow)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadConfig_BadIntFallsBack(t *testing.T) {
	t.Setenv("SYNC_MAX_ROOMS", "not-a-number")
	if cfg := LoadConfig(); cfg.MaxRooms != 1000 {
		t.Errorf("MaxRooms = %d, want fallback 1000", cfg.MaxRooms)
	}
}

func TestLoadPinnedRooms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinned.yaml")
	content := `rooms:
  - id: lounge
    url: https://example.com/ambient.mp4
  - id: movie-night
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rooms, err := LoadPinnedRooms(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(rooms))
	}
	if rooms[0].ID != "lounge" || rooms[0].URL != "https://example.com/ambient.mp4" {
		t.Errorf("rooms[0] = %+v", rooms[0])
	}
	if rooms[1].ID != "movie-night" || rooms[1].URL != "" {
		t.Errorf("rooms[1] = %+v", rooms[1])
	}
}

func TestLoadPinnedRooms_InvalidID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinned.yaml")
	if err := os.WriteFile(path, []byte("rooms:\n  - id: \"bad id!\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPinnedRooms(path); err == nil {
		t.Error("invalid room id should fail loading")
	}
}

func TestLoadPinnedRooms_MissingFile(t *testing.T) {
	if _, err := LoadPinnedRooms(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should fail loading")
	}
}
