package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string
	TLSCert         string
	TLSKey          string
	MaxRooms        int
	MaxFrameSize    int
	MsgLimit        int
	MsgWindow       time.Duration
	PassiveLimit    int
	LoginLimit      int
	LoginWindow     time.Duration
	DatabaseURL     string
	SubtitleDir     string
	AuthPublicKey   string
	PinnedRoomsFile string
	LogLevel        string
	LogPretty       bool
}

func LoadConfig() *Config {
	return &Config{
		Addr:            envStr("SYNC_ADDR", ":8443"),
		TLSCert:         envStr("SYNC_TLS_CERT", ""),
		TLSKey:          envStr("SYNC_TLS_KEY", ""),
		MaxRooms:        envInt("SYNC_MAX_ROOMS", 1000),
		MaxFrameSize:    envInt("SYNC_MAX_FRAME_SIZE", 65536),
		MsgLimit:        envInt("SYNC_MSG_LIMIT", 100),
		MsgWindow:       time.Duration(envInt("SYNC_MSG_WINDOW", 10)) * time.Second,
		PassiveLimit:    envInt("SYNC_PASSIVE_LIMIT", 300),
		LoginLimit:      envInt("SYNC_LOGIN_LIMIT", 30),
		LoginWindow:     time.Duration(envInt("SYNC_LOGIN_WINDOW", 60)) * time.Second,
		DatabaseURL:     envStr("SYNC_DATABASE_URL", ""),
		SubtitleDir:     envStr("SYNC_SUBTITLE_DIR", "subtitles"),
		AuthPublicKey:   envStr("SYNC_AUTH_PUBKEY", ""),
		PinnedRoomsFile: envStr("SYNC_PINNED_ROOMS", ""),
		LogLevel:        envStr("SYNC_LOG_LEVEL", "info"),
		LogPretty:       envStr("SYNC_LOG_PRETTY", "") == "true",
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// PinnedRoom is a room created at startup and never torn down when empty.
type PinnedRoom struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url,omitempty"`
}

type pinnedRoomsFile struct {
	Rooms []PinnedRoom `yaml:"rooms"`
}

// LoadPinnedRooms parses the optional YAML pinned-rooms file. Entries with
// an invalid room id are rejected rather than skipped so a typo is caught
// at startup.
func LoadPinnedRooms(path string) ([]PinnedRoom, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pinned rooms file: %w", err)
	}
	var file pinnedRoomsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pinned rooms file: %w", err)
	}
	for _, room := range file.Rooms {
		if !validRoomID(room.ID) {
			return nil, fmt.Errorf("invalid pinned room id %q", room.ID)
		}
	}
	return file.Rooms, nil
}
