package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	cfg := LoadConfig()
	setupLogger(cfg)

	clock := clockwork.NewRealClock()
	registry := NewRegistry(cfg.MaxRooms, clock)

	var store RoomStateStore
	var history HistorySink
	if cfg.DatabaseURL != "" {
		pg, err := NewPostgresStore(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open postgres store")
		}
		defer pg.Close()
		store, history = pg, pg
	} else {
		log.Warn().Msg("no database configured, room state will not survive restarts")
		mem := NewMemoryStore()
		store, history = mem, mem
	}

	subs, err := NewFileSubtitleStore(cfg.SubtitleDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open subtitle store")
	}

	pubKey, err := base64.RawURLEncoding.DecodeString(cfg.AuthPublicKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid SYNC_AUTH_PUBKEY encoding")
	}
	auth, err := NewTokenAuth(pubKey)
	if err != nil {
		log.Fatal().Err(err).Msg("SYNC_AUTH_PUBKEY must be a base64url Ed25519 public key")
	}

	handler := NewSyncHandler(cfg, registry, store, history, subs, clock)
	handler.Hydrate(context.Background())
	setupPinnedRooms(cfg, registry)

	srv := NewServer(cfg, handler, auth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handler.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("shutting down...")
		cancel()
		srv.Shutdown()
	}()

	log.Info().Str("addr", cfg.Addr).Msg("sync server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}

func setupLogger(cfg *Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	parsed, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// setupPinnedRooms creates the administratively pinned rooms and seeds an
// initial URL for any that hydration left empty.
func setupPinnedRooms(cfg *Config, registry *Registry) {
	if cfg.PinnedRoomsFile == "" {
		return
	}
	pinned, err := LoadPinnedRooms(cfg.PinnedRoomsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load pinned rooms")
	}
	for _, p := range pinned {
		room, err := registry.GetOrCreate(p.ID)
		if err != nil {
			log.Fatal().Err(err).Str("room", p.ID).Msg("cannot create pinned room")
		}
		registry.Pin(p.ID)
		if p.URL != "" && room.Snapshot().URL == "" {
			room.SetPlayback(PlaybackState{URL: p.URL})
		}
		log.Info().Str("room", p.ID).Msg("pinned room ready")
	}
}
