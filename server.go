package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// authWait bounds how long a fresh connection may sit silent before its
// handshake frame arrives.
const authWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	cfg     *Config
	handler *SyncHandler
	auth    Authenticator
	srv     *http.Server
	limiter *RateLimiter
}

func NewServer(cfg *Config, handler *SyncHandler, auth Authenticator) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		auth:    auth,
		limiter: NewRateLimiter(cfg.LoginLimit, cfg.LoginWindow, handler.clock),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/sync", s.handleSync)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) ListenAndServe() error {
	if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		log.Info().Str("cert", s.cfg.TLSCert).Msg("TLS enabled")
		return s.srv.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	}
	log.Info().Msg("TLS disabled (no cert/key configured)")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rooms, connections := s.handler.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"rooms":       rooms,
		"connections": connections,
	})
}

// handleSync upgrades the connection and runs the handshake: the first
// frame must be an auth frame whose token resolves to a (user, room)
// identity. Anything else gets a failure ACK and a policy-violation close.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.Allow("auth:" + ip) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("upgrade error")
		return
	}

	identity, ok := s.handshake(conn)
	if !ok {
		conn.Close()
		return
	}

	client := NewClient(conn, identity.User, identity.RoomID)
	if err := s.handler.Connect(client); err != nil {
		refuse(conn, "room limit reached")
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(s.handler)
}

func (s *Server) handshake(conn *websocket.Conn) (Identity, bool) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(authWait))

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Debug().Err(err).Msg("handshake read error")
		return Identity{}, false
	}
	_ = conn.SetReadDeadline(time.Time{})

	msg, ok := Decode(data).(AuthMsg)
	if !ok {
		refuse(conn, "auth required")
		return Identity{}, false
	}

	identity, err := s.auth.Authenticate(msg.Token)
	if err != nil {
		log.Info().Err(err).Msg("rejected handshake")
		refuse(conn, "invalid token")
		return Identity{}, false
	}

	if !validRoomID(identity.RoomID) {
		refuse(conn, "invalid room format")
		return Identity{}, false
	}

	ack := EncodeAck(true, msg.RequestID, "")
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, ack); err != nil {
		return Identity{}, false
	}
	return identity, true
}

// refuse sends a failure ACK followed by a policy-violation close frame.
func refuse(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.BinaryMessage, EncodeAck(false, 0, reason))
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
