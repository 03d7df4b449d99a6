// E2E test: connects two clients through a live sync server and walks the
// binary protocol end to end — handshake, catch-up, an accepted update, a
// stale rejection and a URL change.
// Usage: go run ./cmd/e2etest -server ws://localhost:8443/sync -key <base64 ed25519 private key>
package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

var (
	serverURL = flag.String("server", "ws://localhost:8443/sync", "sync server WebSocket URL")
	keyB64    = flag.String("key", "", "base64 Ed25519 private key matching the server's SYNC_AUTH_PUBKEY")
)

const (
	opAuth     = 0x00
	opTime     = 0x01
	opState    = 0x02
	opURL      = 0x03
	opInit     = 0x05
	opAck      = 0x06
	opUptodate = 0x07
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if *keyB64 == "" {
		log.Fatal("missing -key (base64 ed25519 private key)")
	}
	keyBytes, err := base64.RawURLEncoding.DecodeString(*keyB64)
	if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
		log.Fatal("invalid -key: want base64url raw ed25519 private key")
	}
	privKey := ed25519.PrivateKey(keyBytes)

	roomID := "e2e-test-room"

	// --- Connect alice ---
	log.Println(">> Connecting alice...")
	alice := connect(*serverURL, signJWT(&claims{
		User:      "alice",
		RoomID:    roomID,
		CreatedAt: time.Now().Unix(),
		ExpiresAt: time.Now().Add(1 * time.Hour).Unix(),
	}, privKey))
	defer alice.Close()
	log.Println("   Alice joined ✓")

	// --- Connect bob ---
	log.Println(">> Connecting bob...")
	bob := connect(*serverURL, signJWT(&claims{
		User:      "bob",
		RoomID:    roomID,
		CreatedAt: time.Now().Unix(),
		ExpiresAt: time.Now().Add(1 * time.Hour).Unix(),
	}, privKey))
	defer bob.Close()
	log.Println("   Bob joined ✓")

	// --- Alice catches up and plays at position 10 ---
	log.Println(">> Alice catching up and setting state...")
	send(alice, []byte{opUptodate, 0})
	send(alice, encodeState(true, 10, 1))
	expectAck(alice, true, "alice state")
	log.Println("   Accepted ✓")

	log.Println(">> Bob waiting for state broadcast...")
	frame := read(bob)
	if !bytes.Equal(frame, encodeState(true, 10, 0)) {
		log.Fatalf("bob got % x, want state broadcast", frame)
	}
	log.Println("   Received ✓")

	// --- Bob is stale: his seek must be rejected ---
	log.Println(">> Bob seeking while stale...")
	send(bob, encodeTime(50, 2))
	expectAck(bob, false, "bob stale seek")
	log.Println("   Rejected ✓")

	// --- Bob catches up and seeks; alice receives it ---
	log.Println(">> Bob catching up and seeking...")
	send(bob, []byte{opUptodate, 0})
	send(bob, encodeTime(12, 3))
	expectAck(bob, true, "bob seek")
	frame = read(alice)
	if !bytes.Equal(frame, encodeTime(12, 0)) {
		log.Fatalf("alice got % x, want time broadcast", frame)
	}
	log.Println("   Propagated ✓")

	// --- Alice changes the video URL; bob goes stale and gets the frame ---
	videoURL := "https://example.com/feature.mp4"
	log.Println(">> Alice changing URL...")
	send(alice, encodeURL(videoURL, 4))
	expectAck(alice, true, "alice url")
	frame = read(bob)
	if !bytes.Equal(frame, encodeURL(videoURL, 0)) {
		log.Fatalf("bob got % x, want url broadcast", frame)
	}
	send(bob, encodeTime(0, 5))
	expectAck(bob, false, "bob post-url seek")
	log.Println("   URL change propagated, bob demoted ✓")

	// --- Done ---
	fmt.Println()
	log.Println("═══════════════════════════════")
	log.Println("  E2E TEST PASSED ✓")
	log.Println("═══════════════════════════════")
	os.Exit(0)
}

// connect dials, sends the auth frame and consumes the success ACK and the
// INIT snapshot.
func connect(baseURL, token string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(baseURL, nil)
	if err != nil {
		log.Fatal("dial:", err)
	}

	auth := make([]byte, 4+len(token))
	auth[0] = opAuth
	binary.BigEndian.PutUint16(auth[2:4], uint16(len(token)))
	copy(auth[4:], token)
	send(conn, auth)

	ack := read(conn)
	if ack[0] != opAck || ack[2] != 1 {
		log.Fatalf("handshake refused: % x", ack)
	}
	if init := read(conn); init[0] != opInit {
		log.Fatalf("expected INIT, got % x", init)
	}
	return conn
}

func send(conn *websocket.Conn, data []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		log.Fatal("write:", err)
	}
}

func read(conn *websocket.Conn) []byte {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Fatal("read:", err)
	}
	return data
}

func expectAck(conn *websocket.Conn, success bool, step string) {
	ack := read(conn)
	if ack[0] != opAck {
		log.Fatalf("%s: expected ack, got % x", step, ack)
	}
	want := byte(0)
	if success {
		want = 1
	}
	if ack[2] != want {
		log.Fatalf("%s: ack status %d, want %d", step, ack[2], want)
	}
}

func encodeTime(position uint32, requestID byte) []byte {
	buf := make([]byte, 6)
	buf[0] = opTime
	buf[1] = requestID
	binary.BigEndian.PutUint32(buf[2:], position)
	return buf
}

func encodeState(playing bool, position uint32, requestID byte) []byte {
	buf := make([]byte, 7)
	buf[0] = opState
	buf[1] = requestID
	if playing {
		buf[2] = 1
	}
	binary.BigEndian.PutUint32(buf[3:], position)
	return buf
}

func encodeURL(url string, requestID byte) []byte {
	buf := make([]byte, 4+len(url))
	buf[0] = opURL
	buf[1] = requestID
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(url)))
	copy(buf[4:], url)
	return buf
}

type claims struct {
	User      string `json:"user"`
	RoomID    string `json:"room_id"`
	CreatedAt int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

var jwtHeaderB64 = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA","typ":"JWT"}`))

func signJWT(c *claims, privKey ed25519.PrivateKey) string {
	claimsJSON, _ := json.Marshal(c)
	payloadB64 := base64.RawURLEncoding.EncodeToString(claimsJSON)
	signingInput := jwtHeaderB64 + "." + payloadB64
	sig := ed25519.Sign(privKey, []byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}
