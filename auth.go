package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Identity is what the auth collaborator hands the sync core: who the
// participant is and which room it may join. The core trusts it for the
// lifetime of the connection.
type Identity struct {
	User   string
	RoomID string
}

// Authenticator resolves the bearer token from the handshake frame.
// Credential issuance lives outside this server; only verification happens
// here.
type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

// Claims represents the JWT payload for watch sessions.
type Claims struct {
	User      string `json:"user"`
	RoomID    string `json:"room_id"`
	CreatedAt int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// jwtHeaderB64 is the fixed header for Ed25519-signed JWTs.
var jwtHeaderB64 = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA","typ":"JWT"}`))

// TokenAuth verifies Ed25519-signed bearer tokens against a single server
// public key.
type TokenAuth struct {
	pubKey ed25519.PublicKey
}

func NewTokenAuth(pubKey []byte) (*TokenAuth, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key size")
	}
	return &TokenAuth{pubKey: ed25519.PublicKey(pubKey)}, nil
}

func (a *TokenAuth) Authenticate(token string) (Identity, error) {
	claims, err := a.validateJWT(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{User: claims.User, RoomID: claims.RoomID}, nil
}

func (a *TokenAuth) validateJWT(tokenStr string) (*Claims, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return nil, errors.New("malformed JWT")
	}

	if parts[0] != jwtHeaderB64 {
		return nil, errors.New("unsupported JWT algorithm")
	}

	signingInput := parts[0] + "." + parts[1]
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}

	if !ed25519.Verify(a.pubKey, []byte(signingInput), sig) {
		return nil, errors.New("invalid signature")
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid claims encoding: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("invalid claims JSON: %w", err)
	}

	if claims.ExpiresAt > 0 && time.Now().Unix() > claims.ExpiresAt {
		return nil, errors.New("token expired")
	}

	if claims.User == "" {
		return nil, errors.New("missing user")
	}
	if claims.RoomID == "" {
		return nil, errors.New("missing room_id")
	}

	return &claims, nil
}

// SignJWT creates a JWT signed with Ed25519 (done by the credential
// service, not this server). Included here for testing convenience.
func SignJWT(claims *Claims, privateKey ed25519.PrivateKey) string {
	claimsJSON, _ := json.Marshal(claims)
	payloadB64 := base64.RawURLEncoding.EncodeToString(claimsJSON)
	signingInput := jwtHeaderB64 + "." + payloadB64
	sig := ed25519.Sign(privateKey, []byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}
