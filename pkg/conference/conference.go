// Package conference issues access tokens for a LiveKit compatible media server
package conference

import (
	"fmt"
	"github.com/golang-jwt/jwt/v5"
	"strings"
	"syncstream.me/model"
	"time"
)

const DefaultTokenTTL = 6 * time.Hour

type (
	// VideoGrant is the room permission set understood by the media server
	VideoGrant struct {
		Room           string `json:"room"`
		RoomJoin       bool   `json:"roomJoin"`
		CanPublish     bool   `json:"canPublish"`
		CanSubscribe   bool   `json:"canSubscribe"`
		CanPublishData bool   `json:"canPublishData"`
	}

	Claims struct {
		jwt.RegisteredClaims
		Name  string      `json:"name,omitempty"`
		Video *VideoGrant `json:"video,omitempty"`
	}

	Bridge struct {
		apiKey    string
		apiSecret string
		serverURL string
		ttl       time.Duration
		now       func() time.Time
	}
)

func New(apiKey, apiSecret, serverURL string, ttl time.Duration) *Bridge {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Bridge{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		serverURL: serverURL,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Configured reports whether tokens can be issued
func (b *Bridge) Configured() bool {
	return b.apiKey != "" && b.apiSecret != ""
}

// ServerURL is the media server address clients connect to
func (b *Bridge) ServerURL() string {
	return b.serverURL
}

// IssueToken grants identity the right to join, publish and subscribe in
// roomName. Without credentials it fails with model.ErrUnconfigured.
func (b *Bridge) IssueToken(roomName, identity, name string) (string, error) {
	if !b.Configured() {
		return "", fmt.Errorf("conference: %w", model.ErrUnconfigured)
	}
	if strings.TrimSpace(roomName) == "" || strings.TrimSpace(identity) == "" {
		return "", fmt.Errorf("%w: room name and identity are required", model.ErrInvalid)
	}

	now := b.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.apiKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.ttl)),
		},
		Name: name,
		Video: &VideoGrant{
			Room:           roomName,
			RoomJoin:       true,
			CanPublish:     true,
			CanSubscribe:   true,
			CanPublishData: true,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(b.apiSecret))
}

// Verify parses a token issued by this bridge
func (b *Bridge) Verify(token string) (*Claims, error) {
	if !b.Configured() {
		return nil, fmt.Errorf("conference: %w", model.ErrUnconfigured)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(b.apiSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(b.apiKey),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAuthFailure, err)
	}
	return claims, nil
}
