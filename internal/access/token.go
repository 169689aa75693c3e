package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSigningDisabled = errors.New("access token signing is not configured")
	ErrInvalidToken    = errors.New("invalid access token")
)

// VideoGrant is the room permission set carried by an access token.
type VideoGrant struct {
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	RoomAdmin    bool   `json:"roomAdmin,omitempty"`
	Room         string `json:"room,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

// Claims is the JWT body understood by the media server.
type Claims struct {
	jwt.RegisteredClaims
	Name     string      `json:"name,omitempty"`
	Video    *VideoGrant `json:"video,omitempty"`
	Metadata string      `json:"metadata,omitempty"`
}

// Signer mints HS256 access tokens with an API key/secret pair.
type Signer struct {
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewSigner(apiKey, apiSecret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{
		apiKey:    strings.TrimSpace(apiKey),
		apiSecret: []byte(strings.TrimSpace(apiSecret)),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *Signer) Enabled() bool {
	return s != nil && s.apiKey != "" && len(s.apiSecret) > 0
}

// RoomToken grants identity join, publish and subscribe on room.
func (s *Signer) RoomToken(identity, name, room string) (string, error) {
	yes := true
	return s.sign(identity, name, &VideoGrant{
		RoomJoin:     true,
		Room:         room,
		CanPublish:   &yes,
		CanSubscribe: &yes,
	})
}

// AdminToken grants administrative rights on room, used for agent dispatch.
func (s *Signer) AdminToken(room string) (string, error) {
	return s.sign("", "", &VideoGrant{RoomAdmin: true, Room: room})
}

func (s *Signer) sign(identity, name string, grant *VideoGrant) (string, error) {
	if !s.Enabled() {
		return "", ErrSigningDisabled
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Name:  name,
		Video: grant,
	}
	if identity != "" {
		claims.ID = identity
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.apiSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify parses a token minted by this signer.
func (s *Signer) Verify(token string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrSigningDisabled
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.apiSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.apiKey),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
