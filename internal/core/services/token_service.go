package services

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
	ErrMissingCredential = errors.New("api key and secret must be configured")
	ErrMissingRoom       = errors.New("room is required")
	ErrMissingIdentity   = errors.New("identity is required")
)

// TokenService mints and verifies room access tokens.
type TokenService interface {
	Issue(room, identity string) (string, error)
	Validate(tokenString string) (*Claims, error)
}

// VideoGrant mirrors the media service's room permissions.
type VideoGrant struct {
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	Room         string `json:"room,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

// Claims is the token payload: iss is the API key, sub the participant
// identity.
type Claims struct {
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the participant the token was issued to.
func (c *Claims) Identity() string {
	return c.Subject
}

// Room returns the room the token grants access to.
func (c *Claims) Room() string {
	if c.Video == nil {
		return ""
	}
	return c.Video.Room
}

type tokenService struct {
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenService(apiKey, apiSecret string, ttl time.Duration) TokenService {
	return &tokenService{
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Issue signs a token that lets identity join, publish and subscribe in room.
func (s *tokenService) Issue(room, identity string) (string, error) {
	room = strings.TrimSpace(room)
	identity = strings.TrimSpace(identity)
	if room == "" {
		return "", ErrMissingRoom
	}
	if identity == "" {
		return "", ErrMissingIdentity
	}
	if s.apiKey == "" || len(s.apiSecret) == 0 {
		return "", ErrMissingCredential
	}

	allow := true
	now := s.now()
	claims := &Claims{
		Name: identity,
		Video: &VideoGrant{
			RoomJoin:     true,
			Room:         room,
			CanPublish:   &allow,
			CanSubscribe: &allow,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.apiKey,
			Subject:   identity,
			ID:        identity,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.apiSecret)
}

func (s *tokenService) Validate(tokenString string) (*Claims, error) {
	if len(s.apiSecret) == 0 {
		return nil, ErrMissingCredential
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.apiSecret, nil
	}, jwt.WithIssuer(s.apiKey), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
