package domain

import (
	"fmt"
	"strings"
	"time"
)

// SessionID identifies one participant's transport session: "room/identity".
type SessionID string

func NewSessionID(room, identity string) SessionID {
	return SessionID(room + "/" + identity)
}

// Split returns the room and identity parts.
func (id SessionID) Split() (room, identity string, err error) {
	room, identity, ok := strings.Cut(string(id), "/")
	if !ok || room == "" || identity == "" {
		return "", "", fmt.Errorf("malformed session id %q", string(id))
	}
	return room, identity, nil
}

type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)

// Terminal reports whether the transport cannot recover from this state.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionStateFailed || s == ConnectionStateClosed
}

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackInfo describes a remote track the session subscribed to.
type TrackInfo struct {
	ID       string    `json:"id"`
	StreamID string    `json:"stream_id"`
	Kind     TrackKind `json:"kind"`
	Codec    string    `json:"codec"`
}

// QualityReport is the per-tick output of a session monitor.
type QualityReport struct {
	SessionID SessionID    `json:"session_id"`
	Room      string       `json:"room"`
	Identity  string       `json:"identity"`
	Sequence  uint64       `json:"sequence"`
	Metrics   MetricWindow `json:"metrics"`
	Tier      QualityTier  `json:"tier"`
	Label     string       `json:"label"`
	Color     string       `json:"color"`
	Timestamp time.Time    `json:"timestamp"`
}
