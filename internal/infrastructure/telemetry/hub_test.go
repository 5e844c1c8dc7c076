package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roomwatch/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, sub Subscription, initial []domain.QualityReport) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, sub, initial)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func report(room, identity string, tier domain.QualityTier) domain.QualityReport {
	return domain.QualityReport{
		SessionID: domain.NewSessionID(room, identity),
		Room:      room,
		Identity:  identity,
		Tier:      tier,
		Label:     tier.Label(),
		Color:     tier.Color(),
	}
}

func TestHub_StreamsMatchingReports(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	initial := []domain.QualityReport{report("demo", "bob", domain.TierFair)}
	conn := dialHub(t, hub, Subscription{Room: "demo"}, initial)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Record(context.Background(), report("other", "carol", domain.TierBad)))
	require.NoError(t, hub.Record(context.Background(), report("demo", "alice", domain.TierGood)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var got domain.QualityReport
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "bob", got.Identity)
	assert.Equal(t, domain.TierFair, got.Tier)

	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "alice", got.Identity)
	assert.Equal(t, domain.TierGood, got.Tier)
	assert.Equal(t, "lightgreen", got.Color)
}

func TestHub_ClientRemovedOnDisconnect(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	conn := dialHub(t, hub, Subscription{Room: "demo", Identity: "alice"}, nil)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub(HubConfig{AllowedOrigins: []string{"https://app.example.com"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws/quality", nil)
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.checkOrigin(req))
}

func TestSubscription_Matches(t *testing.T) {
	room := Subscription{Room: "demo"}
	one := Subscription{Room: "demo", Identity: "alice"}

	assert.True(t, room.matches(report("demo", "bob", domain.TierGood)))
	assert.False(t, one.matches(report("demo", "bob", domain.TierGood)))
	assert.True(t, one.matches(report("demo", "alice", domain.TierGood)))
	assert.False(t, room.matches(report("other", "alice", domain.TierGood)))
}
