package channel

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagate/internal/domain"
	"wagate/internal/notify"
)

func newStreamServer(t *testing.T) (*Server, *notify.Hub, *httptest.Server) {
	t.Helper()
	hub := notify.NewHub(notify.Config{})
	s := NewServer(ServerConfig{
		Hub:    hub,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	t.Cleanup(ts.Close)
	return s, hub, ts
}

func dialStream(t *testing.T, ts *httptest.Server, tenantID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http", "ws", 1) + "?tenant_id=" + tenantID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStream_DeliversEvents(t *testing.T) {
	_, hub, ts := newStreamServer(t)
	conn := dialStream(t, ts, "t1")

	// The subscription is registered before the upgrade returns, but give the
	// handler goroutine a moment on loaded machines.
	waitSubscribed(t, hub, "t1")

	hub.Publish("t1", domain.Event{
		Type:      domain.EventQRIssued,
		SessionID: "s1",
		Payload:   map[string]any{"qrCode": "tok"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame EventFrame
	require.NoError(t, conn.ReadJSON(&frame))

	assert.Equal(t, string(domain.EventQRIssued), frame.Type)
	assert.Equal(t, "s1", frame.SessionID)
	assert.Equal(t, "tok", frame.Payload["qrCode"])
	assert.False(t, frame.Timestamp.IsZero())
}

func TestStream_RequiresTenantID(t *testing.T) {
	_, _, ts := newStreamServer(t)

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStream_UnsubscribesOnDisconnect(t *testing.T) {
	_, hub, ts := newStreamServer(t)
	conn := dialStream(t, ts, "t1")
	waitSubscribed(t, hub, "t1")

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount("t1") == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("subscription leaked after disconnect")
}

func waitSubscribed(t *testing.T, hub *notify.Hub, tenantID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(tenantID) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("stream never subscribed")
}
