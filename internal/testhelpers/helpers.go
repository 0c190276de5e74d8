// Package testhelpers provides common utilities for testing the relay end to end.
//
// It starts a complete relay (registry, hub, gateway and routes) behind an
// httptest server and offers small helpers to dial participants, send frames
// and read envelopes, so tests stay focused on the behaviour they check.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// Relay is a running relay for a single test.
type Relay struct {
	Server   *httptest.Server
	Registry *relay.Registry
	Hub      *relay.Hub
	Gateway  *server.Gateway
	Metrics  *relay.Metrics
	Prom     *prometheus.Registry
}

// StartRelay starts a relay with default settings, adjusted by the optional
// mutators, and stops it when the test ends.
func StartRelay(t *testing.T, mutators ...func(*config.Config)) *Relay {
	t.Helper()

	cfg := config.Default()
	cfg.WebSocket.AllowedOrigins = []string{TestOrigin}
	for _, mutate := range mutators {
		mutate(&cfg)
	}
	cfg = config.Sanitize(cfg)

	log := zerolog.Nop()
	prom := prometheus.NewRegistry()
	metrics := relay.NewMetrics(prom)
	registry := relay.NewRegistry(relay.WithEmptyRoomEviction(cfg.Registry.EvictEmptyRooms))
	hub := relay.NewHub(registry,
		relay.WithLogger(log),
		relay.WithMetrics(metrics),
		relay.WithSendBuffer(cfg.WebSocket.SendBuffer),
	)
	gateway := server.NewGateway(hub, cfg.WebSocket, log)
	mux := server.SetupRoutes(gateway, promhttp.HandlerFor(prom, promhttp.HandlerOpts{}))

	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = gateway.Shutdown(2 * time.Second)
	})

	return &Relay{
		Server:   ts,
		Registry: registry,
		Hub:      hub,
		Gateway:  gateway,
		Metrics:  metrics,
		Prom:     prom,
	}
}

// WebSocketURL builds the /ws URL for the given identity. Empty values are
// left out of the query entirely.
func (r *Relay) WebSocketURL(roomID, userID string) string {
	query := url.Values{}
	if roomID != "" {
		query.Set(server.RoomIDParam, roomID)
	}
	if userID != "" {
		query.Set(server.UserIDParam, userID)
	}
	base := "ws" + strings.TrimPrefix(r.Server.URL, "http") + "/ws"
	if encoded := query.Encode(); encoded != "" {
		return base + "?" + encoded
	}
	return base
}

// ConnectWebSocket dials url with the test origin. The handshake response is
// returned so callers can inspect rejections.
func ConnectWebSocket(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Connect joins userID to roomID and closes the connection when the test ends.
func (r *Relay) Connect(t *testing.T, roomID, userID string) *websocket.Conn {
	t.Helper()

	conn, _, err := ConnectWebSocket(r.WebSocketURL(roomID, userID))
	require.NoError(t, err, "connect %s/%s", roomID, userID)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendText sends a {"text": ...} frame.
func SendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"text": text}))
}

// SendRaw sends data as a single text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// ReceiveEnvelope reads the next frame and decodes it as an envelope.
func ReceiveEnvelope(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)

	var env relay.Envelope
	require.NoError(t, json.Unmarshal(data, &env), "frame %q", data)
	return env
}

// ExpectNoMessage fails if a frame arrives within timeout. The read deadline
// it sets poisons the gorilla connection, so call it last on a connection.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// WaitFor polls cond until it holds or the timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, timeout, 5*time.Millisecond, msg)
}
