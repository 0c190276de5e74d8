package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Gateway accepts WebSocket connections and joins them to their room. It owns
// the pump goroutines it starts so shutdown can wait for them.
type Gateway struct {
	hub      *relay.Hub
	origins  *OriginPolicy
	upgrader websocket.Upgrader
	cfg      config.WebSocketConfig
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGateway creates a gateway that registers connections with hub.
func NewGateway(hub *relay.Hub, cfg config.WebSocketConfig, log zerolog.Logger) *Gateway {
	origins := NewOriginPolicy(cfg.AllowedOrigins, log)
	ctx, cancel := context.WithCancel(context.Background())

	return &Gateway{
		hub:     hub,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is checked in ServeHTTP before the participant joins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeHTTP validates the identity query parameters and origin, joins the
// participant, upgrades the connection and starts its pumps. A request missing
// roomId or userId gets a bare 400 and is never upgraded.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	roomID := query.Get(RoomIDParam)
	userID := query.Get(UserIDParam)
	if err := relay.ValidateIdentity(roomID, userID); err != nil {
		g.hub.Reject(r.RemoteAddr, err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !g.origins.CheckOrigin(r) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	// Join before upgrading so the participant is in its room by the time the
	// peer sees the handshake complete.
	participant, err := g.hub.Join(roomID, userID)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		g.log.Debug().Err(err).Str(logging.FieldRemoteAddr, r.RemoteAddr).Msg("websocket upgrade failed")
		g.hub.Leave(participant)
		return
	}

	client := NewClient(conn, g.hub, participant, r.RemoteAddr, g.cfg, g.log)

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		client.writePump()
	}()
	go func() {
		defer g.wg.Done()
		client.readPump(g.ctx)
	}()
}

// Shutdown closes every participant so its write pump sends a close frame,
// then waits for all pump goroutines, or returns context.DeadlineExceeded
// once timeout elapses.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.log.Info().Msg("shutting down websocket gateway")

	g.hub.CloseAll()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.log.Info().Msg("websocket gateway shutdown completed")
		return nil
	case <-time.After(timeout):
		g.log.Warn().Dur("timeout", timeout).Msg("gateway shutdown timeout reached, some connections may still be open")
		return context.DeadlineExceeded
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomrelay is running!")
}
