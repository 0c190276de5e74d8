package server_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/testhelpers"
)

// TestHealthHandler tests the health handler in isolation.
// It responds the same way regardless of method.
func TestHealthHandler(t *testing.T) {
	methods := []string{http.MethodGet, http.MethodPost, http.MethodHead}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/", http.NoBody)
			rr := httptest.NewRecorder()

			server.HealthHandler(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			require.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
			require.Equal(t, "roomrelay is running!", rr.Body.String())
		})
	}
}

// TestSetupRoutes checks that every route is registered and that /metrics is
// only mounted when a handler is supplied.
func TestSetupRoutes(t *testing.T) {
	gateway := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metrics")
	})

	tests := []struct {
		name       string
		metrics    http.Handler
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "root", path: "/", wantStatus: http.StatusOK, wantBody: "roomrelay is running!"},
		{name: "healthz", path: "/healthz", wantStatus: http.StatusOK, wantBody: "roomrelay is running!"},
		{name: "websocket", path: "/ws", wantStatus: http.StatusTeapot},
		{name: "metrics mounted", metrics: metrics, path: "/metrics", wantStatus: http.StatusOK, wantBody: "metrics"},
		{name: "metrics absent falls back to root", path: "/metrics", wantStatus: http.StatusOK, wantBody: "roomrelay is running!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := server.SetupRoutes(gateway, tt.metrics)
			rr := httptest.NewRecorder()

			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantBody != "" {
				require.Equal(t, tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestCreateServer(t *testing.T) {
	handler := http.NewServeMux()
	srv := server.CreateServer("127.0.0.1:0", handler, zerolog.Nop())

	require.Equal(t, "127.0.0.1:0", srv.Addr)
	require.Same(t, handler, srv.Handler)
	require.Equal(t, 10*time.Second, srv.ReadHeaderTimeout)
	require.Equal(t, 15*time.Second, srv.ReadTimeout)
	require.Equal(t, 15*time.Second, srv.WriteTimeout)
	require.Equal(t, 60*time.Second, srv.IdleTimeout)
	require.NotNil(t, srv.ErrorLog)
}

func TestStartAndShutdownServer(t *testing.T) {
	srv := server.CreateServer("127.0.0.1:0", http.NewServeMux(), zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- server.StartServer(srv, zerolog.Nop()) }()

	// Give ListenAndServe a moment; Shutdown before it starts is also clean.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.ShutdownServer(srv, time.Second, zerolog.Nop()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartServer did not return after shutdown")
	}
}

// TestMetricsEndpoint scrapes /metrics after some traffic and looks for the
// relay series.
func TestMetricsEndpoint(t *testing.T) {
	rl := testhelpers.StartRelay(t)
	conn := rl.Connect(t, "r1", "u1")
	testhelpers.SendText(t, conn, "count me")
	testhelpers.ReceiveEnvelope(t, conn)
	testhelpers.WaitFor(t, time.Second, func() bool {
		return testutil.ToFloat64(rl.Metrics.Messages.WithLabelValues("broadcast")) == 1
	}, "broadcast should be counted")

	resp, err := http.Get(rl.Server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, series := range []string{
		"relay_active_connections 1",
		"relay_active_rooms 1",
		"relay_connections_total 1",
		`relay_messages_total{result="broadcast"} 1`,
		`relay_deliveries_total{result="sent"} 1`,
	} {
		require.True(t, strings.Contains(text, series), "missing %q in:\n%s", series, text)
	}
}
