package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/testhelpers"
)

// TestGateway_RejectsMissingIdentity verifies that a connection lacking roomId,
// userId or both never upgrades and never creates a room.
func TestGateway_RejectsMissingIdentity(t *testing.T) {
	rl := testhelpers.StartRelay(t)

	tests := []struct {
		name   string
		roomID string
		userID string
	}{
		{name: "missing roomId", userID: "u1"},
		{name: "missing userId", roomID: "r1"},
		{name: "missing both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := testhelpers.ConnectWebSocket(rl.WebSocketURL(tt.roomID, tt.userID))

			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.Nil(t, conn)
			require.NotNil(t, resp)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Zero(t, rl.Registry.RoomCount())
		})
	}

	require.Equal(t, 3.0, testutil.ToFloat64(rl.Metrics.RejectedConnections))
	require.Zero(t, testutil.ToFloat64(rl.Metrics.Connections))
}

func TestGateway_RejectsEmptyParameters(t *testing.T) {
	rl := testhelpers.StartRelay(t)
	url := "ws" + rl.Server.URL[len("http"):] + "/ws?roomId=&userId="

	_, resp, err := testhelpers.ConnectWebSocket(url)

	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, rl.Registry.RoomCount())
}

func TestGateway_RejectsDisallowedOrigin(t *testing.T) {
	rl := testhelpers.StartRelay(t)

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")

	conn, resp, err := dialer.Dial(rl.WebSocketURL("r1", "u1"), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}

	require.Error(t, err)
	require.Nil(t, conn)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Zero(t, rl.Registry.RoomCount())
}

func TestGateway_RejectsNonGetRequests(t *testing.T) {
	rl := testhelpers.StartRelay(t)

	resp, err := http.Post(rl.Server.URL+"/ws?roomId=r1&userId=u1", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Zero(t, rl.Registry.RoomCount())
}

// TestGateway_PlainHTTPRequestLeavesNoMember checks that a valid identity on a
// request that is not a WebSocket handshake is cleaned up again.
func TestGateway_PlainHTTPRequestLeavesNoMember(t *testing.T) {
	rl := testhelpers.StartRelay(t)

	req, err := http.NewRequest(http.MethodGet, rl.Server.URL+"/ws?roomId=r1&userId=u1", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Origin", testhelpers.TestOrigin)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, rl.Registry.MemberCount("r1"))
}

func TestGateway_RegistersParticipant(t *testing.T) {
	rl := testhelpers.StartRelay(t)

	rl.Connect(t, "r1", "u1")

	members := rl.Registry.Members("r1")
	require.Len(t, members, 1)
	require.Equal(t, "u1", members[0].UserID())
	require.Equal(t, relay.StateOpen, members[0].State())
}

// TestGateway_RoundTrip sends {"text":"hello"} from u1 and expects every member
// of r1, sender included, to get the envelope while r2 gets nothing.
func TestGateway_RoundTrip(t *testing.T) {
	req := require.New(t)
	rl := testhelpers.StartRelay(t)
	u1 := rl.Connect(t, "r1", "u1")
	u2 := rl.Connect(t, "r1", "u2")
	outsider := rl.Connect(t, "r2", "u3")

	before := time.Now().UnixMilli()
	testhelpers.SendText(t, u1, "hello")

	for _, conn := range []*websocket.Conn{u2, u1} {
		env := testhelpers.ReceiveEnvelope(t, conn)
		req.Equal("u1", env.SenderID)
		req.Equal("hello", env.Text)
		req.GreaterOrEqual(env.Timestamp, before)
		req.LessOrEqual(env.Timestamp, time.Now().UnixMilli())
	}

	testhelpers.ExpectNoMessage(t, outsider, 200*time.Millisecond)
}

func TestGateway_WireFormat(t *testing.T) {
	rl := testhelpers.StartRelay(t)
	conn := rl.Connect(t, "r1", "u1")

	testhelpers.SendRaw(t, conn, []byte(`{"text":"hi","extra":"ignored"}`))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Len(t, frame, 3)
	require.Equal(t, "u1", frame["senderId"])
	require.Equal(t, "hi", frame["text"])
	require.IsType(t, float64(0), frame["timestamp"])
}

// TestGateway_MalformedPayloadIsolation verifies a bad frame is dropped, the
// sender stays connected, and its next valid message is delivered.
func TestGateway_MalformedPayloadIsolation(t *testing.T) {
	req := require.New(t)
	rl := testhelpers.StartRelay(t)
	u1 := rl.Connect(t, "r1", "u1")
	u2 := rl.Connect(t, "r1", "u2")

	testhelpers.SendRaw(t, u1, []byte("definitely not json"))
	testhelpers.SendRaw(t, u1, []byte(`{"content":"wrong field"}`))
	require.NoError(t, u1.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0x00}))
	testhelpers.SendText(t, u1, "still here")

	env := testhelpers.ReceiveEnvelope(t, u2)
	req.Equal("still here", env.Text)
	req.Equal("u1", env.SenderID)

	env = testhelpers.ReceiveEnvelope(t, u1)
	req.Equal("still here", env.Text)

	req.Equal(2, rl.Registry.MemberCount("r1"))
	req.Equal(3.0, testutil.ToFloat64(rl.Metrics.Messages.WithLabelValues("malformed")))
}

func TestGateway_OversizedMessageClosesConnection(t *testing.T) {
	rl := testhelpers.StartRelay(t, func(cfg *config.Config) {
		cfg.WebSocket.MaxMessageSize = 64
	})
	conn := rl.Connect(t, "r1", "u1")

	testhelpers.SendText(t, conn, string(make([]byte, 256)))

	testhelpers.WaitFor(t, 2*time.Second, func() bool {
		return rl.Registry.MemberCount("r1") == 0
	}, "oversized sender should be reaped")
}

// TestGateway_Scenario walks through room r1 with a, b and c: everyone gets
// "hi" from a, then a disconnects and only b and c get "bye" from b.
func TestGateway_Scenario(t *testing.T) {
	req := require.New(t)
	rl := testhelpers.StartRelay(t)
	a := rl.Connect(t, "r1", "a")
	b := rl.Connect(t, "r1", "b")
	c := rl.Connect(t, "r1", "c")

	testhelpers.SendText(t, a, "hi")
	for _, conn := range []*websocket.Conn{a, b, c} {
		env := testhelpers.ReceiveEnvelope(t, conn)
		req.Equal("a", env.SenderID)
		req.Equal("hi", env.Text)
	}

	req.NoError(testhelpers.CloseWebSocket(a))
	testhelpers.WaitFor(t, 2*time.Second, func() bool {
		return rl.Registry.MemberCount("r1") == 2
	}, "a should leave r1")

	testhelpers.SendText(t, b, "bye")
	for _, conn := range []*websocket.Conn{b, c} {
		env := testhelpers.ReceiveEnvelope(t, conn)
		req.Equal("b", env.SenderID)
		req.Equal("bye", env.Text)
	}
	testhelpers.ExpectNoMessage(t, c, 150*time.Millisecond)
}

func TestGateway_AbruptDisconnectIsReaped(t *testing.T) {
	rl := testhelpers.StartRelay(t, func(cfg *config.Config) {
		cfg.Registry.EvictEmptyRooms = false
	})
	conn := rl.Connect(t, "r1", "u1")
	require.Equal(t, 1, rl.Registry.MemberCount("r1"))

	// Drop the TCP connection without a close frame.
	require.NoError(t, conn.UnderlyingConn().Close())

	testhelpers.WaitFor(t, 2*time.Second, func() bool {
		return rl.Registry.MemberCount("r1") == 0
	}, "abruptly closed participant should be reaped")
	require.Equal(t, 1, rl.Registry.RoomCount(), "empty room is retained when eviction is off")
}

func TestGateway_DuplicateUserIDsAreDistinctMembers(t *testing.T) {
	rl := testhelpers.StartRelay(t)
	first := rl.Connect(t, "r1", "same")
	second := rl.Connect(t, "r1", "same")

	require.Equal(t, 2, rl.Registry.MemberCount("r1"))

	testhelpers.SendText(t, first, "echo")
	require.Equal(t, "echo", testhelpers.ReceiveEnvelope(t, first).Text)
	require.Equal(t, "echo", testhelpers.ReceiveEnvelope(t, second).Text)
}

// TestGateway_ConcurrentJoins connects N clients to one room at once and
// checks that every one of them is registered once all dials return.
func TestGateway_ConcurrentJoins(t *testing.T) {
	const n = 25
	rl := testhelpers.StartRelay(t)

	conns := make([]*websocket.Conn, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			conn, _, err := testhelpers.ConnectWebSocket(rl.WebSocketURL("r1", fmt.Sprintf("u%d", i)))
			if err != nil {
				t.Errorf("client %d: %v", i, err)
				return
			}
			conns[i] = conn
		}(i)
	}
	wg.Wait()
	t.Cleanup(func() {
		for _, conn := range conns {
			if conn != nil {
				_ = conn.Close()
			}
		}
	})

	require.Equal(t, n, rl.Registry.MemberCount("r1"))

	testhelpers.SendText(t, conns[0], "fan-out")
	for i, conn := range conns {
		env := testhelpers.ReceiveEnvelope(t, conn)
		require.Equal(t, "fan-out", env.Text, "client %d", i)
	}
}

func TestGateway_PerSenderOrdering(t *testing.T) {
	const n = 20
	rl := testhelpers.StartRelay(t)
	sender := rl.Connect(t, "r1", "sender")
	receiver := rl.Connect(t, "r1", "receiver")

	for i := 0; i < n; i++ {
		testhelpers.SendText(t, sender, fmt.Sprintf("m%d", i))
	}
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("m%d", i), testhelpers.ReceiveEnvelope(t, receiver).Text)
	}
}

// TestGateway_Shutdown verifies that shutting down the gateway sends close
// frames and reaps every participant.
func TestGateway_Shutdown(t *testing.T) {
	rl := testhelpers.StartRelay(t)
	conns := []*websocket.Conn{
		rl.Connect(t, "r1", "a"),
		rl.Connect(t, "r1", "b"),
		rl.Connect(t, "r2", "c"),
	}

	require.NoError(t, rl.Gateway.Shutdown(2*time.Second))

	for i, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err := conn.ReadMessage()
		require.Error(t, err, "client %d should be disconnected", i)
	}
	require.Zero(t, rl.Registry.RoomCount())
	require.Zero(t, testutil.ToFloat64(rl.Metrics.ActiveConnections))
}
