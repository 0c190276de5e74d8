package server

import (
	"errors"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// Query parameters carrying the connection identity.
const (
	RoomIDParam = "roomId"
	UserIDParam = "userId"
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
