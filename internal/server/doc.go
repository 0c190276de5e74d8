// Package server is the WebSocket front of the relay.
//
// The Gateway validates the roomId and userId query parameters, upgrades the
// request and joins the connection to its room through relay.Hub. Each
// connection then runs a read pump that hands frames to the hub's broadcast and
// a write pump that drains the participant's outbound queue. Routing, the
// origin allowlist and HTTP server helpers live alongside.
package server
