// Package relay implements the room-scoped broadcast core: the Registry that maps
// room ids to their connected participants, and the Hub that joins, fans out to,
// and reaps those participants.
//
// The package knows nothing about WebSockets. A participant exposes its outbound
// queue through Outbound and the transport layer drains it.
package relay
