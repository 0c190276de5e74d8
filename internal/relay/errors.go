package relay

import "errors"

var (
	// ErrMissingIdentity rejects a connection that lacks roomId or userId.
	ErrMissingIdentity = errors.New("relay: roomId and userId are required")
	// ErrMalformedMessage marks an inbound payload that is not {"text": string}.
	ErrMalformedMessage = errors.New("relay: malformed message")
	// ErrNotOpen is returned when a participant is not in the open state.
	ErrNotOpen = errors.New("relay: participant not open")
	// ErrSendBufferFull is returned when a participant's outbound queue is saturated.
	ErrSendBufferFull = errors.New("relay: send buffer full")
)
