package relay

//go:generate mockgen -source=bus.go -destination=mocks/mock_bus.go -package=mocks

import "context"

// Bus carries envelopes between relay instances that serve the same rooms.
type Bus interface {
	// Publish announces env for roomID to the other instances.
	Publish(ctx context.Context, roomID string, env Envelope) error
	// Subscribe calls fn for every envelope published by another instance and
	// blocks until ctx is done or the subscription fails.
	Subscribe(ctx context.Context, fn func(roomID string, env Envelope)) error
	Close() error
}
