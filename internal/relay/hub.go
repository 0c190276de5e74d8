package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/logging"
)

const defaultSendBuffer = 256

// Hub joins participants to rooms, fans messages out to room members, and
// removes participants when their connection ends. All shared state lives in
// the injected Registry.
type Hub struct {
	registry   *Registry
	bus        Bus
	log        zerolog.Logger
	metrics    *Metrics
	now        func() time.Time
	sendBuffer int
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithBus enables cross-instance fan-out through b.
func WithBus(b Bus) Option {
	return func(h *Hub) { h.bus = b }
}

// WithMetrics sets the collectors the hub updates.
func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithClock overrides the source of envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithSendBuffer sets the capacity of each participant's outbound queue.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHub creates a hub over registry.
func NewHub(registry *Registry, opts ...Option) *Hub {
	h := &Hub{
		registry:   registry,
		log:        zerolog.Nop(),
		now:        time.Now,
		sendBuffer: defaultSendBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	return h
}

// Registry returns the registry the hub mutates.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ValidateIdentity checks the two connection parameters. Whitespace-only values
// count as present; no other format rules apply.
func ValidateIdentity(roomID, userID string) error {
	if roomID == "" || userID == "" {
		return ErrMissingIdentity
	}
	return nil
}

// Reject records a connection attempt that failed identity validation.
func (h *Hub) Reject(remoteAddr string, reason error) {
	h.metrics.RejectedConnections.Inc()
	h.log.Debug().
		Err(reason).
		Str(logging.FieldRemoteAddr, remoteAddr).
		Msg("connection rejected")
}

// Join registers a new participant for userID in roomID.
func (h *Hub) Join(roomID, userID string) (*Participant, error) {
	if err := ValidateIdentity(roomID, userID); err != nil {
		h.metrics.RejectedConnections.Inc()
		return nil, err
	}

	p := newParticipant(roomID, userID, h.sendBuffer)
	p.open()
	count := h.registry.AddMember(roomID, p)

	h.metrics.Connections.Inc()
	h.metrics.ActiveConnections.Inc()
	h.metrics.ActiveRooms.Set(float64(h.registry.RoomCount()))

	h.log.Info().
		Str(logging.FieldRoomID, roomID).
		Str(logging.FieldUserID, userID).
		Str(logging.FieldConnID, p.id).
		Int("members", count).
		Msg("participant joined")
	return p, nil
}

// Leave removes p from its room and closes its outbound queue. Only the first
// call for a participant has any effect; it reports whether that happened.
func (h *Hub) Leave(p *Participant) bool {
	if p == nil {
		return false
	}

	removed := h.registry.RemoveMember(p.roomID, p)
	p.close()
	if !removed {
		return false
	}

	h.metrics.ActiveConnections.Dec()
	h.metrics.ActiveRooms.Set(float64(h.registry.RoomCount()))

	h.log.Info().
		Str(logging.FieldRoomID, p.roomID).
		Str(logging.FieldUserID, p.userID).
		Str(logging.FieldConnID, p.id).
		Msg("participant left")
	return true
}

// Broadcast parses raw from p and delivers the resulting envelope to every open
// member of p's room, p included. It returns how many members it was queued
// for. A malformed payload is dropped and reported as ErrMalformedMessage; the
// caller keeps the connection open.
func (h *Hub) Broadcast(ctx context.Context, p *Participant, raw []byte) (int, error) {
	if p.State() != StateOpen {
		return 0, ErrNotOpen
	}

	text, err := ParseMessage(raw)
	if err != nil {
		h.metrics.Messages.WithLabelValues(resultMalformed).Inc()
		h.log.Warn().
			Err(err).
			Str(logging.FieldRoomID, p.roomID).
			Str(logging.FieldConnID, p.id).
			Int("bytes", len(raw)).
			Msg("dropping malformed message")
		return 0, err
	}

	env := NewEnvelope(p.userID, text, h.now())
	delivered, err := h.fanOut(p.roomID, env)
	if err != nil {
		return 0, err
	}
	h.metrics.Messages.WithLabelValues(resultBroadcast).Inc()

	if h.bus != nil {
		if err := h.bus.Publish(ctx, p.roomID, env); err != nil {
			h.log.Warn().
				Err(err).
				Str(logging.FieldRoomID, p.roomID).
				Msg("bus publish failed")
		}
	}
	return delivered, nil
}

// fanOut queues env for every member of roomID. A member that is closing or
// whose queue is full is skipped without affecting the others.
func (h *Hub) fanOut(roomID string, env Envelope) (int, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}

	members := h.registry.Members(roomID)
	delivered := 0
	for _, member := range members {
		if err := member.deliver(payload); err != nil {
			h.metrics.Deliveries.WithLabelValues(resultSkipped).Inc()
			h.log.Debug().
				Err(err).
				Str(logging.FieldRoomID, roomID).
				Str(logging.FieldConnID, member.id).
				Msg("delivery skipped")
			continue
		}
		h.metrics.Deliveries.WithLabelValues(resultSent).Inc()
		delivered++
	}

	h.log.Debug().
		Str(logging.FieldRoomID, roomID).
		Int("targets", len(members)).
		Int("delivered", delivered).
		Msg("broadcast")
	return delivered, nil
}

// Run relays envelopes published by other instances to local members until ctx
// is done. Without a bus it just waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		<-ctx.Done()
		return nil
	}

	h.log.Info().Msg("hub subscribed to bus")
	err := h.bus.Subscribe(ctx, func(roomID string, env Envelope) {
		if _, err := h.fanOut(roomID, env); err != nil {
			h.log.Error().Err(err).Str(logging.FieldRoomID, roomID).Msg("bus fan-out failed")
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return fmt.Errorf("bus subscription: %w", err)
	}
	return nil
}

// CloseAll closes every participant's outbound queue so the transport can send
// close frames. Participants stay registered until their connection reports
// the close through Leave.
func (h *Hub) CloseAll() int {
	closed := 0
	for _, roomID := range h.registry.Rooms() {
		for _, p := range h.registry.Members(roomID) {
			if p.close() {
				closed++
			}
		}
	}
	if closed > 0 {
		h.log.Info().Int("participants", closed).Msg("closed all participants")
	}
	return closed
}
