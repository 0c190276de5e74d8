// Package bus connects relay instances so that a room spread over several
// processes still behaves like a single broadcast scope.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// message is the JSON published on a room channel.
type message struct {
	Origin   string         `json:"origin"`
	RoomID   string         `json:"roomId"`
	Envelope relay.Envelope `json:"envelope"`
}

// RedisBus implements relay.Bus over Redis PUBLISH / PSUBSCRIBE.
type RedisBus struct {
	client   *redis.Client
	prefix   string
	instance string
	log      zerolog.Logger
}

// NewRedisBus connects to Redis and verifies connectivity.
func NewRedisBus(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisBus(client, cfg.ChannelPrefix, log), nil
}

func newRedisBus(client *redis.Client, prefix string, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		client:   client,
		prefix:   strings.TrimSuffix(prefix, ":"),
		instance: uuid.NewString(),
		log:      log,
	}
}

// Instance returns the id stamped on everything this bus publishes.
func (b *RedisBus) Instance() string {
	return b.instance
}

// Publish sends env to the room's channel.
func (b *RedisBus) Publish(ctx context.Context, roomID string, env relay.Envelope) error {
	raw, err := b.encode(roomID, env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(roomID), raw).Err()
}

// Subscribe listens on every room channel and hands envelopes from other
// instances to fn. It returns when ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(roomID string, env relay.Envelope)) error {
	pubsub := b.client.PSubscribe(ctx, b.channel("*"))
	defer func() { _ = pubsub.Close() }()

	// Wait for the subscription confirmation so a dead server fails fast.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", b.channel("*"), err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID, env, ok := b.decode([]byte(msg.Payload))
			if !ok {
				continue
			}
			fn(roomID, env)
		}
	}
}

// Close shuts down the redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func (b *RedisBus) channel(roomID string) string {
	return b.prefix + ":" + roomID
}

func (b *RedisBus) encode(roomID string, env relay.Envelope) ([]byte, error) {
	raw, err := json.Marshal(message{Origin: b.instance, RoomID: roomID, Envelope: env})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bus message: %w", err)
	}
	return raw, nil
}

// decode returns false for undecodable payloads and for our own publications,
// which local members have already received.
func (b *RedisBus) decode(raw []byte) (string, relay.Envelope, bool) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		b.log.Warn().Err(err).Msg("discarding undecodable bus message")
		return "", relay.Envelope{}, false
	}
	if m.RoomID == "" || m.Origin == b.instance {
		return "", relay.Envelope{}, false
	}
	if m.Origin == "" {
		b.log.Debug().Str(logging.FieldRoomID, m.RoomID).Msg("bus message without origin")
	}
	return m.RoomID, m.Envelope, true
}

var _ relay.Bus = (*RedisBus)(nil)
