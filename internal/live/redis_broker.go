package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

type pubsubClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

// RedisBroker shares live updates across API replicas through a Redis
// channel and fans them out locally through a Hub.
type RedisBroker struct {
	client  pubsubClient
	channel string
	hub     *Hub
	logg    *logger.Logger
}

// NewRedisBroker builds a broker on channel.
func NewRedisBroker(client pubsubClient, channel string, logg *logger.Logger) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if channel == "" {
		return nil, errors.New("live channel required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisBroker{client: client, channel: channel, hub: NewHub(), logg: logg}, nil
}

// Publish encodes event and publishes it on the shared channel.
func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode live event: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload)
}

// Subscribe registers a local subscriber fed by Run.
func (b *RedisBroker) Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error) {
	return b.hub.Subscribe(ctx, filter)
}

// Run relays messages from Redis into the local hub until ctx ends.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	b.logg.Info(b.logg.WithField(ctx, "channel", b.channel), "live relay subscribed")
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("live relay channel closed")
			}
			b.dispatch(ctx, []byte(msg.Payload))
		}
	}
}

func (b *RedisBroker) dispatch(ctx context.Context, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "dropping malformed live event")
		return
	}
	_ = b.hub.Publish(ctx, event)
}
