package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/armslicense/armslicense/internal/routing"
)

// Channel is the Redis pub/sub channel carrying routing events.
const Channel = "routing.events"

// Broadcaster publishes routing events to every web node through Redis.
type Broadcaster struct {
	client *redis.Client
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(client *redis.Client) *Broadcaster {
	return &Broadcaster{client: client}
}

// Broadcast publishes evt on Channel.
func (b *Broadcaster) Broadcast(ctx context.Context, evt routing.Event) error {
	if b == nil || b.client == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	return b.client.Publish(ctx, Channel, payload).Err()
}

// Relay subscribes to Channel and feeds decoded events into the hub until ctx
// is cancelled.
func (h *Hub) Relay(ctx context.Context, client *redis.Client) error {
	sub := client.Subscribe(ctx, Channel)
	defer func() {
		_ = sub.Close()
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", Channel, err)
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var evt routing.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				h.logger.Warn("discarding malformed routing event", slog.Any("error", err))
				continue
			}
			h.Publish(evt)
		}
	}
}
