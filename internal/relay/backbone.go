package relay

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// BackboneMessage is one delivery from the shared pub/sub transport.
type BackboneMessage struct {
	Room    string
	Payload []byte
}

// Backbone is the cross-instance publish/subscribe transport. Deliveries for
// a single room arrive on Messages in publish order; the relay adds no
// ordering of its own. Implementations must tolerate Subscribe/Unsubscribe
// being called while Messages is being drained.
type Backbone interface {
	Subscribe(ctx context.Context, room string) error
	Unsubscribe(ctx context.Context, room string) error
	Publish(ctx context.Context, room string, payload []byte) error
	Messages() <-chan BackboneMessage
	Close() error
}

// RedisBackbone implements Backbone on a single long-lived Redis pub/sub
// connection whose channel set grows and shrinks with room interest, the
// counterpart of the dedicated publish connection on the same client pool.
type RedisBackbone struct {
	client *redis.Client
	pubsub *redis.PubSub
	out    chan BackboneMessage
}

func NewRedisBackbone(ctx context.Context, client *redis.Client) *RedisBackbone {
	b := &RedisBackbone{
		client: client,
		pubsub: client.Subscribe(ctx),
		out:    make(chan BackboneMessage, 64),
	}
	go b.pump()
	return b
}

// pump converts the go-redis delivery stream into BackboneMessages. The
// channel closes when the pub/sub connection is closed.
func (b *RedisBackbone) pump() {
	for msg := range b.pubsub.Channel() {
		b.out <- BackboneMessage{Room: msg.Channel, Payload: []byte(msg.Payload)}
	}
	close(b.out)
}

func (b *RedisBackbone) Subscribe(ctx context.Context, room string) error {
	return b.pubsub.Subscribe(ctx, room)
}

func (b *RedisBackbone) Unsubscribe(ctx context.Context, room string) error {
	return b.pubsub.Unsubscribe(ctx, room)
}

func (b *RedisBackbone) Publish(ctx context.Context, room string, payload []byte) error {
	if err := b.client.Publish(ctx, room, payload).Err(); err != nil {
		slog.Error("Failed to publish to Redis", "room", room, "error", err)
		return err
	}
	return nil
}

func (b *RedisBackbone) Messages() <-chan BackboneMessage {
	return b.out
}

func (b *RedisBackbone) Close() error {
	return b.pubsub.Close()
}
