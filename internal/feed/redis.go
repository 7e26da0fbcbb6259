package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatsync/internal/logger"
	"github.com/redis/go-redis/v9"
)

const redisChannel = "chatsync:events"

// Redis is the cross-instance feed: events are published to a Redis pub/sub
// channel and every instance fans its copy out to local subscribers.
type Redis struct {
	cli    *redis.Client
	pubsub *redis.PubSub
	local  *Memory
}

func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("feed: redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("feed: redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("feed: redis ping: %w", err)
	}

	f := &Redis{
		cli:    cli,
		pubsub: cli.Subscribe(ctx, redisChannel),
		local:  NewMemory(),
	}
	go f.receive()
	return f, nil
}

func (f *Redis) receive() {
	for msg := range f.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Errorf("feed: unmarshal event: %v", err)
			continue
		}
		_ = f.local.Publish(context.Background(), ev)
	}
	_ = f.local.Close()
}

func (f *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("feed: marshal event: %w", err)
	}
	if err := f.cli.Publish(ctx, redisChannel, data).Err(); err != nil {
		return fmt.Errorf("feed: publish: %w", err)
	}
	return nil
}

func (f *Redis) Subscribe() (<-chan Event, func()) {
	return f.local.Subscribe()
}

func (f *Redis) Close() error {
	// Closing the pubsub ends receive(), which closes the local feed.
	if err := f.pubsub.Close(); err != nil {
		f.cli.Close()
		return fmt.Errorf("feed: pubsub close: %w", err)
	}
	return f.cli.Close()
}
