package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries the backend stream over Redis pub/sub channels.
type RedisTransport struct {
	client *redis.Client

	mu      sync.Mutex
	pubsubs []*redis.PubSub
}

func NewRedisTransport(addr, password string, db int) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisTransport{client: client}, nil
}

func (t *RedisTransport) Publish(ctx context.Context, subject string, data []byte) error {
	return t.client.Publish(ctx, subject, data).Err()
}

func (t *RedisTransport) Subscribe(subject string, handler func([]byte)) (Subscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := t.client.Subscribe(ctx, subject)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", subject, err)
	}

	t.mu.Lock()
	t.pubsubs = append(t.pubsubs, ps)
	t.mu.Unlock()

	ch := ps.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()
	return redisSubscription{ps: ps}, nil
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	pubsubs := t.pubsubs
	t.pubsubs = nil
	t.mu.Unlock()

	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	return t.client.Close()
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s redisSubscription) Unsubscribe() error {
	return s.ps.Close()
}
