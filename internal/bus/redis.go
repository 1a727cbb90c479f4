package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBus is the durable backend. One PubSub connection carries every
// channel; a single listener goroutine dispatches to local callbacks, which
// preserves per-channel publish order. All transient broker errors are
// logged and swallowed per the fire-and-forget contract.
type redisBus struct {
	cli    *redis.Client
	pubsub *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	subs map[string][]subscriber
}

func newRedisBus(cli *redis.Client) *redisBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &redisBus{
		cli:    cli,
		pubsub: cli.Subscribe(ctx),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[string][]subscriber),
	}
	go b.listen()
	return b
}

func (b *redisBus) listen() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		b.mu.Lock()
		subs := make([]subscriber, len(b.subs[msg.Channel]))
		copy(subs, b.subs[msg.Channel])
		b.mu.Unlock()

		for _, s := range subs {
			s.fn([]byte(msg.Payload))
		}
	}
}

func (b *redisBus) Publish(channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Println("[bus] Failed to marshal message for", channel, ":", err)
		return
	}
	if err := b.cli.Publish(b.ctx, channel, payload).Err(); err != nil {
		log.Println("[bus] Publish failed on", channel, ":", err)
	}
}

func (b *redisBus) Subscribe(channel, name string, h Handler) {
	b.mu.Lock()
	fresh := len(b.subs[channel]) == 0
	b.subs[channel] = upsert(b.subs[channel], name, h)
	b.mu.Unlock()

	if fresh {
		if err := b.pubsub.Subscribe(b.ctx, channel); err != nil {
			log.Println("[bus] Subscribe failed on", channel, ":", err)
		}
	}
}

func (b *redisBus) Unsubscribe(channel, name string) {
	b.mu.Lock()
	subs := remove(b.subs[channel], name)
	empty := len(subs) == 0
	if empty {
		delete(b.subs, channel)
	} else {
		b.subs[channel] = subs
	}
	b.mu.Unlock()

	if empty {
		if err := b.pubsub.Unsubscribe(b.ctx, channel); err != nil {
			log.Println("[bus] Unsubscribe failed on", channel, ":", err)
		}
	}
}

func (b *redisBus) CacheSet(key, value string, ttl time.Duration) {
	if err := b.cli.Set(b.ctx, key, value, ttl).Err(); err != nil {
		log.Println("[bus] Cache set failed for", key, ":", err)
	}
}

func (b *redisBus) CacheGet(key string) (string, bool) {
	val, err := b.cli.Get(b.ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Println("[bus] Cache get failed for", key, ":", err)
		}
		return "", false
	}
	return val, true
}

// Close stops the listener loop and releases the broker connections.
func (b *redisBus) Close() {
	b.cancel()
	_ = b.pubsub.Close()
	<-b.done
	_ = b.cli.Close()
}
