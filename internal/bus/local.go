package bus

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// LocalBus is the in-process fallback backend. Contract-identical to the
// Redis backend minus cross-process fan-out: a message published before any
// subscriber exists on its channel is lost.
type LocalBus struct {
	mu    sync.Mutex
	subs  map[string][]subscriber
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

func NewLocal() *LocalBus {
	return &LocalBus{
		subs:  make(map[string][]subscriber),
		cache: make(map[string]cacheEntry),
	}
}

func (b *LocalBus) Publish(channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Println("[bus] Failed to marshal message for", channel, ":", err)
		return
	}

	b.mu.Lock()
	subs := make([]subscriber, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(payload)
	}
}

func (b *LocalBus) Subscribe(channel, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = upsert(b.subs[channel], name, h)
}

func (b *LocalBus) Unsubscribe(channel, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := remove(b.subs[channel], name)
	if len(subs) == 0 {
		delete(b.subs, channel)
		return
	}
	b.subs[channel] = subs
}

func (b *LocalBus) CacheSet(key, value string, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (b *LocalBus) CacheGet(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.cache[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(b.cache, key)
		return "", false
	}
	return e.value, true
}

func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscriber)
	b.cache = make(map[string]cacheEntry)
}
