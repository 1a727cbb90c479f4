package bus

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler receives the raw payload of one published message.
type Handler func(payload []byte)

// Bus is a named-channel publish/subscribe abstraction with fire-and-forget
// semantics: no acks, no buffering for absent subscribers, per-channel
// publish order preserved. The same store offers a short-TTL cache for
// ephemeral quote/metadata data.
//
// Subscribe is idempotent per (channel, name): re-subscribing a name
// replaces its callback in place, keeping its order slot.
type Bus interface {
	Publish(channel string, v any)
	Subscribe(channel, name string, h Handler)
	Unsubscribe(channel, name string)

	CacheSet(key, value string, ttl time.Duration)
	CacheGet(key string) (string, bool)

	Close()
}

// Connect builds a Bus. It never fails: with no Redis configured or Redis
// unreachable it logs once and returns the in-process fallback, so a live
// dashboard keeps working locally at the cost of cross-process fan-out.
func Connect(addr, password string, db int) Bus {
	if addr == "" {
		log.Println("[bus] No redis configured, using in-process bus")
		return NewLocal()
	}

	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		log.Println("[bus] Redis unreachable, falling back to in-process bus:", err)
		_ = cli.Close()
		return NewLocal()
	}

	return newRedisBus(cli)
}

type subscriber struct {
	name string
	fn   Handler
}

// upsert replaces a same-named subscriber in place or appends a new one.
func upsert(subs []subscriber, name string, h Handler) []subscriber {
	for i := range subs {
		if subs[i].name == name {
			subs[i].fn = h
			return subs
		}
	}
	return append(subs, subscriber{name: name, fn: h})
}

func remove(subs []subscriber, name string) []subscriber {
	for i := range subs {
		if subs[i].name == name {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
