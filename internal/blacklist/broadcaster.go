package blacklist

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broadcaster mirrors newly-written blocks to other firewall instances over
// Redis pub/sub so a block on one process becomes visible on its peers
// within milliseconds — without making Redis the source of truth. Each
// process's own Cache + durable sqlite BlockStore remain authoritative;
// losing the Redis connection degrades to per-process blocking only, which
// is the same process-local behavior the firewall already guarantees when
// run without a Broadcaster at all. Grounded on the kill-signal pub/sub in
// internal/session/redis_store.go's PublishKill/listenForKillSignals.
type Broadcaster struct {
	client *redis.Client
	topic  string
	pubsub *redis.PubSub
}

// wireEntry is the JSON payload published over Redis; it carries only the
// fields the remote Cache.Block call needs.
type wireEntry struct {
	IP              string     `json:"ip"`
	FingerprintHash string     `json:"fingerprint_hash,omitempty"`
	Route           string     `json:"route,omitempty"`
	PolicyName      string     `json:"policy_name"`
	Scope           string     `json:"scope"`
	Reason          string     `json:"reason"`
	IsPermanent     bool       `json:"is_permanent"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// NewBroadcaster connects to addr and subscribes to topic. Connection
// failures are returned to the caller; the firewall runs fine without a
// Broadcaster (nil-safe via (*Broadcaster) methods below), so callers
// should log and continue rather than treat this as fatal.
func NewBroadcaster(addr, password string, db int, topic string) (*Broadcaster, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	if topic == "" {
		topic = "firewall:blocks"
	}

	b := &Broadcaster{client: client, topic: topic}
	b.pubsub = client.Subscribe(context.Background(), topic)
	return b, nil
}

// Publish announces entry to peers. Best-effort: errors are logged, never
// propagated, matching the fire-and-forget nature of the rest of the
// persistence path.
func (b *Broadcaster) Publish(ctx context.Context, entry Entry) {
	if b == nil {
		return
	}

	payload, err := json.Marshal(wireEntry{
		IP:              entry.IP,
		FingerprintHash: entry.FingerprintHash,
		Route:           entry.Route,
		PolicyName:      entry.PolicyName,
		Scope:           entry.Scope,
		Reason:          entry.Reason,
		IsPermanent:     entry.IsPermanent,
		ExpiresAt:       entry.ExpiresAt,
	})
	if err != nil {
		slog.Error("marshaling block broadcast", "error", err)
		return
	}

	if err := b.client.Publish(ctx, b.topic, payload).Err(); err != nil {
		slog.Warn("publishing block broadcast failed", "error", err)
	}
}

// Listen applies remotely-published blocks to cache until ctx is canceled.
// Intended to run in its own goroutine for the lifetime of the process.
func (b *Broadcaster) Listen(ctx context.Context, cache *Cache) {
	if b == nil {
		return
	}

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var w wireEntry
			if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
				slog.Error("unmarshaling block broadcast", "error", err)
				continue
			}
			cache.Block(Entry{
				IP:              w.IP,
				FingerprintHash: w.FingerprintHash,
				Route:           w.Route,
				PolicyName:      w.PolicyName,
				Scope:           w.Scope,
				Reason:          w.Reason,
				IsPermanent:     w.IsPermanent,
				IsActive:        true,
				ExpiresAt:       w.ExpiresAt,
			})
			slog.Debug("applied remote block", "ip", w.IP)
		}
	}
}

// Close releases the subscription and client connection.
func (b *Broadcaster) Close() error {
	if b == nil {
		return nil
	}
	if b.pubsub != nil {
		_ = b.pubsub.Close()
	}
	return b.client.Close()
}
