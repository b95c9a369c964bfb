package cache

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	fastpass "github.com/eugener/fastpass/internal"
)

// Hash fields of a stored entry. gen is bumped on every write.
const (
	fieldValue  = "v"
	fieldExpiry = "exp"
	fieldGen    = "gen"
)

// evictIfUnchanged deletes an entry only if its write generation still equals
// the one the caller saw, so any concurrent rewrite survives a lazy eviction,
// even one with the same deadline.
var evictIfUnchanged = redis.NewScript(`
if redis.call("HGET", KEYS[1], "gen") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// scanBatch is the COUNT hint for SCAN during clears.
const scanBatch = 500

// Redis is a Store backed by an external Redis server. Each entry is a hash
// holding the value and its expiry in unix nanoseconds, under a namespace
// shared by all keys of this store.
type Redis struct {
	client    redis.UniversalClient
	clock     fastpass.Clock
	namespace string
	// retention, when positive, lets Redis drop entries that long after
	// their logical expiry. Zero keeps entries until evicted or cleared.
	retention time.Duration
}

// RedisOptions configures a Redis store.
type RedisOptions struct {
	Namespace      string
	StaleRetention time.Duration
}

// NewRedis creates a Redis store on top of an existing client.
func NewRedis(client redis.UniversalClient, clock fastpass.Clock, opts RedisOptions) *Redis {
	return &Redis{
		client:    client,
		clock:     clock,
		namespace: opts.Namespace,
		retention: opts.StaleRetention,
	}
}

// Get retrieves a value, evicting it on a normal read past its expiry.
func (r *Redis) Get(ctx context.Context, key string, allowStale bool) ([]byte, bool) {
	k := r.namespace + key
	fields, err := r.client.HGetAll(ctx, k).Result()
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "redis cache get failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	val, ok := fields[fieldValue]
	if !ok {
		return nil, false
	}
	if allowStale {
		return []byte(val), true
	}

	nanos, err := strconv.ParseInt(fields[fieldExpiry], 10, 64)
	if err != nil || r.clock.Now().After(time.Unix(0, nanos)) {
		if err := evictIfUnchanged.Run(ctx, r.client, []string{k}, fields[fieldGen]).Err(); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "redis cache evict failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return []byte(val), true
}

// Put stores a value, resolving relative expiry against the clock now.
func (r *Redis) Put(ctx context.Context, key string, val []byte, exp Expiry) {
	now := r.clock.Now()
	deadline := exp.Deadline(now)
	k := r.namespace + key

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fieldValue, val, fieldExpiry, strconv.FormatInt(deadline.UnixNano(), 10))
		pipe.HIncrBy(ctx, k, fieldGen, 1)
		if r.retention > 0 {
			pipe.PExpire(ctx, k, max(deadline.Sub(now), 0)+r.retention)
		} else {
			pipe.Persist(ctx, k)
		}
		return nil
	})
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "redis cache put failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Clear removes all values in the store's namespace.
func (r *Redis) Clear(ctx context.Context) {
	r.deleteMatching(ctx, escapeGlob(r.namespace)+"*")
}

// ClearByPrefix removes all values whose key starts with prefix.
func (r *Redis) ClearByPrefix(ctx context.Context, prefix string) {
	r.deleteMatching(ctx, escapeGlob(r.namespace+prefix)+"*")
}

// Ping verifies connectivity to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) deleteMatching(ctx context.Context, pattern string) {
	iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			r.del(ctx, batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "redis cache scan failed",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()),
		)
	}
	if len(batch) > 0 {
		r.del(ctx, batch)
	}
}

func (r *Redis) del(ctx context.Context, keys []string) {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "redis cache delete failed",
			slog.Int("count", len(keys)),
			slog.String("error", err.Error()),
		)
	}
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
