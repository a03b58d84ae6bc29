package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"cvdflow/logger"
	"cvdflow/models"
)

// DefaultKeyPrefix namespaces all history keys.
const DefaultKeyPrefix = "cvd"

// RedisConfig holds the connection settings of the Redis backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore keeps history in Redis. Per instrument it uses a sorted set of
// timestamps as the insert gate, two lists for the price and volume payloads
// and a set for alerts:
//
//	{prefix}:{instrument}:ts      ZSET   score = member = timestamp
//	{prefix}:{instrument}:price   LIST
//	{prefix}:{instrument}:volume  LIST
//	{prefix}:{instrument}:alerts  SET
//
// ZADD NX decides whether a timestamp is new, and the payload writes run in
// the same script, so several writers may share the same keys.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *logger.Log
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    logger.GetLogger(),
	}
}

func (r *RedisStore) key(instrument, collection string) string {
	return r.prefix + ":" + instrument + ":" + collection
}

// appendScript writes one point in a single server-side step, so a failed call
// leaves nothing behind and can be retried. Keys that have no expiry yet get
// the TTL; existing expiries are left alone. EXPIRE NX is not used so that
// Redis 6 servers work too.
//
//	KEYS: ts, price, volume, alerts
//	ARGV: timestamp, price, volume, alert ("" for none), ttl seconds
var appendScript = redis.NewScript(`
local added = redis.call('ZADD', KEYS[1], 'NX', ARGV[1], ARGV[1])
if added == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[2])
  redis.call('RPUSH', KEYS[3], ARGV[3])
end
if ARGV[4] ~= '' then
  redis.call('SADD', KEYS[4], ARGV[4])
end
for i = 1, #KEYS do
  if redis.call('TTL', KEYS[i]) == -1 then
    redis.call('EXPIRE', KEYS[i], ARGV[5])
  end
end
return added
`)

func (r *RedisStore) AppendIfNew(ctx context.Context, instrument string, ts int64, price, volume, alert []byte) (bool, error) {
	keys := []string{
		r.key(instrument, "ts"),
		r.key(instrument, "price"),
		r.key(instrument, "volume"),
		r.key(instrument, "alerts"),
	}
	ttl := int64(r.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	n, err := appendScript.Run(ctx, r.client, keys,
		strconv.FormatInt(ts, 10), price, volume, string(alert), ttl).Int64()
	if err != nil {
		return false, &StoreError{Op: "append", Instrument: instrument, Err: err}
	}
	return n == 1, nil
}

func (r *RedisStore) Load(ctx context.Context, instrument string) (*models.History, error) {
	var (
		stamps  *redis.ZSliceCmd
		prices  *redis.StringSliceCmd
		volumes *redis.StringSliceCmd
		alerts  *redis.StringSliceCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		stamps = pipe.ZRangeWithScores(ctx, r.key(instrument, "ts"), 0, -1)
		prices = pipe.LRange(ctx, r.key(instrument, "price"), 0, -1)
		volumes = pipe.LRange(ctx, r.key(instrument, "volume"), 0, -1)
		alerts = pipe.SMembers(ctx, r.key(instrument, "alerts"))
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, &StoreError{Op: "load", Instrument: instrument, Err: err}
	}

	ordered := make([]int64, 0, len(stamps.Val()))
	for _, z := range stamps.Val() {
		ordered = append(ordered, int64(z.Score))
	}

	out := &models.History{
		Instrument: instrument,
		Points:     zipPoints(ordered, r.indexByTime(instrument, prices.Val()), r.indexByTime(instrument, volumes.Val())),
		Alerts:     make([]json.RawMessage, 0, len(alerts.Val())),
	}
	for _, a := range alerts.Val() {
		out.Alerts = append(out.Alerts, json.RawMessage(a))
	}
	return out, nil
}

// indexByTime keys list payloads by their embedded time so that lists and the
// timestamp set line up even if entries were pushed out of order.
func (r *RedisStore) indexByTime(instrument string, entries []string) map[int64][]byte {
	out := make(map[int64][]byte, len(entries))
	for _, e := range entries {
		var probe struct {
			Time *int64 `json:"time"`
		}
		if err := json.Unmarshal([]byte(e), &probe); err != nil || probe.Time == nil {
			r.log.WithComponent("history").WithFields(logger.Fields{
				"instrument": instrument,
			}).Debug("skipping history entry without time")
			continue
		}
		if _, dup := out[*probe.Time]; !dup {
			out[*probe.Time] = []byte(e)
		}
	}
	return out
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
