package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/clock"
	"github.com/redis/go-redis/v9"
)

// checkAndIncr reads every key first and increments only if none is at its
// limit. ARGV holds (limit, ttl_ms) pairs. Reply: {allowed, count1, ...}.
var checkAndIncr = redis.NewScript(`
local allowed = 1
local counts = {}
for i = 1, #KEYS do
  local c = tonumber(redis.call('GET', KEYS[i]) or '0')
  counts[i] = c
  local limit = tonumber(ARGV[i * 2 - 1])
  if limit > 0 and c >= limit then
    allowed = 0
  end
end
if allowed == 1 then
  for i = 1, #KEYS do
    counts[i] = redis.call('INCR', KEYS[i])
    redis.call('PEXPIRE', KEYS[i], ARGV[i * 2])
  end
end
table.insert(counts, 1, allowed)
return counts
`)

// RedisStore keeps counters in Redis so every gateway node shares them.
type RedisStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
	grace     time.Duration
	clock     clock.Clock
}

type RedisStoreConfig struct {
	KeyPrefix string        // default "rl:"
	Grace     time.Duration // kept past window end; default 1m
	Clock     clock.Clock
}

func NewRedisStore(rdb redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &RedisStore{rdb: rdb, keyPrefix: cfg.KeyPrefix, grace: cfg.Grace, clock: cfg.Clock}
}

// key: rl:{caller}:minute:29123456 . The hash tag pins a caller's keys to one slot.
func (s *RedisStore) key(callerID string, w Window) string {
	return s.keyPrefix + "{" + callerID + "}:" + w.Kind.String() + ":" + strconv.FormatInt(w.ID, 10)
}

func (s *RedisStore) CheckAndIncrement(ctx context.Context, callerID string, windows []Window) ([]int64, bool, error) {
	now := s.clock.Now()
	keys := make([]string, len(windows))
	args := make([]any, 0, len(windows)*2)
	for i, w := range windows {
		keys[i] = s.key(callerID, w)
		ttl := w.End.Sub(now)
		if ttl < 0 {
			ttl = 0
		}
		args = append(args, w.Limit, (ttl + s.grace).Milliseconds())
	}

	reply, err := checkAndIncr.Run(ctx, s.rdb, keys, args...).Int64Slice()
	if err != nil {
		return nil, false, fmt.Errorf("redis check and incr: %w", err)
	}
	if len(reply) != len(windows)+1 {
		return nil, false, fmt.Errorf("redis check and incr: unexpected reply length %d", len(reply))
	}
	return reply[1:], reply[0] == 1, nil
}

func (s *RedisStore) Peek(ctx context.Context, callerID string, windows []Window) ([]int64, error) {
	keys := make([]string, len(windows))
	for i, w := range windows {
		keys[i] = s.key(callerID, w)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	counts := make([]int64, len(windows))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // nil: window not opened yet
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis counter %s: %w", keys[i], err)
		}
		counts[i] = n
	}
	return counts, nil
}

var _ CounterStore = (*RedisStore)(nil)
