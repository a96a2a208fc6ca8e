package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript checks every key against its ceiling before incrementing any of
// them. Running as a single script keeps the composite check atomic: a
// request rejected on one dimension never counts against the others.
//
// ARGV is (max, windowMillis) per key. Returns {0, 0} when accepted, or
// {index, pttlMillis} of the first key at its ceiling.
var allowScript = redis.NewScript(`
for i = 1, #KEYS do
  local count = tonumber(redis.call('GET', KEYS[i]) or '0')
  if count >= tonumber(ARGV[2*i-1]) then
    local ttl = redis.call('PTTL', KEYS[i])
    if ttl < 0 then ttl = tonumber(ARGV[2*i]) end
    return {i, ttl}
  end
end
for i = 1, #KEYS do
  local count = redis.call('INCR', KEYS[i])
  if count == 1 then
    redis.call('PEXPIRE', KEYS[i], ARGV[2*i])
  end
end
return {0, 0}
`)

// RedisStore keeps window counters in Redis. The window is anchored by the
// first accepted request for a key and expires with the key's TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Allow(ctx context.Context, keys []WindowKey) (int, time.Duration, error) {
	names := make([]string, 0, len(keys))
	argv := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		names = append(names, k.Key)
		argv = append(argv, k.Max, k.Window.Milliseconds())
	}
	res, err := allowScript.Run(ctx, s.client, names, argv...).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit script: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("ratelimit script: unexpected reply %v", res)
	}
	idx, _ := res[0].(int64)
	ttl, _ := res[1].(int64)
	if idx == 0 {
		return -1, 0, nil
	}
	return int(idx) - 1, time.Duration(ttl) * time.Millisecond, nil
}
