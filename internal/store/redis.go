package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/types"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "securiface:attendance"

// recordScript claims the identity-day key and indexes the record in one atomic step.
// KEYS: day key, index zset, sequence counter. ARGV: date, time, name, score.
// Index members are "seq|date|time|name"; the zero-padded sequence orders equal scores by insertion.
var recordScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[2], 'NX') then
	return 0
end
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[2], ARGV[4], string.format('%012d|%s|%s|%s', seq, ARGV[1], ARGV[2], ARGV[3]))
return 1
`)

// RedisLedger keeps attendance in redis: one key per identity-day plus a sorted index.
type RedisLedger struct {
	client *redis.Client
}

// NewRedis connects using a redis:// URL or a plain host:port address.
func NewRedis(ctx context.Context, dsn string) (*RedisLedger, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		if strings.Contains(dsn, "://") {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opt = &redis.Options{Addr: dsn, PoolSize: 10}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, redisError("open", err)
	}
	return &RedisLedger{client: client}, nil
}

func dayKey(name, date string) string {
	return redisPrefix + ":day:" + attendance.Key(name, date)
}

// score is YYYYMMDDHHMMSS, exact in a float64.
func score(date, clock string) float64 {
	digits := strings.NewReplacer("-", "", ":", "").Replace(date + clock)
	v, _ := strconv.ParseFloat(digits, 64)
	return v
}

func (s *RedisLedger) RecordIfNew(ctx context.Context, name string, now time.Time) (bool, error) {
	date, clock := attendance.Stamp(now)
	keys := []string{dayKey(name, date), redisPrefix + ":index", redisPrefix + ":seq"}

	n, err := recordScript.Run(ctx, s.client, keys, date, clock, name, score(date, clock)).Int()
	if err != nil {
		return false, redisError("record", err)
	}
	return n == 1, nil
}

func (s *RedisLedger) QueryAll(ctx context.Context) ([]types.AttendanceRecord, error) {
	members, err := s.client.ZRevRange(ctx, redisPrefix+":index", 0, -1).Result()
	if err != nil {
		return nil, redisError("query", err)
	}
	records := make([]types.AttendanceRecord, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, "|", 4)
		if len(parts) != 4 {
			return nil, redisError("query", fmt.Errorf("malformed index member %q", m))
		}
		records = append(records, types.AttendanceRecord{Date: parts[1], Time: parts[2], Name: parts[3]})
	}
	return records, nil
}

// Reset removes every key under the attendance prefix.
func (s *RedisLedger) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisPrefix+":*", 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return redisError("reset", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return redisError("reset", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return redisError("reset", err)
		}
	}
	return nil
}

func (s *RedisLedger) Close() error {
	return s.client.Close()
}

func redisError(op string, err error) error {
	return &attendance.PersistenceError{Op: op, Fatal: isFatalRedis(err), Err: err}
}

// isFatalRedis reports failures that retrying will not clear: a read-only replica, memory exhaustion
// or failed persistence. Network errors are retryable.
func isFatalRedis(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"READONLY", "OOM", "MISCONF"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
