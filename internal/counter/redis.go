package counter

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// Compile-time interface check
var _ Store = (*RedisStore)(nil)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore keeps counters in Redis. INCRBY is atomic on the server, which
// is what makes allocations from separate processes distinct.
type RedisStore struct {
	client *redis.Client
	addr   string
}

// NewRedisStore creates a store for the given server. No connection is made
// until the first command.
func NewRedisStore(opts RedisOptions) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:         opts.Addr,
			Password:     opts.Password,
			DB:           opts.DB,
			PoolSize:     opts.PoolSize,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		}),
		addr: opts.Addr,
	}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, s.wrap(err, key)
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrCorruptCounter, err), map[string]string{
			"key":   key,
			"value": raw,
		})
	}
	return value, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value int64) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return s.wrap(err, key)
	}
	return nil
}

// IncrBy implements Store.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	value, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, s.wrap(err, key)
	}
	return value, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.wrap(err, "")
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// wrap classifies a go-redis error. A reply saying the stored value is not an
// integer means the counter is corrupt; everything else, including auth
// failures, means the store cannot serve the request.
func (s *RedisStore) wrap(err error, key string) error {
	details := map[string]string{"addr": s.addr}
	if key != "" {
		details["key"] = key
	}

	var reply redis.Error
	if errors.As(err, &reply) && isValueError(reply.Error()) {
		return noncererr.WithDetails(noncererr.WithCause(noncererr.ErrCorruptCounter, err), details)
	}
	return noncererr.WithDetails(noncererr.WithCause(noncererr.ErrStoreUnavailable, err), details)
}

func isValueError(msg string) bool {
	return strings.Contains(msg, "not an integer") || strings.HasPrefix(msg, "WRONGTYPE")
}
