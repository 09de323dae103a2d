package state

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a Redis client. All operations are
// single Redis commands, so they are atomic across every coordinator
// instance sharing the same server.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = &RedisStore{}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromAddr dials a standalone Redis at addr.
func NewRedisStoreFromAddr(addr string) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "redis get %s", key)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value int64) error {
	return errors.Wrapf(s.client.Set(ctx, key, value, 0).Err(), "redis set %s", key)
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis incr %s", key)
	}
	return v, nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis decr %s", key)
	}
	return v, nil
}

func (s *RedisStore) SetAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis sadd %s", key)
	}
	return n > 0, nil
}

func (s *RedisStore) SetRemove(ctx context.Context, key, member string) error {
	return errors.Wrapf(s.client.SRem(ctx, key, member).Err(), "redis srem %s", key)
}

func (s *RedisStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis sismember %s", key)
	}
	return ok, nil
}

func (s *RedisStore) SetCardinality(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis scard %s", key)
	}
	return n, nil
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis smembers %s", key)
	}
	return members, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis exists %s", key)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrapf(s.client.Del(ctx, keys...).Err(), "redis del")
}
