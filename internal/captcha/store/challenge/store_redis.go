package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"joingate/internal/captcha/models"
)

// RedisStore persists challenge records as JSON strings with a PX expiry.
// Take relies on GETDEL, which requires Redis 6.2 or newer.
type RedisStore struct {
	client    redis.Cmdable
	namespace string
	observe   OpObserver
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisNamespace overrides the key namespace.
func WithRedisNamespace(ns string) RedisOption {
	return func(s *RedisStore) {
		s.namespace = ns
	}
}

// WithRedisObserver reports per-operation latency, typically to metrics.
func WithRedisObserver(fn OpObserver) RedisOption {
	return func(s *RedisStore) {
		s.observe = fn
	}
}

// NewRedisStore constructs a Redis-backed challenge store.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		namespace: DefaultNamespace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) Put(ctx context.Context, key string, rec *models.ChallengeRecord, ttl time.Duration) (err error) {
	defer s.track("put", time.Now(), &err)

	if err := validateTTL(ttl); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("put %s: nil record", key)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode challenge record: %w", err)
	}
	return s.client.Set(ctx, namespaced(s.namespace, key), payload, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (rec *models.ChallengeRecord, err error) {
	defer s.track("get", time.Now(), &err)

	raw, err := s.client.Get(ctx, namespaced(s.namespace, key)).Bytes()
	return decode(raw, err)
}

func (s *RedisStore) Take(ctx context.Context, key string) (rec *models.ChallengeRecord, err error) {
	defer s.track("take", time.Now(), &err)

	raw, err := s.client.GetDel(ctx, namespaced(s.namespace, key)).Bytes()
	return decode(raw, err)
}

func (s *RedisStore) Delete(ctx context.Context, key string) (err error) {
	defer s.track("delete", time.Now(), &err)

	return s.client.Del(ctx, namespaced(s.namespace, key)).Err()
}

func (s *RedisStore) track(op string, start time.Time, err *error) {
	if s.observe != nil {
		s.observe(op, time.Since(start), *err)
	}
}

func decode(raw []byte, err error) (*models.ChallengeRecord, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.ChallengeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode challenge record: %w", err)
	}
	return &rec, nil
}
