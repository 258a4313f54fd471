package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rikapay/apps/gateway/internal/domain"
)

const (
	defaultRedisKeyPrefix = "payrollgw:session:"
	maxAppendAttempts     = 8
)

type RedisOptions struct {
	KeyPrefix string
	// TTL is refreshed on every append. Zero keeps sessions until deleted.
	TTL time.Duration
	Now func() time.Time
}

// RedisStore keeps each session as one JSON value. Appends use optimistic
// transactions so several gateway instances can share the keyspace.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, ttl: opts.TTL, now: now}
}

// DialRedis parses a redis:// URL and checks connectivity.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.Session, bool, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.Session{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, true, nil
}

func (s *RedisStore) Append(ctx context.Context, id string, state domain.SessionState, turns ...domain.Turn) (domain.Session, error) {
	key := s.key(id)
	var out domain.Session
	txf := func(tx *redis.Tx) error {
		now := s.now().UTC()
		sess := domain.Session{ID: id, CreatedAt: now}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &sess); err != nil {
				return fmt.Errorf("decode session %s: %w", id, err)
			}
		}
		sess.Turns = append(sess.Turns, turns...)
		sess.State = cloneState(state)
		sess.UpdatedAt = now

		encoded, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err == nil {
			out = sess
		}
		return err
	}

	for i := 0; i < maxAppendAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.Session{}, err
	}
	return domain.Session{}, fmt.Errorf("append to session %s: too much contention", id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
