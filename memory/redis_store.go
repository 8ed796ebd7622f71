package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scttfrdmn/investdesk/desk"
)

// RedisStore keeps each session as a JSON string under
// "<prefix>:session:<id>" and indexes ids in the sorted set
// "<prefix>:sessions", scored by start time.
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

// NewRedisStore connects to redisURL (redis://host:port/db). A zero ttl
// keeps sessions until deleted.
func NewRedisStore(redisURL string, ttl time.Duration, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), ttl, keyPrefix), nil
}

// NewRedisStoreWithClient uses an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "investdesk"
	}
	return &RedisStore{client: client, ttl: ttl, keyPrefix: keyPrefix}
}

func (r *RedisStore) sessionKey(correlationID string) string {
	return fmt.Sprintf("%s:session:%s", r.keyPrefix, correlationID)
}

func (r *RedisStore) indexKey() string {
	return r.keyPrefix + ":sessions"
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Save writes the session and its index entry in one transaction.
func (r *RedisStore) Save(ctx context.Context, s *desk.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	score := float64(s.StartedAt().UnixNano()) / 1e9
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(s.CorrelationID()), data, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: score, Member: s.CorrelationID()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Load reads and decodes a session.
func (r *RedisStore) Load(ctx context.Context, correlationID string) (*desk.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s desk.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

// List walks the index newest first. Index entries whose session expired
// are removed as they are found.
func (r *RedisStore) List(ctx context.Context, limit int) ([]Summary, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s, err := r.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			if err := r.client.ZRem(ctx, r.indexKey(), id).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune expired session %s: %w", id, err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(s))
	}
	return out, nil
}

// Delete removes the session and its index entry.
func (r *RedisStore) Delete(ctx context.Context, correlationID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(correlationID))
		pipe.ZRem(ctx, r.indexKey(), correlationID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
