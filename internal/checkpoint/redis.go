package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/gridiron/pkg/models"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is the key prefix for all checkpoint keys (default "gridiron:checkpoint:").
	Prefix string
	// TTL expires idle threads (0 = never expire).
	TTL      time.Duration
	PoolSize int
}

// RedisStore keeps checkpoints in Redis. Saves run as WATCH/MULTI
// transactions so concurrent writers on one thread cannot both win.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "gridiron:checkpoint:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + "thread:" + threadID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) Load(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return env.checkpoint(threadID)
}

func (s *RedisStore) Save(ctx context.Context, threadID string, state *models.TurnState, baseVersion int64) (int64, error) {
	if err := validateSave(threadID, state, baseVersion); err != nil {
		return 0, err
	}
	data, err := encodeState(threadID, state)
	if err != nil {
		return 0, err
	}
	next := baseVersion + 1
	savedAt := s.now().UTC()
	value, err := json.Marshal(envelope{
		Version:      next,
		MessageCount: len(state.Messages),
		SavedAt:      savedAt,
		State:        data,
	})
	if err != nil {
		return 0, err
	}

	key := s.key(threadID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			env, err := decodeEnvelope(raw)
			if err != nil {
				return err
			}
			current = env.Version
		}
		if current != baseVersion {
			return &StaleWriteError{ThreadID: threadID, BaseVersion: baseVersion, CurrentVersion: current}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, s.ttl)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(savedAt.UnixMilli()), Member: threadID})
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return 0, &StaleWriteError{ThreadID: threadID, BaseVersion: baseVersion, CurrentVersion: -1}
	case errors.Is(err, ErrStaleWrite):
		return 0, err
	case err != nil:
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return next, nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]Summary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(clampLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired by TTL; drop the stale index entry.
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list checkpoints: %w", err)
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			return nil, err
		}
		out = append(out, env.summary(id))
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
