package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/montracker/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

// Redis is a StatusCache shared by every process pointing at the same server.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return NewRedisClient(redis.NewClient(opts), ttl), nil
}

func NewRedisClient(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{client: client, ttl: ttl}
}

// generationTTL bounds the lifetime of a generation counter. An expired
// counter reads as zero.
const generationTTL = 24 * time.Hour

func generationKey(key string) string {
	return key + ":gen"
}

func (r *Redis) Get(ctx context.Context, key string) (models.ModelStatus, bool, int64, error) {
	values, err := r.client.MGet(ctx, key, generationKey(key)).Result()
	if err != nil {
		return "", false, 0, fmt.Errorf("failed to read %s: %w", key, err)
	}

	generation, err := parseGeneration(values[1])
	if err != nil {
		return "", false, 0, fmt.Errorf("failed to read generation of %s: %w", key, err)
	}

	value, _ := values[0].(string)

	status := models.ModelStatus(value)
	if !status.Valid() {
		return "", false, generation, nil
	}

	return status, true, generation, nil
}

func parseGeneration(value any) (int64, error) {
	raw, ok := value.(string)
	if !ok || raw == "" {
		return 0, nil
	}

	return strconv.ParseInt(raw, 10, 64)
}

// Set writes the status under WATCH on the generation key. A concurrent
// Invalidate aborts the write.
func (r *Redis) Set(ctx context.Context, key string, status models.ModelStatus, generation int64) error {
	genKey := generationKey(key)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		stored, err := parseGeneration(current)
		if err != nil {
			return err
		}

		if stored != generation {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(status), r.ttl)

			return nil
		})

		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	return nil
}

func (r *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)

		for _, key := range keys {
			pipe.Incr(ctx, generationKey(key))
			pipe.Expire(ctx, generationKey(key), generationTTL)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate %v: %w", keys, err)
	}

	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
