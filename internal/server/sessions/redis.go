package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/go-redis/redis/v8"
)

const keyPrefix = "upload:session:"

// RedisClient is the part of *redis.Client the registry uses.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisRegistry stores each session as a hash under upload:session:{id}.
type RedisRegistry struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisRegistry(client RedisClient, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

// NewRedisClient dials addr lazily; the first command surfaces connection
// errors.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (r *RedisRegistry) Put(ctx context.Context, s *models.UploadSession) error {
	key := keyPrefix + s.SessionID
	err := r.client.HSet(ctx, key,
		"object_key", s.ObjectKey,
		"owner", s.Owner,
		"filename", s.Filename,
		"content_type", s.ContentType,
		"created_at", s.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	vals, err := r.client.HGetAll(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(vals) == 0 {
		return nil, common.ErrSessionNotFound
	}
	return decode(sessionID, vals), nil
}

func (r *RedisRegistry) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ListOlderThan scans every registered session. It is only used by the
// reconciler, so a full SCAN is acceptable.
func (r *RedisRegistry) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.UploadSession, error) {
	var (
		out    []*models.UploadSession
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, key := range keys {
			vals, err := r.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("redis hgetall: %w", err)
			}
			if len(vals) == 0 {
				continue
			}
			s := decode(key[len(keyPrefix):], vals)
			if s.CreatedAt.Before(cutoff) {
				out = append(out, s)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

func decode(id string, vals map[string]string) *models.UploadSession {
	created, _ := time.Parse(time.RFC3339Nano, vals["created_at"])
	return &models.UploadSession{
		SessionID:   id,
		ObjectKey:   vals["object_key"],
		Owner:       vals["owner"],
		Filename:    vals["filename"],
		ContentType: vals["content_type"],
		CreatedAt:   created,
	}
}
