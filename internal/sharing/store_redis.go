package sharing

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/askwhyharsh/familycircle/internal/storage"
)

// RedisStore keeps every edge twice: under the owner's outbound hash and
// under the viewer's inbound hash, so both lookup directions are one HMGET.
type RedisStore struct {
	redis storage.RedisClient
}

func NewRedisStore(redisClient storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func (s *RedisStore) SharingWith(ctx context.Context, ownerIDs []string, viewerID string) (map[string]bool, error) {
	return s.lookup(ctx, s.inboundKey(viewerID), ownerIDs)
}

func (s *RedisStore) SharedBy(ctx context.Context, ownerID string, viewerIDs []string) (map[string]bool, error) {
	return s.lookup(ctx, s.outboundKey(ownerID), viewerIDs)
}

func (s *RedisStore) lookup(ctx context.Context, key string, fields []string) (map[string]bool, error) {
	result := make(map[string]bool, len(fields))
	if len(fields) == 0 {
		return result, nil
	}

	values, err := s.redis.HMGet(ctx, key, fields...)
	if err != nil {
		return nil, fmt.Errorf("failed to read sharing edges: %w", err)
	}

	for i, v := range values {
		if v == nil {
			continue
		}
		result[fields[i]] = v == "1"
	}
	return result, nil
}

func (s *RedisStore) UpsertSharingEdge(ctx context.Context, ownerID, viewerID string, enabled bool) error {
	flag := "0"
	if enabled {
		flag = "1"
	}

	err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.outboundKey(ownerID), viewerID, flag)
		pipe.HSet(ctx, s.inboundKey(viewerID), ownerID, flag)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store sharing edge: %w", err)
	}
	return nil
}

func (s *RedisStore) ViewersOf(ctx context.Context, ownerID string) ([]string, error) {
	all, err := s.redis.HGetAll(ctx, s.outboundKey(ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to list viewers: %w", err)
	}

	viewers := make([]string, 0, len(all))
	for viewer, flag := range all {
		if flag == "1" {
			viewers = append(viewers, viewer)
		}
	}
	return viewers, nil
}

func (s *RedisStore) outboundKey(ownerID string) string {
	return fmt.Sprintf("sharing:out:%s", ownerID)
}

func (s *RedisStore) inboundKey(viewerID string) string {
	return fmt.Sprintf("sharing:in:%s", viewerID)
}
