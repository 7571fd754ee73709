package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"rxportal/internal/store"
)

const selectionKeySuffix = ":active_profile"

// SelectionStore 持久化会话范围内的当前档案选择，让页面刷新后无需重选。
// 选择不跨设备；随会话过期一并消失。
type SelectionStore interface {
	Save(ctx context.Context, sessionID string, p *store.Profile) error
	// Load 在记录缺失或损坏时返回 (nil, nil)——损坏数据按“没有保存的档案”处理。
	Load(ctx context.Context, sessionID string) (*store.Profile, error)
	Clear(ctx context.Context, sessionID string) error
}

// RedisSelections 以 Redis 实现 SelectionStore。
type RedisSelections struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSelections 构造 RedisSelections，TTL 与会话一致。
func NewRedisSelections(client redis.UniversalClient, ttl time.Duration) *RedisSelections {
	return &RedisSelections{client: client, ttl: ttl}
}

func selectionKey(sessionID string) string {
	return "portal:session:" + sessionID + selectionKeySuffix
}

func (s *RedisSelections) Save(ctx context.Context, sessionID string, p *store.Profile) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, selectionKey(sessionID), payload, s.ttl).Err()
}

func (s *RedisSelections) Load(ctx context.Context, sessionID string) (*store.Profile, error) {
	value, err := s.client.Get(ctx, selectionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p store.Profile
	if err := json.Unmarshal([]byte(value), &p); err != nil || p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (s *RedisSelections) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, selectionKey(sessionID)).Err()
}
