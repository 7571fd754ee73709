package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionRecordKeyPrefix = "portal:session:"

// RecordStore 保存远端会话记录：会话 ID → 账号 ID。
// 记录缺失即会话不存在（过期或已退出）。
type RecordStore interface {
	Save(ctx context.Context, sessionID string, accountID uint) error
	Lookup(ctx context.Context, sessionID string) (uint, bool, error)
	Revoke(ctx context.Context, sessionID string) error
}

// RedisRecords 以 Redis 实现 RecordStore，TTL 即会话有效期。
type RedisRecords struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisRecords 构造 RedisRecords。
func NewRedisRecords(client redis.UniversalClient, ttl time.Duration) *RedisRecords {
	return &RedisRecords{client: client, ttl: ttl}
}

func recordKey(sessionID string) string {
	return sessionRecordKeyPrefix + sessionID
}

func (r *RedisRecords) Save(ctx context.Context, sessionID string, accountID uint) error {
	return r.client.Set(ctx, recordKey(sessionID), strconv.FormatUint(uint64(accountID), 10), r.ttl).Err()
}

func (r *RedisRecords) Lookup(ctx context.Context, sessionID string) (uint, bool, error) {
	value, err := r.client.Get(ctx, recordKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	accountID, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		// 记录损坏按会话不存在处理。
		return 0, false, nil
	}
	return uint(accountID), true, nil
}

func (r *RedisRecords) Revoke(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, recordKey(sessionID)).Err()
}
