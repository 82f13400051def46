package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
	"github.com/wyfcoding/pkg/logging"
)

// poolEntryTTL 池键的存活时长，每次写入续期。与清扫器的空闲淘汰阈值一致，
// 保证两层视图同步过期。
const poolEntryTTL = 5 * time.Minute

// PoolRedisRepository 等待池的分布式存储实现。每个 (币对, 方向) 一个
// Hash，field 为 userID，value 为参与者 JSON。
type PoolRedisRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewPoolRedisRepository 创建池仓储
func NewPoolRedisRepository(client redis.UniversalClient) domain.PoolRepository {
	return &PoolRedisRepository{
		client: client,
		prefix: "pool:",
		ttl:    poolEntryTTL,
	}
}

func (r *PoolRedisRepository) key(pair string, side domain.Side) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, pair, side)
}

// Save 写入条目并续期整个池键的 TTL
func (r *PoolRedisRepository) Save(ctx context.Context, participant *domain.Participant) error {
	data, err := json.Marshal(participant)
	if err != nil {
		return fmt.Errorf("failed to marshal pool entry: %w", err)
	}
	key := r.key(participant.CurrencyPair, participant.Side)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, participant.UserID, data)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save pool entry: %w", err)
	}
	return nil
}

// Delete 移除条目。键不存在视为成功。
func (r *PoolRedisRepository) Delete(ctx context.Context, pair string, side domain.Side, userID string) error {
	if err := r.client.HDel(ctx, r.key(pair, side), userID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to delete pool entry: %w", err)
	}
	return nil
}

// List 读取整个池。无法反序列化的条目丢弃并告警，不作为错误传播。
func (r *PoolRedisRepository) List(ctx context.Context, pair string, side domain.Side) ([]*domain.Participant, error) {
	entries, err := r.client.HGetAll(ctx, r.key(pair, side)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list pool entries: %w", err)
	}

	participants := make([]*domain.Participant, 0, len(entries))
	for userID, raw := range entries {
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			logging.Warn(ctx, "dropping malformed pool entry",
				"pool_key", r.key(pair, side),
				"user_id", userID,
				"error", err)
			continue
		}
		participants = append(participants, &p)
	}
	return participants, nil
}

// PoolKeys 扫描现存的池键
func (r *PoolRedisRepository) PoolKeys(ctx context.Context) ([]domain.PoolKey, error) {
	keys := make([]domain.PoolKey, 0)
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		trimmed := strings.TrimPrefix(iter.Val(), r.prefix)
		// 键形如 pool:EUR/USD:BUY，币对内可含 ':' 以外的任意字符
		idx := strings.LastIndex(trimmed, ":")
		if idx <= 0 {
			continue
		}
		side := domain.Side(trimmed[idx+1:])
		if !side.Valid() {
			continue
		}
		keys = append(keys, domain.PoolKey{Pair: trimmed[:idx], Side: side})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan pool keys: %w", err)
	}
	return keys, nil
}
