package domain

import "context"

// PoolRepository 等待池的分布式存储端口。多实例共享同一等待人群，
// 条目按 pool:{currencyPair}:{side} 组织，无心跳刷新时 300 秒过期。
type PoolRepository interface {
	// Save 写入或刷新一个参与者，同时续期 TTL
	Save(ctx context.Context, participant *Participant) error
	// Delete 按键移除，键不存在不视为错误
	Delete(ctx context.Context, pair string, side Side, userID string) error
	// List 返回指定 (币对, 方向) 下的全部条目。无法反序列化的
	// 条目由实现丢弃并记录日志，不向上传播。
	List(ctx context.Context, pair string, side Side) ([]*Participant, error)
	// PoolKeys 枚举当前存在的 (币对, 方向) 池键，供全局统计使用
	PoolKeys(ctx context.Context) ([]PoolKey, error)
}

// PoolKey 一个等待池的标识
type PoolKey struct {
	Pair string
	Side Side
}
