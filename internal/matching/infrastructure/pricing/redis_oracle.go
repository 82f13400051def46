package pricing

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
)

// RedisPriceOracle 从 Redis 读取行情平台写入的参考价，
// 键形如 pricing:reference:{pair}，值为十进制字符串。
// 缓存未命中时委托给可选的 fallback 价格源。
type RedisPriceOracle struct {
	client   redis.UniversalClient
	prefix   string
	fallback domain.PriceOracle
}

// NewRedisPriceOracle 创建参考价源。fallback 可为 nil。
func NewRedisPriceOracle(client redis.UniversalClient, fallback domain.PriceOracle) domain.PriceOracle {
	return &RedisPriceOracle{
		client:   client,
		prefix:   "pricing:reference:",
		fallback: fallback,
	}
}

// ReferencePrice 查询币对当前参考价
func (o *RedisPriceOracle) ReferencePrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	raw, err := o.client.Get(ctx, o.prefix+pair).Result()
	if err == redis.Nil {
		if o.fallback != nil {
			return o.fallback.ReferencePrice(ctx, pair)
		}
		return decimal.Zero, fmt.Errorf("no reference price for pair %s", pair)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get reference price: %w", err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed reference price for pair %s: %w", pair, err)
	}
	return price, nil
}
