package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
)

// StaticPriceOracle 配置文件给定的固定参考价表，开发与测试用
type StaticPriceOracle struct {
	prices map[string]decimal.Decimal
}

// NewStaticPriceOracle 从 pair → 价格字符串 的配置表构建。
// 无法解析的配置项被忽略。
func NewStaticPriceOracle(prices map[string]string) *StaticPriceOracle {
	parsed := make(map[string]decimal.Decimal, len(prices))
	for pair, raw := range prices {
		if price, err := decimal.NewFromString(raw); err == nil && price.IsPositive() {
			parsed[pair] = price
		}
	}
	return &StaticPriceOracle{prices: parsed}
}

// ReferencePrice 查表
func (o *StaticPriceOracle) ReferencePrice(_ context.Context, pair string) (decimal.Decimal, error) {
	price, ok := o.prices[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("no reference price for pair %s", pair)
	}
	return price, nil
}

var _ domain.PriceOracle = (*StaticPriceOracle)(nil)
