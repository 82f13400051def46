package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceOracle 外部参考价源端口。仅在双方均未给出意向价时调用。
type PriceOracle interface {
	ReferencePrice(ctx context.Context, pair string) (decimal.Decimal, error)
}
