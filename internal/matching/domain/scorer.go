package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// MinAcceptableScore 提案创建的最低兼容分
const MinAcceptableScore = 0.6

// 各分项权重，合计 1.0
const (
	weightPrice        = 0.30
	weightTrust        = 0.25
	weightAmount       = 0.20
	weightLocation     = 0.15
	weightVerification = 0.10
)

// 输入缺失时的分项默认值
const (
	defaultPriceScore        = 0.8
	defaultLocationScore     = 0.7
	defaultVerificationScore = 0.5
	minVerificationScore     = 0.3
)

const earthRadiusKm = 6371.0

// MatchScore 一次候选评估的结果
type MatchScore struct {
	// Value 加权总分，范围 [0,1]
	Value float64
	// AgreedPrice 双方意向价的合意价。NeedsReferencePrice 为 true 时无效。
	AgreedPrice decimal.Decimal
	// NeedsReferencePrice 双方均未报价，需要调用外部价格源兜底
	NeedsReferencePrice bool
}

// Acceptable 是否达到提案门槛
func (s MatchScore) Acceptable() bool {
	return s.Value >= MinAcceptableScore
}

// Score 计算请求方与对手方候选之间的兼容分。纯函数，只在同币对、
// 相反方向且排除自身的前提下调用。
func Score(requester, candidate *Participant) MatchScore {
	total := weightPrice*priceScore(requester.PreferredPrice, candidate.PreferredPrice) +
		weightTrust*trustScore(requester.TrustScore, candidate.TrustScore) +
		weightAmount*amountScore(requester.Amount, candidate.Amount) +
		weightLocation*locationScore(requester.Location, candidate.Location) +
		weightVerification*verificationScore(requester.Verifications, candidate.Verifications)

	score := MatchScore{Value: clamp01(total)}
	score.AgreedPrice, score.NeedsReferencePrice = agreePrice(requester.PreferredPrice, candidate.PreferredPrice)
	return score
}

// priceScore 价格兼容度：max(0, 1 - 2*|p1-p2|/max(p1,p2))
func priceScore(p1, p2 *decimal.Decimal) float64 {
	if p1 == nil || p2 == nil {
		return defaultPriceScore
	}
	maxPrice := decimal.Max(*p1, *p2)
	if !maxPrice.IsPositive() {
		return defaultPriceScore
	}
	ratio, _ := p1.Sub(*p2).Abs().Div(maxPrice).Float64()
	return math.Max(0, 1-2*ratio)
}

// trustScore 信任分兼容度：max(0, 1 - 0.5*|t1-t2|)
func trustScore(t1, t2 float64) float64 {
	return math.Max(0, 1-0.5*math.Abs(t1-t2))
}

// amountScore 金额兼容度：min/max
func amountScore(a1, a2 decimal.Decimal) float64 {
	if !a1.IsPositive() || !a2.IsPositive() {
		return 0
	}
	ratio, _ := decimal.Min(a1, a2).Div(decimal.Max(a1, a2)).Float64()
	return ratio
}

// locationScore 地理邻近度：大圆距离 d 公里 → max(0, 1 - d/100)
func locationScore(l1, l2 *GeoPoint) float64 {
	if l1 == nil || l2 == nil {
		return defaultLocationScore
	}
	d := haversineKm(l1, l2)
	return math.Max(0, 1-d/100)
}

// verificationScore 认证标签重合度：|交集|/max(|v1|,|v2|)，下限 0.3
func verificationScore(v1, v2 []string) float64 {
	if len(v1) == 0 && len(v2) == 0 {
		return defaultVerificationScore
	}
	set := make(map[string]struct{}, len(v1))
	for _, tag := range v1 {
		set[tag] = struct{}{}
	}
	overlap := 0
	for _, tag := range v2 {
		if _, ok := set[tag]; ok {
			overlap++
		}
	}
	denom := len(v1)
	if len(v2) > denom {
		denom = len(v2)
	}
	score := float64(overlap) / float64(denom)
	return math.Max(score, minVerificationScore)
}

// agreePrice 合意价：双方均报价取均值；单方报价取该价；均未报价需外部参考价。
func agreePrice(p1, p2 *decimal.Decimal) (decimal.Decimal, bool) {
	switch {
	case p1 != nil && p2 != nil:
		return p1.Add(*p2).Div(decimal.NewFromInt(2)), false
	case p1 != nil:
		return *p1, false
	case p2 != nil:
		return *p2, false
	default:
		return decimal.Zero, true
	}
}

// haversineKm 两点间大圆距离（公里）
func haversineKm(a, b *GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
