// Package domain P2P 换汇撮合引擎的领域模型
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProposalNotFound   = errors.New("match proposal not found")
	ErrNotAuthorized      = errors.New("user is not a party to this proposal")
	ErrProposalNotActive  = errors.New("proposal not active")
	ErrInvalidParticipant = errors.New("invalid participant")
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回对手方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid 校验方向取值
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParticipantStatus 等待池内参与者状态
type ParticipantStatus string

const (
	// ParticipantStatusWaiting 等待撮合，可被列为候选
	ParticipantStatusWaiting ParticipantStatus = "WAITING"
	// ParticipantStatusReserved 已被未决提案占用，撮合候选查询会跳过
	ParticipantStatusReserved ParticipantStatus = "RESERVED"
)

// GeoPoint 经纬度坐标
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Participant 等待撮合的换汇请求。JSON 标签同时是分布式池的存储格式。
type Participant struct {
	UserID         string            `json:"user_id"`
	ConnectionID   string            `json:"connection_id"`
	Side           Side              `json:"side"`
	CurrencyPair   string            `json:"currency_pair"`
	Amount         decimal.Decimal   `json:"amount"`
	PreferredPrice *decimal.Decimal  `json:"preferred_price,omitempty"`
	TrustScore     float64           `json:"trust_score"`
	Location       *GeoPoint         `json:"location,omitempty"`
	Verifications  []string          `json:"verifications,omitempty"`
	Status         ParticipantStatus `json:"status"`
	JoinedAt       time.Time         `json:"joined_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

// Key 池内唯一键。同一用户可在不同币对/方向上同时等待，但不可重复同一组合。
func (p *Participant) Key() string {
	return ParticipantKey(p.UserID, p.CurrencyPair, p.Side)
}

// ParticipantKey 组合 (userID, currencyPair, side) 键
func ParticipantKey(userID, pair string, side Side) string {
	return fmt.Sprintf("%s|%s|%s", userID, pair, side)
}

// Validate 入池前的参数校验
func (p *Participant) Validate() error {
	if p.UserID == "" || p.ConnectionID == "" {
		return fmt.Errorf("%w: user_id and connection_id are required", ErrInvalidParticipant)
	}
	if !p.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidParticipant, p.Side)
	}
	if p.CurrencyPair == "" || !strings.Contains(p.CurrencyPair, "/") {
		return fmt.Errorf("%w: currency pair must be of the form BASE/QUOTE", ErrInvalidParticipant)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParticipant)
	}
	if p.PreferredPrice != nil && !p.PreferredPrice.IsPositive() {
		return fmt.Errorf("%w: preferred price must be positive", ErrInvalidParticipant)
	}
	if p.TrustScore < 0 || p.TrustScore > 1 {
		return fmt.Errorf("%w: trust score must be within [0,1]", ErrInvalidParticipant)
	}
	return nil
}

// Touch 刷新活跃时间戳
func (p *Participant) Touch(now time.Time) {
	p.LastActivityAt = now
}

// Idle 判断参与者是否超过给定空闲时长未活跃
func (p *Participant) Idle(now time.Time, maxIdle time.Duration) bool {
	return now.Sub(p.LastActivityAt) > maxIdle
}
