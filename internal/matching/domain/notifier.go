package domain

import (
	"context"
	"time"
)

// 推送事件类型
const (
	EventTypeProposal = "proposal" // 新提案，附 30 秒倒计时
	EventTypeAccepted = "accepted" // 双方确认，撮合达成
	EventTypeRejected = "rejected" // 对手方拒绝
)

// MatchEvent 推送给参与者的提案/结果事件。至多一次投递，
// 丢失的 proposal 事件由超时流程兜底。
type MatchEvent struct {
	Type         string          `json:"type"`
	MatchID      string          `json:"match_id"`
	CurrencyPair string          `json:"currency_pair"`
	Side         Side            `json:"side"`
	Amount       string          `json:"amount"`
	AgreedPrice  string          `json:"agreed_price"`
	MatchScore   float64         `json:"match_score"`
	Counterparty CounterpartyRef `json:"counterparty"`
	RejectedBy   string          `json:"rejected_by,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
}

// CounterpartyRef 对手方的对外可见信息
type CounterpartyRef struct {
	UserID     string  `json:"user_id"`
	TrustScore float64 `json:"trust_score"`
}

// Notifier 推送通道端口。connectionID 是入池时捕获的不透明通道句柄，
// 引擎不依赖任何具体传输实现。
type Notifier interface {
	Deliver(ctx context.Context, connectionID string, event *MatchEvent) error
}
