package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
)

// ProposalStatus 提案状态
type ProposalStatus string

const (
	ProposalStatusProposed ProposalStatus = "PROPOSED" // 待双方确认
	ProposalStatusAccepted ProposalStatus = "ACCEPTED" // 已确认成交
	ProposalStatusRejected ProposalStatus = "REJECTED" // 一方拒绝
	ProposalStatusExpired  ProposalStatus = "EXPIRED"  // 响应窗口超时
)

// ProposalResponseWindow 双方确认的响应窗口
const ProposalResponseWindow = 30 * time.Second

// MatchProposal 撮合提案。双方参与者为提案时刻的快照，
// 提案期间池内数据变化不影响已算定的分数与合意价。
type MatchProposal struct {
	MatchID      string          `json:"match_id"`
	ParticipantA Participant     `json:"participant_a"`
	ParticipantB Participant     `json:"participant_b"`
	CurrencyPair string          `json:"currency_pair"`
	Amount       decimal.Decimal `json:"amount"`
	AgreedPrice  decimal.Decimal `json:"agreed_price"`
	MatchScore   float64         `json:"match_score"`
	TrustScore   float64         `json:"trust_score"`
	Status       ProposalStatus  `json:"status"`
	RejectedBy   string          `json:"rejected_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`

	fsm *fsm.Machine `json:"-"`
}

// NewMatchProposal 创建提案。金额取双方较小值，信任分取双方较小值。
func NewMatchProposal(matchID string, requester, candidate *Participant, agreedPrice decimal.Decimal, matchScore float64, now time.Time) *MatchProposal {
	p := &MatchProposal{
		MatchID:      matchID,
		ParticipantA: *requester,
		ParticipantB: *candidate,
		CurrencyPair: requester.CurrencyPair,
		Amount:       decimal.Min(requester.Amount, candidate.Amount),
		AgreedPrice:  agreedPrice,
		MatchScore:   matchScore,
		TrustScore:   min(requester.TrustScore, candidate.TrustScore),
		Status:       ProposalStatusProposed,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ProposalResponseWindow),
	}
	p.initFSM()
	return p
}

func (p *MatchProposal) initFSM() {
	m := fsm.NewMachine(fsm.State(p.Status))
	m.AddTransition(fsm.State(ProposalStatusProposed), "ACCEPT", fsm.State(ProposalStatusAccepted))
	m.AddTransition(fsm.State(ProposalStatusProposed), "REJECT", fsm.State(ProposalStatusRejected))
	m.AddTransition(fsm.State(ProposalStatusProposed), "EXPIRE", fsm.State(ProposalStatusExpired))
	p.fsm = m
}

// InitFSM 确保状态机已初始化
func (p *MatchProposal) InitFSM() {
	if p.fsm == nil {
		p.initFSM()
	}
}

// IsParty 判断用户是否为提案当事方
func (p *MatchProposal) IsParty(userID string) bool {
	return userID == p.ParticipantA.UserID || userID == p.ParticipantB.UserID
}

// OtherParty 返回给定用户的对手方快照
func (p *MatchProposal) OtherParty(userID string) *Participant {
	if userID == p.ParticipantA.UserID {
		return &p.ParticipantB
	}
	return &p.ParticipantA
}

// Terminal 是否处于终态
func (p *MatchProposal) Terminal() bool {
	return p.Status != ProposalStatusProposed
}

// Due 是否已过响应窗口且仍未决
func (p *MatchProposal) Due(now time.Time) bool {
	return p.Status == ProposalStatusProposed && !now.Before(p.ExpiresAt)
}

// Accept 当事方确认提案。终态上的重复调用返回 ErrProposalNotActive。
func (p *MatchProposal) Accept(ctx context.Context, userID string) error {
	if !p.IsParty(userID) {
		return ErrNotAuthorized
	}
	p.InitFSM()
	if err := p.fsm.Trigger(ctx, "ACCEPT"); err != nil {
		return ErrProposalNotActive
	}
	p.Status = ProposalStatusAccepted
	return nil
}

// Reject 当事方拒绝提案
func (p *MatchProposal) Reject(ctx context.Context, userID string) error {
	if !p.IsParty(userID) {
		return ErrNotAuthorized
	}
	p.InitFSM()
	if err := p.fsm.Trigger(ctx, "REJECT"); err != nil {
		return ErrProposalNotActive
	}
	p.Status = ProposalStatusRejected
	p.RejectedBy = userID
	return nil
}

// Expire 响应窗口超时
func (p *MatchProposal) Expire(ctx context.Context) error {
	p.InitFSM()
	if err := p.fsm.Trigger(ctx, "EXPIRE"); err != nil {
		return ErrProposalNotActive
	}
	p.Status = ProposalStatusExpired
	return nil
}
