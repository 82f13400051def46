package application

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
)

// JoinPoolCommand 入池请求
type JoinPoolCommand struct {
	UserID         string   `json:"user_id"`
	ConnectionID   string   `json:"connection_id"`
	Side           string   `json:"side"`
	CurrencyPair   string   `json:"currency_pair"`
	Amount         string   `json:"amount"`
	PreferredPrice string   `json:"preferred_price,omitempty"`
	TrustScore     float64  `json:"trust_score"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Verifications  []string `json:"verifications,omitempty"`
}

// LeavePoolCommand 离池请求
type LeavePoolCommand struct {
	UserID       string `json:"user_id"`
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
}

// JoinResult 入池结果。Proposal 非空表示本次入池即触发了一个提案。
type JoinResult struct {
	ParticipantKey string       `json:"participant_key"`
	Proposal       *ProposalDTO `json:"proposal,omitempty"`
}

// ProposalDTO 提案的对外只读视图
type ProposalDTO struct {
	MatchID      string    `json:"match_id"`
	CurrencyPair string    `json:"currency_pair"`
	Amount       string    `json:"amount"`
	AgreedPrice  string    `json:"agreed_price"`
	MatchScore   float64   `json:"match_score"`
	TrustScore   float64   `json:"trust_score"`
	Status       string    `json:"status"`
	BuyerUserID  string    `json:"buyer_user_id"`
	SellerUserID string    `json:"seller_user_id"`
	RejectedBy   string    `json:"rejected_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// PoolStatsDTO 等待池统计
type PoolStatsDTO struct {
	TotalWaiting int            `json:"total_waiting"`
	Reserved     int            `json:"reserved"`
	ByPair       map[string]int `json:"by_pair"`
	BySide       map[string]int `json:"by_side"`
	Degraded     bool           `json:"degraded"`
}

func toProposalDTO(p *domain.MatchProposal) *ProposalDTO {
	dto := &ProposalDTO{
		MatchID:      p.MatchID,
		CurrencyPair: p.CurrencyPair,
		Amount:       p.Amount.String(),
		AgreedPrice:  p.AgreedPrice.String(),
		MatchScore:   p.MatchScore,
		TrustScore:   p.TrustScore,
		Status:       string(p.Status),
		RejectedBy:   p.RejectedBy,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
	}
	if p.ParticipantA.Side == domain.SideBuy {
		dto.BuyerUserID = p.ParticipantA.UserID
		dto.SellerUserID = p.ParticipantB.UserID
	} else {
		dto.BuyerUserID = p.ParticipantB.UserID
		dto.SellerUserID = p.ParticipantA.UserID
	}
	return dto
}

func (c *JoinPoolCommand) toParticipant(now time.Time) (*domain.Participant, error) {
	amount, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return nil, domain.ErrInvalidParticipant
	}
	p := &domain.Participant{
		UserID:         c.UserID,
		ConnectionID:   c.ConnectionID,
		Side:           domain.Side(c.Side),
		CurrencyPair:   c.CurrencyPair,
		Amount:         amount,
		TrustScore:     c.TrustScore,
		Verifications:  c.Verifications,
		Status:         domain.ParticipantStatusWaiting,
		JoinedAt:       now,
		LastActivityAt: now,
	}
	if c.PreferredPrice != "" {
		price, err := decimal.NewFromString(c.PreferredPrice)
		if err != nil {
			return nil, domain.ErrInvalidParticipant
		}
		p.PreferredPrice = &price
	}
	if c.Latitude != nil && c.Longitude != nil {
		p.Location = &domain.GeoPoint{Latitude: *c.Latitude, Longitude: *c.Longitude}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
