package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
)

// ManagerConfig 撮合管理器的运行参数
type ManagerConfig struct {
	// JanitorInterval 后台清扫周期
	JanitorInterval time.Duration
	// IdleTimeout 池内条目的最大空闲时长，与分布式存储 TTL 保持一致
	IdleTimeout time.Duration
	// RecordRetention 终态提案在内存中的保留时长
	RecordRetention time.Duration
}

func (c *ManagerConfig) normalize() {
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.RecordRetention <= 0 {
		c.RecordRetention = 10 * time.Minute
	}
}

// MatchingManager 处理等待池与撮合提案的全部写入操作。
// 本地缓存与提案集合由管理器独占持有，互斥锁只覆盖 map 变更，
// 不跨越分布式存储与推送通道的网络调用。
type MatchingManager struct {
	pool     domain.PoolRepository
	notifier domain.Notifier
	oracle   domain.PriceOracle
	cfg      ManagerConfig
	logger   *slog.Logger

	mu        sync.Mutex
	local     map[string]*domain.Participant
	proposals map[string]*domain.MatchProposal

	// degraded 分布式存储是否处于不可达降级态
	degraded atomic.Bool

	// now 可注入时钟，测试用
	now func() time.Time

	stopCh chan struct{}
}

// NewMatchingManager 构造函数。
func NewMatchingManager(pool domain.PoolRepository, notifier domain.Notifier, oracle domain.PriceOracle, cfg ManagerConfig, logger *slog.Logger) *MatchingManager {
	cfg.normalize()
	return &MatchingManager{
		pool:      pool,
		notifier:  notifier,
		oracle:    oracle,
		cfg:       cfg,
		logger:    logger.With("module", "matching_manager"),
		local:     make(map[string]*domain.Participant),
		proposals: make(map[string]*domain.MatchProposal),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// JoinPool 入池并同步触发一次对向撮合尝试。
// 同键并发入池由管理器锁串行化；撮合失败不影响入池本身。
func (m *MatchingManager) JoinPool(ctx context.Context, cmd *JoinPoolCommand) (*JoinResult, error) {
	defer logging.LogDuration(ctx, "pool join completed",
		"user_id", cmd.UserID,
		"currency_pair", cmd.CurrencyPair,
	)()

	now := m.now()
	participant, err := cmd.toParticipant(now)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.local[participant.Key()]; ok {
		// 重复入池视为刷新：保留入池时间与未决提案占用状态
		participant.JoinedAt = existing.JoinedAt
		participant.Status = existing.Status
	}
	m.local[participant.Key()] = participant
	snapshot := *participant
	m.mu.Unlock()

	m.saveRemote(ctx, &snapshot)

	logging.Info(ctx, "participant joined pool",
		"user_id", participant.UserID,
		"currency_pair", participant.CurrencyPair,
		"side", participant.Side,
		"amount", participant.Amount.String(),
	)

	result := &JoinResult{ParticipantKey: participant.Key()}
	if snapshot.Status == domain.ParticipantStatusWaiting {
		if proposal := m.attemptMatch(ctx, &snapshot); proposal != nil {
			result.Proposal = toProposalDTO(proposal)
		}
	}
	return result, nil
}

// Heartbeat 刷新池内条目的活跃时间与分布式存储 TTL。条目不存在时为空操作。
func (m *MatchingManager) Heartbeat(ctx context.Context, userID, pair string, side domain.Side) error {
	key := domain.ParticipantKey(userID, pair, side)

	m.mu.Lock()
	participant, ok := m.local[key]
	if ok {
		participant.Touch(m.now())
	}
	var snapshot domain.Participant
	if ok {
		snapshot = *participant
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	m.saveRemote(ctx, &snapshot)
	return nil
}

// LeavePool 离池。幂等，移除不存在的键不是错误。
func (m *MatchingManager) LeavePool(ctx context.Context, cmd *LeavePoolCommand) error {
	side := domain.Side(cmd.Side)
	if !side.Valid() {
		return fmt.Errorf("%w: unknown side %q", domain.ErrInvalidParticipant, cmd.Side)
	}

	m.mu.Lock()
	delete(m.local, domain.ParticipantKey(cmd.UserID, cmd.CurrencyPair, side))
	m.mu.Unlock()

	m.deleteRemote(ctx, cmd.CurrencyPair, side, cmd.UserID)
	logging.Info(ctx, "participant left pool", "user_id", cmd.UserID, "currency_pair", cmd.CurrencyPair, "side", side)
	return nil
}

// AcceptMatch 当事方确认提案。双方在首次成功确认时各被移出等待池一次，
// 之后的重复确认返回 ErrProposalNotActive。
func (m *MatchingManager) AcceptMatch(ctx context.Context, matchID, userID string) error {
	m.mu.Lock()
	proposal, ok := m.proposals[matchID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrProposalNotFound
	}
	if proposal.Due(m.now()) {
		// 响应窗口已过，先行惰性超时
		_ = proposal.Expire(ctx)
		released := m.releaseLocked(proposal)
		m.mu.Unlock()
		m.restoreRemote(ctx, released)
		return domain.ErrProposalNotActive
	}
	if err := proposal.Accept(ctx, userID); err != nil {
		m.mu.Unlock()
		return err
	}
	a, b := proposal.ParticipantA, proposal.ParticipantB
	delete(m.local, a.Key())
	delete(m.local, b.Key())
	m.mu.Unlock()

	m.deleteRemote(ctx, a.CurrencyPair, a.Side, a.UserID)
	m.deleteRemote(ctx, b.CurrencyPair, b.Side, b.UserID)

	m.logger.InfoContext(ctx, "match accepted",
		"match_id", matchID,
		"accepted_by", userID,
		"currency_pair", proposal.CurrencyPair,
		"agreed_price", proposal.AgreedPrice.String(),
	)

	m.deliver(ctx, a.ConnectionID, acceptedEvent(proposal, &a))
	m.deliver(ctx, b.ConnectionID, acceptedEvent(proposal, &b))
	return nil
}

// RejectMatch 当事方拒绝提案。仅通知对手方，拒绝方不再收到回执；
// 双方解除占用，继续留在池内等待后续撮合。
func (m *MatchingManager) RejectMatch(ctx context.Context, matchID, userID string) error {
	m.mu.Lock()
	proposal, ok := m.proposals[matchID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrProposalNotFound
	}
	if proposal.Due(m.now()) {
		_ = proposal.Expire(ctx)
		released := m.releaseLocked(proposal)
		m.mu.Unlock()
		m.restoreRemote(ctx, released)
		return domain.ErrProposalNotActive
	}
	if err := proposal.Reject(ctx, userID); err != nil {
		m.mu.Unlock()
		return err
	}
	released := m.releaseLocked(proposal)
	other := *proposal.OtherParty(userID)
	m.mu.Unlock()

	m.restoreRemote(ctx, released)

	m.logger.InfoContext(ctx, "match rejected", "match_id", matchID, "rejected_by", userID)
	m.deliver(ctx, other.ConnectionID, rejectedEvent(proposal, &other, userID))
	return nil
}

// Degraded 分布式存储是否处于降级态（仅本实例内撮合）
func (m *MatchingManager) Degraded() bool {
	return m.degraded.Load()
}

// attemptMatch 对向撮合：取对手方候选、逐一打分、过滤达标者，
// 为最高分候选创建至多一个提案并推送双方。
func (m *MatchingManager) attemptMatch(ctx context.Context, requester *domain.Participant) *domain.MatchProposal {
	candidates := m.listOpposite(ctx, requester.CurrencyPair, requester.Side.Opposite(), requester.UserID)
	if len(candidates) == 0 {
		return nil
	}

	type scored struct {
		candidate *domain.Participant
		score     domain.MatchScore
	}
	acceptable := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		s := domain.Score(requester, c)
		if s.Acceptable() {
			acceptable = append(acceptable, scored{candidate: c, score: s})
		}
	}
	if len(acceptable) == 0 {
		return nil
	}

	// 最高分优先，平分时先入池者优先
	sort.Slice(acceptable, func(i, j int) bool {
		if acceptable[i].score.Value != acceptable[j].score.Value {
			return acceptable[i].score.Value > acceptable[j].score.Value
		}
		return acceptable[i].candidate.JoinedAt.Before(acceptable[j].candidate.JoinedAt)
	})
	best := acceptable[0]

	agreedPrice := best.score.AgreedPrice
	if best.score.NeedsReferencePrice {
		price, err := m.oracle.ReferencePrice(ctx, requester.CurrencyPair)
		if err != nil {
			// 价格源不可用时不创建提案，请求方留在池内等待后续机会
			logging.Warn(ctx, "reference price unavailable, skipping proposal",
				"currency_pair", requester.CurrencyPair, "error", err)
			return nil
		}
		agreedPrice = price
	}

	proposal := m.createProposal(ctx, requester, best.candidate, agreedPrice, best.score.Value)
	if proposal == nil {
		return nil
	}

	m.logger.InfoContext(ctx, "match proposal created",
		"match_id", proposal.MatchID,
		"currency_pair", proposal.CurrencyPair,
		"match_score", proposal.MatchScore,
		"amount", proposal.Amount.String(),
		"agreed_price", proposal.AgreedPrice.String(),
	)

	m.deliver(ctx, proposal.ParticipantA.ConnectionID, proposalEvent(proposal, &proposal.ParticipantA))
	m.deliver(ctx, proposal.ParticipantB.ConnectionID, proposalEvent(proposal, &proposal.ParticipantB))
	return proposal
}

// createProposal 在锁内复核双方仍可用，占用双方并登记提案。
func (m *MatchingManager) createProposal(ctx context.Context, requester, candidate *domain.Participant, agreedPrice decimal.Decimal, score float64) *domain.MatchProposal {
	now := m.now()
	matchID := fmt.Sprintf("MTC-%d", idgen.GenID())

	m.mu.Lock()
	if local, ok := m.local[requester.Key()]; ok {
		if local.Status != domain.ParticipantStatusWaiting {
			m.mu.Unlock()
			return nil
		}
		requester = local
	}
	if local, ok := m.local[candidate.Key()]; ok {
		if local.Status != domain.ParticipantStatusWaiting {
			m.mu.Unlock()
			return nil
		}
		candidate = local
	}
	requester.Status = domain.ParticipantStatusReserved
	candidate.Status = domain.ParticipantStatusReserved
	proposal := domain.NewMatchProposal(matchID, requester, candidate, agreedPrice, score, now)
	m.proposals[matchID] = proposal
	reqSnapshot, candSnapshot := *requester, *candidate
	m.mu.Unlock()

	// 占用状态写回分布式池，避免其他实例重复提案
	m.saveRemote(ctx, &reqSnapshot)
	m.saveRemote(ctx, &candSnapshot)
	return proposal
}

// listOpposite 本地缓存与分布式存储的并集，按参与者键去重，
// 排除请求方自身与已被占用的候选。本地条目优先于远端副本。
func (m *MatchingManager) listOpposite(ctx context.Context, pair string, side domain.Side, excludeUserID string) []*domain.Participant {
	merged := make(map[string]*domain.Participant)

	remote, err := m.pool.List(ctx, pair, side)
	if err != nil {
		m.markDegraded(ctx, err)
	} else {
		m.markHealthy(ctx)
		for _, p := range remote {
			merged[p.Key()] = p
		}
	}

	m.mu.Lock()
	for _, p := range m.local {
		if p.CurrencyPair == pair && p.Side == side {
			snapshot := *p
			merged[p.Key()] = &snapshot
		}
	}
	m.mu.Unlock()

	candidates := make([]*domain.Participant, 0, len(merged))
	for _, p := range merged {
		if p.UserID == excludeUserID || p.Status != domain.ParticipantStatusWaiting {
			continue
		}
		candidates = append(candidates, p)
	}
	return candidates
}

// releaseLocked 解除提案双方的占用。须持锁调用，返回需要写回远端的快照。
func (m *MatchingManager) releaseLocked(proposal *domain.MatchProposal) []*domain.Participant {
	released := make([]*domain.Participant, 0, 2)
	for _, ref := range []*domain.Participant{&proposal.ParticipantA, &proposal.ParticipantB} {
		if local, ok := m.local[ref.Key()]; ok {
			local.Status = domain.ParticipantStatusWaiting
			snapshot := *local
			released = append(released, &snapshot)
			continue
		}
		// 远端实例的参与者：按快照恢复等待态
		snapshot := *ref
		snapshot.Status = domain.ParticipantStatusWaiting
		released = append(released, &snapshot)
	}
	return released
}

func (m *MatchingManager) restoreRemote(ctx context.Context, participants []*domain.Participant) {
	for _, p := range participants {
		m.saveRemote(ctx, p)
	}
}

func (m *MatchingManager) saveRemote(ctx context.Context, p *domain.Participant) {
	if err := m.pool.Save(ctx, p); err != nil {
		m.markDegraded(ctx, err)
		return
	}
	m.markHealthy(ctx)
}

func (m *MatchingManager) deleteRemote(ctx context.Context, pair string, side domain.Side, userID string) {
	if err := m.pool.Delete(ctx, pair, side, userID); err != nil {
		m.markDegraded(ctx, err)
		return
	}
	m.markHealthy(ctx)
}

// markDegraded 分布式存储失败降级为本实例内撮合，不向调用方传播
func (m *MatchingManager) markDegraded(ctx context.Context, err error) {
	if m.degraded.CompareAndSwap(false, true) {
		logging.Error(ctx, "distributed pool unreachable, degrading to local-only matching", "error", err)
	}
}

func (m *MatchingManager) markHealthy(ctx context.Context) {
	if m.degraded.CompareAndSwap(true, false) {
		logging.Info(ctx, "distributed pool connectivity restored")
	}
}

func (m *MatchingManager) deliver(ctx context.Context, connectionID string, event *domain.MatchEvent) {
	if err := m.notifier.Deliver(ctx, connectionID, event); err != nil {
		// 至多一次投递：推送失败只记录，丢失的提案事件由超时兜底
		logging.Warn(ctx, "event delivery failed",
			"connection_id", connectionID,
			"event_type", event.Type,
			"match_id", event.MatchID,
			"error", err)
	}
}

func proposalEvent(p *domain.MatchProposal, recipient *domain.Participant) *domain.MatchEvent {
	other := p.OtherParty(recipient.UserID)
	expiresAt := p.ExpiresAt
	return &domain.MatchEvent{
		Type:         domain.EventTypeProposal,
		MatchID:      p.MatchID,
		CurrencyPair: p.CurrencyPair,
		Side:         recipient.Side,
		Amount:       p.Amount.String(),
		AgreedPrice:  p.AgreedPrice.String(),
		MatchScore:   p.MatchScore,
		Counterparty: domain.CounterpartyRef{UserID: other.UserID, TrustScore: other.TrustScore},
		ExpiresAt:    &expiresAt,
	}
}

func acceptedEvent(p *domain.MatchProposal, recipient *domain.Participant) *domain.MatchEvent {
	other := p.OtherParty(recipient.UserID)
	return &domain.MatchEvent{
		Type:         domain.EventTypeAccepted,
		MatchID:      p.MatchID,
		CurrencyPair: p.CurrencyPair,
		Side:         recipient.Side,
		Amount:       p.Amount.String(),
		AgreedPrice:  p.AgreedPrice.String(),
		MatchScore:   p.MatchScore,
		Counterparty: domain.CounterpartyRef{UserID: other.UserID, TrustScore: other.TrustScore},
	}
}

func rejectedEvent(p *domain.MatchProposal, recipient *domain.Participant, rejectedBy string) *domain.MatchEvent {
	other := p.OtherParty(recipient.UserID)
	return &domain.MatchEvent{
		Type:         domain.EventTypeRejected,
		MatchID:      p.MatchID,
		CurrencyPair: p.CurrencyPair,
		Side:         recipient.Side,
		Amount:       p.Amount.String(),
		AgreedPrice:  p.AgreedPrice.String(),
		MatchScore:   p.MatchScore,
		Counterparty: domain.CounterpartyRef{UserID: other.UserID, TrustScore: other.TrustScore},
		RejectedBy:   rejectedBy,
	}
}
