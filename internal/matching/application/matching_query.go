package application

import (
	"context"

	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
	"github.com/wyfcoding/pkg/logging"
)

// MatchingQueryService 处理所有只读查询（Queries）。
type MatchingQueryService struct {
	manager *MatchingManager
}

// NewMatchingQueryService 构造函数。
func NewMatchingQueryService(manager *MatchingManager) *MatchingQueryService {
	return &MatchingQueryService{manager: manager}
}

// GetProposal 按 matchID 查询提案视图
func (q *MatchingQueryService) GetProposal(ctx context.Context, matchID string) (*ProposalDTO, error) {
	m := q.manager
	m.mu.Lock()
	proposal, ok := m.proposals[matchID]
	var dto *ProposalDTO
	if ok {
		dto = toProposalDTO(proposal)
	}
	m.mu.Unlock()

	if !ok {
		return nil, domain.ErrProposalNotFound
	}
	return dto, nil
}

// PoolStats 等待池统计：本地缓存与分布式视图的并集，只读不落任何变更。
// 分布式存储不可达时回退为本地视图并带上降级标记。
func (q *MatchingQueryService) PoolStats(ctx context.Context) (*PoolStatsDTO, error) {
	m := q.manager
	merged := make(map[string]*domain.Participant)

	keys, err := m.pool.PoolKeys(ctx)
	if err != nil {
		m.markDegraded(ctx, err)
	} else {
		m.markHealthy(ctx)
		for _, key := range keys {
			entries, err := m.pool.List(ctx, key.Pair, key.Side)
			if err != nil {
				m.markDegraded(ctx, err)
				break
			}
			for _, p := range entries {
				merged[p.Key()] = p
			}
		}
	}

	m.mu.Lock()
	for _, p := range m.local {
		snapshot := *p
		merged[p.Key()] = &snapshot
	}
	m.mu.Unlock()

	stats := &PoolStatsDTO{
		ByPair:   make(map[string]int),
		BySide:   make(map[string]int),
		Degraded: m.Degraded(),
	}
	for _, p := range merged {
		if p.Status == domain.ParticipantStatusReserved {
			stats.Reserved++
			continue
		}
		stats.TotalWaiting++
		stats.ByPair[p.CurrencyPair]++
		stats.BySide[string(p.Side)]++
	}

	logging.Debug(ctx, "pool stats computed",
		"total_waiting", stats.TotalWaiting,
		"reserved", stats.Reserved,
		"degraded", stats.Degraded,
	)
	return stats, nil
}
