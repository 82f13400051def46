package application

import (
	"context"
	"time"

	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
	"github.com/wyfcoding/pkg/logging"
)

// Start 启动后台清扫循环。清扫承担三件事：超时未决提案、
// 空闲池条目的淘汰、终态提案记录的回收。
func (m *MatchingManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Stop 停止后台清扫
func (m *MatchingManager) Stop() {
	close(m.stopCh)
}

// Sweep 单轮清扫。尽力而为的后台维护，绝不阻塞入池/确认路径：
// 锁内只做集合变更，远端写删在锁外补偿。
func (m *MatchingManager) Sweep(ctx context.Context) {
	now := m.now()

	expired := 0
	dropped := 0
	released := make([]*domain.Participant, 0)
	evicted := make([]*domain.Participant, 0)

	m.mu.Lock()
	for matchID, proposal := range m.proposals {
		if proposal.Due(now) {
			if err := proposal.Expire(ctx); err == nil {
				expired++
				released = append(released, m.releaseLocked(proposal)...)
			}
		}
		// 终态提案保留一段时间供查询/审计，到期回收防止无界增长
		if proposal.Terminal() && now.Sub(proposal.CreatedAt) > m.cfg.RecordRetention {
			delete(m.proposals, matchID)
			dropped++
		}
	}
	for key, participant := range m.local {
		if participant.Idle(now, m.cfg.IdleTimeout) {
			delete(m.local, key)
			snapshot := *participant
			evicted = append(evicted, &snapshot)
		}
	}
	m.mu.Unlock()

	m.restoreRemote(ctx, released)
	for _, p := range evicted {
		m.deleteRemote(ctx, p.CurrencyPair, p.Side, p.UserID)
	}

	if expired > 0 || dropped > 0 || len(evicted) > 0 {
		logging.Info(ctx, "janitor sweep completed",
			"expired_proposals", expired,
			"dropped_records", dropped,
			"evicted_participants", len(evicted),
		)
	}
}
