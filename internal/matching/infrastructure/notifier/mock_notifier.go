package notifier

import (
	"context"
	"sync"

	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
)

// Delivery 一次已记录的投递
type Delivery struct {
	ConnectionID string
	Event        *domain.MatchEvent
}

// MockNotifier 内存推送器，开发与测试用
type MockNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
	failWith   error
}

// NewMockNotifier 创建内存推送器
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// Deliver 记录投递
func (n *MockNotifier) Deliver(ctx context.Context, connectionID string, event *domain.MatchEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.deliveries = append(n.deliveries, Delivery{ConnectionID: connectionID, Event: event})
	return nil
}

// Deliveries 返回已记录投递的副本
func (n *MockNotifier) Deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivery, len(n.deliveries))
	copy(out, n.deliveries)
	return out
}

// FailWith 注入投递失败
func (n *MockNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failWith = err
}

// Reset 清空记录
func (n *MockNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = nil
	n.failWith = nil
}
