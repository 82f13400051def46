package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
	"github.com/wyfcoding/pkg/messagequeue/kafka"
)

// KafkaNotifier 将撮合事件发送到 Kafka，由推送网关按 connectionID
// 投递到参与者的长连接。引擎侧只依赖不透明句柄，不感知具体传输。
type KafkaNotifier struct {
	producer *kafka.Producer
	topic    string
}

// pushCommand 发送到推送网关的统一指令格式
type pushCommand struct {
	ConnectionID string             `json:"connection_id"`
	Event        *domain.MatchEvent `json:"event"`
}

// NewKafkaNotifier 创建 Kafka 推送器
func NewKafkaNotifier(producer *kafka.Producer, topic string) domain.Notifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
	}
}

// Deliver 推送事件。使用 connectionID 做 Key 保证同一接收者的时序性。
func (n *KafkaNotifier) Deliver(ctx context.Context, connectionID string, event *domain.MatchEvent) error {
	payload, err := json.Marshal(pushCommand{ConnectionID: connectionID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal push command: %w", err)
	}
	return n.producer.PublishToTopic(ctx, n.topic, []byte(connectionID), payload)
}
