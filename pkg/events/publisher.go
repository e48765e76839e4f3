package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	TypeVersionUploaded = "version.uploaded"
	TypeVersionApproved = "version.approved"
	TypeVersionRejected = "version.rejected"
	TypeBucketDeleted   = "bucket.deleted"
)

// Event 审计事件，发布失败只记日志，不影响主流程
type Event struct {
	Type      string    `json:"type"`
	ActorID   string    `json:"actor_id"`
	Resource  string    `json:"resource"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Warn("marshal audit event")
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Type),
		Value: payload,
	}); err != nil {
		logrus.WithError(err).WithField("type", event.Type).Warn("publish audit event")
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher 未配置 Kafka 时使用
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) {}
func (NopPublisher) Close() error                             { return nil }
