package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LJTian/NewsRelay/internal/processor"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// deliveredEvent 投递成功后对外广播的事件体
type deliveredEvent struct {
	Fingerprint string    `json:"fingerprint"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"publishedAt"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// KafkaPublisher 把投递成功事件写进 Kafka，供下游消费方增量同步
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewKafkaPublisher(broker, topic string, log *zap.SugaredLogger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(broker),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		// 同步等一个副本确认，丢事件比慢更糟
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	log.Infof("kafka publisher ready, broker=%s topic=%s", broker, topic)
	return &KafkaPublisher{writer: writer, log: log}
}

// PublishDelivered 以指纹为 key 写入事件，同一篇文章始终落在同一分区
func (p *KafkaPublisher) PublishDelivered(ctx context.Context, art processor.Article, deliveredAt time.Time) error {
	value, err := json.Marshal(deliveredEvent{
		Fingerprint: art.Fingerprint,
		Source:      art.Source,
		URL:         art.URL,
		Title:       art.Title,
		PublishedAt: art.PublishedAt,
		DeliveredAt: deliveredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal delivered event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(art.Fingerprint),
		Value: value,
		Time:  deliveredAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
