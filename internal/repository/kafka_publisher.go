package repository

import (
	"context"

	"LiveTicks/internal/domain/models"
	domrepo "LiveTicks/internal/domain/repository"
	pkgkafka "LiveTicks/pkg/kafka"
)

// batchPublisher is the producer surface the publisher needs.
type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaPublisher forwards committed batches to a Kafka topic, one message
// per point keyed by the stream name.
type KafkaPublisher struct {
	producer batchPublisher
	topic    string
	stream   string
}

// NewKafkaPublisher creates a Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic, stream string) domrepo.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic, stream: stream}
}

type tickMessage struct {
	Stream    string  `json:"stream"`
	Timestamp int64   `json:"t"`
	Value     float64 `json:"p"`
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, points []models.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	key := []byte(p.stream)
	msgs := make([]pkgkafka.Message, len(points))
	for i, dp := range points {
		msgs[i] = pkgkafka.Message{
			Key:   key,
			Value: tickMessage{Stream: p.stream, Timestamp: dp.Timestamp, Value: dp.Value},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// Close is a no-op; the producer is shared and closed by its owner.
func (p *KafkaPublisher) Close() error {
	return nil
}
