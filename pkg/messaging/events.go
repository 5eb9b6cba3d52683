package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Stage is a step in a job's lifecycle
type Stage string

const (
	StageReceived Stage = "received"
	StageReplying Stage = "replying"
	StageGone     Stage = "gone"
	StageFailed   Stage = "failed"
)

// Event describes a job lifecycle transition observed by a worker.
type Event struct {
	JobID       string    `json:"job_id"`
	Source      string    `json:"source,omitempty"`
	ReplyTo     string    `json:"reply_to,omitempty"`
	Worker      int       `json:"worker"`
	Stage       Stage     `json:"stage"`
	Replies     int       `json:"replies"`
	Accelerated bool      `json:"accelerated"`
	Error       string    `json:"error,omitempty"`
	HappenedAt  time.Time `json:"happened_at"`
}

// EventPublisher receives job lifecycle events
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// KafkaPublisher writes lifecycle events to a Kafka topic, keyed by job ID.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
// Writes are asynchronous so a slow broker never stalls a worker.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Warn("kafka: failed to deliver events", "count", len(messages), "err", err)
				}
			},
		},
	}
}

// Publish encodes the event and hands it to the Kafka writer
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes pending events and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encodeEvent(event Event) (kafka.Message, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.JobID),
		Value: body,
		Time:  event.HappenedAt,
	}, nil
}
