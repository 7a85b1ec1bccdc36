package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes purchase.completed events keyed by sale reference.
type KafkaSink struct {
	w MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink { return &KafkaSink{w: w} }

// NewKafkaWriter builds the writer used by KafkaSink.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

func (k *KafkaSink) Name() string { return "kafka" }

type purchaseCompleted struct {
	Event string `json:"event"`
	SaleNotice
}

func (k *KafkaSink) Publish(ctx context.Context, n SaleNotice) error {
	body, err := json.Marshal(purchaseCompleted{Event: "purchase.completed", SaleNotice: n})
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	if err := k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Reference),
		Value: body,
		Time:  n.OccurredAt,
	}); err != nil {
		return fmt.Errorf("notify: kafka write: %w", err)
	}
	return nil
}
