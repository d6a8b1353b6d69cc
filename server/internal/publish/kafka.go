package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/nodealert/nodealert/pkg/types"
)

// MessageWriter is the subset of *kafka.Writer the Kafka sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes alerts as JSON to a topic, keyed by entity ID so one
// entity's alerts stay ordered within a partition.
type KafkaSink struct {
	w MessageWriter
}

// NewKafkaWriter returns a synchronous, hash-balanced writer for topic.
func NewKafkaWriter(brokers []string, topic, compression string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // Partition by key
		RequiredAcks: kafka.RequireAll,
		Compression:  Compression(compression),
		Async:        false,
	}
}

// Compression maps a codec name to kafka-go's compression setting.
func Compression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// NewKafkaSink wraps w.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

// Send writes one message per alert in a single batch.
func (k *KafkaSink) Send(ctx context.Context, alerts []types.Alert) error {
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", a.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.EntityID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "alert_id", Value: []byte(a.ID)},
				{Key: "severity", Value: []byte(a.Severity)},
				{Key: "direction", Value: []byte(a.Direction)},
			},
			Time: a.Timestamp,
		})
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}
