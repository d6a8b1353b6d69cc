package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/server/internal/dispatch"
	"github.com/nodealert/nodealert/server/internal/metrics"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader returns a consumer-group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // commit synchronously after processing
		StartOffset:    kafka.FirstOffset,
	})
}

// KafkaConsumer feeds records from Kafka into a Submitter.
type KafkaConsumer struct {
	r         MessageReader
	sub       Submitter
	batchSize int
	linger    time.Duration
}

// NewKafkaConsumer builds a consumer. batchSize bounds the records in flight
// before a commit; linger bounds how long a partial batch waits for more.
func NewKafkaConsumer(r MessageReader, sub Submitter, batchSize int, linger time.Duration) *KafkaConsumer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if linger <= 0 {
		linger = 100 * time.Millisecond
	}
	return &KafkaConsumer{r: r, sub: sub, batchSize: batchSize, linger: linger}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	slog.Info("receiver: kafka consumer started", "batch_size", c.batchSize)
	defer slog.Info("receiver: kafka consumer stopped")

	for {
		batch, err := c.fetchBatch(ctx)
		if len(batch) > 0 {
			if cerr := c.process(ctx, batch); cerr != nil {
				return cerr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiver: fetch: %w", err)
		}
	}
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error {
	return c.r.Close()
}

// fetchBatch blocks for the first message, then collects more until the batch
// is full or linger elapses.
func (c *KafkaConsumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	lctx, cancel := context.WithTimeout(ctx, c.linger)
	defer cancel()
	for len(batch) < c.batchSize {
		m, err := c.r.FetchMessage(lctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, m)
	}
	return batch, nil
}

// process submits every message, waits for all of them and commits. Records
// whose publication still failed after the dispatcher's retries are dropped
// and counted. A failed Submit or a dispatcher shutdown leaves the batch
// uncommitted.
func (c *KafkaConsumer) process(ctx context.Context, batch []kafka.Message) error {
	results := make(chan error, len(batch))
	pending := 0

	for _, m := range batch {
		var rec types.Record
		if err := json.Unmarshal(m.Value, &rec); err != nil {
			metrics.RecordsReceived.WithLabelValues("kafka", "rejected").Inc()
			slog.Warn("receiver: undecodable message", "partition", m.Partition, "offset", m.Offset, "err", err)
			continue
		}
		if err := Validate(&rec); err != nil {
			metrics.RecordsReceived.WithLabelValues("kafka", "rejected").Inc()
			slog.Warn("receiver: invalid record", "partition", m.Partition, "offset", m.Offset, "err", err)
			continue
		}
		if err := c.sub.Submit(ctx, &rec, func(err error) { results <- err }); err != nil {
			// Not committed: the batch is redelivered after restart.
			return fmt.Errorf("receiver: submit: %w", err)
		}
		metrics.RecordsReceived.WithLabelValues("kafka", "accepted").Inc()
		pending++
	}

	stopped := false
	for i := 0; i < pending; i++ {
		select {
		case err := <-results:
			switch {
			case err == nil:
			case errors.Is(err, dispatch.ErrStopped) || errors.Is(err, context.Canceled):
				// Shutdown, not a delivery failure: leave the batch for redelivery.
				stopped = true
			default:
				// Classifier state already moved on, so redelivery would not
				// re-emit the lost events. Count the drop and commit anyway.
				metrics.RecordsReceived.WithLabelValues("kafka", "dropped").Inc()
				slog.Error("receiver: record failed after retries, dropping", "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
	if stopped {
		slog.Info("receiver: dispatcher stopped, batch left uncommitted", "messages", len(batch))
		return nil
	}

	// Use a fresh context so a shutdown racing the final commit does not
	// leave an evaluated batch uncommitted.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.r.CommitMessages(cctx, batch...); err != nil {
		return fmt.Errorf("receiver: commit: %w", err)
	}
	slog.Debug("receiver: batch committed", "messages", len(batch))
	return nil
}
