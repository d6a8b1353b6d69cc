package shipper

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/nodealert/nodealert/agent/internal/config"
	"github.com/nodealert/nodealert/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	writeTimeout      = 10 * time.Second
	drainTimeout      = 5 * time.Second
)

// MessageWriter is the subset of *kafka.Writer the shipper uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a synchronous writer that partitions by message key, so
// every record of one entity lands on the same partition in order.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  compression(cfg.Compression),
		WriteTimeout: writeTimeout,
		Async:        false,
	}
}

func compression(name string) compress.Compression {
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

// Shipper buffers records and writes them to Kafka in batches.
// Ship never blocks; when the buffer is full the oldest record is evicted.
// Run must be called in a goroutine to drain the buffer.
type Shipper struct {
	w         MessageWriter
	buf       chan types.Record
	batchSize int
	flush     time.Duration
	retryBase time.Duration // first back-off step; tests shrink it
}

// New creates a Shipper writing through w.
func New(cfg config.KafkaConfig, w MessageWriter) *Shipper {
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = config.DefaultFlushInterval
	}
	return &Shipper{
		w:         w,
		buf:       make(chan types.Record, cfg.BufferSize),
		batchSize: max(cfg.BatchSize, 1),
		flush:     flush,
		retryBase: backoffInitial,
	}
}

// Ship enqueues rec.
func (s *Shipper) Ship(rec types.Record) {
	select {
	case s.buf <- rec:
		return
	default:
	}
	select {
	case old := <-s.buf:
		slog.Warn("shipper: buffer full, evicted oldest record",
			"entity", old.EntityID, "buffer_cap", cap(s.buf))
	default:
	}
	select {
	case s.buf <- rec:
	default:
		slog.Warn("shipper: buffer full, dropped record", "entity", rec.EntityID)
	}
}

// Pending returns the number of records waiting in the buffer.
func (s *Shipper) Pending() int { return len(s.buf) }

// Run drains the buffer until ctx is cancelled, writing a batch whenever it
// reaches the batch size or the flush interval passes. A failed batch is
// retried with truncated exponential back-off; no newer record overtakes it.
// On cancellation whatever is buffered gets one last write attempt.
func (s *Shipper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flush)
	defer ticker.Stop()

	batch := make([]types.Record, 0, s.batchSize)
	for {
		select {
		case <-ctx.Done():
			s.drain(batch)
			return
		case rec := <-s.buf:
			batch = append(batch, rec)
			if len(batch) < s.batchSize {
				continue
			}
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
		}
		if err := s.deliver(ctx, batch); err != nil {
			// Only a cancelled context gets here.
			s.drain(batch)
			return
		}
		batch = batch[:0]
	}
}

// deliver writes batch, retrying until it succeeds, the error is permanent,
// or ctx is cancelled.
func (s *Shipper) deliver(ctx context.Context, batch []types.Record) error {
	msgs := encode(batch)
	if len(msgs) == 0 {
		return nil
	}
	bo := &backoff{current: s.retryBase}
	for {
		err := s.w.WriteMessages(ctx, msgs...)
		if err == nil {
			slog.Debug("shipper: batch delivered", "records", len(msgs))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isPermanent(err) {
			slog.Error("shipper: permanent write error, discarding batch",
				"records", len(msgs), "err", err)
			return nil
		}

		wait := bo.next()
		slog.Warn("shipper: write failed, will retry",
			"records", len(msgs), "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// drain makes a single bounded attempt to write batch plus anything still
// buffered.
func (s *Shipper) drain(batch []types.Record) {
loop:
	for {
		select {
		case rec := <-s.buf:
			batch = append(batch, rec)
		default:
			break loop
		}
	}
	msgs := encode(batch)
	if len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.w.WriteMessages(ctx, msgs...); err != nil {
		slog.Error("shipper: final flush failed", "records", len(msgs), "err", err)
		return
	}
	slog.Info("shipper: flushed on shutdown", "records", len(msgs))
}

func encode(batch []types.Record) []kafka.Message {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, rec := range batch {
		data, err := json.Marshal(rec)
		if err != nil {
			slog.Error("shipper: encode record failed", "entity", rec.EntityID, "err", err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.EntityID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(rec.Kind)},
				{Key: "parent_id", Value: []byte(rec.ParentID)},
			},
		})
	}
	return msgs
}

// isPermanent reports whether err means the batch itself can never be
// written, as opposed to the broker being temporarily unavailable.
func isPermanent(err error) bool {
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil && !isPermanent(e) {
				return false
			}
		}
		return werrs.Count() > 0
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return !kerr.Temporary()
	}
	return false
}

// backoff implements truncated exponential back-off with jitter.
type backoff struct {
	current time.Duration
}

// next returns the current delay with ±25% jitter and advances the state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
