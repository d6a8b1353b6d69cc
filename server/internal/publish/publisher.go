package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/server/internal/alerting"
	"github.com/nodealert/nodealert/server/internal/metrics"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publish: closed")

// alertNamespace scopes alert IDs derived with uuid.NewSHA1.
var alertNamespace = uuid.MustParse("6f1c1c8e-43a5-4cbb-9a43-5f0f3f3c2a10")

// Sink receives batches of alerts.
type Sink interface {
	Name() string
	Send(ctx context.Context, alerts []types.Alert) error
}

type funcSink struct {
	name string
	fn   func(ctx context.Context, alerts []types.Alert) error
}

func (s funcSink) Name() string { return s.name }

func (s funcSink) Send(ctx context.Context, alerts []types.Alert) error { return s.fn(ctx, alerts) }

// SinkFunc adapts fn to a Sink called name.
func SinkFunc(name string, fn func(ctx context.Context, alerts []types.Alert) error) Sink {
	return funcSink{name: name, fn: fn}
}

// Publisher fans alert batches out to sinks.
type Publisher struct {
	mu       sync.RWMutex
	required []Sink
	optional []Sink
	closed   bool
}

// New returns a Publisher without sinks.
func New() *Publisher {
	return &Publisher{}
}

// Require adds a sink whose failure fails Publish.
func (p *Publisher) Require(s Sink) *Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.required = append(p.required, s)
	return p
}

// Add adds a best-effort sink.
func (p *Publisher) Add(s Sink) *Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.optional = append(p.optional, s)
	return p
}

// Publish delivers events to all sinks in registration order, required sinks
// first. The returned error joins the required sinks' failures.
func (p *Publisher) Publish(ctx context.Context, events []alerting.AlertEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if len(events) == 0 {
		return nil
	}

	alerts := make([]types.Alert, len(events))
	for i, ev := range events {
		alerts[i] = ev.Alert(AlertID(ev))
	}

	var errs []error
	for _, s := range p.required {
		if err := send(ctx, s, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range p.optional {
		if err := send(ctx, s, alerts); err != nil {
			slog.Warn("publish: best-effort sink failed", "sink", s.Name(), "alerts", len(alerts), "err", err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer. Publish fails afterwards.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, s := range append(append([]Sink(nil), p.required...), p.optional...) {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// AlertID derives a stable ID from the fields that identify an event, so the
// same event published twice keeps one ID.
func AlertID(ev alerting.AlertEvent) string {
	key := ev.EntityID + "\x00" + ev.MetricName + "\x00" + ev.Direction.String() + "\x00" +
		ev.Severity.String() + "\x00" + strconv.FormatInt(ev.Timestamp.UnixNano(), 10)
	return uuid.NewSHA1(alertNamespace, []byte(key)).String()
}

func send(ctx context.Context, s Sink, alerts []types.Alert) error {
	if err := s.Send(ctx, alerts); err != nil {
		metrics.PublishErrors.WithLabelValues(s.Name()).Inc()
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	metrics.Published.WithLabelValues(s.Name()).Add(float64(len(alerts)))
	return nil
}
