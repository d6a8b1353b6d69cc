// Package dispatch runs the alerting engine on a fixed set of shard
// goroutines. Every entity is pinned to one shard by a hash of its ID, and
// each shard owns its own Orchestrator, so records for one entity are always
// evaluated in arrival order without locks while different entities proceed
// in parallel.
//
// Configuration swaps, entity removal and snapshot requests travel through the
// same shard queues as records and are therefore ordered with them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/server/internal/alerting"
	"github.com/nodealert/nodealert/server/internal/metrics"
)

// ErrStopped is returned when submitting to a dispatcher that is not running.
var ErrStopped = errors.New("dispatch: stopped")

// Publisher delivers the events produced for one record.
type Publisher interface {
	Publish(ctx context.Context, events []alerting.AlertEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events []alerting.AlertEvent) error

func (f PublisherFunc) Publish(ctx context.Context, events []alerting.AlertEvent) error {
	return f(ctx, events)
}

// Options configures a Dispatcher.
type Options struct {
	Shards    int
	QueueSize int

	// Now supplies the fallback evaluation time for records without an
	// observation timestamp. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger

	// PublishRetries is how many times a failed publish is retried before the
	// record completes with the error. Retries block the shard, keeping the
	// entity's alerts in order. Default 3; negative disables retries.
	PublishRetries int
	RetryBackoff   time.Duration
}

// Dispatcher fans records out to shard workers.
type Dispatcher struct {
	shards  []*shard
	pub     Publisher
	now     func() time.Time
	log     *slog.Logger
	retries int
	backoff time.Duration

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// Done is called once a submitted record has been evaluated and its events
// published. err is the publish error, if any; malformed records are logged
// and counted but complete with a nil error since redelivery cannot fix them.
type Done func(err error)

type message struct {
	rec  *types.Record
	done Done
	ctrl func(*alerting.Orchestrator)
}

type shard struct {
	id    int
	label string
	orch  *alerting.Orchestrator
	queue chan message
}

// New builds a Dispatcher. Run must be called before records are processed.
func New(cfg *alerting.Config, pub Publisher, opts Options) *Dispatcher {
	if opts.Shards <= 0 {
		opts.Shards = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch {
	case opts.PublishRetries == 0:
		opts.PublishRetries = 3
	case opts.PublishRetries < 0:
		opts.PublishRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	d := &Dispatcher{
		shards:  make([]*shard, opts.Shards),
		pub:     pub,
		now:     opts.Now,
		log:     opts.Logger,
		retries: opts.PublishRetries,
		backoff: opts.RetryBackoff,
		done:    make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = &shard{
			id:    i,
			label: strconv.Itoa(i),
			orch:  alerting.NewOrchestrator(cfg),
			queue: make(chan message, opts.QueueSize),
		}
	}
	return d
}

// Shards returns the shard count.
func (d *Dispatcher) Shards() int { return len(d.shards) }

// ShardFor returns the shard index that owns entityID.
func (d *Dispatcher) ShardFor(entityID string) int {
	return int(xxhash.Sum64String(entityID) % uint64(len(d.shards)))
}

// Run starts the shard workers and blocks until ctx is cancelled and every
// worker has exited. Messages still queued at shutdown are dropped; their
// Done callbacks receive ErrStopped.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatch: already running")
	}
	d.running = true
	d.mu.Unlock()

	d.log.Info("dispatch: starting", "shards", len(d.shards))

	var wg sync.WaitGroup
	for _, s := range d.shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			d.work(ctx, s)
		}(s)
	}
	wg.Wait()
	close(d.done)

	for _, s := range d.shards {
		d.drain(s)
	}
	d.log.Info("dispatch: stopped")
	return nil
}

// Submit queues rec on its entity's shard. It blocks while the shard queue is
// full, until ctx is done or the dispatcher stops. done may be nil.
func (d *Dispatcher) Submit(ctx context.Context, rec *types.Record, done Done) error {
	if rec == nil {
		return &alerting.MalformedRecordError{Field: "record"}
	}
	s := d.shards[d.ShardFor(rec.EntityID)]
	return d.enqueue(ctx, s, message{rec: rec, done: done})
}

// SetConfig swaps the alert configuration on every shard. It returns once all
// shards have applied it, so records submitted afterwards see the new config.
func (d *Dispatcher) SetConfig(ctx context.Context, cfg *alerting.Config) error {
	err := d.broadcast(ctx, func(o *alerting.Orchestrator) { o.SetConfig(cfg) })
	if err == nil {
		metrics.ConfigReloads.Inc()
		d.log.Info("dispatch: config applied", "groups", cfg.Len())
	}
	return err
}

// Remove drops all classifier state of an entity.
func (d *Dispatcher) Remove(ctx context.Context, entityID string) (bool, error) {
	s := d.shards[d.ShardFor(entityID)]
	var removed bool
	err := d.call(ctx, s, func(o *alerting.Orchestrator) { removed = o.Remove(entityID) })
	return removed, err
}

// Snapshot collects copies of every entity's state from all shards, sorted
// by entity ID.
func (d *Dispatcher) Snapshot(ctx context.Context) ([]alerting.EntitySnapshot, error) {
	parts := make([][]alerting.EntitySnapshot, len(d.shards))
	for i, s := range d.shards {
		i := i
		if err := d.call(ctx, s, func(o *alerting.Orchestrator) { parts[i] = o.Snapshot() }); err != nil {
			return nil, err
		}
	}
	return mergeSorted(parts), nil
}

// SnapshotEntity returns a copy of one entity's state.
func (d *Dispatcher) SnapshotEntity(ctx context.Context, entityID string) (alerting.EntitySnapshot, bool, error) {
	s := d.shards[d.ShardFor(entityID)]
	var (
		snap alerting.EntitySnapshot
		ok   bool
	)
	err := d.call(ctx, s, func(o *alerting.Orchestrator) { snap, ok = o.SnapshotEntity(entityID) })
	return snap, ok, err
}

// --- internal ---

func (d *Dispatcher) work(ctx context.Context, s *shard) {
	log := d.log.With("shard", s.id)
	log.Debug("dispatch: shard started")
	defer log.Debug("dispatch: shard stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.queue:
			metrics.QueueDepth.WithLabelValues(s.label).Set(float64(len(s.queue)))
			d.handle(ctx, log, s, m)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, log *slog.Logger, s *shard, m message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch: panic recovered", "panic", r, "stack", string(debug.Stack()))
			if m.done != nil {
				m.done(fmt.Errorf("dispatch: panic: %v", r))
			}
		}
	}()

	if m.ctrl != nil {
		m.ctrl(s.orch)
		metrics.EntitiesTracked.WithLabelValues(s.label).Set(float64(s.orch.Len()))
		return
	}

	start := time.Now()
	events, err := s.orch.Process(m.rec, d.now())
	metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	metrics.RecordsProcessed.WithLabelValues(string(m.rec.Kind)).Inc()
	metrics.EntitiesTracked.WithLabelValues(s.label).Set(float64(s.orch.Len()))

	if err != nil {
		var mre *alerting.MalformedRecordError
		if errors.As(err, &mre) {
			metrics.MalformedRecords.Inc()
		}
		log.Warn("dispatch: malformed record", "entity_id", m.rec.EntityID, "err", err)
	}

	var perr error
	if len(events) > 0 {
		for _, ev := range events {
			metrics.EventsEmitted.WithLabelValues(ev.Direction.String(), ev.Severity.String()).Inc()
		}
		if d.pub != nil {
			perr = d.publish(ctx, log, m.rec.EntityID, events)
		}
	}
	if m.done != nil {
		m.done(perr)
	}
}

// publish delivers events, retrying with exponential back-off.
func (d *Dispatcher) publish(ctx context.Context, log *slog.Logger, entityID string, events []alerting.AlertEvent) error {
	backoff := d.backoff
	var err error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			log.Warn("dispatch: retrying publish", "entity_id", entityID, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = d.pub.Publish(ctx, events); err == nil {
			return nil
		}
	}
	log.Error("dispatch: publish failed", "entity_id", entityID, "events", len(events), "attempts", d.retries+1, "err", err)
	return err
}

func (d *Dispatcher) enqueue(ctx context.Context, s *shard, m message) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	select {
	case s.queue <- m:
		metrics.QueueDepth.WithLabelValues(s.label).Set(float64(len(s.queue)))
		// Run may have drained this shard between the check above and the
		// send; nothing reads the queue any more, so complete m here.
		select {
		case <-d.done:
			d.drain(s)
		default:
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrStopped
	}
}

// call runs fn on s's goroutine and waits for it to finish.
func (d *Dispatcher) call(ctx context.Context, s *shard, fn func(*alerting.Orchestrator)) error {
	finished := make(chan struct{})
	err := d.enqueue(ctx, s, message{ctrl: func(o *alerting.Orchestrator) {
		defer close(finished)
		fn(o)
	}})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrStopped
	}
}

func (d *Dispatcher) broadcast(ctx context.Context, fn func(*alerting.Orchestrator)) error {
	for _, s := range d.shards {
		if err := d.call(ctx, s, fn); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) drain(s *shard) {
	for {
		select {
		case m := <-s.queue:
			if m.done != nil {
				m.done(ErrStopped)
			}
		default:
			return
		}
	}
}

// mergeSorted merges per-shard snapshot slices, each already sorted by ID.
func mergeSorted(parts [][]alerting.EntitySnapshot) []alerting.EntitySnapshot {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]alerting.EntitySnapshot, 0, n)
	idx := make([]int, len(parts))
	for len(out) < n {
		best := -1
		for i, p := range parts {
			if idx[i] >= len(p) {
				continue
			}
			if best < 0 || p[idx[i]].EntityID < parts[best][idx[best]].EntityID {
				best = i
			}
		}
		out = append(out, parts[best][idx[best]])
		idx[best]++
	}
	return out
}
