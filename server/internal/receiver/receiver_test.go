package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/server/internal/dispatch"
	"github.com/nodealert/nodealert/server/internal/metrics"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeSubmitter records submissions and completes them asynchronously.
type fakeSubmitter struct {
	mu      sync.Mutex
	records []*types.Record
	doneErr error
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, rec *types.Record, done dispatch.Done) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
	if done != nil {
		go done(f.doneErr)
	}
	return nil
}

func (f *fakeSubmitter) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.records))
	for i, r := range f.records {
		out[i] = r.EntityID
	}
	return out
}

func recordJSON(t *testing.T, rec types.Record) []byte {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func resultRecord(id string) types.Record {
	ts := baseTime
	return types.Record{
		EntityID: id,
		ParentID: "chain-a",
		Kind:     types.KindResult,
		MetaData: &types.MetaData{LastMonitored: &ts},
		Metrics:  map[string]types.MetricPair{"cpu_use": types.Pair(50, nil)},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		rec  types.Record
		ok   bool
	}{
		{"result", types.Record{EntityID: "n", Kind: types.KindResult}, true},
		{"error", types.Record{EntityID: "n", Kind: types.KindError}, true},
		{"no entity", types.Record{Kind: types.KindResult}, false},
		{"no kind", types.Record{EntityID: "n"}, false},
		{"bad kind", types.Record{EntityID: "n", Kind: "metric"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.rec)
			if (err == nil) != tt.ok {
				t.Errorf("Validate: got %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestSubmitAndWait_PropagatesDoneError(t *testing.T) {
	boom := errors.New("publish failed")
	rec := resultRecord("n")
	err := submitAndWait(context.Background(), &fakeSubmitter{doneErr: boom}, &rec)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

// fakeReader serves a fixed list of messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	commitErr error
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) committedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.committed))
	for i, m := range f.committed {
		out[i] = m.Offset
	}
	return out
}

func TestKafkaConsumer_SubmitsAndCommits(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: recordJSON(t, resultRecord("node-1"))},
		{Offset: 2, Value: []byte("{not json")},
		{Offset: 3, Value: recordJSON(t, types.Record{Kind: types.KindResult})}, // no entity_id
		{Offset: 4, Value: recordJSON(t, resultRecord("node-2"))},
	}}
	sub := &fakeSubmitter{}
	c := NewKafkaConsumer(r, sub, 10, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(r.committedOffsets()) < 4 {
		select {
		case <-deadline:
			t.Fatalf("committed = %v, want 4 offsets", r.committedOffsets())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run: %v", err)
	}

	ids := sub.ids()
	if len(ids) != 2 || ids[0] != "node-1" || ids[1] != "node-2" {
		t.Errorf("submitted = %v, want [node-1 node-2]", ids)
	}
}

func TestKafkaConsumer_SubmitFailureStopsWithoutCommit(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 1, Value: recordJSON(t, resultRecord("node-1"))}}}
	c := NewKafkaConsumer(r, &fakeSubmitter{err: dispatch.ErrStopped}, 10, 10*time.Millisecond)

	err := c.Run(context.Background())
	if !errors.Is(err, dispatch.ErrStopped) {
		t.Errorf("Run err = %v, want ErrStopped", err)
	}
	if n := len(r.committedOffsets()); n != 0 {
		t.Errorf("committed %d messages, want 0", n)
	}
}

func TestKafkaConsumer_CommitError(t *testing.T) {
	boom := errors.New("coordinator moved")
	r := &fakeReader{
		msgs:      []kafka.Message{{Offset: 1, Value: recordJSON(t, resultRecord("node-1"))}},
		commitErr: boom,
	}
	c := NewKafkaConsumer(r, &fakeSubmitter{}, 10, 10*time.Millisecond)

	if err := c.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run err = %v, want %v", err, boom)
	}
}

func TestKafkaConsumer_PublishFailureIsCountedAndCommitted(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 7, Value: recordJSON(t, resultRecord("node-1"))}}}
	sub := &fakeSubmitter{doneErr: errors.New("publish failed after retries")}
	c := NewKafkaConsumer(r, sub, 10, 10*time.Millisecond)
	dropped := metrics.RecordsReceived.WithLabelValues("kafka", "dropped")
	before := counterValue(t, dropped)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(r.committedOffsets()) < 1 {
		select {
		case <-deadline:
			t.Fatal("batch with a failed publish was never committed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run: %v", err)
	}

	if got := r.committedOffsets(); len(got) != 1 || got[0] != 7 {
		t.Errorf("committed = %v, want [7]", got)
	}
	if got := counterValue(t, dropped) - before; got != 1 {
		t.Errorf("dropped counter moved by %v, want 1", got)
	}
}

func TestKafkaConsumer_DispatcherStopLeavesBatchUncommitted(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 3, Value: recordJSON(t, resultRecord("node-1"))}}}
	sub := &fakeSubmitter{doneErr: dispatch.ErrStopped}
	c := NewKafkaConsumer(r, sub, 10, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(sub.ids()) < 1 {
		select {
		case <-deadline:
			t.Fatal("record never submitted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run: %v", err)
	}
	if n := len(r.committedOffsets()); n != 0 {
		t.Errorf("committed %d messages after dispatcher stop, want 0", n)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
