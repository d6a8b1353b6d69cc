package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nodealert/nodealert/agent/internal/compute"
	"github.com/nodealert/nodealert/agent/internal/config"
	"github.com/nodealert/nodealert/agent/internal/scraper"
	"github.com/nodealert/nodealert/pkg/types"
)

type collect struct {
	mu   sync.Mutex
	recs []types.Record
}

func (c *collect) Ship(rec types.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *collect) take() []types.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.recs
	c.recs = nil
	return out
}

type stubScraper struct {
	res *scraper.Result
	err error
}

func (s stubScraper) Scrape(context.Context) (*scraper.Result, error) { return s.res, s.err }

var clock = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newPoller(sink Sink) *Poller {
	p := New(compute.NewTransformer(nil, "test-poller", 2*time.Minute), sink, time.Minute, 4)
	p.now = func() time.Time { return clock }
	return p
}

func agentConfig(entities ...config.Entity) config.AgentConfig {
	return config.AgentConfig{
		ScrapeInterval: time.Minute,
		RetryInterval:  2 * time.Minute,
		Concurrency:    2,
		Entities:       entities,
	}
}

func TestPoller_PrometheusEntity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte("# TYPE node_cpu_usage gauge\nnode_cpu_usage 87.5\n"))
	}))
	defer srv.Close()

	sink := &collect{}
	p := newPoller(sink)
	err := p.Apply(agentConfig(config.Entity{
		ID: "validator-1", ParentID: "cosmos_mainnet", Type: "prometheus",
		Endpoint: srv.URL, Metrics: map[string]string{"cpu_use": "node_cpu_usage"},
	}))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	p.Poll(context.Background())
	recs := sink.take()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Kind != types.KindResult || rec.ParentID != "cosmos_mainnet" {
		t.Fatalf("record: %+v", rec)
	}
	if v := rec.Metrics["cpu_use"].Current; v == nil || *v != 87.5 {
		t.Errorf("cpu_use current: got %v", v)
	}
	if rec.MetaData.PollerName != "test-poller" {
		t.Errorf("poller_name: got %q", rec.MetaData.PollerName)
	}
}

func TestPoller_UnreachableThenSkipped(t *testing.T) {
	sink := &collect{}
	p := newPoller(sink)
	p.newScraper = func(config.Entity) (scraper.Scraper, error) {
		return stubScraper{res: &scraper.Result{
			EntityID: "validator-1",
			Err:      &scraper.Error{Category: types.CategoryUnreachable, Code: types.CodeUnreachable, Err: errors.New("refused")},
		}}, nil
	}
	if err := p.Apply(agentConfig(config.Entity{ID: "validator-1", ParentID: "p"})); err != nil {
		t.Fatal(err)
	}

	p.Poll(context.Background())
	first := sink.take()
	if len(first) != 1 || first[0].Error == nil || first[0].Error.WentDownAt == nil {
		t.Fatalf("first poll: got %+v", first)
	}

	p.now = func() time.Time { return clock.Add(time.Minute) }
	p.Poll(context.Background())
	second := sink.take()
	if len(second) != 1 || second[0].Error.Message != "skipped: waiting for retry interval" {
		t.Fatalf("second poll should be a skip, got %+v", second)
	}
}

func TestPoller_ScrapeErrorIsInternal(t *testing.T) {
	sink := &collect{}
	p := newPoller(sink)
	p.newScraper = func(config.Entity) (scraper.Scraper, error) {
		return stubScraper{err: errors.New("boom")}, nil
	}
	if err := p.Apply(agentConfig(config.Entity{ID: "e", ParentID: "p"})); err != nil {
		t.Fatal(err)
	}
	p.Poll(context.Background())

	recs := sink.take()
	if len(recs) != 1 || recs[0].Error.Code != types.CodeInternal {
		t.Fatalf("got %+v", recs)
	}
}

func TestPoller_ApplySkipsBrokenEntities(t *testing.T) {
	p := newPoller(&collect{})
	p.newScraper = func(e config.Entity) (scraper.Scraper, error) {
		if e.ID == "bad" {
			return nil, errors.New("no cert")
		}
		return stubScraper{res: &scraper.Result{Values: map[string]float64{}}}, nil
	}

	err := p.Apply(agentConfig(config.Entity{ID: "good"}, config.Entity{ID: "bad"}))
	if err == nil {
		t.Error("Apply: expected an error naming the skipped entity")
	}
	if p.Entities() != 1 {
		t.Errorf("entities: got %d, want 1", p.Entities())
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	sink := &collect{}
	p := newPoller(sink)
	p.newScraper = func(config.Entity) (scraper.Scraper, error) {
		return stubScraper{res: &scraper.Result{Values: map[string]float64{"x": 1}}}, nil
	}
	if err := p.Apply(agentConfig(config.Entity{ID: "e", ParentID: "p"})); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.take()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
