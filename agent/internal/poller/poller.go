// Package poller runs the agent's scrape cycle: on every tick each configured
// entity is scraped (or skipped while inside its retry interval), the outcome
// is turned into a record by the transformer, and the record is shipped.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nodealert/nodealert/agent/internal/compute"
	"github.com/nodealert/nodealert/agent/internal/config"
	"github.com/nodealert/nodealert/agent/internal/scraper"
	"github.com/nodealert/nodealert/pkg/types"
)

// Sink receives finished records. *shipper.Shipper satisfies it.
type Sink interface {
	Ship(rec types.Record)
}

type target struct {
	entity  config.Entity
	scraper scraper.Scraper
}

// Poller owns the entity set. SetEntities may be called while Run is active.
type Poller struct {
	tr   *compute.Transformer
	sink Sink

	mu          sync.RWMutex
	targets     []target
	interval    time.Duration
	concurrency int

	now        func() time.Time
	newScraper func(config.Entity) (scraper.Scraper, error)
}

// New returns a Poller with no entities.
func New(tr *compute.Transformer, sink Sink, interval time.Duration, concurrency int) *Poller {
	return &Poller{
		tr:          tr,
		sink:        sink,
		interval:    interval,
		concurrency: max(concurrency, 1),
		now:         time.Now,
		newScraper:  scraper.New,
	}
}

// Apply replaces the entity set and cycle settings from cfg. Entities whose
// scraper cannot be built are skipped and reported in the returned error;
// the rest are still applied.
func (p *Poller) Apply(cfg config.AgentConfig) error {
	targets := make([]target, 0, len(cfg.Entities))
	var failed []string
	for _, e := range cfg.Entities {
		s, err := p.newScraper(e)
		if err != nil {
			slog.Error("poller: skipping entity, could not build scraper", "entity", e.ID, "err", err)
			failed = append(failed, e.ID)
			continue
		}
		targets = append(targets, target{entity: e, scraper: s})
	}

	p.mu.Lock()
	p.targets = targets
	if cfg.ScrapeInterval > 0 {
		p.interval = cfg.ScrapeInterval
	}
	p.concurrency = max(cfg.Concurrency, 1)
	p.mu.Unlock()
	p.tr.SetRetryInterval(cfg.RetryInterval)

	slog.Info("poller: entities applied", "entities", len(targets), "skipped", len(failed))
	if len(failed) > 0 {
		return fmt.Errorf("poller: %d entities skipped: %v", len(failed), failed)
	}
	return nil
}

// Entities returns the number of active entities.
func (p *Poller) Entities() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.targets)
}

// Run polls immediately and then once per scrape interval until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		p.Poll(ctx)

		p.mu.RLock()
		wait := p.interval
		p.mu.RUnlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Poll runs one cycle over every entity, at most concurrency at a time, and
// returns when all of them are done.
func (p *Poller) Poll(ctx context.Context) {
	p.mu.RLock()
	targets := p.targets
	limit := p.concurrency
	p.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, t := range targets {
		g.Go(func() error {
			p.pollOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) pollOne(ctx context.Context, t target) {
	now := p.now()
	if !p.tr.Due(ctx, t.entity, now) {
		slog.Debug("poller: entity down, waiting for retry interval", "entity", t.entity.ID)
		p.sink.Ship(p.tr.Skip(ctx, t.entity, now))
		return
	}

	res, err := t.scraper.Scrape(ctx)
	if ctx.Err() != nil {
		return
	}
	now = p.now()

	var serr *scraper.Error
	switch {
	case err != nil:
		serr = &scraper.Error{Category: types.CategoryInternal, Code: types.CodeInternal, Err: err}
	case res.Err != nil:
		serr = res.Err
	}
	if serr != nil {
		slog.Warn("poller: scrape failed", "entity", t.entity.ID, "category", serr.Category, "err", serr.Err)
		p.sink.Ship(p.tr.Failure(ctx, t.entity, serr, now))
		return
	}
	p.sink.Ship(p.tr.Success(ctx, t.entity, res.Values, now))
}
