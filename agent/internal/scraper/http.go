package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nodealert/nodealert/agent/internal/config"
	"github.com/nodealert/nodealert/agent/internal/security"
)

// Probe fields reported by the http probe.
const (
	FieldResponseTime = "response_time"  // seconds
	FieldStatusCode   = "status_code"    // HTTP status
	FieldCertDaysLeft = "cert_days_left" // https only
)

// httpProbe checks an entity's health endpoint. Any 2xx or 3xx response
// means the entity is up; transport errors and other statuses mean it is
// down.
type httpProbe struct {
	entity config.Entity
	client *http.Client
	now    func() time.Time
}

func (p *httpProbe) Scrape(ctx context.Context) (*Result, error) {
	start := p.now()
	res := newResult(p.entity.ID, start)

	resp, serr := get(ctx, p.client, p.entity.Endpoint, "")
	if serr != nil {
		res.Err = serr
		return res, nil
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck
	resp.Body.Close()
	elapsed := p.now().Sub(start)

	if resp.StatusCode >= 400 {
		res.Err = unreachable(fmt.Errorf("health endpoint returned status %d", resp.StatusCode))
		return res, nil
	}

	fields := map[string]float64{
		FieldResponseTime: elapsed.Seconds(),
		FieldStatusCode:   float64(resp.StatusCode),
	}
	if cert, ok := security.Inspect(resp.TLS, start); ok {
		fields[FieldCertDaysLeft] = cert.DaysLeft
	}

	if len(p.entity.Metrics) == 0 {
		res.Values = fields
		return res, nil
	}
	for name, field := range p.entity.Metrics {
		if v, ok := fields[field]; ok {
			res.Values[name] = v
		}
	}
	return res, nil
}
