package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nodealert/nodealert/agent/internal/config"
)

type promScraper struct {
	entity config.Entity
	client *http.Client
	now    func() time.Time
}

// Scrape fetches the entity's metrics endpoint and reads each configured
// metric family. Samples across label sets are summed. A configured family
// absent from the exposition fails the scrape with metric_not_found, naming
// every missing family.
func (s *promScraper) Scrape(ctx context.Context) (*Result, error) {
	res := newResult(s.entity.ID, s.now())

	mfs, serr := fetchMetrics(ctx, s.client, s.entity.Endpoint)
	if serr != nil {
		res.Err = serr
		slog.Warn("scraper: prometheus fetch failed", "entity", s.entity.ID, "category", serr.Category, "err", serr.Err)
		return res, nil
	}

	var missing []string
	for name, family := range s.entity.Metrics {
		mf, ok := mfs[family]
		if !ok || len(mf.GetMetric()) == 0 {
			missing = append(missing, family)
			continue
		}
		res.Values[name] = sumFamily(mf)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		res.Err = metricNotFound(fmt.Errorf("families not exposed: %s", strings.Join(missing, ", ")))
	}
	return res, nil
}
