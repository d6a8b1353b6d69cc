package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/nodealert/nodealert/agent/internal/config"
	"github.com/nodealert/nodealert/pkg/types"
)

// Result is the output of one scrape of a single entity.
type Result struct {
	EntityID  string
	ScrapedAt time.Time

	// Values holds the current value per alert metric name.
	Values map[string]float64

	// Err is non-nil if the scrape failed. Its category decides whether the
	// entity counts as down.
	Err *Error
}

// Error is a categorised scrape failure. Category and Code are the values
// carried in an error record (types.Category*, types.Code*).
type Error struct {
	Category string
	Code     int
	Err      error
}

func (e *Error) Error() string { return e.Category + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Unreachable reports whether the failure means the entity is down.
func (e *Error) Unreachable() bool { return e.Category == types.CategoryUnreachable }

func unreachable(err error) *Error {
	return &Error{Category: types.CategoryUnreachable, Code: types.CodeUnreachable, Err: err}
}

func invalidURL(err error) *Error {
	return &Error{Category: types.CategoryInvalidURL, Code: types.CodeInvalidURL, Err: err}
}

func metricNotFound(err error) *Error {
	return &Error{Category: types.CategoryMetricNotFound, Code: types.CodeMetricNotFound, Err: err}
}

func internal(err error) *Error {
	return &Error{Category: types.CategoryInternal, Code: types.CodeInternal, Err: err}
}

// Scraper is the common interface implemented by every entity scraper.
type Scraper interface {
	Scrape(ctx context.Context) (*Result, error)
}

// New returns the appropriate Scraper for the entity. It builds the HTTP
// client once and reuses it across scrape calls.
func New(e config.Entity) (Scraper, error) {
	client, err := buildHTTPClient(e)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", e.ID, err)
	}
	switch e.Type {
	case "prometheus":
		return &promScraper{entity: e, client: client, now: time.Now}, nil
	case "http":
		return &httpProbe{entity: e, client: client, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("scraper: unsupported type %q", e.Type)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the entity's auth and TLS settings.
func buildHTTPClient(e config.Entity) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: e.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if e.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(e.Auth.CertFile, e.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if e.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(e.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", e.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = config.DefaultScrapeTimeout
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: e.Auth,
		},
		Timeout: timeout,
	}, nil
}

// get performs an HTTP GET and classifies failures. The caller closes the
// body of a non-nil response.
func get(ctx context.Context, client *http.Client, endpoint string, accept string) (*http.Response, *Error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("endpoint %q is not an absolute URL", endpoint)
		}
		return nil, invalidURL(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, invalidURL(err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, internal(err)
		}
		return nil, unreachable(fmt.Errorf("http get: %w", err))
	}
	return resp, nil
}

// fetchMetrics GETs url and returns parsed metric families. 5xx responses
// mean the entity is unhealthy and count as unreachable.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, *Error) {
	resp, serr := get(ctx, client, url, string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if serr != nil {
		return nil, serr
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, unreachable(fmt.Errorf("unexpected status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, internal(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	mfs, err := parseMetrics(resp.Body)
	if err != nil {
		return nil, internal(err)
	}
	return mfs, nil
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

func newResult(entityID string, now time.Time) *Result {
	return &Result{
		EntityID:  entityID,
		ScrapedAt: now.UTC(),
		Values:    make(map[string]float64),
	}
}
