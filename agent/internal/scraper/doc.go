// Package scraper polls monitored entities and returns the current value of
// each configured alert metric.
//
// Two scrapers exist. The prometheus scraper (prometheus.go) reads metric
// families from a text exposition endpoint and sums samples across labels.
// The http probe (http.go) checks a health endpoint and reports its response
// time, status code and, over https, the days left on the leaf certificate.
// New(config.Entity) returns the right one.
//
// Failures are reported in Result.Err with a category: unreachable
// (connection errors, 5xx), invalid_url, metric_not_found or internal. Only
// unreachable failures start a downtime episode.
//
// Authentication (mTLS, API key, bearer token, basic) is handled by the shared
// authRoundTripper in base.go.
package scraper
