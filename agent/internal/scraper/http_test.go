package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nodealert/nodealert/agent/internal/config"
)

func probeFor(url string, client *http.Client, metrics map[string]string) *httpProbe {
	return &httpProbe{
		entity: config.Entity{ID: "rpc-1", Type: "http", Endpoint: url, Metrics: metrics},
		client: client,
		now:    time.Now,
	}
}

func TestHTTPProbe_Up(t *testing.T) {
	srv := serve(t, http.StatusOK, "ok")
	res, _ := probeFor(srv.URL, srv.Client(), nil).Scrape(context.Background())

	if res.Err != nil {
		t.Fatalf("res.Err = %v", res.Err)
	}
	if res.Values[FieldStatusCode] != 200 {
		t.Errorf("status_code = %v, want 200", res.Values[FieldStatusCode])
	}
	if _, ok := res.Values[FieldResponseTime]; !ok {
		t.Error("response_time missing")
	}
	if _, ok := res.Values[FieldCertDaysLeft]; ok {
		t.Error("cert_days_left should be absent over plain http")
	}
}

func TestHTTPProbe_TLSReportsCertDays(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	res, _ := probeFor(srv.URL, srv.Client(), map[string]string{"cert_days": FieldCertDaysLeft}).Scrape(context.Background())
	if res.Err != nil {
		t.Fatalf("res.Err = %v", res.Err)
	}
	if res.Values["cert_days"] <= 0 {
		t.Errorf("cert_days = %v, want > 0", res.Values["cert_days"])
	}
	if len(res.Values) != 1 {
		t.Errorf("only mapped fields are reported: got %v", res.Values)
	}
}

func TestHTTPProbe_ErrorStatusIsDown(t *testing.T) {
	srv := serve(t, http.StatusBadGateway, "")
	res, _ := probeFor(srv.URL, srv.Client(), nil).Scrape(context.Background())
	if res.Err == nil || !res.Err.Unreachable() {
		t.Fatalf("Err = %v, want unreachable", res.Err)
	}
}

func TestHTTPProbe_AuthHeaders(t *testing.T) {
	t.Setenv("PROBE_TOKEN", "tok")
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	e := config.Entity{ID: "rpc-1", Type: "http", Endpoint: srv.URL, Auth: config.AuthConfig{Mode: "bearer", TokenEnv: "PROBE_TOKEN"}}
	s, err := New(e)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if res, _ := s.Scrape(context.Background()); res.Err != nil {
		t.Fatalf("res.Err = %v", res.Err)
	}
	if got != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
	}
}
