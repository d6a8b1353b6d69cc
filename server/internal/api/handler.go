package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/pkg/version"
	"github.com/nodealert/nodealert/server/internal/alerting"
	"github.com/nodealert/nodealert/server/internal/store"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

// Entities is the engine state view the API reads and edits. The dispatcher
// satisfies it.
type Entities interface {
	Snapshot(ctx context.Context) ([]alerting.EntitySnapshot, error)
	SnapshotEntity(ctx context.Context, entityID string) (alerting.EntitySnapshot, bool, error)
	Remove(ctx context.Context, entityID string) (bool, error)
}

// HistoryReader queries persisted alerts.
type HistoryReader interface {
	List(ctx context.Context, q store.Query) ([]types.Alert, int64, error)
	Ping(ctx context.Context) error
}

// Options wires the handler to its collaborators. Nil History, Ingest, Stream
// and Auth disable the corresponding feature.
type Options struct {
	Entities Entities
	Recent   *store.Recent
	History  HistoryReader
	Ingest   http.Handler
	Stream   http.Handler
	Auth     func(http.Handler) http.Handler
	Now      func() time.Time
}

// Handler serves the REST API.
type Handler struct {
	opts   Options
	router chi.Router
}

// New creates a Handler and registers all routes.
func New(opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Handler{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	r.Get("/api/v1/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		r.Get("/api/v1/alerts", h.listAlerts)
		r.Get("/api/v1/alerts/history", h.history)
		r.Get("/api/v1/alerts/{id}", h.getAlert)
		r.Get("/api/v1/entities", h.listEntities)
		r.Get("/api/v1/entities/{id}", h.getEntity)
		r.Delete("/api/v1/entities/{id}", h.removeEntity)
		if opts.Ingest != nil {
			r.Method(http.MethodPost, "/api/v1/records", opts.Ingest)
		}
		if opts.Stream != nil {
			r.Handle("/ws/alerts", opts.Stream)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health. It is served without authentication.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{State: "ok", History: "disabled", Version: version.Get()}

	snaps, err := h.opts.Entities.Snapshot(r.Context())
	if err != nil {
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp.EntityCount = len(snaps)
	for _, s := range snaps {
		if s.DownAlerted {
			resp.DownCount++
		}
	}

	if h.opts.Recent != nil {
		resp.RecentAlerts = h.opts.Recent.Count()
		resp.CriticalCount = len(h.opts.Recent.List(store.Filter{Severity: alerting.SeverityCritical.String()}))
	}

	if h.opts.History != nil {
		resp.History = "ok"
		if err := h.opts.History.Ping(r.Context()); err != nil {
			resp.History = "error"
			resp.State = "degraded"
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listAlerts returns GET /api/v1/alerts: recent alerts, newest first.
// Query: entity_id, parent_id, severity, limit.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	out := []types.Alert{}
	if h.opts.Recent != nil {
		q := r.URL.Query()
		out = h.opts.Recent.List(store.Filter{
			EntityID: q.Get("entity_id"),
			ParentID: q.Get("parent_id"),
			Severity: q.Get("severity"),
			Limit:    intParam(r, "limit", 0),
		})
	}
	jsonResp(w, http.StatusOK, AlertListResponse{Alerts: out, Count: len(out)})
}

// getAlert returns GET /api/v1/alerts/{id} from the recent store.
func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	if h.opts.Recent == nil {
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	a, ok := h.opts.Recent.Get(chi.URLParam(r, "id"))
	if !ok {
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	jsonResp(w, http.StatusOK, a)
}

// history returns GET /api/v1/alerts/history.
// Query: entity_id, parent_id, severity, since, until (RFC3339), page, per_page.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if h.opts.History == nil {
		jsonErr(w, http.StatusNotFound, "alert history is disabled")
		return
	}

	q := r.URL.Query()
	page := intParam(r, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := intParam(r, "per_page", defaultPerPage)
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	query := store.Query{
		EntityID: q.Get("entity_id"),
		ParentID: q.Get("parent_id"),
		Severity: q.Get("severity"),
		Limit:    perPage,
		Offset:   (page - 1) * perPage,
	}
	var err error
	if query.Since, err = timeParam(r, "since"); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if query.Until, err = timeParam(r, "until"); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, total, err := h.opts.History.List(r.Context(), query)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "failed to query alert history")
		return
	}
	if alerts == nil {
		alerts = []types.Alert{}
	}
	jsonResp(w, http.StatusOK, HistoryResponse{Alerts: alerts, Total: total, Page: page, PerPage: perPage})
}

// listEntities returns GET /api/v1/entities: a snapshot of every tracked
// entity's classification state.
func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.opts.Entities.Snapshot(r.Context())
	if err != nil {
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	now := h.opts.Now()
	out := make([]EntityResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toEntityResponse(s, now))
	}
	jsonResp(w, http.StatusOK, out)
}

// getEntity returns GET /api/v1/entities/{id}.
func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	s, ok, err := h.opts.Entities.SnapshotEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok {
		jsonErr(w, http.StatusNotFound, "entity not found")
		return
	}
	jsonResp(w, http.StatusOK, toEntityResponse(s, h.opts.Now()))
}

// removeEntity handles DELETE /api/v1/entities/{id}: the entity's
// classification state is dropped and it starts from NONE if seen again.
func (h *Handler) removeEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.opts.Entities.Remove(r.Context(), id)
	if err != nil {
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !removed {
		jsonErr(w, http.StatusNotFound, "entity not found")
		return
	}
	jsonResp(w, http.StatusOK, RemoveResponse{EntityID: id, Removed: true})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New(name + ": expected RFC3339 timestamp")
	}
	return t, nil
}
