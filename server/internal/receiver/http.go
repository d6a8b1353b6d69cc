package receiver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/server/internal/metrics"
)

// maxIngestBody caps an ingest request body.
const maxIngestBody = 4 << 20

// IngestResponse is returned by IngestHandler.
type IngestResponse struct {
	RequestID string        `json:"request_id"`
	Accepted  int           `json:"accepted"`
	Rejected  []IngestError `json:"rejected,omitempty"`
}

// IngestError explains why one record of a request was rejected.
type IngestError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// IngestHandler accepts POSTed records, a single JSON object or an array, and
// responds once they have all been evaluated.
type IngestHandler struct {
	sub Submitter
}

// NewIngestHandler builds a handler submitting to sub.
func NewIngestHandler(sub Submitter) *IngestHandler {
	return &IngestHandler{sub: sub}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}
	if len(body) > maxIngestBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}
	recs, err := decodeRecords(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp := IngestResponse{RequestID: uuid.NewString()}
	for i := range recs {
		rec := &recs[i]
		if err := Validate(rec); err != nil {
			resp.Rejected = append(resp.Rejected, IngestError{Index: i, Error: err.Error()})
			metrics.RecordsReceived.WithLabelValues("http", "rejected").Inc()
			continue
		}
		if err := submitAndWait(r.Context(), h.sub, rec); err != nil {
			resp.Rejected = append(resp.Rejected, IngestError{Index: i, Error: err.Error()})
			metrics.RecordsReceived.WithLabelValues("http", "rejected").Inc()
			continue
		}
		resp.Accepted++
		metrics.RecordsReceived.WithLabelValues("http", "accepted").Inc()
	}

	slog.Debug("receiver: ingest request handled",
		"request_id", resp.RequestID,
		"accepted", resp.Accepted,
		"rejected", len(resp.Rejected),
	)

	status := http.StatusOK
	if resp.Accepted == 0 && len(resp.Rejected) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func decodeRecords(body []byte) ([]types.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if body[0] == '[' {
		var recs []types.Record
		if err := json.Unmarshal(body, &recs); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return recs, nil
	}
	var rec types.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return []types.Record{rec}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
