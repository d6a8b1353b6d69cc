package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nodealert/nodealert/pkg/types"
)

// WebhookSink POSTs alert batches to one URL, throttled to a fixed rate.
type WebhookSink struct {
	kind    string // http | slack | teams
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookSink builds a sink for url. kind selects the payload format.
func NewWebhookSink(kind, url string, perSecond float64, timeout time.Duration) *WebhookSink {
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &WebhookSink{
		kind:    kind,
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (w *WebhookSink) Name() string { return "webhook_" + w.kind }

// Send posts the batch, waiting for the rate limiter first.
func (w *WebhookSink) Send(ctx context.Context, alerts []types.Alert) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var body []byte
	switch w.kind {
	case "slack":
		body, _ = json.Marshal(map[string]string{"text": summary(alerts, "*", "\n")})
	case "teams":
		body, _ = json.Marshal(map[string]interface{}{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(worst(alerts)),
			"summary":    fmt.Sprintf("%d nodealert alert(s)", len(alerts)),
			"title":      "nodealert: " + alerts[0].EntityName,
			"text":       summary(alerts, "**", "<br>"),
		})
	default:
		body, _ = json.Marshal(map[string]interface{}{"alerts": alerts})
	}

	if err := w.post(ctx, body); err != nil {
		return err
	}
	slog.Debug("publish: webhook delivered", "kind", w.kind, "alerts", len(alerts))
	return nil
}

func (w *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Message renders one alert as a single human-readable line.
func Message(a types.Alert) string {
	name := a.EntityName
	if name == "" {
		name = a.EntityID
	}
	switch a.Direction {
	case "WENT_DOWN":
		return fmt.Sprintf("%s is down (%.0fs)", name, a.Value)
	case "STILL_DOWN":
		return fmt.Sprintf("%s is still down (%.0fs)", name, a.Value)
	case "BACK_UP":
		return fmt.Sprintf("%s is back up after %.0fs", name, a.Value)
	case "ERROR":
		return fmt.Sprintf("%s: %s (code %d)", name, a.ErrorMessage, a.ErrorCode)
	case "DECREASED":
		return fmt.Sprintf("%s %s decreased to %g, below %s threshold %g",
			name, a.MetricName, a.Value, strings.ToLower(a.ThresholdContext), a.Threshold)
	default:
		return fmt.Sprintf("%s %s increased to %g, above %s threshold %g",
			name, a.MetricName, a.Value, strings.ToLower(a.ThresholdContext), a.Threshold)
	}
}

func summary(alerts []types.Alert, bold, sep string) string {
	lines := make([]string, len(alerts))
	for i, a := range alerts {
		lines[i] = fmt.Sprintf("%s%s%s %s", bold, severityLabel(a.Severity), bold, Message(a))
	}
	return strings.Join(lines, sep)
}

var severityRank = map[string]int{"INFO": 0, "WARNING": 1, "ERROR": 2, "CRITICAL": 3}

func worst(alerts []types.Alert) string {
	w := "INFO"
	for _, a := range alerts {
		if severityRank[a.Severity] > severityRank[w] {
			w = a.Severity
		}
	}
	return w
}

func severityLabel(s string) string {
	switch s {
	case "CRITICAL":
		return "[CRITICAL]"
	case "WARNING":
		return "[WARNING]"
	case "ERROR":
		return "[ERROR]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "CRITICAL", "ERROR":
		return "FF4F6A"
	case "WARNING":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
