package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/nodealert/nodealert/server/internal/alerting"
)

// staleAfter is how long an entity may go without a record before it is
// flagged as silent.
const staleAfter = 10 * time.Minute

// DiagnosticHint is one human-readable note about an entity's alert state.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning" | "critical".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2}

// computeDiagnostics derives hints from an entity snapshot, critical first.
func computeDiagnostics(s alerting.EntitySnapshot, now time.Time) []DiagnosticHint {
	hints := []DiagnosticHint{}

	if s.DownAlerted {
		detail := "A downtime alert has been sent for this entity."
		if s.LastDownAlert != nil {
			detail = fmt.Sprintf(
				"A downtime alert has been sent; the last one went out at %s. "+
					"Still-down reminders follow every repeat interval until a successful record arrives.",
				s.LastDownAlert.UTC().Format(time.RFC3339),
			)
		}
		hints = append(hints, DiagnosticHint{Key: "down", Level: "critical", Title: "Unreachable", Detail: detail})
	}

	if s.OpenErrorCode != 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "open_error",
			Level: "warning",
			Title: fmt.Sprintf("Error code %d", s.OpenErrorCode),
			Detail: fmt.Sprintf(
				"The monitor reported error code %d and no successful record has arrived since. "+
					"The error is alerted once; the next successful record clears it.",
				s.OpenErrorCode,
			),
		})
	}

	for _, m := range s.Metrics {
		switch m.Zone {
		case alerting.ZoneCritical.String():
			hints = append(hints, DiagnosticHint{
				Key:   "metric_critical:" + m.Name,
				Level: "critical",
				Title: m.Name + " critical",
				Detail: fmt.Sprintf(
					"%s is at or above its critical threshold. The alert repeats every %s while it stays there.",
					m.Name, m.RepeatEvery,
				),
			})
		case alerting.ZoneWarning.String():
			hints = append(hints, DiagnosticHint{
				Key:    "metric_warning:" + m.Name,
				Level:  "warning",
				Title:  m.Name + " warning",
				Detail: fmt.Sprintf("%s is in its warning band. Warnings are not repeated.", m.Name),
			})
		}
	}

	if !s.LastSeen.IsZero() && now.Sub(s.LastSeen) > staleAfter {
		hints = append(hints, DiagnosticHint{
			Key:   "silent",
			Level: "warning",
			Title: "No recent records",
			Detail: fmt.Sprintf(
				"No record has been processed for this entity in %s. "+
					"Check that its monitor is still running and publishing.",
				now.Sub(s.LastSeen).Truncate(time.Second),
			),
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "ok",
			Level:  "info",
			Title:  "All clear",
			Detail: "Every metric is below its thresholds and the entity is reachable.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}
