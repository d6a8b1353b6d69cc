package alerting

import "fmt"

// MalformedRecordError reports a record, or one metric of a record, that lacks
// a required field. Only the affected part is skipped.
type MalformedRecordError struct {
	EntityID string
	Field    string
}

func (e *MalformedRecordError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("malformed record: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed record for entity %q: missing %s", e.EntityID, e.Field)
}
