package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUnixSecondsRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 250_000_000, time.UTC)
	got := FromUnixSeconds(UnixSeconds(ts))
	if d := got.Sub(ts); d > time.Microsecond || d < -time.Microsecond {
		t.Errorf("round trip drifted by %v", d)
	}
}

func TestObserved_PrefersKindSpecificField(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(time.Minute)
	md := &MetaData{Time: &a, LastMonitored: &b}

	if got, _ := md.Observed(KindResult); !got.Equal(b) {
		t.Errorf("result: got %v, want last_monitored %v", got, b)
	}
	if got, _ := md.Observed(KindError); !got.Equal(a) {
		t.Errorf("error: got %v, want time %v", got, a)
	}
}

func TestObserved_FallsBackAndReportsMissing(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got, ok := (&MetaData{Time: &a}).Observed(KindResult); !ok || !got.Equal(a) {
		t.Errorf("fallback: got %v ok=%v", got, ok)
	}
	if _, ok := (&MetaData{}).Observed(KindResult); ok {
		t.Error("empty meta_data reported a time")
	}
	var nilMD *MetaData
	if _, ok := nilMD.Observed(KindError); ok {
		t.Error("nil meta_data reported a time")
	}
}

func TestRecordJSON_NullCurrent(t *testing.T) {
	raw := `{"entity_id":"n1","kind":"result","metrics":{"went_down_at":{"current":null,"previous":1700000000}}}`
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p := r.Metrics[AvailabilityMetric]
	if p.Current != nil {
		t.Errorf("current: got %v, want nil", *p.Current)
	}
	if p.Previous == nil || *p.Previous != 1700000000 {
		t.Errorf("previous: got %v, want 1700000000", p.Previous)
	}
}
