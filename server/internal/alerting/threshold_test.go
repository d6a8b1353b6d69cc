package alerting

import (
	"testing"
	"time"

	"github.com/nodealert/nodealert/pkg/types"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// at returns baseTime advanced by n seconds.
func at(n int) time.Time {
	return baseTime.Add(time.Duration(n) * time.Second)
}

var testEntity = Entity{ID: "node-1", Name: "validator-1", ParentID: "chain-a"}

func cpuConfig() MetricAlertConfig {
	return MetricAlertConfig{
		Name:                   "cpu_use",
		Enabled:                true,
		WarningEnabled:         true,
		WarningThreshold:       85,
		CriticalEnabled:        true,
		CriticalThreshold:      95,
		CriticalRepeatInterval: 300 * time.Second,
	}
}

func TestZone(t *testing.T) {
	cfg := cpuConfig()
	noCrit := cfg
	noCrit.CriticalEnabled = false
	noWarn := cfg
	noWarn.WarningEnabled = false

	tests := []struct {
		name  string
		cfg   MetricAlertConfig
		value float64
		want  Zone
	}{
		{"below warning", cfg, 40, ZoneNone},
		{"at warning", cfg, 85, ZoneWarning},
		{"between", cfg, 90, ZoneWarning},
		{"at critical", cfg, 95, ZoneCritical},
		{"critical disabled saturates", noCrit, 1e9, ZoneWarning},
		{"warning disabled band is none", noWarn, 90, ZoneNone},
		{"warning disabled critical still fires", noWarn, 96, ZoneCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.zone(tt.value); got != tt.want {
				t.Errorf("zone(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestClassify_BelowWarningStaysNone(t *testing.T) {
	cfg := cpuConfig()
	st := NewMetricState(cfg)
	for i, v := range []float64{0, 10, 50, 84.999} {
		if ev, ok := Classify(st, cfg, testEntity, v, nil, at(i)); ok {
			t.Fatalf("value %v raised %+v, want nothing", v, ev)
		}
	}
	if st.LastZone != ZoneNone {
		t.Errorf("LastZone = %v, want NONE", st.LastZone)
	}
}

func TestClassify_Transitions(t *testing.T) {
	tests := []struct {
		name     string
		from     Zone
		value    float64
		wantOK   bool
		wantDir  Direction
		wantSev  Severity
		wantCtx  Zone
		wantZone Zone
	}{
		{"none to warning", ZoneNone, 86, true, DirectionIncreased, SeverityWarning, ZoneWarning, ZoneWarning},
		{"none to critical", ZoneNone, 99, true, DirectionIncreased, SeverityCritical, ZoneCritical, ZoneCritical},
		{"warning to critical", ZoneWarning, 95, true, DirectionIncreased, SeverityCritical, ZoneCritical, ZoneCritical},
		{"warning stays", ZoneWarning, 90, false, 0, 0, 0, ZoneWarning},
		{"critical to warning band", ZoneCritical, 90, true, DirectionDecreased, SeverityInfo, ZoneCritical, ZoneWarning},
		{"critical to none", ZoneCritical, 10, true, DirectionDecreased, SeverityInfo, ZoneCritical, ZoneNone},
		{"warning to none", ZoneWarning, 10, true, DirectionDecreased, SeverityInfo, ZoneWarning, ZoneNone},
		{"none stays", ZoneNone, 10, false, 0, 0, 0, ZoneNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cpuConfig()
			st := NewMetricState(cfg)
			st.LastZone = tt.from
			if tt.from == ZoneCritical {
				st.Limiter.Mark(at(0))
			}
			ev, ok := Classify(st, cfg, testEntity, tt.value, nil, at(1))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if st.LastZone != tt.wantZone {
				t.Errorf("LastZone = %v, want %v", st.LastZone, tt.wantZone)
			}
			if !ok {
				return
			}
			if ev.Direction != tt.wantDir || ev.Severity != tt.wantSev || ev.ThresholdContext != tt.wantCtx {
				t.Errorf("event = %v/%v ctx %v, want %v/%v ctx %v",
					ev.Direction, ev.Severity, ev.ThresholdContext, tt.wantDir, tt.wantSev, tt.wantCtx)
			}
			if ev.Value != tt.value {
				t.Errorf("Value = %v, want current %v", ev.Value, tt.value)
			}
			if !ev.Timestamp.Equal(at(1)) {
				t.Errorf("Timestamp = %v, want %v", ev.Timestamp, at(1))
			}
		})
	}
}

func TestClassify_CriticalRepeatGated(t *testing.T) {
	cfg := cpuConfig()
	st := NewMetricState(cfg)

	if _, ok := Classify(st, cfg, testEntity, 96, nil, at(0)); !ok {
		t.Fatal("first critical should alert")
	}
	if _, ok := Classify(st, cfg, testEntity, 97, nil, at(299)); ok {
		t.Error("repeat within interval should be suppressed")
	}
	ev, ok := Classify(st, cfg, testEntity, 98, nil, at(300))
	if !ok {
		t.Fatal("repeat at exactly the interval should alert")
	}
	if ev.Direction != DirectionIncreased || ev.Severity != SeverityCritical || ev.Value != 98 {
		t.Errorf("repeat event = %+v", ev)
	}
	if _, ok := Classify(st, cfg, testEntity, 98, nil, at(301)); ok {
		t.Error("repeat right after a repeat should be suppressed")
	}
}

func TestClassify_CriticalDisabledNeverCritical(t *testing.T) {
	cfg := cpuConfig()
	cfg.CriticalEnabled = false
	st := NewMetricState(cfg)

	ev, ok := Classify(st, cfg, testEntity, 500, nil, at(0))
	if !ok || ev.Severity != SeverityWarning {
		t.Fatalf("got %+v ok=%v, want one WARNING", ev, ok)
	}
	for i := 1; i < 5; i++ {
		if ev, ok := Classify(st, cfg, testEntity, 1e6, nil, at(i*1000)); ok {
			t.Errorf("step %d raised %v/%v, want nothing", i, ev.Direction, ev.Severity)
		}
	}
}

func TestClassify_WarningDisabledBandIsSilent(t *testing.T) {
	cfg := cpuConfig()
	cfg.WarningEnabled = false
	st := NewMetricState(cfg)

	if _, ok := Classify(st, cfg, testEntity, 90, nil, at(0)); ok {
		t.Error("warning band with warning disabled should not alert")
	}
	if st.LastZone != ZoneNone {
		t.Errorf("LastZone = %v, want NONE", st.LastZone)
	}
}

func TestClassify_ReloadedRepeatInterval(t *testing.T) {
	cfg := cpuConfig()
	st := NewMetricState(cfg)
	Classify(st, cfg, testEntity, 96, nil, at(0))

	cfg.CriticalRepeatInterval = 60 * time.Second
	if _, ok := Classify(st, cfg, testEntity, 96, nil, at(60)); !ok {
		t.Error("shortened repeat interval should apply to the live limiter")
	}
}

// Values [40, 86, 96, 96(+250s), 96(+301s), 50] on one metric.
func TestClassify_Scenario(t *testing.T) {
	cfg := cpuConfig()
	st := NewMetricState(cfg)

	steps := []struct {
		value float64
		at    time.Time
	}{
		{40, at(0)},
		{86, at(60)},
		{96, at(120)},
		{96, at(370)},
		{96, at(421)},
		{50, at(480)},
	}
	var got []AlertEvent
	for _, s := range steps {
		if ev, ok := Classify(st, cfg, testEntity, s.value, nil, s.at); ok {
			got = append(got, ev)
		}
	}

	want := []struct {
		dir   Direction
		sev   Severity
		value float64
		ctx   Zone
	}{
		{DirectionIncreased, SeverityWarning, 86, ZoneWarning},
		{DirectionIncreased, SeverityCritical, 96, ZoneCritical},
		{DirectionIncreased, SeverityCritical, 96, ZoneCritical},
		{DirectionDecreased, SeverityInfo, 50, ZoneCritical},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.Direction != w.dir || g.Severity != w.sev || g.Value != w.value || g.ThresholdContext != w.ctx {
			t.Errorf("event %d = %v/%v %v ctx %v, want %v/%v %v ctx %v",
				i, g.Direction, g.Severity, g.Value, g.ThresholdContext, w.dir, w.sev, w.value, w.ctx)
		}
	}
}

func TestClassify_PreviousValueIgnored(t *testing.T) {
	cfg := cpuConfig()
	for _, prev := range []*float64{nil, types.Float(10), types.Float(99)} {
		st := NewMetricState(cfg)
		ev, ok := Classify(st, cfg, testEntity, 86, prev, at(0))
		if !ok || ev.Severity != SeverityWarning || st.LastZone != ZoneWarning {
			t.Errorf("previous=%v: got ok=%v event=%+v zone=%v", prev, ok, ev, st.LastZone)
		}
	}
}
