package alerting

import (
	"testing"
	"time"
)

func availConfig() AvailabilityAlertConfig {
	return AvailabilityAlertConfig{
		Enabled:                true,
		WarningEnabled:         true,
		WarningThreshold:       60 * time.Second,
		CriticalEnabled:        true,
		CriticalThreshold:      200 * time.Second,
		CriticalRepeatInterval: 300 * time.Second,
	}
}

func TestOnUnreachable_BelowWarningSilent(t *testing.T) {
	cfg := availConfig()
	st := NewAvailabilityState(cfg)
	down := at(0)

	if _, ok := OnUnreachable(st, cfg, testEntity, down, at(59)); ok {
		t.Error("elapsed below warning threshold should not alert")
	}
	if st.InitialAlertSent {
		t.Error("InitialAlertSent should still be false")
	}
}

func TestOnUnreachable_WarningOnceThenStillDownCritical(t *testing.T) {
	cfg := availConfig()
	st := NewAvailabilityState(cfg)
	down := at(0)

	ev, ok := OnUnreachable(st, cfg, testEntity, down, at(60))
	if !ok {
		t.Fatal("elapsed at warning threshold should alert")
	}
	if ev.Direction != DirectionWentDown || ev.Severity != SeverityWarning {
		t.Errorf("got %v/%v, want WENT_DOWN/WARNING", ev.Direction, ev.Severity)
	}
	if !ev.DownSince.Equal(down) || ev.Value != 60 {
		t.Errorf("DownSince = %v Value = %v, want %v 60", ev.DownSince, ev.Value, down)
	}

	// Crossing the critical threshold later does not raise a second WENT_DOWN.
	if _, ok := OnUnreachable(st, cfg, testEntity, down, at(250)); ok {
		t.Error("repeat inside the interval should be suppressed")
	}

	ev, ok = OnUnreachable(st, cfg, testEntity, down, at(360))
	if !ok {
		t.Fatal("repeat after interval should alert")
	}
	if ev.Direction != DirectionStillDown || ev.Severity != SeverityCritical {
		t.Errorf("got %v/%v, want STILL_DOWN/CRITICAL", ev.Direction, ev.Severity)
	}
	if ev.Value != 360 {
		t.Errorf("Value = %v, want 360", ev.Value)
	}
}

func TestOnUnreachable_CriticalFirst(t *testing.T) {
	cfg := availConfig()
	st := NewAvailabilityState(cfg)

	ev, ok := OnUnreachable(st, cfg, testEntity, at(0), at(500))
	if !ok || ev.Severity != SeverityCritical || ev.Direction != DirectionWentDown {
		t.Fatalf("got %+v ok=%v, want WENT_DOWN/CRITICAL", ev, ok)
	}
	if ev.ThresholdContext != ZoneCritical || ev.Threshold != 200 {
		t.Errorf("ctx = %v threshold = %v, want CRITICAL 200", ev.ThresholdContext, ev.Threshold)
	}
}

func TestOnUnreachable_BothDisabled(t *testing.T) {
	cfg := availConfig()
	cfg.WarningEnabled = false
	cfg.CriticalEnabled = false
	st := NewAvailabilityState(cfg)

	if _, ok := OnUnreachable(st, cfg, testEntity, at(0), at(10_000)); ok {
		t.Error("no enabled threshold should never alert")
	}
}

func TestOnReachable_ResetsEpisode(t *testing.T) {
	cfg := availConfig()
	st := NewAvailabilityState(cfg)
	down := at(0)
	OnUnreachable(st, cfg, testEntity, down, at(60))

	ev := OnReachable(st, testEntity, down, at(90))
	if ev.Direction != DirectionBackUp || ev.Severity != SeverityInfo {
		t.Errorf("got %v/%v, want BACK_UP/INFO", ev.Direction, ev.Severity)
	}
	if !ev.DownSince.Equal(down) || ev.Value != 90 {
		t.Errorf("DownSince = %v Value = %v", ev.DownSince, ev.Value)
	}
	if st.InitialAlertSent {
		t.Error("InitialAlertSent should be reset")
	}
	if _, marked := st.Limiter.LastMarked(); marked {
		t.Error("limiter should be reset")
	}

	// A new episode starts from scratch.
	ev, ok := OnUnreachable(st, cfg, testEntity, at(100), at(160))
	if !ok || ev.Direction != DirectionWentDown {
		t.Errorf("new episode got %+v ok=%v, want WENT_DOWN", ev, ok)
	}
}
