package core

import (
	"testing"
	"time"
)

// ===== Open-Duration Alarm Tests =====

func TestOpenAlarmFiresOnce(t *testing.T) {
	system, _, redis := newTestDoorSystem(t)
	system.cfg.OpenAlarm = 60 * time.Millisecond

	if err := system.HandleContactReport(true); err != nil {
		t.Fatalf("HandleContactReport failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if n := redis.openAlertCount(); n != 0 {
		t.Fatalf("Expected no alert before threshold, got %d", n)
	}

	time.Sleep(80 * time.Millisecond)
	if n := redis.openAlertCount(); n != 1 {
		t.Fatalf("Expected 1 alert after threshold, got %d", n)
	}

	// One-shot: no repeat while the door stays open
	time.Sleep(100 * time.Millisecond)
	if n := redis.openAlertCount(); n != 1 {
		t.Errorf("Expected alert to fire once, got %d", n)
	}
}

func TestOpenAlarmCancelledOnClose(t *testing.T) {
	system, _, redis := newTestDoorSystem(t)
	system.cfg.OpenAlarm = 80 * time.Millisecond

	if err := system.HandleContactReport(true); err != nil {
		t.Fatalf("HandleContactReport failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := system.HandleContactReport(false); err != nil {
		t.Fatalf("HandleContactReport failed: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if n := redis.openAlertCount(); n != 0 {
		t.Errorf("Expected no alert after closing in time, got %d", n)
	}
}

func TestOpenAlarmDisabledByDefault(t *testing.T) {
	system, _, redis := newTestDoorSystem(t)

	if err := system.HandleContactReport(true); err != nil {
		t.Fatalf("HandleContactReport failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := redis.openAlertCount(); n != 0 {
		t.Errorf("Expected no alert with threshold 0, got %d", n)
	}
}

func TestOpenAlarmDisarmedBySettingsChange(t *testing.T) {
	system, _, redis := newTestDoorSystem(t)
	system.cfg.OpenAlarm = 100 * time.Millisecond

	if err := system.HandleContactReport(true); err != nil {
		t.Fatalf("HandleContactReport failed: %v", err)
	}

	// Setting the threshold to 0 while the timer is pending disarms it
	redis.settings[settingOpenAlarm] = "0"
	if err := system.handleSettingsUpdate(settingOpenAlarm); err != nil {
		t.Fatalf("handleSettingsUpdate failed: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if n := redis.openAlertCount(); n != 0 {
		t.Errorf("Expected no alert after disarming, got %d", n)
	}
}

func TestOpenAlarmRestartsWithNewThreshold(t *testing.T) {
	system, _, redis := newTestDoorSystem(t)
	system.cfg.OpenAlarm = 10 * time.Second

	if err := system.HandleContactReport(true); err != nil {
		t.Fatalf("HandleContactReport failed: %v", err)
	}

	// Shortening the threshold re-arms the timer with the new duration
	system.mu.Lock()
	system.cfg.OpenAlarm = 50 * time.Millisecond
	system.mu.Unlock()
	system.updateOpenAlarm(true)

	time.Sleep(100 * time.Millisecond)
	if n := redis.openAlertCount(); n != 1 {
		t.Errorf("Expected 1 alert with shortened threshold, got %d", n)
	}
}

func TestOpenAlarmSurvivesTriggerCycle(t *testing.T) {
	system, _, redis := newTestDoorSystem(t)
	system.cfg.OpenAlarm = 80 * time.Millisecond

	if err := system.HandleContactReport(true); err != nil {
		t.Fatalf("HandleContactReport failed: %v", err)
	}

	// A trigger cycle that never moves the door must not reset the clock
	if err := system.HandleTriggerRequest(); err != nil {
		t.Fatalf("HandleTriggerRequest failed: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if n := redis.openAlertCount(); n != 1 {
		t.Errorf("Expected alert despite trigger cycle, got %d", n)
	}
}
