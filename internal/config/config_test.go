package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"QMS_SERVER_URL", "REALTIME_PATH", "REALTIME_FRAMING", "REALTIME_RECONNECT_MAX_TRIES", "REALTIME_IDLE_TIMEOUT_SECONDS", "ACTION_TIMEOUT_SECONDS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.ServerURL != "http://127.0.0.1:8000" || cfg.RealtimePath != "/ws/tokens" || cfg.Framing != "raw" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ReconnectMaxTries != 5 || cfg.ReconnectInitialInterval != 500*time.Millisecond {
		t.Fatalf("unexpected reconnect defaults %+v", cfg)
	}
	if cfg.IdleTimeout != time.Minute || cfg.ActionTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg)
	}
	if got := cfg.RealtimeURL(); got != "http://127.0.0.1:8000/ws/tokens" {
		t.Fatalf("unexpected realtime url %s", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QMS_SERVER_URL", "https://queue.clinic.test/")
	t.Setenv("REALTIME_PATH", "realtime")
	t.Setenv("REALTIME_FRAMING", "sockjs")
	t.Setenv("REALTIME_RECONNECT_MAX_TRIES", "0")
	t.Setenv("REALTIME_PING_SECONDS", "0")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("QMS_DOCTOR_ID", "d1")

	cfg := Load()
	if cfg.Framing != "sockjs" || cfg.ReconnectMaxTries != 0 || cfg.PingInterval != 0 {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Fatalf("bad integer should fall back, got %s", cfg.HTTPTimeout)
	}
	if cfg.DoctorID != "d1" {
		t.Fatalf("unexpected doctor id %q", cfg.DoctorID)
	}
	if got := cfg.RealtimeURL(); got != "https://queue.clinic.test/realtime" {
		t.Fatalf("unexpected realtime url %s", got)
	}
}
