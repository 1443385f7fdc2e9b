package env

import "testing"

func TestGetEnvInt(t *testing.T) {
	Env = map[string]string{
		"WORKER_SLOTS":   "4",
		"MAX_BACKLOG":    "not-a-number",
		"RATE_LIMIT_MAX": "0",
	}
	defer func() { Env = nil }()

	if got := GetEnvInt("WORKER_SLOTS", 2); got != 4 {
		t.Fatalf("GetEnvInt(WORKER_SLOTS) = %d, want 4", got)
	}
	if got := GetEnvInt("MAX_BACKLOG", 500); got != 500 {
		t.Fatalf("malformed value must fall back, got %d", got)
	}
	if got := GetEnvInt("RATE_LIMIT_MAX", 120); got != 120 {
		t.Fatalf("non-positive value must fall back, got %d", got)
	}
	if got := GetEnvInt("NEUROCANVAS_UNSET_SETTING", 7); got != 7 {
		t.Fatalf("unset key must fall back, got %d", got)
	}
}
