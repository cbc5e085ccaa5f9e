package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "ENV", "AI_MODE", "NOTIFICATIONS_MAX_PER_DAY", "AGENT_WEEKLY_WEEKDAY", "COACH_CONFIG_FILE", "STORAGE_MODE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Env != "local" {
		t.Fatalf("expected env=local, got %q", cfg.Env)
	}
	if cfg.AIMode != AIModeMock {
		t.Fatalf("expected ai mode mock, got %q", cfg.AIMode)
	}
	if cfg.Notify.MaxPerDay != 3 {
		t.Fatalf("expected max per day 3, got %d", cfg.Notify.MaxPerDay)
	}
	if cfg.Movement.ReminderDelayMinutes != 45 {
		t.Fatalf("expected reminder delay 45, got %d", cfg.Movement.ReminderDelayMinutes)
	}
	if cfg.Agent.WeeklyWeekday != time.Monday || cfg.Agent.WaistTrendWeeks != 2 {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
	if cfg.StorageMode != StorageModeAuto {
		t.Fatalf("expected storage mode auto, got %q", cfg.StorageMode)
	}
}

func TestLoadOpenAIWithoutKeyFallsBackToMock(t *testing.T) {
	t.Setenv("AI_MODE", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("COACH_CONFIG_FILE", "")

	if got := Load().AIMode; got != AIModeMock {
		t.Fatalf("expected mock fallback, got %q", got)
	}
}

func TestLoadClampsReminderDelay(t *testing.T) {
	t.Setenv("MOVEMENT_REMINDER_DELAY_MINUTES", "5")
	t.Setenv("COACH_CONFIG_FILE", "")
	if got := Load().Movement.ReminderDelayMinutes; got != 15 {
		t.Fatalf("expected delay clamped to 15, got %d", got)
	}

	t.Setenv("MOVEMENT_REMINDER_DELAY_MINUTES", "200")
	if got := Load().Movement.ReminderDelayMinutes; got != 90 {
		t.Fatalf("expected delay clamped to 90, got %d", got)
	}
}

func TestApplyFileOverridesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.yaml")
	content := []byte(`
agent:
  daily_hour: 5
  weekly_weekday: sun
  waist_trend_weeks: 1
  auto_apply_weekly: true
movement:
  reminder_delay_minutes: 30
notify:
  max_per_day: 5
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := &Config{Agent: AgentConfig{DailyHour: 6, WeeklyWeekday: time.Monday, WaistTrendWeeks: 2}}
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if cfg.Agent.DailyHour != 5 || cfg.Agent.WeeklyWeekday != time.Sunday || cfg.Agent.WaistTrendWeeks != 1 || !cfg.Agent.AutoApplyWeekly {
		t.Fatalf("agent overlay not applied: %+v", cfg.Agent)
	}
	if cfg.Movement.ReminderDelayMinutes != 30 {
		t.Fatalf("movement overlay not applied: %+v", cfg.Movement)
	}
	if cfg.Notify.MaxPerDay != 5 {
		t.Fatalf("notify overlay not applied: %+v", cfg.Notify)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("expected ConfigFile=%q, got %q", path, cfg.ConfigFile)
	}
}

func TestApplyYAMLRejectsUnknownWeekday(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ApplyYAML([]byte("agent:\n  weekly_weekday: someday\n")); err == nil {
		t.Fatal("expected error for unknown weekday")
	}
}

func TestS3ConfigDiagnostics(t *testing.T) {
	level, code, _ := (S3Config{}).Diagnostics()
	if level != "INFO" || code != "s3_not_configured" {
		t.Fatalf("expected INFO/s3_not_configured, got %s/%s", level, code)
	}

	level, code, _ = (S3Config{Endpoint: "https://s3.example.com"}).Diagnostics()
	if level != "WARN" || code != "s3_partial_config" {
		t.Fatalf("expected WARN/s3_partial_config, got %s/%s", level, code)
	}

	full := S3Config{Endpoint: "e", Region: "r", Bucket: "b", AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "super-secret-value"}
	if !full.IsConfigured() {
		t.Fatalf("expected configured, missing=%v", full.MissingRequired())
	}
	if summary := full.DiagnosticsSummary(); strings.Contains(summary, "super-secret-value") || strings.Contains(summary, "AKIAEXAMPLE") {
		t.Fatalf("summary must not leak secrets: %s", summary)
	}
}

func TestQuietHoursFromYAML(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ApplyYAML([]byte("notify:\n  quiet_start: \"22:30\"\n  quiet_end: \"07:00\"\n")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	w, ok, err := cfg.Notify.QuietHours()
	if err != nil || !ok {
		t.Fatalf("expected quiet hours, got ok=%v err=%v", ok, err)
	}
	if w.Start != 22*60+30 || w.End != 7*60 {
		t.Fatalf("unexpected window %s", w)
	}
}

func TestQuietHoursRejectsBadClock(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ApplyYAML([]byte("notify:\n  quiet_start: \"25:00\"\n  quiet_end: \"07:00\"\n")); err == nil {
		t.Fatal("expected error for 25:00")
	}
	if cfg.Notify.QuietStart != "" {
		t.Fatalf("rejected overlay must not stick, got %q", cfg.Notify.QuietStart)
	}
	if err := cfg.ApplyYAML([]byte("notify:\n  quiet_start: \"22:00\"\n")); err == nil {
		t.Fatal("expected error for a start without an end")
	}
}

func TestLoadDropsInvalidQuietHours(t *testing.T) {
	t.Setenv("COACH_CONFIG_FILE", "")
	t.Setenv("NOTIFY_QUIET_START", "late")
	t.Setenv("NOTIFY_QUIET_END", "07:00")
	cfg := Load()
	if _, ok, err := cfg.Notify.QuietHours(); ok || err != nil {
		t.Fatalf("invalid env quiet hours should be cleared, got ok=%v err=%v", ok, err)
	}
}
