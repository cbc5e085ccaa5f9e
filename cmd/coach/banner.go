package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fdg312/metabolic-hub/internal/config"
)

// printStartupBanner writes a one-time summary of the resolved configuration.
// Secrets only ever show as "set" / "not set".
func printStartupBanner(w io.Writer, a *app) {
	cfg := a.cfg
	line := func(key string, value any) {
		fmt.Fprintf(w, "  %-22s = %v\n", key, value)
	}

	fmt.Fprintln(w, "========== Metabolic Coach ==========")
	line("env", cfg.Env)
	line("log_level", cfg.LogLevel)
	if cfg.ConfigFile != "" {
		line("config_file", cfg.ConfigFile)
	}

	fmt.Fprintln(w, "---- storage ----")
	line("storage_mode", fmt.Sprintf("%s (effective=%s)", cfg.StorageMode, a.storageMode))
	line("runtime_url", describeDBURL(cfg.DatabaseURL, cfg.DatabaseURLPooled))
	line("direct", setOrNot(cfg.DatabaseURLDirect))
	line("migrations_on_startup", cfg.RunMigrationsOnStartup)

	fmt.Fprintln(w, "---- agent ----")
	line("daily_hour", cfg.Agent.DailyHour)
	line("weekly_weekday", strings.ToLower(cfg.Agent.WeeklyWeekday.String()))
	line("monthly_day", cfg.Agent.MonthlyDay)
	line("time_zone", nonEmptyOrDash(cfg.Agent.TimeZone))
	line("parallelism", cfg.Agent.Parallelism)
	line("waist_trend_weeks", cfg.Agent.WaistTrendWeeks)
	line("auto_apply", fmt.Sprintf("weekly=%t monthly=%t", cfg.Agent.AutoApplyWeekly, cfg.Agent.AutoApplyMonthly))

	fmt.Fprintln(w, "---- movement ----")
	line("reminder_delay_min", cfg.Movement.ReminderDelayMinutes)
	line("eval_interval_min", cfg.Movement.EvalIntervalMinutes)
	line("meal_lookback_min", cfg.Movement.MealLookbackMinutes)

	fmt.Fprintln(w, "---- notify ----")
	line("max_per_day", cfg.Notify.MaxPerDay)
	line("push_webhook", setOrNot(cfg.Notify.PushWebhookURL))
	line("desktop", cfg.Notify.DesktopEnabled)
	line("smtp", setOrNot(cfg.Notify.SMTP.Host))

	fmt.Fprintln(w, "---- blob ----")
	line("blob_mode", fmt.Sprintf("%s (effective=%s)", cfg.Blob.Mode, a.blobMode))
	if cfg.Blob.Mode != config.BlobModeLocal {
		line("s3", cfg.Blob.S3.DiagnosticsSummary())
	}

	fmt.Fprintln(w, "---- ai ----")
	line("ai_mode", cfg.AIMode)
	if cfg.AIMode == config.AIModeOpenAI {
		line("openai_model", cfg.OpenAIModel)
		line("openai_api_key", setOrNot(cfg.OpenAIAPIKey))
	}
	line("quota", fmt.Sprintf("%d/min burst=%d", cfg.AIQuotaPerMinute, cfg.AIQuotaBurst))

	fmt.Fprintln(w, "=====================================")
}

// validateProductionConfig returns the first setting that must not ship to staging/prod.
func validateProductionConfig(cfg *config.Config) error {
	if cfg.Blob.Mode == config.BlobModeS3 {
		if missing := cfg.Blob.S3.MissingRequired(); len(missing) > 0 {
			return fmt.Errorf("blob: BLOB_MODE is 's3' but S3 config is incomplete, missing: %s", strings.Join(missing, ", "))
		}
	}

	isProd := cfg.Env == "production" || cfg.Env == "prod" || cfg.Env == "staging"
	if isProd && cfg.DatabaseURL == "" {
		return fmt.Errorf("db: no DATABASE_URL configured in %s", cfg.Env)
	}
	if isProd && cfg.StorageMode == config.StorageModeMemory {
		return fmt.Errorf("storage: STORAGE_MODE=memory is not allowed in %s", cfg.Env)
	}
	return nil
}

func setOrNot(v string) string {
	if strings.TrimSpace(v) == "" {
		return "not set"
	}
	return "set"
}

func nonEmptyOrDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func describeDBURL(runtime, pooled string) string {
	if runtime == "" {
		return "not set"
	}
	if pooled != "" && runtime == pooled {
		return "set (via DATABASE_URL_POOLED)"
	}
	return "set"
}
