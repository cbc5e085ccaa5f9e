package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/daywindow"
)

const (
	StorageModeMemory   = "memory"
	StorageModePostgres = "postgres"
	StorageModeAuto     = "auto"

	AIModeMock   = "mock"
	AIModeOpenAI = "openai"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

func (c SMTPConfig) IsConfigured() bool {
	return strings.TrimSpace(c.Host) != "" && c.Port > 0 && strings.TrimSpace(c.From) != ""
}

// NotifyConfig: transports and global alert defaults.
type NotifyConfig struct {
	MaxPerDay      int
	DesktopEnabled bool
	PushWebhookURL string
	SMTP           SMTPConfig

	// default quiet hours for users without settings, "HH:MM"; both or neither
	QuietStart string
	QuietEnd   string
}

// QuietHours parses the default quiet window. ok is false when none is set.
func (n NotifyConfig) QuietHours() (w daywindow.Window, ok bool, err error) {
	start, end := strings.TrimSpace(n.QuietStart), strings.TrimSpace(n.QuietEnd)
	if start == "" && end == "" {
		return daywindow.Window{}, false, nil
	}
	if start == "" || end == "" {
		return daywindow.Window{}, false, fmt.Errorf("quiet hours need both start and end")
	}
	w, err = daywindow.Parse(start, end)
	if err != nil {
		return daywindow.Window{}, false, err
	}
	return w, true, nil
}

type MovementConfig struct {
	ReminderDelayMinutes int
	EvalIntervalMinutes  int
	MealLookbackMinutes  int
}

type AgentConfig struct {
	DailyHour        int
	WeeklyWeekday    time.Weekday
	MonthlyDay       int
	Parallelism      int
	WaistTrendWeeks  int // 1 or 2
	AutoApplyWeekly  bool
	AutoApplyMonthly bool
	TimeZone         string // scheduler clock
}

// Config содержит конфигурацию приложения
type Config struct {
	Env      string // local | staging | prod
	LogLevel string

	// Storage
	StorageMode       string // memory | postgres | auto
	DatabaseURL       string // runtime connection (resolved: pooled > url > direct)
	DatabaseURLRaw    string
	DatabaseURLPooled string
	DatabaseURLDirect string // for migrations / DDL (may be empty)

	RunMigrationsOnStartup bool

	// AI (macro estimator and narrative)
	AIMode            string // mock | openai
	OpenAIAPIKey      string
	OpenAIModel       string
	AIMaxOutputTokens int
	AITemperature     float64
	AITimeoutSeconds  int
	AIQuotaPerMinute  int
	AIQuotaBurst      int
	AICacheTTLSeconds int

	Notify   NotifyConfig
	Movement MovementConfig
	Agent    AgentConfig
	Blob     BlobConfig

	// ConfigFile: YAML overlay that was applied, if any
	ConfigFile string
}

func Load() *Config {
	// APP_ENV (fallback to ENV, default: local)
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env == "" {
		env = "local"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "debug"
	}

	// ---------- Database ----------
	// Priority: DATABASE_URL_POOLED > DATABASE_URL > DATABASE_URL_DIRECT
	dbPooled := strings.TrimSpace(os.Getenv("DATABASE_URL_POOLED"))
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	dbDirect := strings.TrimSpace(os.Getenv("DATABASE_URL_DIRECT"))

	runtimeDB := dbPooled
	if runtimeDB == "" {
		runtimeDB = dbURL
	}
	if runtimeDB == "" {
		runtimeDB = dbDirect
	}

	storageMode := parseMode("STORAGE_MODE", StorageModeAuto, StorageModeMemory, StorageModePostgres, StorageModeAuto)

	// ---------- AI ----------
	aiMode := parseMode("AI_MODE", AIModeMock, AIModeMock, AIModeOpenAI)
	openAIAPIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if aiMode == AIModeOpenAI && openAIAPIKey == "" {
		log.Println("WARNING: AI_MODE=openai but OPENAI_API_KEY is empty, fallback to mock")
		aiMode = AIModeMock
	}
	openAIModel := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if openAIModel == "" {
		openAIModel = "gpt-4.1-mini"
	}

	// ---------- Notifications ----------
	maxPerDay := envInt("NOTIFICATIONS_MAX_PER_DAY", 3)
	if maxPerDay <= 0 {
		maxPerDay = 3
	}

	// ---------- Blob / S3 ----------
	s3PresignTTL := envInt("S3_PRESIGN_TTL_SECONDS", 900)
	if s3PresignTTL <= 0 {
		s3PresignTTL = 900
	}

	cfg := &Config{
		Env:      env,
		LogLevel: logLevel,

		StorageMode:       storageMode,
		DatabaseURL:       runtimeDB,
		DatabaseURLRaw:    dbURL,
		DatabaseURLPooled: dbPooled,
		DatabaseURLDirect: dbDirect,

		RunMigrationsOnStartup: parseBoolEnv("RUN_MIGRATIONS_ON_STARTUP"),

		AIMode:            aiMode,
		OpenAIAPIKey:      openAIAPIKey,
		OpenAIModel:       openAIModel,
		AIMaxOutputTokens: envInt("AI_MAX_OUTPUT_TOKENS", 600),
		AITemperature:     envFloat("AI_TEMPERATURE", 0.2),
		AITimeoutSeconds:  envInt("AI_TIMEOUT_SECONDS", 20),
		AIQuotaPerMinute:  envInt("AI_QUOTA_PER_MINUTE", 6),
		AIQuotaBurst:      envInt("AI_QUOTA_BURST", 3),
		AICacheTTLSeconds: envInt("AI_CACHE_TTL_SECONDS", 3600),

		Notify: NotifyConfig{
			MaxPerDay:      maxPerDay,
			DesktopEnabled: parseBoolEnv("NOTIFY_DESKTOP_ENABLED"),
			PushWebhookURL: strings.TrimSpace(os.Getenv("NOTIFY_PUSH_WEBHOOK_URL")),
			SMTP: SMTPConfig{
				Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
				Port:     envInt("SMTP_PORT", 587),
				Username: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
				Password: os.Getenv("SMTP_PASSWORD"),
				From:     strings.TrimSpace(os.Getenv("SMTP_FROM")),
				UseTLS:   os.Getenv("SMTP_USE_TLS") != "0",
			},
			QuietStart: strings.TrimSpace(os.Getenv("NOTIFY_QUIET_START")),
			QuietEnd:   strings.TrimSpace(os.Getenv("NOTIFY_QUIET_END")),
		},

		Movement: MovementConfig{
			ReminderDelayMinutes: clampInt(envInt("MOVEMENT_REMINDER_DELAY_MINUTES", 45), 15, 90),
			EvalIntervalMinutes:  clampInt(envInt("MOVEMENT_EVAL_INTERVAL_MINUTES", 30), 5, 120),
			MealLookbackMinutes:  clampInt(envInt("MOVEMENT_MEAL_LOOKBACK_MINUTES", 120), 61, 360),
		},

		Agent: AgentConfig{
			DailyHour:        clampInt(envInt("AGENT_DAILY_HOUR", 6), 0, 23),
			WeeklyWeekday:    parseWeekday("AGENT_WEEKLY_WEEKDAY", time.Monday),
			MonthlyDay:       clampInt(envInt("AGENT_MONTHLY_DAY", 1), 1, 28),
			Parallelism:      clampInt(envInt("AGENT_PARALLELISM", 4), 1, 64),
			WaistTrendWeeks:  parseWaistTrendWeeks(envInt("AGENT_WAIST_TREND_WEEKS", 2)),
			AutoApplyWeekly:  parseBoolEnv("AGENT_AUTO_APPLY_WEEKLY"),
			AutoApplyMonthly: parseBoolEnv("AGENT_AUTO_APPLY_MONTHLY"),
			TimeZone:         envString("AGENT_TIME_ZONE", "UTC"),
		},

		Blob: BlobConfig{
			Mode: parseMode("BLOB_MODE", BlobModeLocal, BlobModeLocal, BlobModeS3, BlobModeAuto),
			S3: S3Config{
				Endpoint:          strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
				Region:            strings.TrimSpace(os.Getenv("S3_REGION")),
				Bucket:            strings.TrimSpace(os.Getenv("S3_BUCKET")),
				AccessKeyID:       strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID")),
				SecretAccessKey:   strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY")),
				KeyPrefix:         envString("S3_KEY_PREFIX", "reports"),
				PresignTTLSeconds: s3PresignTTL,
			},
		},
	}

	if path := strings.TrimSpace(os.Getenv("COACH_CONFIG_FILE")); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			log.Printf("WARNING: failed to apply COACH_CONFIG_FILE=%q: %v", path, err)
		}
	}
	if _, _, err := cfg.Notify.QuietHours(); err != nil {
		log.Printf("WARNING: ignoring default quiet hours %q-%q: %v", cfg.Notify.QuietStart, cfg.Notify.QuietEnd, err)
		cfg.Notify.QuietStart, cfg.Notify.QuietEnd = "", ""
	}

	return cfg
}

// AgentLocation returns the scheduler clock location, UTC on error.
func (c *Config) AgentLocation() *time.Location {
	loc, err := time.LoadLocation(c.Agent.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseMode(key string, defaultVal string, allowed ...string) string {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if mode == "" {
		return defaultVal
	}
	for _, a := range allowed {
		if mode == a {
			return mode
		}
	}
	log.Printf("WARNING: unknown %s=%q, fallback to %s", key, mode, defaultVal)
	return defaultVal
}

func parseWeekday(key string, defaultVal time.Weekday) time.Weekday {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return defaultVal
	}
	if wd, ok := weekdayByName(raw); ok {
		return wd
	}
	log.Printf("WARNING: unknown %s=%q, fallback to %s", key, raw, defaultVal)
	return defaultVal
}

func weekdayByName(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, true
		}
	}
	return 0, false
}

func parseWaistTrendWeeks(v int) int {
	if v == 1 || v == 2 {
		return v
	}
	log.Printf("WARNING: unsupported AGENT_WAIST_TREND_WEEKS=%d, fallback to 2", v)
	return 2
}

// envInt reads an int env var with a default value.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
