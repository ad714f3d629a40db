// Package config resolves Hana's startup configuration once: environment
// variables (optionally pre-loaded from a .env file), cron schedules for the
// maintenance jobs, and the persona document.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata" // IANA zones for HANA_TIMEZONE on minimal images

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/bdobrica/Hana/internal/hana/store"
)

// Features is the resolved set of feature toggles. Toggles whose feature is
// served by an external collaborator are carried so the whole surface is
// reported at startup.
type Features struct {
	Sulk           bool
	Romance        bool
	Relationship   bool
	LongTermMemory bool
	Vision         bool
	ScheduledJobs  bool
	Documents      bool
	VoiceReminders bool
	Holidays       bool
	News           bool
	Songs          bool
}

// LogAttrs renders the toggles as slog attributes.
func (f Features) LogAttrs() []any {
	return []any{
		"sulk", f.Sulk, "romance", f.Romance, "relationship", f.Relationship,
		"long_term_memory", f.LongTermMemory, "vision", f.Vision,
		"scheduled_jobs", f.ScheduledJobs, "documents", f.Documents,
		"voice_reminders", f.VoiceReminders, "holidays", f.Holidays,
		"news", f.News, "songs", f.Songs,
	}
}

// MatrixConfig holds the chat transport credentials.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// OwnerRoom is the single room Hana talks in.
	OwnerRoom string
	// OwnerUserID, when set, restricts handling to messages from this user.
	OwnerUserID string
}

// GeminiConfig holds inference credentials and tuning.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
}

// Schedules are cron expressions (standard five-field) for the maintenance
// jobs.
type Schedules struct {
	Sulk        string
	HistoryTrim string
	LTMCleanup  string
	Compaction  string
}

// Retention configures the long-term memory tiers.
type Retention struct {
	HighPriority int
	HighMaxAge   time.Duration
	MidPriority  int
	MidMaxAge    time.Duration
	LowMaxAge    time.Duration
}

// Policy converts the tiers to the store's retention policy.
func (r Retention) Policy() store.RetentionPolicy {
	return store.RetentionPolicy{
		{MinPriority: r.HighPriority, MaxAge: r.HighMaxAge},
		{MinPriority: r.MidPriority, MaxAge: r.MidMaxAge},
		{MinPriority: 0, MaxAge: r.LowMaxAge},
	}
}

// Config is the complete startup configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	LogFormat    string
	// HTTPAddr enables the health/status/metrics server when non-empty.
	HTTPAddr string

	Environment string
	SentryDSN   string

	Matrix MatrixConfig
	Gemini GeminiConfig

	Location  *time.Location
	Latitude  float64
	Longitude float64
	// WeatherURL is the Open-Meteo base URL; empty disables weather facts.
	WeatherURL string

	Features Features

	// Personality is the initial personality key on first run.
	Personality string

	RateLimit       int
	RateWindow      time.Duration
	CacheSize       int
	MaxMessageRunes int

	HistoryWindow   int
	FactLimit       int
	MaxHistory      int
	HistorySlack    int
	HistoryCacheTTL time.Duration
	DeleteBatchSize int

	SleepStartHour int
	SleepEndHour   int

	SulkEnterDays     int
	SulkExitDays      int
	SulkMinDailyChats int
	MoodDuration      time.Duration

	Schedules Schedules
	Retention Retention

	Persona Persona
}

// Load reads a .env file when present, then the environment, then the
// persona document, and validates the result.
func Load() (*Config, error) {
	envFile := os.Getenv(EnvPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	} else if err == nil {
		slog.Debug("loaded environment file", "path", envFile)
	}

	e := &env{prefix: EnvPrefix}
	cfg := fromEnv(e)
	if len(e.errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(e.errs...))
	}

	persona, err := LoadPersona(e.StringOr("PERSONA_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Persona = persona

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv(e *env) *Config {
	return &Config{
		DatabasePath: e.StringOr("DATABASE_PATH", "./hana.db"),
		LogLevel:     e.StringOr("LOG_LEVEL", "info"),
		LogFormat:    e.StringOr("LOG_FORMAT", "text"),
		HTTPAddr:     e.StringOr("HTTP_ADDR", ""),
		Environment:  e.StringOr("ENVIRONMENT", "production"),
		SentryDSN:    e.StringOr("SENTRY_DSN", ""),

		Matrix: MatrixConfig{
			Homeserver:  e.Required("MATRIX_HOMESERVER"),
			UserID:      e.Required("MATRIX_USER_ID"),
			AccessToken: e.Required("MATRIX_ACCESS_TOKEN"),
			OwnerRoom:   e.Required("MATRIX_OWNER_ROOM"),
			OwnerUserID: e.StringOr("MATRIX_OWNER_USER_ID", ""),
		},
		Gemini: GeminiConfig{
			APIKey:          e.Required("GEMINI_API_KEY"),
			Model:           e.StringOr("GEMINI_MODEL", "gemini-2.0-flash"),
			Temperature:     e.FloatOr("GEMINI_TEMPERATURE", 0.9),
			MaxOutputTokens: e.IntOr("GEMINI_MAX_OUTPUT_TOKENS", 1024),
			Timeout:         e.DurationOr("INFERENCE_TIMEOUT", 30*time.Second),
		},

		Location:   e.LocationOr("TIMEZONE", time.Local),
		Latitude:   e.FloatOr("LATITUDE", -6.2088),
		Longitude:  e.FloatOr("LONGITUDE", 106.8456),
		WeatherURL: e.StringOr("WEATHER_URL", "https://api.open-meteo.com"),

		Features: Features{
			Sulk:           e.BoolOr("FEATURE_SULK", true),
			Romance:        e.BoolOr("FEATURE_ROMANCE", true),
			Relationship:   e.BoolOr("FEATURE_RELATIONSHIP", true),
			LongTermMemory: e.BoolOr("FEATURE_LONG_TERM_MEMORY", true),
			Vision:         e.BoolOr("FEATURE_VISION", false),
			ScheduledJobs:  e.BoolOr("FEATURE_SCHEDULED_JOBS", true),
			Documents:      e.BoolOr("FEATURE_DOCUMENTS", false),
			VoiceReminders: e.BoolOr("FEATURE_VOICE_REMINDERS", false),
			Holidays:       e.BoolOr("FEATURE_HOLIDAYS", false),
			News:           e.BoolOr("FEATURE_NEWS", false),
			Songs:          e.BoolOr("FEATURE_SONGS", false),
		},

		Personality: e.StringOr("PERSONALITY", "tsundere"),

		RateLimit:       e.IntOr("RATE_LIMIT", 3),
		RateWindow:      e.DurationOr("RATE_WINDOW", 20*time.Second),
		CacheSize:       e.IntOr("CACHE_SIZE", 100),
		MaxMessageRunes: e.IntOr("MAX_MESSAGE_RUNES", 2000),

		HistoryWindow:   e.IntOr("HISTORY_WINDOW", 4),
		FactLimit:       e.IntOr("FACT_LIMIT", 5),
		MaxHistory:      e.IntOr("MAX_HISTORY", 500),
		HistorySlack:    e.IntOr("HISTORY_SLACK", 50),
		HistoryCacheTTL: e.DurationOr("HISTORY_CACHE_TTL", 3*time.Second),
		DeleteBatchSize: e.IntOr("DELETE_BATCH_SIZE", 200),

		SleepStartHour: e.IntOr("SLEEP_START_HOUR", 0),
		SleepEndHour:   e.IntOr("SLEEP_END_HOUR", 5),

		SulkEnterDays:     e.IntOr("SULK_ENTER_DAYS", 2),
		SulkExitDays:      e.IntOr("SULK_EXIT_DAYS", 2),
		SulkMinDailyChats: e.IntOr("SULK_MIN_DAILY_CHATS", 6),
		MoodDuration:      e.DurationOr("MOOD_DURATION", 2*time.Hour),

		Schedules: Schedules{
			Sulk:        e.StringOr("SCHEDULE_SULK", "*/30 * * * *"),
			HistoryTrim: e.StringOr("SCHEDULE_HISTORY_TRIM", "15 * * * *"),
			LTMCleanup:  e.StringOr("SCHEDULE_LTM_CLEANUP", "30 3 * * *"),
			Compaction:  e.StringOr("SCHEDULE_COMPACTION", "45 4 * * 0"),
		},
		Retention: Retention{
			HighPriority: e.IntOr("LTM_HIGH_PRIORITY", 80),
			HighMaxAge:   e.DurationOr("LTM_HIGH_MAX_AGE", 60*24*time.Hour),
			MidPriority:  e.IntOr("LTM_MID_PRIORITY", 40),
			MidMaxAge:    e.DurationOr("LTM_MID_MAX_AGE", 14*24*time.Hour),
			LowMaxAge:    e.DurationOr("LTM_LOW_MAX_AGE", 5*24*time.Hour),
		},
	}
}

// Validate checks ranges and cron expressions.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DatabasePath != "", "database path is empty")
	check(c.RateLimit > 0, "rate limit must be positive, got %d", c.RateLimit)
	check(c.RateWindow > 0, "rate window must be positive, got %s", c.RateWindow)
	check(c.CacheSize > 0, "cache size must be positive, got %d", c.CacheSize)
	check(c.MaxMessageRunes > 0, "max message runes must be positive, got %d", c.MaxMessageRunes)
	check(c.HistoryWindow > 0, "history window must be positive, got %d", c.HistoryWindow)
	check(c.FactLimit >= 0, "fact limit must not be negative, got %d", c.FactLimit)
	check(c.MaxHistory > c.HistoryWindow, "max history %d must exceed history window %d", c.MaxHistory, c.HistoryWindow)
	check(c.HistorySlack >= 0, "history slack must not be negative, got %d", c.HistorySlack)
	check(c.DeleteBatchSize > 0, "delete batch size must be positive, got %d", c.DeleteBatchSize)
	check(validHour(c.SleepStartHour), "sleep start hour %d out of range 0..23", c.SleepStartHour)
	check(validHour(c.SleepEndHour), "sleep end hour %d out of range 0..23", c.SleepEndHour)
	check(c.SulkEnterDays > 0, "sulk enter days must be positive, got %d", c.SulkEnterDays)
	check(c.SulkExitDays > 0, "sulk exit days must be positive, got %d", c.SulkExitDays)
	check(c.SulkMinDailyChats > 0, "sulk min daily chats must be positive, got %d", c.SulkMinDailyChats)
	check(c.Gemini.Timeout > 0, "inference timeout must be positive, got %s", c.Gemini.Timeout)
	check(c.Retention.HighPriority > c.Retention.MidPriority && c.Retention.MidPriority > 0,
		"ltm tiers must satisfy high > mid > 0, got %d/%d", c.Retention.HighPriority, c.Retention.MidPriority)
	check(c.Retention.HighPriority <= 100, "ltm high priority %d exceeds 100", c.Retention.HighPriority)
	if err := c.Retention.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	_, known := c.Persona.Personalities[c.Personality]
	check(known, "personality %q has no prompt in the persona document", c.Personality)

	for name, expr := range map[string]string{
		"sulk":         c.Schedules.Sulk,
		"history trim": c.Schedules.HistoryTrim,
		"ltm cleanup":  c.Schedules.LTMCleanup,
		"compaction":   c.Schedules.Compaction,
	} {
		if _, err := cron.ParseStandard(expr); err != nil {
			errs = append(errs, fmt.Errorf("%s schedule %q: %w", name, expr, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func validHour(h int) bool { return h >= 0 && h <= 23 }
