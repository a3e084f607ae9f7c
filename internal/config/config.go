// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"campwatch/internal/model"
)

// QuietHoursPolicy decides what happens to notifications suppressed by quiet hours.
type QuietHoursPolicy string

// Supported quiet-hours policies.
const (
	QuietHoursDrop  QuietHoursPolicy = "drop"
	QuietHoursDefer QuietHoursPolicy = "defer"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// SMTP holds outbound email settings.
type SMTP struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	StartTLS bool
}

// Twilio holds outbound SMS settings.
type Twilio struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	HTTPAddr     string

	TierIntervals map[model.Tier]time.Duration

	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RequestTimeout    time.Duration
	NotifyTimeout     time.Duration
	InterAlertPacing  time.Duration
	RequestsPerMinute int
	UserAgent         string
	RecreationGovKey  string
	ExpirySchedule    string
	PendingSchedule   string
	QuietHoursPolicy  QuietHoursPolicy
	TelegramBotToken  string
	SMTP              SMTP
	Twilio            Twilio
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:     envOr("DATABASE_PATH", "./data/campwatch.db"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
		UserAgent:        envOr("USER_AGENT", defaultUserAgent),
		RecreationGovKey: os.Getenv("RECREATION_GOV_API_KEY"),
		ExpirySchedule:   envOr("EXPIRY_SCHEDULE", "0 3 * * *"),
		PendingSchedule:  envOr("PENDING_NOTIFY_SCHEDULE", "*/15 * * * *"),
		QuietHoursPolicy: QuietHoursPolicy(strings.ToLower(envOr("QUIET_HOURS_POLICY", string(QuietHoursDrop)))),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TierIntervals:    make(map[model.Tier]time.Duration),
	}

	intervals := map[model.Tier]struct {
		key string
		def int
	}{
		model.TierPremium:  {"TIER_INTERVAL_PREMIUM", 10},
		model.TierStandard: {"TIER_INTERVAL_STANDARD", 30},
		model.TierBasic:    {"TIER_INTERVAL_BASIC", 60},
	}
	for tier, iv := range intervals {
		minutes, err := positiveInt(iv.key, iv.def)
		if err != nil {
			return nil, err
		}
		cfg.TierIntervals[tier] = time.Duration(minutes) * time.Minute
	}

	var err error
	if cfg.RetryAttempts, err = positiveInt("RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = millis("RETRY_BASE_DELAY_MS", 5000); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = millis("REQUEST_TIMEOUT_MS", 30000); err != nil {
		return nil, err
	}
	if cfg.NotifyTimeout, err = millis("NOTIFY_TIMEOUT_MS", 30000); err != nil {
		return nil, err
	}
	if cfg.InterAlertPacing, err = millis("INTER_ALERT_PACING_MS", 2000); err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute, err = positiveInt("UPSTREAM_REQUESTS_PER_MINUTE", 120); err != nil {
		return nil, err
	}

	switch cfg.QuietHoursPolicy {
	case QuietHoursDrop, QuietHoursDefer:
	default:
		return nil, fmt.Errorf("invalid QUIET_HOURS_POLICY %q: want drop or defer", cfg.QuietHoursPolicy)
	}

	port, err := positiveInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	cfg.SMTP = SMTP{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     port,
		User:     os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     envOr("SMTP_FROM", "alerts@campwatch.local"),
		StartTLS: envOr("SMTP_STARTTLS", "true") != "false",
	}
	cfg.Twilio = Twilio{
		AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		FromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %d: must be positive", key, n)
	}
	return n, nil
}

func millis(key string, def int) (time.Duration, error) {
	n, err := positiveInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
