// Package config loads server configuration from VIBEHOUSE_* environment
// variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dcjanio/vibehouse/generic"
)

// Config is the full server configuration.
type Config struct {
	Port        int      `env:"VIBEHOUSE_PORT"         envDefault:"8080"`
	LogLevel    string   `env:"VIBEHOUSE_LOG_LEVEL"    envDefault:"info"`
	CORSOrigins []string `env:"VIBEHOUSE_CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// Record store. DatabaseURL wins over SQLitePath.
	DatabaseURL    string `env:"VIBEHOUSE_DATABASE_URL"`
	DatabaseSchema string `env:"VIBEHOUSE_DATABASE_SCHEMA" envDefault:"vibehouse"`
	SQLitePath     string `env:"VIBEHOUSE_SQLITE_PATH"     envDefault:"vibehouse.db"`

	// Ledger relayer. Empty runs the in-memory demo ledger.
	LedgerURL    string `env:"VIBEHOUSE_LEDGER_URL"`
	LedgerAPIKey string `env:"VIBEHOUSE_LEDGER_API_KEY"`

	// Google Calendar. Without a refresh token, busy intervals come from the
	// record store's local calendar and events stay in memory.
	GoogleClientID        string            `env:"VIBEHOUSE_GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string            `env:"VIBEHOUSE_GOOGLE_CLIENT_SECRET"`
	GoogleRefreshToken    string            `env:"VIBEHOUSE_GOOGLE_REFRESH_TOKEN"`
	GoogleDefaultCalendar string            `env:"VIBEHOUSE_GOOGLE_DEFAULT_CALENDAR" envDefault:"primary"`
	GoogleCalendars       map[string]string `env:"VIBEHOUSE_GOOGLE_CALENDARS" envSeparator:"," envKeyValSeparator:"="`
	JoinBaseURL           string            `env:"VIBEHOUSE_JOIN_BASE_URL" envDefault:"https://meet.local"`

	// Slot grid.
	WorkStartHour     int  `env:"VIBEHOUSE_WORK_START_HOUR"   envDefault:"9"`
	WorkEndHour       int  `env:"VIBEHOUSE_WORK_END_HOUR"     envDefault:"17"`
	SlotStepMinutes   int  `env:"VIBEHOUSE_SLOT_STEP_MINUTES" envDefault:"60"`
	ExcludeWeekends   bool `env:"VIBEHOUSE_EXCLUDE_WEEKENDS"  envDefault:"true"`
	RedeemHorizonDays int  `env:"VIBEHOUSE_REDEEM_HORIZON_DAYS" envDefault:"30"`

	// Per-call bounds on external dependencies.
	BusyTimeout      time.Duration `env:"VIBEHOUSE_BUSY_TIMEOUT"      envDefault:"10s"`
	StoreTimeout     time.Duration `env:"VIBEHOUSE_STORE_TIMEOUT"     envDefault:"5s"`
	LedgerTimeout    time.Duration `env:"VIBEHOUSE_LEDGER_TIMEOUT"    envDefault:"10s"`
	SchedulerTimeout time.Duration `env:"VIBEHOUSE_SCHEDULER_TIMEOUT" envDefault:"10s"`

	// Pending-confirmation sweep. Zero disables it.
	SweepInterval time.Duration `env:"VIBEHOUSE_SWEEP_INTERVAL" envDefault:"15m"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &generic.InvalidParameterError{Field: "VIBEHOUSE_PORT", Reason: "must be 1..65535"}
	}
	if err := c.WorkHours().Validate(); err != nil {
		return err
	}
	if c.RedeemHorizonDays < 1 || c.RedeemHorizonDays > 30 {
		return &generic.InvalidParameterError{Field: "VIBEHOUSE_REDEEM_HORIZON_DAYS", Reason: "must be 1..30"}
	}
	for name, d := range map[string]time.Duration{
		"VIBEHOUSE_BUSY_TIMEOUT":      c.BusyTimeout,
		"VIBEHOUSE_STORE_TIMEOUT":     c.StoreTimeout,
		"VIBEHOUSE_LEDGER_TIMEOUT":    c.LedgerTimeout,
		"VIBEHOUSE_SCHEDULER_TIMEOUT": c.SchedulerTimeout,
	} {
		if d <= 0 {
			return &generic.InvalidParameterError{Field: name, Reason: "must be positive"}
		}
	}
	if c.SweepInterval < 0 {
		return &generic.InvalidParameterError{Field: "VIBEHOUSE_SWEEP_INTERVAL", Reason: "must not be negative"}
	}
	if c.GoogleRefreshToken != "" && (c.GoogleClientID == "" || c.GoogleClientSecret == "") {
		return &generic.InvalidParameterError{Field: "VIBEHOUSE_GOOGLE_CLIENT_ID", Reason: "client id and secret are required with a refresh token"}
	}
	return nil
}

func (c Config) WorkHours() generic.WorkHours {
	return generic.WorkHours{
		StartHour:       c.WorkStartHour,
		EndHour:         c.WorkEndHour,
		StepMinutes:     c.SlotStepMinutes,
		ExcludeWeekends: c.ExcludeWeekends,
	}
}

// Demo reports whether the in-memory ledger is used.
func (c Config) Demo() bool { return strings.TrimSpace(c.LedgerURL) == "" }

// Google reports whether Google Calendar is configured.
func (c Config) Google() bool { return c.GoogleRefreshToken != "" }

// NewLogger creates a JSON structured logger with an explicit log level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	}))
}
