package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the application's configuration values.
type Config struct {
	DatabaseDriver string `mapstructure:"database_driver"`
	DatabaseURL    string `mapstructure:"database_url"`
	DataDir        string `mapstructure:"data_dir"`
	HTTPPort       string `mapstructure:"http_port"`
	LogLevel       string `mapstructure:"log_level"`
	TimeZone       string `mapstructure:"time_zone"`
	SeedFile       string `mapstructure:"seed_file"`

	VisitInterval      time.Duration `mapstructure:"visit_interval"`
	SupervisorInterval time.Duration `mapstructure:"supervisor_interval"`
	VisitTimeout       time.Duration `mapstructure:"visit_timeout"`
	QuietStart         string        `mapstructure:"quiet_start"`
	QuietEnd           string        `mapstructure:"quiet_end"`

	LogFlushInterval time.Duration `mapstructure:"log_flush_interval"`
	LogSweepSchedule string        `mapstructure:"log_sweep_schedule"`
	LogRetention     time.Duration `mapstructure:"log_retention"`
	MaxLogs          int           `mapstructure:"max_logs"`

	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`

	TelegramChatID   string `mapstructure:"tg_chat_id"`
	TelegramBotToken string `mapstructure:"tg_bot_token"`
	TelegramAPIBase  string `mapstructure:"tg_api_base"`
}

var defaults = map[string]any{
	"database_driver":     DriverFile,
	"database_url":        "",
	"data_dir":            "./data",
	"http_port":           "3000",
	"log_level":           "info",
	"time_zone":           "Asia/Hong_Kong",
	"seed_file":           "",
	"visit_interval":      2 * time.Minute,
	"supervisor_interval": 2 * time.Minute,
	"visit_timeout":       30 * time.Second,
	"quiet_start":         "01:00",
	"quiet_end":           "06:00",
	"log_flush_interval":  5 * time.Minute,
	"log_sweep_schedule":  "0 2 * * *",
	"log_retention":       72 * time.Hour,
	"max_logs":            1000,
	"shutdown_grace":      10 * time.Second,
	"tg_chat_id":          "",
	"tg_bot_token":        "",
	"tg_api_base":         "https://api.telegram.org",
}

// flag name -> config key
var flagKeys = map[string]string{
	"port":            "http_port",
	"data-dir":        "data_dir",
	"database-driver": "database_driver",
	"database-url":    "database_url",
	"log-level":       "log_level",
	"seed-file":       "seed_file",
}

// Load reads configuration from, in increasing priority: built-in defaults,
// an optional YAML file named by --config, environment variables (the
// upper-case key, e.g. VISIT_INTERVAL) and command-line flags.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("keepwarm", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	fs.String("port", "", "HTTP listen port")
	fs.String("data-dir", "", "directory for the file and default sqlite backends")
	fs.String("database-driver", "", "document backend: file, sqlite or postgres")
	fs.String("database-url", "", "sqlite path or postgres connection string")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("seed-file", "", "YAML file with the targets used on first start")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", *configFile, err)
		}
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("cannot bind flag --%s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	if cfg.DatabaseDriver == DriverSQLite && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.DataDir, "keepwarm.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case DriverFile, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver))
	}
	if c.DataDir == "" && c.DatabaseDriver == DriverFile {
		errs = append(errs, errors.New("DATA_DIR must not be empty"))
	}
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("HTTP_PORT must not be empty"))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIME_ZONE: %w", err))
	}
	for name, d := range map[string]time.Duration{
		"VISIT_INTERVAL":      c.VisitInterval,
		"SUPERVISOR_INTERVAL": c.SupervisorInterval,
		"VISIT_TIMEOUT":       c.VisitTimeout,
		"LOG_FLUSH_INTERVAL":  c.LogFlushInterval,
		"LOG_RETENTION":       c.LogRetention,
		"SHUTDOWN_GRACE":      c.ShutdownGrace,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	for name, s := range map[string]string{"QUIET_START": c.QuietStart, "QUIET_END": c.QuietEnd} {
		if _, err := time.Parse("15:04", s); err != nil {
			errs = append(errs, fmt.Errorf("%s must be HH:MM, got %q", name, s))
		}
	}
	if _, err := cron.ParseStandard(c.LogSweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_SWEEP_SCHEDULE: %w", err))
	}
	if c.MaxLogs <= 0 {
		errs = append(errs, fmt.Errorf("MAX_LOGS must be positive, got %d", c.MaxLogs))
	}
	return errors.Join(errs...)
}
