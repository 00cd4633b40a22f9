// Package config provides configuration loading, validation, and management
// for the sheetpipe application. It handles reading from YAML files,
// environment variables, default values, and validating configuration
// parameters. The resulting Config struct is assembled once at startup and
// passed by reference into every component.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration. Values can be set via
// config.yaml or environment variables prefixed with PIPE_
// (e.g. PIPE_GEMINI_API_KEY).
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ServerConfig controls the inbound HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=1m"`
}

// TelegramConfig holds the messaging-platform webhook settings.
type TelegramConfig struct {
	Token         string `mapstructure:"token"          validate:"required"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// ExtractConfig selects the field extraction strategy.
type ExtractConfig struct {
	Strategy string `mapstructure:"strategy" validate:"required,oneof=separator pattern"`
}

// GeminiConfig holds the AI enrichment settings. Enrichment can be disabled
// entirely; the pipeline then stores messages with a nil analysis.
type GeminiConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"             validate:"required"`
	Temperature      float32       `mapstructure:"temperature"       validate:"min=0,max=2"`
	Timeout          time.Duration `mapstructure:"timeout"           validate:"min=1s,max=10m"`
	BatchConcurrency int           `mapstructure:"batch_concurrency" validate:"min=1,max=50"`
	BatchDelay       time.Duration `mapstructure:"batch_delay"       validate:"min=0,max=1m"`
}

// SheetsConfig identifies the target spreadsheet and the credentials used to
// write to it.
type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name" validate:"required"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// DatabaseConfig holds the SQLite storage settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables a single scheduled task with a cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// Load loads and validates configuration from:
// 1. Default values
// 2. The config file at configPath (missing file is allowed)
// 3. PIPE_* environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is okay, defaults plus environment apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SheetsConfigured reports whether the sheet delivery client has everything it
// needs. The health check and the delivery client both branch on this.
func (c *Config) SheetsConfigured() bool {
	return c.Sheets.SpreadsheetID != "" && c.Sheets.CredentialsFile != ""
}

func isNotExist(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return strings.Contains(err.Error(), "no such file")
}

// setDefaults sets default values for optional configuration parameters.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Empty defaults register the keys so AutomaticEnv can bind them.
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.credentials_file", "")

	v.SetDefault("extract.strategy", "separator")

	v.SetDefault("gemini.enabled", true)
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.2)
	v.SetDefault("gemini.timeout", 30*time.Second)
	v.SetDefault("gemini.batch_concurrency", 5)
	v.SetDefault("gemini.batch_delay", time.Second)

	v.SetDefault("sheets.sheet_name", "Sheet1")

	v.SetDefault("database.path", "storage.db")

	v.SetDefault("scheduler.tasks.daily_report.enabled", true)
	v.SetDefault("scheduler.tasks.daily_report.schedule", "0 0 9 * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 30 4 * * *")
}
