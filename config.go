package main

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	ClickHouseHost     string `mapstructure:"CLICKHOUSE_HOST"`
	ClickHousePort     int    `mapstructure:"CLICKHOUSE_PORT"`
	ClickHouseUser     string `mapstructure:"CLICKHOUSE_USER"`
	ClickHousePassword string `mapstructure:"CLICKHOUSE_PASSWORD"`
	ClickHouseDB       string `mapstructure:"CLICKHOUSE_DB"`
	ClickHouseProtocol string `mapstructure:"CLICKHOUSE_PROTOCOL"`
	ClickHouseSecure   bool   `mapstructure:"CLICKHOUSE_SECURE"`
	QueryTimeoutSecs   int    `mapstructure:"QUERY_TIMEOUT_SECONDS"`

	SenderEmail         string `mapstructure:"SENDER_EMAIL"`
	RecipientEmailsRaw  string `mapstructure:"RECIPIENT_EMAILS"`
	SendGridAPIKey      string `mapstructure:"SENDGRID_API_KEY"`
	SendGridBaseURL     string `mapstructure:"SENDGRID_BASE_URL"`
	SendGridTimeoutSecs int    `mapstructure:"SENDGRID_TIMEOUT_SECONDS"`
	SendGridCAFile      string `mapstructure:"SENDGRID_CA_FILE"`
	AllowInsecureTLS    bool   `mapstructure:"SENDGRID_ALLOW_INSECURE_TLS"`

	RulesPath     string `mapstructure:"REPORT_RULES_PATH"`
	WindowDays    int    `mapstructure:"REPORT_WINDOW_DAYS"`
	RealCaseLimit int    `mapstructure:"REAL_CASE_LIMIT"`
	CaseURLBase   string `mapstructure:"CASE_URL_BASE"`
	SubjectPrefix string `mapstructure:"REPORT_SUBJECT_PREFIX"`

	ArchiveDriver string `mapstructure:"ARCHIVE_DB_DRIVER"`
	ArchiveURL    string `mapstructure:"ARCHIVE_DB_URL"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`

	RecipientEmails []string `mapstructure:"-"`
}

var configKeys = []string{
	"ENV",
	"LOG_LEVEL",
	"CLICKHOUSE_HOST",
	"CLICKHOUSE_PORT",
	"CLICKHOUSE_USER",
	"CLICKHOUSE_PASSWORD",
	"CLICKHOUSE_DB",
	"CLICKHOUSE_PROTOCOL",
	"CLICKHOUSE_SECURE",
	"QUERY_TIMEOUT_SECONDS",
	"SENDER_EMAIL",
	"RECIPIENT_EMAILS",
	"SENDGRID_API_KEY",
	"SENDGRID_BASE_URL",
	"SENDGRID_TIMEOUT_SECONDS",
	"SENDGRID_CA_FILE",
	"SENDGRID_ALLOW_INSECURE_TLS",
	"REPORT_RULES_PATH",
	"REPORT_WINDOW_DAYS",
	"REAL_CASE_LIMIT",
	"CASE_URL_BASE",
	"REPORT_SUBJECT_PREFIX",
	"ARCHIVE_DB_DRIVER",
	"ARCHIVE_DB_URL",
	"DATABASE_URL",
}

// Load reads settings from an optional .env file and the environment,
// then validates them. Every failure wraps ErrConfiguration.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CLICKHOUSE_PROTOCOL", "native")
	v.SetDefault("QUERY_TIMEOUT_SECONDS", 120)
	v.SetDefault("SENDGRID_BASE_URL", "https://api.sendgrid.com")
	v.SetDefault("SENDGRID_TIMEOUT_SECONDS", 30)
	v.SetDefault("REPORT_WINDOW_DAYS", 20)
	v.SetDefault("REAL_CASE_LIMIT", 5)
	v.SetDefault("CASE_URL_BASE", "https://admin.5cnetwork.com/cases/")
	v.SetDefault("REPORT_SUBJECT_PREFIX", "5C Network Demo Cases Report")
	v.SetDefault("ARCHIVE_DB_DRIVER", "pgx")

	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}

	// A missing .env file is fine; the environment may carry everything.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %w", ErrConfiguration, err)
	}
	cfg.RecipientEmails = splitRecipients(cfg.RecipientEmailsRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every required value is present and sane.
func (c *Config) Validate() error {
	var missing []string
	required := []struct {
		key   string
		value string
	}{
		{"CLICKHOUSE_HOST", c.ClickHouseHost},
		{"CLICKHOUSE_USER", c.ClickHouseUser},
		{"CLICKHOUSE_PASSWORD", c.ClickHousePassword},
		{"CLICKHOUSE_DB", c.ClickHouseDB},
		{"SENDER_EMAIL", c.SenderEmail},
		{"SENDGRID_API_KEY", c.SendGridAPIKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	if c.ClickHousePort == 0 {
		missing = append(missing, "CLICKHOUSE_PORT")
	}
	if len(c.RecipientEmails) == 0 {
		missing = append(missing, "RECIPIENT_EMAILS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required settings: %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	if c.ClickHousePort < 0 || c.ClickHousePort > 65535 {
		return fmt.Errorf("%w: CLICKHOUSE_PORT out of range: %d", ErrConfiguration, c.ClickHousePort)
	}
	switch strings.ToLower(c.ClickHouseProtocol) {
	case "native", "http":
	default:
		return fmt.Errorf("%w: CLICKHOUSE_PROTOCOL must be \"native\" or \"http\", got %q", ErrConfiguration, c.ClickHouseProtocol)
	}
	if _, err := mail.ParseAddress(c.SenderEmail); err != nil {
		return fmt.Errorf("%w: SENDER_EMAIL: %w", ErrConfiguration, err)
	}
	for _, recipient := range c.RecipientEmails {
		if _, err := mail.ParseAddress(recipient); err != nil {
			return fmt.Errorf("%w: RECIPIENT_EMAILS entry %q: %w", ErrConfiguration, recipient, err)
		}
	}
	if c.WindowDays <= 0 {
		return fmt.Errorf("%w: REPORT_WINDOW_DAYS must be positive", ErrConfiguration)
	}
	if c.RealCaseLimit <= 0 {
		return fmt.Errorf("%w: REAL_CASE_LIMIT must be positive", ErrConfiguration)
	}
	switch c.ArchiveDriver {
	case "pgx", "sqlite":
	default:
		return fmt.Errorf("%w: ARCHIVE_DB_DRIVER must be \"pgx\" or \"sqlite\", got %q", ErrConfiguration, c.ArchiveDriver)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) QueryTimeout() time.Duration {
	if c.QueryTimeoutSecs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.QueryTimeoutSecs) * time.Second
}

// ArchiveDatabaseURL prefers ARCHIVE_DB_URL over DATABASE_URL.
func (c *Config) ArchiveDatabaseURL() string {
	if value := strings.TrimSpace(c.ArchiveURL); value != "" {
		return value
	}
	return strings.TrimSpace(c.DatabaseURL)
}

func splitRecipients(raw string) []string {
	var result []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
