package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Campaign CampaignConfig `mapstructure:"campaign"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Storage  StorageConfig  `mapstructure:"storage"`
	SendLog  SendLogConfig  `mapstructure:"send_log"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// SMTPConfig holds the outbound relay configuration.
type SMTPConfig struct {
	// Type selects the transport: "smtp" (default), "file" or "stdout".
	Type               string        `mapstructure:"type"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	From               string        `mapstructure:"from"`
	FromName           string        `mapstructure:"from_name"`
	TLS                string        `mapstructure:"tls"` // none, starttls, tls
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Helo               string        `mapstructure:"helo"`
	OutputDir          string        `mapstructure:"output_dir"`
}

// CampaignConfig holds send loop configuration.
type CampaignConfig struct {
	RateLimit  time.Duration    `mapstructure:"rate_limit"`
	LogLimit   int              `mapstructure:"log_limit"`
	AutoResume bool             `mapstructure:"auto_resume"`
	QuietHours QuietHoursConfig `mapstructure:"quiet_hours"`
}

// QuietHoursConfig describes the overnight window in which nothing is sent.
type QuietHoursConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Start    int    `mapstructure:"start"`
	End      int    `mapstructure:"end"`
	Timezone string `mapstructure:"timezone"`
}

// TrackingConfig holds the public URL the tracking endpoints are reachable at.
type TrackingConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// StorageConfig selects where lists, templates and campaign state are kept.
type StorageConfig struct {
	Type          string `mapstructure:"type"` // local, s3, redis
	Path          string `mapstructure:"path"`
	S3Bucket      string `mapstructure:"s3_bucket"`
	S3Prefix      string `mapstructure:"s3_prefix"`
	S3Endpoint    string `mapstructure:"s3_endpoint"`
	S3Region      string `mapstructure:"s3_region"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// SendLogConfig selects the send log backend.
type SendLogConfig struct {
	Type     string `mapstructure:"type"` // blob, redis
	RedisKey string `mapstructure:"redis_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix MAILRUNNER_ override file values.
// For example, MAILRUNNER_SMTP_PASSWORD overrides smtp.password.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MAILRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("smtp.type", "smtp")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.tls", "starttls")
	v.SetDefault("smtp.timeout", 30*time.Second)
	v.SetDefault("smtp.output_dir", "./mail_output")

	v.SetDefault("campaign.rate_limit", 10*time.Second)
	v.SetDefault("campaign.log_limit", 500)
	v.SetDefault("campaign.quiet_hours.enabled", true)
	v.SetDefault("campaign.quiet_hours.start", 21)
	v.SetDefault("campaign.quiet_hours.end", 8)
	v.SetDefault("campaign.quiet_hours.timezone", "Local")

	v.SetDefault("tracking.base_url", "http://localhost:8080")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.redis_prefix", "mailrunner:")

	v.SetDefault("send_log.type", "blob")
	v.SetDefault("send_log.redis_key", "mailrunner:send_log")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
}

// Validate reports configuration values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.SMTP.Type {
	case "smtp", "file", "stdout":
	default:
		errs = append(errs, fmt.Errorf("smtp.type: unsupported value %q", c.SMTP.Type))
	}
	switch c.SMTP.TLS {
	case "none", "starttls", "tls":
	default:
		errs = append(errs, fmt.Errorf("smtp.tls: unsupported value %q", c.SMTP.TLS))
	}
	if c.SMTP.Type == "smtp" && c.SMTP.Host == "" {
		errs = append(errs, errors.New("smtp.host: required for smtp transport"))
	}

	qh := c.Campaign.QuietHours
	if qh.Start < 0 || qh.Start > 23 {
		errs = append(errs, fmt.Errorf("campaign.quiet_hours.start: %d out of range 0-23", qh.Start))
	}
	if qh.End < 0 || qh.End > 23 {
		errs = append(errs, fmt.Errorf("campaign.quiet_hours.end: %d out of range 0-23", qh.End))
	}
	if qh.Timezone != "" {
		if _, err := time.LoadLocation(qh.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("campaign.quiet_hours.timezone: %w", err))
		}
	}
	if c.Campaign.RateLimit < 0 {
		errs = append(errs, errors.New("campaign.rate_limit: must not be negative"))
	}

	if c.Tracking.BaseURL == "" {
		errs = append(errs, errors.New("tracking.base_url: required"))
	}

	switch c.SendLog.Type {
	case "blob", "redis":
	default:
		errs = append(errs, fmt.Errorf("send_log.type: unsupported value %q", c.SendLog.Type))
	}

	return errors.Join(errs...)
}

// Location returns the configured quiet hours time zone, falling back to
// the process local zone.
func (q QuietHoursConfig) Location() *time.Location {
	if q.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
