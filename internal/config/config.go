package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Email    EmailConfig
	Google   GoogleConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type QueueConfig struct {
	Name          string        `mapstructure:"name"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Backoff       time.Duration `mapstructure:"backoff"`
	Concurrency   int           `mapstructure:"concurrency"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
}

type EmailConfig struct {
	// Provider selects the transport: "sendgrid" or "smtp".
	Provider       string `mapstructure:"provider"`
	FromEmail      string `mapstructure:"from_email"`
	FromName       string `mapstructure:"from_name"`
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	SMTPHost       string `mapstructure:"smtp_host"`
	SMTPPort       int    `mapstructure:"smtp_port"`
	SMTPUser       string `mapstructure:"smtp_user"`
	SMTPPassword   string `mapstructure:"smtp_password"`
}

type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

type WorkerConfig struct {
	MetricsPort    int           `mapstructure:"metrics_port"`
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	ReaperMinAge   time.Duration `mapstructure:"reaper_min_age"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.migrations_path", "db/migrations")
	viper.SetDefault("queue.name", "email-sends")
	viper.SetDefault("queue.max_attempts", 5)
	viper.SetDefault("queue.backoff", "60s")
	viper.SetDefault("queue.concurrency", 1)
	viper.SetDefault("queue.poll_interval", "1s")
	viper.SetDefault("queue.rate_per_minute", 0)
	viper.SetDefault("email.provider", "sendgrid")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("worker.metrics_port", 8081)
	viper.SetDefault("worker.reaper_interval", "10m")
	viper.SetDefault("worker.reaper_min_age", "2h")
}
