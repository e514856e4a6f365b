package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	SMTP       SMTPConfig
	Escalation EscalationConfig
}

type ServerConfig struct {
	Port           int     `mapstructure:"port"`
	TimeoutSeconds int     `mapstructure:"timeoutSeconds"`
	RateLimitRPS   float64 `mapstructure:"rateLimitRPS"`
	RateLimitBurst int     `mapstructure:"rateLimitBurst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type EscalationConfig struct {
	TickIntervalSeconds int `mapstructure:"tickIntervalSeconds"`
	Concurrency         int `mapstructure:"concurrency"`
	RetryAttempts       int `mapstructure:"retryAttempts"`
	RetryDelaySeconds   int `mapstructure:"retryDelaySeconds"`
	HealthPort          int `mapstructure:"healthPort"`
}

func (e EscalationConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalSeconds) * time.Second
}

func (e EscalationConfig) RetryDelay() time.Duration {
	return time.Duration(e.RetryDelaySeconds) * time.Second
}

// secretOverrides carries deploy-time secrets that never live in the YAML
// file. They win over whatever the file says.
type secretOverrides struct {
	DatabasePassword string `envconfig:"DB_PASSWORD"`
	RedisURL         string `envconfig:"REDIS_URL"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets secretOverrides
	if err := envconfig.Process("realtycrm", &secrets); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if secrets.DatabasePassword != "" {
		config.Database.Password = secrets.DatabasePassword
	}
	if secrets.RedisURL != "" {
		config.Redis.URL = secrets.RedisURL
	}
	if secrets.SMTPPassword != "" {
		config.SMTP.Password = secrets.SMTPPassword
	}

	return &config, nil
}
