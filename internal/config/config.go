package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Security   SecurityConfig   `yaml:"security" mapstructure:"security"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"` // postgres, sqlite
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Name            string        `yaml:"name" mapstructure:"name"`
	SQLitePath      string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// PostgresDSN 构建 Postgres 连接串
func (d DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port,
	)
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"` // json, text
	Output     string `yaml:"output" mapstructure:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // MB
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	MetricsPath string        `yaml:"metrics_path" mapstructure:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`         // OTLP gRPC endpoint, e.g. http://otel-collector:4317
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"` // 0.0~1.0
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
}

type SecurityConfig struct {
	CORS CORSConfig `yaml:"cors" mapstructure:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// AutomationConfig 自动化引擎配置
type AutomationConfig struct {
	// MaxConcurrentRuns bounds how many matched automations of one event run at once.
	MaxConcurrentRuns int                  `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
	WebhookTimeout    time.Duration        `yaml:"webhook_timeout" mapstructure:"webhook_timeout"`
	WebhookBreaker    CircuitBreakerConfig `yaml:"webhook_breaker" mapstructure:"webhook_breaker"`
	Email             EmailConfig          `yaml:"email" mapstructure:"email"`
	MQTT              MQTTConfig           `yaml:"mqtt" mapstructure:"mqtt"`
	// StaleRunAfter is the default cutoff used by `runs sweep`; zero disables the command default.
	StaleRunAfter time.Duration `yaml:"stale_run_after" mapstructure:"stale_run_after"`
}

type CircuitBreakerConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxFailures     int           `yaml:"max_failures" mapstructure:"max_failures"`
	ResetTimeout    time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	HalfOpenMaxReqs int           `yaml:"half_open_max_requests" mapstructure:"half_open_max_requests"`
}

// EmailConfig SMTP 发送配置；未启用时 send-email 仅记录日志
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	SMTPHost string `yaml:"smtp_host" mapstructure:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port" mapstructure:"smtp_port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
}

// MQTTConfig 门锁 MQTT 网关配置
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Broker         string        `yaml:"broker" mapstructure:"broker"`
	ClientID       string        `yaml:"client_id" mapstructure:"client_id"`
	Username       string        `yaml:"username" mapstructure:"username"`
	Password       string        `yaml:"password" mapstructure:"password"`
	TopicPrefix    string        `yaml:"topic_prefix" mapstructure:"topic_prefix"`
	QoS            int           `yaml:"qos" mapstructure:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// Load 读取 viper 中的配置并叠加在默认值之上
func Load() (*Config, error) {
	cfg := GetDefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "hndld",
			SQLitePath:      "./data/hndld.db",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/hndld.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "hndld",
			},
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
				AllowedHeaders: []string{"*"},
			},
		},
		Automation: AutomationConfig{
			MaxConcurrentRuns: 4,
			WebhookTimeout:    30 * time.Second,
			WebhookBreaker: CircuitBreakerConfig{
				Enabled:         true,
				MaxFailures:     5,
				ResetTimeout:    60 * time.Second,
				HalfOpenMaxReqs: 1,
			},
			Email: EmailConfig{
				Enabled:  false,
				SMTPPort: 587,
				From:     "automations@hndld.local",
			},
			MQTT: MQTTConfig{
				Enabled:        false,
				Broker:         "tcp://localhost:1883",
				ClientID:       "hndld-automations",
				TopicPrefix:    "hndld/locks",
				QoS:            1,
				ConnectTimeout: 10 * time.Second,
			},
			StaleRunAfter: time.Hour,
		},
	}
}
