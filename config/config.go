package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cvdflow/internal/symbols"
)

// DefaultPath is the configuration file used when no path is given.
const DefaultPath = "config/config.yml"

type Config struct {
	App     AppConfig     `yaml:"app"`
	Upstox  UpstoxConfig  `yaml:"upstox"`
	Stream  StreamConfig  `yaml:"stream"`
	History HistoryConfig `yaml:"history"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// UpstoxConfig configures the brokerage connection.
type UpstoxConfig struct {
	AccessToken        string        `yaml:"access_token"`
	AuthorizeURL       string        `yaml:"authorize_url"`
	HistoricalURL      string        `yaml:"historical_url"`
	Mode               string        `yaml:"mode"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	SubscribeDelay     time.Duration `yaml:"subscribe_delay"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	AuthRatePerSecond  float64       `yaml:"auth_rate_per_second"`
	UserAgent          string        `yaml:"user_agent"`
}

// StreamConfig controls the per-instrument supervisors.
type StreamConfig struct {
	// Instruments are streamed from startup and never stopped when their last
	// subscriber leaves.
	Instruments        []string      `yaml:"instruments"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	// MaxDecodeErrors is the number of consecutive undecodable frames after
	// which the session is recycled. Zero tolerates any number.
	MaxDecodeErrors int  `yaml:"max_decode_errors"`
	StopWhenIdle    bool `yaml:"stop_when_idle"`
}

type HistoryConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ServerConfig struct {
	Address          string        `yaml:"address"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	LogHistory       int           `yaml:"log_history"`
	MetricsHistory   int           `yaml:"metrics_history"`
}

type MetricsConfig struct {
	Prometheus     bool             `yaml:"prometheus"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const (
	HistoryBackendMemory = "memory"
	HistoryBackendRedis  = "redis"
)

// Default returns a configuration with every optional value filled in.
func Default() Config {
	// Debug logging only when APP_ENV explicitly asks for development.
	level := "info"
	if os.Getenv(appEnvVar) != "" && AppEnvironment() == EnvironmentDevelopment {
		level = "debug"
	}
	return Config{
		App: AppConfig{Name: "cvdflow", Version: "dev"},
		Upstox: UpstoxConfig{
			AuthorizeURL:      "https://api.upstox.com/v3/feed/market-data-feed/authorize",
			HistoricalURL:     "https://api.upstox.com/v3/historical-candle",
			Mode:              "full",
			SubscribeDelay:    time.Second,
			HandshakeTimeout:  10 * time.Second,
			PingInterval:      20 * time.Second,
			RequestTimeout:    15 * time.Second,
			AuthRatePerSecond: 0.5,
			UserAgent:         "cvdflow",
		},
		Stream: StreamConfig{
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  time.Minute,
			StopWhenIdle:       true,
		},
		History: HistoryConfig{
			Backend: HistoryBackendMemory,
			TTL:     24 * time.Hour,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "cvd",
			},
		},
		Server: ServerConfig{
			Address:          ":8000",
			SubscriberBuffer: 64,
			WriteTimeout:     10 * time.Second,
			PingInterval:     30 * time.Second,
			LogHistory:       500,
			MetricsHistory:   500,
		},
		Metrics: MetricsConfig{
			Prometheus:     true,
			ReportInterval: time.Minute,
			CloudWatch:     CloudWatchConfig{Namespace: "CVDFlow"},
		},
		Logging: LoggingConfig{
			Level:  level,
			Format: "json",
			Output: "stdout",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	for i, key := range config.Stream.Instruments {
		config.Stream.Instruments[i] = symbols.Normalize(key)
	}
	config.History.Backend = strings.ToLower(strings.TrimSpace(config.History.Backend))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("UPSTOX_ACCESS_TOKEN"); v != "" {
		config.Upstox.AccessToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.History.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.History.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			config.History.Redis.DB = db
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		config.Server.Address = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if strings.TrimSpace(cfg.Upstox.AccessToken) == "" {
		return fmt.Errorf("upstox.access_token is required (or set UPSTOX_ACCESS_TOKEN)")
	}
	if cfg.Upstox.AuthorizeURL == "" {
		return fmt.Errorf("upstox.authorize_url is required")
	}
	if cfg.Upstox.Mode == "" {
		return fmt.Errorf("upstox.mode is required")
	}
	if cfg.Upstox.SubscribeDelay < 0 {
		return fmt.Errorf("upstox.subscribe_delay must not be negative")
	}
	if cfg.Upstox.HandshakeTimeout <= 0 {
		return fmt.Errorf("upstox.handshake_timeout must be greater than 0")
	}
	if cfg.Upstox.PingInterval <= 0 {
		return fmt.Errorf("upstox.ping_interval must be greater than 0")
	}
	if cfg.Upstox.AuthRatePerSecond <= 0 {
		return fmt.Errorf("upstox.auth_rate_per_second must be greater than 0")
	}
	if cfg.Upstox.InsecureSkipVerify && IsProductionLike(AppEnvironment()) {
		return fmt.Errorf("upstox.insecure_skip_verify is not allowed in %s", AppEnvironment())
	}

	if cfg.Stream.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("stream.reconnect_base_delay must be greater than 0")
	}
	if cfg.Stream.ReconnectMaxDelay < cfg.Stream.ReconnectBaseDelay {
		return fmt.Errorf("stream.reconnect_max_delay must not be less than stream.reconnect_base_delay")
	}
	if cfg.Stream.MaxDecodeErrors < 0 {
		return fmt.Errorf("stream.max_decode_errors must not be negative")
	}
	for _, key := range cfg.Stream.Instruments {
		if err := symbols.Validate(key); err != nil {
			return fmt.Errorf("stream.instruments: %w", err)
		}
	}

	switch cfg.History.Backend {
	case HistoryBackendMemory:
	case HistoryBackendRedis:
		if cfg.History.Redis.Addr == "" {
			return fmt.Errorf("history.redis.addr is required when history.backend is redis")
		}
	default:
		return fmt.Errorf("history.backend %q is not supported", cfg.History.Backend)
	}
	if cfg.History.TTL <= 0 {
		return fmt.Errorf("history.ttl must be greater than 0")
	}

	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if cfg.Server.SubscriberBuffer <= 0 {
		return fmt.Errorf("server.subscriber_buffer must be greater than 0")
	}
	if cfg.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be greater than 0")
	}

	return nil
}
