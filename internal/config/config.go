package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/viper"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP        *HTTPConfig        `mapstructure:"http"`
	WebSocket   *WebSocketConfig   `mapstructure:"websocket"`
	Database    *DatabaseConfig    `mapstructure:"database"`
	Session     *SessionConfig     `mapstructure:"session"`
	Cache       *CacheConfig       `mapstructure:"cache"`
	Generator   *GeneratorConfig   `mapstructure:"generator"`
	Transcriber *TranscriberConfig `mapstructure:"transcriber"`
	Hub         *HubConfig         `mapstructure:"hub"`
	Redis       *RedisConfig       `mapstructure:"redis"`
	Log         *LogConfig         `mapstructure:"log"`
}

// FUNCTIONAL DISCOVERY: HTTP configuration balances performance and reliability
type HTTPConfig struct {
	Host            string        `mapstructure:"host" env:"COACH_HTTP_HOST"`
	Port            int           `mapstructure:"port" env:"COACH_HTTP_PORT"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" env:"COACH_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" env:"COACH_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" env:"COACH_HTTP_SHUTDOWN_TIMEOUT"`
	// PublicBaseURL prefixes the join link handed to the desktop client.
	PublicBaseURL string `mapstructure:"public_base_url" env:"COACH_PUBLIC_BASE_URL"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval" env:"COACH_WEBSOCKET_PING_INTERVAL"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" env:"COACH_WEBSOCKET_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" env:"COACH_WEBSOCKET_WRITE_TIMEOUT"`
	BufferSize   int           `mapstructure:"buffer_size" env:"COACH_WEBSOCKET_BUFFER_SIZE"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path           string        `mapstructure:"path" env:"COACH_DATABASE_PATH"`
	Timeout        time.Duration `mapstructure:"timeout" env:"COACH_DATABASE_TIMEOUT"`
	MaxConnections int           `mapstructure:"max_connections" env:"COACH_DATABASE_MAX_CONNECTIONS"`
	MigrationsPath string        `mapstructure:"migrations_path" env:"COACH_DATABASE_MIGRATIONS_PATH"`
}

type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl" env:"COACH_SESSION_TTL"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" env:"COACH_SESSION_SWEEP_INTERVAL"`
}

type CacheConfig struct {
	// StaticTablePath replaces the built-in static tips; empty keeps them.
	StaticTablePath  string `mapstructure:"static_table_path" env:"COACH_CACHE_STATIC_TABLE"`
	DynamicCapacity  int    `mapstructure:"dynamic_capacity" env:"COACH_CACHE_DYNAMIC_CAPACITY"`
	WindowSize       int    `mapstructure:"window_size" env:"COACH_CACHE_WINDOW_SIZE"`
	WindowLineBudget int    `mapstructure:"window_line_budget" env:"COACH_CACHE_WINDOW_LINE_BUDGET"`
}

// GeneratorConfig drives the generative fallback. An empty APIKey leaves the
// fallback unconfigured and every miss resolves to the default tip.
type GeneratorConfig struct {
	APIKey             string        `mapstructure:"api_key" env:"COACH_OPENAI_API_KEY"`
	BaseURL            string        `mapstructure:"base_url" env:"COACH_OPENAI_BASE_URL"`
	Model              string        `mapstructure:"model" env:"COACH_GENERATOR_MODEL"`
	SystemPrompt       string        `mapstructure:"system_prompt" env:"COACH_GENERATOR_SYSTEM_PROMPT"`
	MaxTokens          int           `mapstructure:"max_tokens" env:"COACH_GENERATOR_MAX_TOKENS"`
	Temperature        float32       `mapstructure:"temperature" env:"COACH_GENERATOR_TEMPERATURE"`
	Timeout            time.Duration `mapstructure:"timeout" env:"COACH_GENERATOR_TIMEOUT"`
	BreakerMaxFailures int           `mapstructure:"breaker_max_failures" env:"COACH_GENERATOR_BREAKER_MAX_FAILURES"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout" env:"COACH_GENERATOR_BREAKER_OPEN_TIMEOUT"`
}

// TranscriberConfig shares the generator's credentials.
type TranscriberConfig struct {
	Enabled  bool   `mapstructure:"enabled" env:"COACH_TRANSCRIBER_ENABLED"`
	Model    string `mapstructure:"model" env:"COACH_TRANSCRIBER_MODEL"`
	Language string `mapstructure:"language" env:"COACH_TRANSCRIBER_LANGUAGE"`
}

type HubConfig struct {
	Workers       int `mapstructure:"workers" env:"COACH_HUB_WORKERS"`
	QueueSize     int `mapstructure:"queue_size" env:"COACH_HUB_QUEUE_SIZE"`
	RatePerMinute int `mapstructure:"rate_per_minute" env:"COACH_HUB_RATE_PER_MINUTE"`
	MinChars      int `mapstructure:"min_chars" env:"COACH_HUB_MIN_CHARS"`
}

// RedisConfig enables the exchange stream when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" env:"COACH_REDIS_ADDR"`
	Password string `mapstructure:"password" env:"COACH_REDIS_PASSWORD"`
	DB       int    `mapstructure:"db" env:"COACH_REDIS_DB"`
	Stream   string `mapstructure:"stream" env:"COACH_REDIS_STREAM"`
	MaxLen   int64  `mapstructure:"max_len" env:"COACH_REDIS_MAX_LEN"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" env:"COACH_LOG_LEVEL"`
	Format string `mapstructure:"format" env:"COACH_LOG_FORMAT"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults for a single coaching process
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			PublicBaseURL:   "http://localhost:8080",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
		},
		Database: &DatabaseConfig{
			Path:           "./data/coachrelay.db",
			Timeout:        time.Hour,
			MaxConnections: 10,
		},
		Session: &SessionConfig{
			TTL:           time.Hour,
			SweepInterval: time.Hour,
		},
		Cache: &CacheConfig{
			DynamicCapacity:  256,
			WindowSize:       6,
			WindowLineBudget: 150,
		},
		Generator: &GeneratorConfig{
			Model:              "gpt-4o-mini",
			MaxTokens:          150,
			Temperature:        0.7,
			Timeout:            20 * time.Second,
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Transcriber: &TranscriberConfig{
			Model: "whisper-1",
		},
		Hub: &HubConfig{
			Workers:       8,
			QueueSize:     64,
			RatePerMinute: 30,
			MinChars:      6,
		},
		Redis: &RedisConfig{
			Stream: "coachrelay:exchanges",
			MaxLen: 10000,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil || c.Session == nil ||
		c.Cache == nil || c.Generator == nil || c.Transcriber == nil || c.Hub == nil ||
		c.Redis == nil || c.Log == nil {
		return errors.New("every configuration section is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if u, err := url.Parse(c.HTTP.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("public base URL must be an absolute URL")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.Session.TTL < 0 {
		return fmt.Errorf("session TTL cannot be negative")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}

	if c.Cache.DynamicCapacity < 0 {
		return fmt.Errorf("dynamic cache capacity cannot be negative")
	}
	if c.Cache.WindowSize <= 0 || c.Cache.WindowLineBudget <= 0 {
		return fmt.Errorf("context window size and line budget must be positive")
	}

	if c.Generator.MaxTokens <= 0 {
		return fmt.Errorf("generator max tokens must be positive")
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		return fmt.Errorf("generator temperature must be within [0, 2]")
	}
	if c.Generator.Timeout < 0 {
		return fmt.Errorf("generator timeout cannot be negative")
	}
	if c.Generator.BreakerMaxFailures <= 0 || c.Generator.BreakerOpenTimeout <= 0 {
		return fmt.Errorf("generator breaker settings must be positive")
	}
	if c.Transcriber.Enabled && c.Generator.APIKey == "" {
		return fmt.Errorf("transcriber requires an OpenAI API key")
	}

	if c.Hub.Workers <= 0 || c.Hub.QueueSize <= 0 || c.Hub.MinChars <= 0 {
		return fmt.Errorf("hub workers, queue size and min chars must be positive")
	}
	if c.Hub.RatePerMinute < 0 {
		return fmt.Errorf("hub rate per minute cannot be negative")
	}

	if c.Redis.Addr != "" && c.Redis.Stream == "" {
		return fmt.Errorf("redis stream name cannot be empty")
	}
	return nil
}

// LoadFromFile layers a YAML or JSON file over the defaults. The format follows
// the file extension; durations are strings such as "30s".
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return config, nil
}

// LoadFromEnv overrides config with every COACH_* variable that is set.
func LoadFromEnv(config *Config) error {
	if err := envdecode.Decode(config); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}
	// The conventional variable works too.
	if config.Generator.APIKey == "" {
		config.Generator.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: environment > file > defaults
// Enables flexible deployment patterns while maintaining sane defaults
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}
	if err := LoadFromEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
