package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

// Config holds the server configuration. Fields tagged with env are read from
// the environment; anything left unset keeps its default.
type Config struct {
	Port           string `env:"SERVER_PORT" validate:"required"`
	AllowedOrigins []string
	// OriginList is the raw comma separated ALLOWED_ORIGINS value.
	OriginList string `env:"ALLOWED_ORIGINS"`

	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" validate:"gt=0"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" validate:"gt=0"`
	RateLimitRefill time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" validate:"gt=0"`
	PingTimeout     time.Duration `env:"PING_TIMEOUT" validate:"gte=1s"`
	WriteWait       time.Duration `env:"WRITE_WAIT" validate:"gt=0"`
	SendBufferSize  int           `env:"SEND_BUFFER_SIZE" validate:"gt=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	LogLevel        string        `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`

	RedisURL    string `env:"REDIS_URL" validate:"omitempty,url"`
	RedisPrefix string `env:"REDIS_PREFIX"`
	NATSURL     string `env:"NATS_URL" validate:"omitempty,url"`
	NATSSubject string `env:"NATS_SUBJECT"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:3000",
		},
		MaxMessageSize:  64 << 10,
		RateLimitBurst:  20,
		RateLimitRefill: time.Second,
		PingTimeout:     60 * time.Second,
		WriteWait:       10 * time.Second,
		SendBufferSize:  256,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
	}
}

// sanitizeConfig fills zero values with defaults and normalizes the origin
// allow-list.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = def.RateLimitBurst
	}
	if cfg.RateLimitRefill <= 0 {
		cfg.RateLimitRefill = def.RateLimitRefill
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	if cfg.OriginList != "" {
		cfg.AllowedOrigins = parseOrigins(cfg.OriginList)
	}
	return cfg
}

// NewConfig returns the default configuration.
func NewConfig() Config {
	return defaultConfig()
}

// LoadConfig overlays the variables in es on the defaults and validates the
// result.
func LoadConfig(es env.EnvSet) (Config, error) {
	cfg := defaultConfig()
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFromEnviron is LoadConfig over the process environment.
func LoadConfigFromEnviron() (Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return LoadConfig(es)
}

var validate = validator.New()

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
