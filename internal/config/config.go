package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
	TransportRedis  = "redis"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"3000"`
	GinMode     string `env:"GIN_MODE" envDefault:"release"`
	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`

	JWTSecret          string `env:"JWT_SECRET,required"`
	TokenExpirySeconds int    `env:"TOKEN_EXPIRY_SECONDS" envDefault:"604800"`

	GatewayID        string `env:"GATEWAY_ID"`
	BackendTransport string `env:"BACKEND_TRANSPORT" envDefault:"memory"`
	NATSURL          string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	RedisAddr        string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// SendBuffer is the number of frames queued per connection before the
	// connection is dropped as too slow.
	SendBuffer int `env:"SEND_BUFFER" envDefault:"256"`
	// WSRateLimit caps websocket upgrades per client IP per minute.
	WSRateLimit int `env:"WS_RATE_LIMIT" envDefault:"60"`
}

func (c Config) TokenExpiry() time.Duration {
	return time.Duration(c.TokenExpirySeconds) * time.Second
}

// LoadConfig reads the process environment, after loading a .env file from
// the working directory when there is one.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{Environment: env.ToMap(os.Environ())})
}

// LoadConfigFromEnv reads configuration from the given variables only.
func LoadConfigFromEnv(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT")
	}
	if cfg.TokenExpirySeconds <= 0 {
		return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
	}
	switch cfg.BackendTransport {
	case TransportMemory, TransportNATS, TransportRedis:
	default:
		return Config{}, fmt.Errorf("invalid BACKEND_TRANSPORT %q", cfg.BackendTransport)
	}
	if cfg.SendBuffer <= 0 {
		return Config{}, fmt.Errorf("invalid SEND_BUFFER")
	}
	if cfg.WSRateLimit <= 0 {
		return Config{}, fmt.Errorf("invalid WS_RATE_LIMIT")
	}
	if cfg.GatewayID == "" {
		cfg.GatewayID = uuid.NewString()
	}
	return cfg, nil
}
