package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minJWTSecretLength = 32

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" default:"15m"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" default:"http://localhost:3000 http://localhost:5173"`

	BroadcastSendTimeout time.Duration `env:"BROADCAST_SEND_TIMEOUT" default:"2s"`
	BroadcastBacklog     int           `env:"BROADCAST_BACKLOG" default:"256"`
	WSPingInterval       time.Duration `env:"WS_PING_INTERVAL" default:"30s"`
	WSIdleTimeout        time.Duration `env:"WS_IDLE_TIMEOUT" default:"5m"`

	MaxWebSocketConnections      int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxWebSocketConnectionsPerIP int     `env:"MAX_WEBSOCKET_CONNECTIONS_PER_IP" default:"50"`
	WebSocketConnectRate         float64 `env:"WEBSOCKET_CONNECT_RATE" default:"10"`
	WebSocketConnectBurst        int     `env:"WEBSOCKET_CONNECT_BURST" default:"20"`

	VoteRateLimit float64 `env:"VOTE_RATE_LIMIT" default:"5"`
	VoteRateBurst int     `env:"VOTE_RATE_BURST" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: " "}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.AllowedOrigins = normalizeOrigins(cfg.AllowedOrigins)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// normalizeOrigins accepts both space and comma separated origin lists.
func normalizeOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, origin := range strings.Split(item, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}

func validate(cfg *Config) error {
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"JWT_SECRET", cfg.JWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}

	if cfg.JWTExpiry <= 0 {
		return errors.New("JWT_EXPIRY must be positive")
	}

	if cfg.BroadcastSendTimeout <= 0 {
		return errors.New("BROADCAST_SEND_TIMEOUT must be positive")
	}

	if cfg.BroadcastBacklog <= 0 {
		return errors.New("BROADCAST_BACKLOG must be positive")
	}

	if cfg.WSPingInterval <= 0 || cfg.WSIdleTimeout <= cfg.WSPingInterval {
		return errors.New("WS_IDLE_TIMEOUT must be greater than WS_PING_INTERVAL")
	}

	if cfg.MaxWebSocketConnections <= 0 || cfg.MaxWebSocketConnectionsPerIP <= 0 {
		return errors.New("websocket connection limits must be positive")
	}

	if cfg.AppEnv == "production" {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
