package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the messaging core.
type Config struct {
	AppName         string
	AppEnv          string
	AppPort         string
	DatabaseURL     string
	RedisURL        string
	NATSURL         string
	JWTSecret       string
	EventsChannel   string
	PresenceWindow  time.Duration
	HistoryPageSize int
	SendBufferSize  int
	PingInterval    time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and an
// optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TALKBASE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Talkbase Realtime API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel", "talkbase:events")
	v.SetDefault("presence.window", "5m")
	v.SetDefault("history.page_size", 50)
	v.SetDefault("gateway.send_buffer", 32)
	v.SetDefault("gateway.ping_interval", "30s")

	window, err := time.ParseDuration(v.GetString("presence.window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid presence window: %w", err)
	}

	pingInterval, err := time.ParseDuration(v.GetString("gateway.ping_interval"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid gateway ping interval: %w", err)
	}

	cfg := Config{
		AppName:         v.GetString("app.name"),
		AppEnv:          v.GetString("app.env"),
		AppPort:         v.GetString("app.port"),
		DatabaseURL:     v.GetString("database.url"),
		RedisURL:        v.GetString("redis.url"),
		NATSURL:         v.GetString("nats.url"),
		JWTSecret:       v.GetString("jwt.secret"),
		EventsChannel:   v.GetString("events.channel"),
		PresenceWindow:  window,
		HistoryPageSize: v.GetInt("history.page_size"),
		SendBufferSize:  v.GetInt("gateway.send_buffer"),
		PingInterval:    pingInterval,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 32
	}

	return cfg, nil
}
