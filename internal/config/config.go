package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/soratobu/chatstream/pkg/log"
)

type Config struct {
	WebSocket WebSocketConfig
	API       APIConfig
	Session   SessionConfig
	Viewport  ViewportConfig
	Log       log.Config
}

type WebSocketConfig struct {
	// Endpoint may be empty: the session then stays idle instead of
	// attempting to connect.
	Endpoint     string        `mapstructure:"endpoint"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
}

type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type SessionConfig struct {
	PageSize             int           `mapstructure:"page_size"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectBase        time.Duration `mapstructure:"reconnect_base"`
	ReconnectCap         time.Duration `mapstructure:"reconnect_cap"`
	ReconnectJitter      time.Duration `mapstructure:"reconnect_jitter"`
}

type ViewportConfig struct {
	NearBottomPx    float64 `mapstructure:"near_bottom_px"`
	BackfillPercent float64 `mapstructure:"backfill_percent"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("websocket.endpoint", "")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.api_key", "")
	v.SetDefault("session.page_size", 100)
	v.SetDefault("session.max_reconnect_attempts", 50)
	v.SetDefault("session.reconnect_base", "1s")
	v.SetDefault("session.reconnect_cap", "16s")
	v.SetDefault("session.reconnect_jitter", "1s")
	v.SetDefault("viewport.near_bottom_px", 100)
	v.SetDefault("viewport.backfill_percent", 33)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chatstream")

	// Override from environment
	v.BindEnv("websocket.endpoint", "WEBSOCKET_URL")
	v.BindEnv("api.base_url", "API_BASE_URL")
	v.BindEnv("api.api_key", "API_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, rely on defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Session.ReconnectBase = parseDuration(v, "session.reconnect_base", time.Second)
	cfg.Session.ReconnectCap = parseDuration(v, "session.reconnect_cap", 16*time.Second)
	cfg.Session.ReconnectJitter = parseDuration(v, "session.reconnect_jitter", time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
