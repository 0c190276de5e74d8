// Package config loads relay settings from an optional config file and the
// environment, then clamps them to usable values.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/roomrelay/internal/logging"
)

const (
	// BusNone runs a single standalone instance.
	BusNone = "none"
	// BusRedis shares rooms across instances through Redis pub/sub.
	BusRedis = "redis"
)

// Config holds the server configuration settings.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Registry  RegistryConfig
	Bus       BusConfig
	Redis     RedisConfig
	Log       logging.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WebSocketConfig controls per-connection transport behaviour.
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type RegistryConfig struct {
	EvictEmptyRooms bool `mapstructure:"evict_empty_rooms"`
}

type BusConfig struct {
	Driver string
}

type RedisConfig struct {
	Address       string
	Password      string
	DB            int
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			MaxMessageSize: 4096,
			SendBuffer:     256,
			AllowedOrigins: []string{"*"},
		},
		Registry: RegistryConfig{
			EvictEmptyRooms: true,
		},
		Bus: BusConfig{
			Driver: BusNone,
		},
		Redis: RedisConfig{
			Address:       "localhost:6379",
			ChannelPrefix: "relay:room",
		},
		Log: logging.Config{
			Level:       "info",
			ServiceName: "roomrelay",
		},
	}
}

// Load reads config.yaml from configPath (or the working directory) if one
// exists and applies environment overrides. Nested keys map to upper-case
// variables with "_" separators, e.g. WEBSOCKET_PONG_WAIT.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnvAliases(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	sanitized := Sanitize(cfg)
	if err := sanitized.Validate(); err != nil {
		return nil, err
	}
	return &sanitized, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval.String())
	v.SetDefault("websocket.pong_wait", d.WebSocket.PongWait.String())
	v.SetDefault("websocket.write_wait", d.WebSocket.WriteWait.String())
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("registry.evict_empty_rooms", d.Registry.EvictEmptyRooms)
	v.SetDefault("bus.driver", d.Bus.Driver)
	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.channel_prefix", d.Redis.ChannelPrefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.service_name", d.Log.ServiceName)
}

// bindEnvAliases keeps the short variable names that deployments already use.
func bindEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")
	_ = v.BindEnv("websocket.max_message_size", "WEBSOCKET_MAX_MESSAGE_SIZE", "MAX_MESSAGE_SIZE")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

// Sanitize replaces non-positive or empty values with defaults.
func Sanitize(cfg Config) Config {
	d := Default()

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if cfg.WebSocket.PongWait <= 0 {
		cfg.WebSocket.PongWait = d.WebSocket.PongWait
	}
	if cfg.WebSocket.PingInterval <= 0 || cfg.WebSocket.PingInterval >= cfg.WebSocket.PongWait {
		// Pings must land before the peer's read deadline expires.
		cfg.WebSocket.PingInterval = cfg.WebSocket.PongWait * 9 / 10
	}
	if cfg.WebSocket.WriteWait <= 0 {
		cfg.WebSocket.WriteWait = d.WebSocket.WriteWait
	}
	if cfg.WebSocket.MaxMessageSize <= 0 {
		cfg.WebSocket.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		cfg.WebSocket.SendBuffer = d.WebSocket.SendBuffer
	}
	cfg.WebSocket.AllowedOrigins = parseOrigins(cfg.WebSocket.AllowedOrigins)

	cfg.Bus.Driver = strings.ToLower(strings.TrimSpace(cfg.Bus.Driver))
	if cfg.Bus.Driver == "" {
		cfg.Bus.Driver = BusNone
	}
	if cfg.Redis.ChannelPrefix == "" {
		cfg.Redis.ChannelPrefix = d.Redis.ChannelPrefix
	}
	return cfg
}

// Validate reports settings that cannot be fixed by defaulting.
func (c Config) Validate() error {
	switch c.Bus.Driver {
	case BusNone:
	case BusRedis:
		if c.Redis.Address == "" {
			return errors.New("config: redis.address is required when bus.driver is redis")
		}
	default:
		return fmt.Errorf("config: unknown bus.driver %q", c.Bus.Driver)
	}
	return nil
}

// parseOrigins trims entries and splits any that still carry commas, which is
// how a single ALLOWED_ORIGINS value arrives.
func parseOrigins(origins []string) []string {
	var out []string
	for _, entry := range origins {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
