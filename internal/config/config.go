package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

const envPrefix = "COMPANION"

const (
	DefaultWSURL   = "ws://127.0.0.1:12393/client-ws"
	DefaultBaseURL = "http://127.0.0.1:12393"
)

type Config struct {
	Env      string         `mapstructure:"env" validate:"oneof=development production"`
	Token    string         `mapstructure:"token"`
	WS       EndpointConfig `mapstructure:"ws"`
	Base     EndpointConfig `mapstructure:"base"`
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	NATS     NATSConfig     `mapstructure:"nats"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Mic      MicConfig      `mapstructure:"mic"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Outbound OutboundConfig `mapstructure:"outbound"`
	MCP      MCPConfig      `mapstructure:"mcp"`
	Affinity AffinityConfig `mapstructure:"affinity"`
	JWT      JWTConfig      `mapstructure:"jwt"`

	explicit map[string]bool
}

type EndpointConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

type APIConfig struct {
	// Addr is the local control API listen address; empty disables the API.
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type LogConfig struct {
	File string `mapstructure:"file"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver" validate:"oneof=memory file redis"`
	Path     string `mapstructure:"path" validate:"required_if=Driver file"`
	RedisURL string `mapstructure:"redis_url" validate:"required_if=Driver redis"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type OTelConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
}

type MicConfig struct {
	AutoStart bool `mapstructure:"auto_start"`
}

type QueueConfig struct {
	TaskInterval time.Duration `mapstructure:"task_interval" validate:"min=0"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
}

type AudioConfig struct {
	PlaybackTimeout time.Duration `mapstructure:"playback_timeout" validate:"gt=0"`
}

type OutboundConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"min=0"`
	MaxSize  int           `mapstructure:"max_size" validate:"min=1"`
}

type MCPConfig struct {
	HistoryCap int `mapstructure:"history_cap" validate:"min=1"`
}

type AffinityConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"min=0"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

var defaults = map[string]any{
	"env":                    "development",
	"token":                  "",
	"ws.url":                 DefaultWSURL,
	"base.url":               DefaultBaseURL,
	"api.addr":               "127.0.0.1:8765",
	"log.file":               "",
	"store.driver":           "file",
	"store.path":             "companion.yaml",
	"store.redis_url":        "",
	"nats.url":               "",
	"otel.enabled":           false,
	"otel.endpoint":          "localhost:4318",
	"mic.auto_start":         false,
	"queue.task_interval":    "50ms",
	"queue.task_timeout":     "60s",
	"audio.playback_timeout": "30s",
	"outbound.interval":      "1s",
	"outbound.max_size":      10,
	"mcp.history_cap":        20,
	"affinity.poll_interval": "10s",
	"affinity.max_retries":   5,
	"jwt.secret":             "",
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"env":        "env",
	"token":      "token",
	"ws-url":     "ws.url",
	"base-url":   "base.url",
	"api-addr":   "api.addr",
	"log-file":   "log.file",
	"store":      "store.driver",
	"store-path": "store.path",
	"redis-url":  "store.redis_url",
	"nats-url":   "nats.url",
	"otel":       "otel.enabled",
	"auto-mic":   "mic.auto_start",
}

// RegisterFlags defines the flags Load understands on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("env", "", "environment: development or production")
	fs.String("token", "", "access token (defaults to the stored token)")
	fs.String("ws-url", "", "companion server WebSocket URL")
	fs.String("base-url", "", "companion server HTTP base URL")
	fs.String("api-addr", "", "local control API address, empty to disable")
	fs.String("log-file", "", "rotated JSON log file")
	fs.String("store", "", "settings store: memory, file or redis")
	fs.String("store-path", "", "settings file for the file store (.yaml or .toml)")
	fs.String("redis-url", "", "redis URL for the redis store")
	fs.String("nats-url", "", "mirror bus events to this NATS server")
	fs.Bool("otel", false, "export traces over OTLP HTTP")
	fs.Bool("auto-mic", false, "start the microphone when a reply ends")
}

// Load reads .env, then layers defaults, COMPANION_* environment variables
// and the flags in fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := make(map[string]bool)
	for key := range defaults {
		if _, ok := os.LookupEnv(envName(key)); ok {
			explicit[key] = true
		}
	}
	if fs != nil {
		for name, key := range flagKeys {
			flag := fs.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
			if flag.Changed {
				explicit[key] = true
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.explicit = explicit

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed on %s", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Production reports whether env is production.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// ResolveEndpoints lets endpoints persisted in store replace the defaults
// when neither a flag nor the environment chose them, then persists the
// endpoints in use.
func (c *Config) ResolveEndpoints(ctx context.Context, store repositories.KeyValueStore) error {
	endpoints := []struct {
		key    string
		stored string
		value  *string
	}{
		{"ws.url", repositories.KeyWSURL, &c.WS.URL},
		{"base.url", repositories.KeyBaseURL, &c.Base.URL},
	}

	for _, ep := range endpoints {
		if !c.explicit[ep.key] {
			saved, err := store.Get(ctx, ep.stored)
			switch {
			case err == nil && saved != "":
				*ep.value = saved
			case err != nil && !errors.Is(err, repositories.ErrNotFound):
				return fmt.Errorf("read %s: %w", ep.stored, err)
			}
		}
		if err := store.Set(ctx, ep.stored, *ep.value); err != nil {
			return fmt.Errorf("persist %s: %w", ep.stored, err)
		}
	}
	return c.Validate()
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
