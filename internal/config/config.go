package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	// ModeratorSecret is either a plain shared secret or a bcrypt hash.
	// Empty disables moderator login.
	ModeratorSecret        string `mapstructure:"moderator_secret"`
	LoginAttemptsPerMinute int    `mapstructure:"login_attempts_per_minute"`

	BanRefreshInterval time.Duration `mapstructure:"ban_refresh_interval"`
	BlockedIPs         []string      `mapstructure:"blocked_ips"`
	// TrustedProxies lists the peers whose X-Forwarded-For is believed.
	TrustedProxies   []string `mapstructure:"trusted_proxies"`
	MaxMessageLength int      `mapstructure:"max_message_length"`
	Backpressure     string   `mapstructure:"backpressure"`

	Store   StoreConfig   `mapstructure:"store"`
	History HistoryConfig `mapstructure:"history"`
	Persist PersistConfig `mapstructure:"persist"`
}

type StoreConfig struct {
	Driver  string        `mapstructure:"driver"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HistoryConfig struct {
	Limit       int           `mapstructure:"limit"`
	RingSize    int           `mapstructure:"ring_size"`
	DMCacheSize int           `mapstructure:"dm_cache_size"`
	Lifetime    time.Duration `mapstructure:"lifetime"`
}

type PersistConfig struct {
	Workers int `mapstructure:"workers"`
	Queue   int `mapstructure:"queue"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "parley-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("moderator_secret", "")
	v.SetDefault("login_attempts_per_minute", 0)
	v.SetDefault("ban_refresh_interval", "30s")
	v.SetDefault("blocked_ips", []string{})
	v.SetDefault("trusted_proxies", []string{"127.0.0.1", "::1"})
	v.SetDefault("max_message_length", 4000)
	v.SetDefault("backpressure", "drop")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "parley.db")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("history.limit", 100)
	v.SetDefault("history.ring_size", 500)
	v.SetDefault("history.dm_cache_size", 500)
	v.SetDefault("history.lifetime", "24h")
	v.SetDefault("persist.workers", 4)
	v.SetDefault("persist.queue", 1024)
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) and applies
// PARLEY_* environment overrides, e.g. PARLEY_STORE_PATH.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).
		Bool("moderation", cfg.ModeratorSecret != "").
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be positive")
	}
	if c.Persist.Workers <= 0 || c.Persist.Queue <= 0 {
		return fmt.Errorf("persist.workers and persist.queue must be positive")
	}
	for _, p := range c.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("trusted_proxies: invalid address or CIDR %q", p)
		}
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	return nil
}

func validProxy(p string) bool {
	if strings.Contains(p, "/") {
		_, _, err := net.ParseCIDR(p)
		return err == nil
	}
	return net.ParseIP(p) != nil
}
