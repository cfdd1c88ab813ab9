// Package config loads inventory settings from defaults, an optional
// inventory.yaml, INVENTORY_* environment variables and command flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configFileName = "inventory"
	configFileType = "yaml"
	envPrefix      = "INVENTORY"
)

// Keys.
const (
	KeyHTTPPort         = "http.port"
	KeyDgraphEndpoint   = "dgraph.endpoint"
	KeyStoreMemory      = "store.memory"
	KeyJWTSecret        = "auth.jwt_secret"
	KeyGeocodeBaseURL   = "geocode.base_url"
	KeyGeocodeUserAgent = "geocode.user_agent"
	KeyGeocodeTimeout   = "geocode.timeout"
	KeyGeocodeCacheTTL  = "geocode.cache_ttl"
	KeyRedisAddr        = "cache.redis_addr"
	KeyActivityDSN      = "activity.dsn"
	KeyFeedOrigins      = "feed.origins"
	KeyLogLevel         = "log.level"
)

// Config is the resolved configuration.
type Config struct {
	HTTPPort       int
	DgraphEndpoint string
	// StoreMemory serves from an in-process graph instead of Dgraph.
	StoreMemory bool
	JWTSecret   string

	// GeocodeBaseURL empty disables geocoding.
	GeocodeBaseURL   string
	GeocodeUserAgent string
	GeocodeTimeout   time.Duration
	GeocodeCacheTTL  time.Duration
	// RedisAddr empty caches geocoding results in memory.
	RedisAddr string

	// ActivityDSN empty keeps the activity log in memory.
	ActivityDSN string
	FeedOrigins []string
	LogLevel    slog.Level
}

// New returns a viper instance carrying the defaults and environment
// bindings. Callers bind flags before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyHTTPPort, 8080)
	v.SetDefault(KeyDgraphEndpoint, "localhost:9080")
	v.SetDefault(KeyStoreMemory, false)
	v.SetDefault(KeyGeocodeBaseURL, "")
	v.SetDefault(KeyGeocodeUserAgent, "inventory/1.0")
	v.SetDefault(KeyGeocodeTimeout, 5*time.Second)
	v.SetDefault(KeyGeocodeCacheTTL, 24*time.Hour)
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyActivityDSN, "file:activity.db?_pragma=busy_timeout(5000)")
	v.SetDefault(KeyFeedOrigins, []string{})
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and resolves every key. file
// overrides the search for inventory.yaml in the working directory and
// /etc/inventory.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/inventory")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	cfg := &Config{
		HTTPPort:         v.GetInt(KeyHTTPPort),
		DgraphEndpoint:   v.GetString(KeyDgraphEndpoint),
		StoreMemory:      v.GetBool(KeyStoreMemory),
		JWTSecret:        v.GetString(KeyJWTSecret),
		GeocodeBaseURL:   v.GetString(KeyGeocodeBaseURL),
		GeocodeUserAgent: v.GetString(KeyGeocodeUserAgent),
		GeocodeTimeout:   v.GetDuration(KeyGeocodeTimeout),
		GeocodeCacheTTL:  v.GetDuration(KeyGeocodeCacheTTL),
		RedisAddr:        v.GetString(KeyRedisAddr),
		ActivityDSN:      v.GetString(KeyActivityDSN),
		FeedOrigins:      v.GetStringSlice(KeyFeedOrigins),
		LogLevel:         level,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%s: invalid port %d", KeyHTTPPort, c.HTTPPort)
	}
	if !c.StoreMemory && c.DgraphEndpoint == "" {
		return fmt.Errorf("%s is required unless %s is set", KeyDgraphEndpoint, KeyStoreMemory)
	}
	return nil
}

// RequireSecret fails when no token signing secret is configured.
func (c *Config) RequireSecret() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("%s is required", KeyJWTSecret)
	}
	return nil
}
