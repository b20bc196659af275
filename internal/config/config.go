package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Presence PresenceConfig
}

var (
	ConfigInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type PresenceConfig struct {
	// OfflineThreshold is how long a user may go without a heartbeat before
	// the sweep marks them offline. Clients are expected to heartbeat at
	// least twice per threshold window.
	OfflineThreshold time.Duration
	SweepInterval    time.Duration
}

// positiveDuration falls back when the configured value is zero or negative.
// The sweep interval feeds time.NewTicker, which panics on non-positive
// values.
func positiveDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func LoadConfig() (*Config, error) {
	// Viper setup
	once.Do(func() {
		viper.SetDefault("RELAY_HOST", "")
		viper.SetDefault("RELAY_PORT", "8080")
		viper.SetDefault("RELAY_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("RELAY_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("RELAY_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("REDIS_HOST", "127.0.0.1")
		viper.SetDefault("REDIS_PORT", "6379")
		viper.SetDefault("REDIS_USERNAME", "")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.SetDefault("PRESENCE_OFFLINE_THRESHOLD", 30*time.Second)
		viper.SetDefault("PRESENCE_SWEEP_INTERVAL", 30*time.Second)
		viper.AutomaticEnv()

		ConfigInstance = &Config{
			Server: ServerConfig{
				Host:         viper.GetString("RELAY_HOST"),
				Port:         viper.GetString("RELAY_PORT"),
				ReadTimeout:  viper.GetDuration("RELAY_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("RELAY_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("RELAY_IDLE_TIMEOUT"),
			},
			Redis: RedisConfig{
				Host:         viper.GetString("REDIS_HOST"),
				Port:         viper.GetString("REDIS_PORT"),
				Username:     viper.GetString("REDIS_USERNAME"),
				Password:     viper.GetString("REDIS_PASSWORD"),
				DB:           viper.GetInt("REDIS_DB"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			Presence: PresenceConfig{
				OfflineThreshold: positiveDuration(viper.GetDuration("PRESENCE_OFFLINE_THRESHOLD"), 30*time.Second),
				SweepInterval:    positiveDuration(viper.GetDuration("PRESENCE_SWEEP_INTERVAL"), 30*time.Second),
			},
		}
	})

	return ConfigInstance, nil
}
