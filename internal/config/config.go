package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	AppName         string        `mapstructure:"APP_NAME"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	LogFormat       string        `mapstructure:"LOG_FORMAT"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	// StoreBackend selects postgres, redis or memory.
	StoreBackend string `mapstructure:"STORE_BACKEND"`

	// PostgreSQL configuration
	DBHost         string        `mapstructure:"DB_HOST"`
	DBPort         int           `mapstructure:"DB_PORT"`
	DBUser         string        `mapstructure:"DB_USER"`
	DBPassword     string        `mapstructure:"DB_PASSWORD"`
	DBName         string        `mapstructure:"DB_NAME"`
	DBSSLMode      string        `mapstructure:"DB_SSL_MODE"`
	DBMaxOpenConns int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBQueryTimeout time.Duration `mapstructure:"DB_QUERY_TIMEOUT"`

	// Redis configuration
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// RabbitMQ configuration. An empty URL disables event publishing.
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange string `mapstructure:"RABBITMQ_EXCHANGE"`

	NotifyTimeout   time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	ConflictRetries int           `mapstructure:"CONFLICT_RETRIES"`

	GeocoderURL       string  `mapstructure:"GEOCODER_URL"`
	GeocoderUserAgent string  `mapstructure:"GEOCODER_USER_AGENT"`
	DefaultRadiusKm   float64 `mapstructure:"DEFAULT_RADIUS_KM"`
	IndexFile         string  `mapstructure:"INDEX_FILE"`
}

var backends = map[string]bool{"postgres": true, "redis": true, "memory": true}

// Validate checks values viper cannot check by type.
func (c Config) Validate() error {
	var errs []error
	if !backends[c.StoreBackend] {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be postgres, redis or memory, got %q", c.StoreBackend))
	}
	if c.ConflictRetries < 0 || c.ConflictRetries > 1 {
		errs = append(errs, fmt.Errorf("CONFLICT_RETRIES must be 0 or 1, got %d", c.ConflictRetries))
	}
	if c.DefaultRadiusKm < 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_RADIUS_KM must not be negative, got %f", c.DefaultRadiusKm))
	}
	return errors.Join(errs...)
}

func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_NAME", "mart-connect")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("STORE_BACKEND", "memory")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "mart")
	v.SetDefault("DB_PASSWORD", "mart")
	v.SetDefault("DB_NAME", "mart")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_QUERY_TIMEOUT", 5*time.Second)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_EXCHANGE", "mart_orders")

	v.SetDefault("NOTIFY_TIMEOUT", 5*time.Second)
	v.SetDefault("CONFLICT_RETRIES", 0)

	v.SetDefault("GEOCODER_URL", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("GEOCODER_USER_AGENT", "mart-connect/1.0")
	v.SetDefault("DEFAULT_RADIUS_KM", 0)
	v.SetDefault("INDEX_FILE", "data/sellers.gob")

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Info().Msg("No config file found, using environment variables and defaults.")
		} else {
			log.Error().Err(err).Msg("Error reading config file")
			return
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}
