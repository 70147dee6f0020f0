/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	CaptureAPIBaseURL        string `mapstructure:"CAPTURE_API_BASE_URL"`
	CaptureAPIKey            string `mapstructure:"CAPTURE_API_KEY"`
	IssuingAPIBaseURL        string `mapstructure:"ISSUING_API_BASE_URL"`
	IssuingAPIKey            string `mapstructure:"ISSUING_API_KEY"`
	AuthJWKSURL              string `mapstructure:"AUTH_JWKS_URL"`
	Currency                 string `mapstructure:"CURRENCY"`
	VendorName               string `mapstructure:"VENDOR_NAME"`
	CaptureDemoMode          bool   `mapstructure:"CAPTURE_DEMO_MODE"`
	CaptureTimeoutSeconds    int    `mapstructure:"CAPTURE_TIMEOUT_SECONDS"`
	SettleRateLimitPerMinute int    `mapstructure:"SETTLE_RATE_LIMIT_PER_MINUTE"`
	CardExpirySweepSchedule  string `mapstructure:"CARD_EXPIRY_SWEEP_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("CURRENCY", "usd")
	viper.SetDefault("VENDOR_NAME", "stripe")
	viper.SetDefault("CAPTURE_DEMO_MODE", false)
	viper.SetDefault("CAPTURE_TIMEOUT_SECONDS", 30)
	viper.SetDefault("SETTLE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "bpay:rate_limit")
	viper.SetDefault("CARD_EXPIRY_SWEEP_SCHEDULE", "@hourly")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CAPTURE_API_BASE_URL")
	_ = viper.BindEnv("CAPTURE_API_KEY")
	_ = viper.BindEnv("ISSUING_API_BASE_URL")
	_ = viper.BindEnv("ISSUING_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("CURRENCY")
	_ = viper.BindEnv("VENDOR_NAME")
	_ = viper.BindEnv("CAPTURE_DEMO_MODE")
	_ = viper.BindEnv("CAPTURE_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SETTLE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CARD_EXPIRY_SWEEP_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "bpay:rate_limit"
	}
	config.Currency = strings.ToLower(strings.TrimSpace(config.Currency))
	if config.Currency == "" {
		config.Currency = "usd"
	}

	if config.CaptureTimeoutSeconds <= 0 {
		config.CaptureTimeoutSeconds = 30
	}
	if config.SettleRateLimitPerMinute <= 0 {
		config.SettleRateLimitPerMinute = 10
	}
	if strings.TrimSpace(config.CardExpirySweepSchedule) == "" {
		config.CardExpirySweepSchedule = "@hourly"
	}

	return
}
