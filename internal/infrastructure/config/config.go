package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Venue       VenueConfig    `mapstructure:"venue"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Workers     WorkerConfig   `mapstructure:"workers"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// VenueConfig contains execution venue API configuration
type VenueConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	Environment string `mapstructure:"environment"` // sandbox or production
	Timeout     int    `mapstructure:"timeout"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// EngineConfig contains copy-trade engine tunables applied to every session
type EngineConfig struct {
	MinOrderUSDC           string `mapstructure:"min_order_usdc"`
	MaxOrdersPerMinute     int    `mapstructure:"max_orders_per_minute"`
	DedupWindowSecs        int    `mapstructure:"dedup_window_secs"`
	CooldownSecs           int    `mapstructure:"cooldown_secs"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
	GTCTimeoutSecs         int    `mapstructure:"gtc_timeout_secs"`
	HealthIntervalSecs     int    `mapstructure:"health_interval_secs"`
	SimSlippageBps         string `mapstructure:"sim_slippage_bps"`
}

type WorkerConfig struct {
	Count      int `mapstructure:"count"`
	JobTimeout int `mapstructure:"job_timeout"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Read from config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Override specific environment variables
	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	// Validate required fields
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 100)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "mirror_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.max_idle_conns", 25)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.query_timeout", 30)
	viper.SetDefault("database.max_retries", 3)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	// Venue defaults
	viper.SetDefault("venue.environment", "sandbox")
	viper.SetDefault("venue.base_url", "")
	viper.SetDefault("venue.timeout", 30)
	viper.SetDefault("venue.max_retries", 3)

	// Engine defaults
	viper.SetDefault("engine.min_order_usdc", "1.0")
	viper.SetDefault("engine.max_orders_per_minute", 10)
	viper.SetDefault("engine.dedup_window_secs", 30)
	viper.SetDefault("engine.cooldown_secs", 60)
	viper.SetDefault("engine.max_consecutive_failures", 3)
	viper.SetDefault("engine.gtc_timeout_secs", 3600)
	viper.SetDefault("engine.health_interval_secs", 60)
	viper.SetDefault("engine.sim_slippage_bps", "0")

	// Worker defaults
	viper.SetDefault("workers.count", 10)
	viper.SetDefault("workers.job_timeout", 300)
}

func overrideFromEnv() {
	// Server
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	// Database
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	// Redis
	if redisURL := os.Getenv("REDIS_HOST"); redisURL != "" {
		viper.Set("redis.host", redisURL)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("redis.password", redisPassword)
	}

	// Venue API
	if venueKey := os.Getenv("VENUE_API_KEY"); venueKey != "" {
		viper.Set("venue.api_key", venueKey)
	}
	if venueSecret := os.Getenv("VENUE_API_SECRET"); venueSecret != "" {
		viper.Set("venue.api_secret", venueSecret)
	}
	if venueBaseURL := os.Getenv("VENUE_BASE_URL"); venueBaseURL != "" {
		viper.Set("venue.base_url", venueBaseURL)
	}
	if venueEnv := os.Getenv("VENUE_ENVIRONMENT"); venueEnv != "" {
		viper.Set("venue.environment", venueEnv)
	}
	if venueTimeout := os.Getenv("VENUE_TIMEOUT"); venueTimeout != "" {
		if timeout, err := strconv.Atoi(venueTimeout); err == nil {
			viper.Set("venue.timeout", timeout)
		}
	}

	// Engine
	if minOrder := os.Getenv("ENGINE_MIN_ORDER_USDC"); minOrder != "" {
		viper.Set("engine.min_order_usdc", minOrder)
	}
	if maxPerMin := os.Getenv("ENGINE_MAX_ORDERS_PER_MINUTE"); maxPerMin != "" {
		if n, err := strconv.Atoi(maxPerMin); err == nil {
			viper.Set("engine.max_orders_per_minute", n)
		}
	}
	if simSlippage := os.Getenv("ENGINE_SIM_SLIPPAGE_BPS"); simSlippage != "" {
		viper.Set("engine.sim_slippage_bps", simSlippage)
	}
}

func validate(config *Config) error {
	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if config.Environment == "production" {
		if config.Venue.BaseURL == "" || config.Venue.APIKey == "" {
			return fmt.Errorf("venue configuration is required in production")
		}
	}

	if config.Engine.MaxOrdersPerMinute <= 0 {
		return fmt.Errorf("engine max_orders_per_minute must be positive")
	}

	return nil
}
