package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Cache     CacheConfig
	QR        QRConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Port string
	// DefaultDomain is the hostname the service itself answers redirects on.
	DefaultDomain string
	// BaseURL is the public prefix used when building short URLs and QR
	// artifacts for owners without a custom domain, e.g. "https://scsr.io/".
	BaseURL string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	// MaxConns caps the pgx pool; MinConns keeps warm connections around
	// for redirect bursts.
	MaxConns int32
	MinConns int32
}

type RedisConfig struct {
	Host string
	Port string
	// PoolSize and MinIdleConns size the go-redis connection pool.
	PoolSize     int
	MinIdleConns int
}

type CacheConfig struct {
	// TTLSeconds bounds the lifetime of cache entries even when an
	// invalidation is missed.
	TTLSeconds int
}

type QRConfig struct {
	// Dir is where generated QR artifacts are written.
	Dir string
}

type AuthConfig struct {
	// APIKeys maps an API key to the account id it acts for.
	APIKeys map[string]int64
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	// A missing .env is fine; the environment alone can carry the config.
	if err := viper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	cfg.App.Port = viper.GetString("APP_PORT")
	cfg.App.DefaultDomain = viper.GetString("DEFAULT_DOMAIN")
	cfg.App.BaseURL = viper.GetString("BASE_URL")
	if cfg.App.BaseURL == "" && cfg.App.DefaultDomain != "" {
		cfg.App.BaseURL = "https://" + cfg.App.DefaultDomain + "/"
	}
	cfg.DB.Host = viper.GetString("DB_HOST")
	cfg.DB.Port = viper.GetString("DB_PORT")
	cfg.DB.User = viper.GetString("DB_USER")
	cfg.DB.Password = viper.GetString("DB_PASSWORD")
	cfg.DB.Name = viper.GetString("DB_NAME")
	cfg.DB.MaxConns = viper.GetInt32("DB_MAX_CONNS")
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	cfg.DB.MinConns = viper.GetInt32("DB_MIN_CONNS")
	if cfg.DB.MinConns == 0 {
		cfg.DB.MinConns = 5
	}

	cfg.Redis.Host = viper.GetString("REDIS_HOST")
	cfg.Redis.Port = viper.GetString("REDIS_PORT")
	cfg.Redis.PoolSize = viper.GetInt("REDIS_POOL_SIZE")
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 100
	}
	cfg.Redis.MinIdleConns = viper.GetInt("REDIS_MIN_IDLE_CONNS")
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = 10
	}

	cfg.Cache.TTLSeconds = viper.GetInt("CACHE_TTL_SECONDS")
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 60
	}

	cfg.QR.Dir = viper.GetString("QR_DIR")
	if cfg.QR.Dir == "" {
		cfg.QR.Dir = "./qr_codes"
	}

	// API keys arrive as a comma-separated string: key1:101,key2:102
	keys, err := parseAPIKeys(viper.GetString("API_KEYS"))
	if err != nil {
		return nil, err
	}
	cfg.Auth.APIKeys = keys

	cfg.RateLimit.RequestsPerSecond = viper.GetFloat64("RATE_LIMIT_RPS")
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	cfg.RateLimit.BurstSize = viper.GetInt("RATE_LIMIT_BURST")
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 20
	}

	return &cfg, nil
}

// parseAPIKeys parses comma-separated API keys in format "key1:accountID1,key2:accountID2"
func parseAPIKeys(raw string) (map[string]int64, error) {
	keys := make(map[string]int64)
	if raw == "" {
		return keys, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed API_KEYS entry %q", pair)
		}
		accountID, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed account id in API_KEYS entry %q: %w", pair, err)
		}
		keys[strings.TrimSpace(parts[0])] = accountID
	}

	return keys, nil
}
