package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"costledger/backend/internal/domain"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	AutoMigrate   bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AuthSecret    string
	LogLevel      string
	LogFormat     string
	LogOutput     string

	CurrencyScale   int32
	TxRetryAttempts int
	TxRetryBackoff  time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
	DBLockTimeout   time.Duration
	QuoteCacheTTL   time.Duration
}

// Load reads an optional config.yaml (or the file named by CONFIG_FILE) and lets
// environment variables override it. Keys are the environment names in lower case.
func Load() (Config, error) {
	v := viper.New()
	applyDefaults(v)

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	cfg := Config{
		Port:            v.GetString("port"),
		AllowedOrigin:   v.GetString("allowed_origin"),
		DatabaseURL:     strings.TrimSpace(v.GetString("database_url")),
		AutoMigrate:     v.GetBool("auto_migrate"),
		RedisAddr:       strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:   v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		AuthSecret:      strings.TrimSpace(v.GetString("auth_secret")),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		LogOutput:       v.GetString("log_output"),
		CurrencyScale:   v.GetInt32("currency_scale"),
		TxRetryAttempts: v.GetInt("tx_retry_attempts"),
		TxRetryBackoff:  v.GetDuration("tx_retry_backoff"),
		LockTTL:         v.GetDuration("lock_ttl"),
		LockWait:        v.GetDuration("lock_wait"),
		DBLockTimeout:   v.GetDuration("db_lock_timeout"),
		QuoteCacheTTL:   v.GetDuration("quote_cache_ttl"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("database_url", "")
	v.SetDefault("auto_migrate", false)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("auth_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_output", "stdout")
	v.SetDefault("currency_scale", 2)
	v.SetDefault("tx_retry_attempts", 3)
	v.SetDefault("tx_retry_backoff", 50*time.Millisecond)
	v.SetDefault("lock_ttl", 10*time.Second)
	v.SetDefault("lock_wait", 5*time.Second)
	v.SetDefault("db_lock_timeout", 5*time.Second)
	v.SetDefault("quote_cache_ttl", 15*time.Second)
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.CurrencyScale < 0 || c.CurrencyScale > domain.MoneyScale {
		errs = append(errs, fmt.Errorf("CURRENCY_SCALE must be between 0 and %d, got %d", domain.MoneyScale, c.CurrencyScale))
	}
	if c.TxRetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("TX_RETRY_ATTEMPTS must be at least 1, got %d", c.TxRetryAttempts))
	}
	if c.TxRetryBackoff < 0 {
		errs = append(errs, errors.New("TX_RETRY_BACKOFF must not be negative"))
	}
	if c.LockTTL <= 0 || c.LockWait <= 0 || c.DBLockTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TTL, LOCK_WAIT and DB_LOCK_TIMEOUT must be positive"))
	}
	if c.QuoteCacheTTL < 0 {
		errs = append(errs, errors.New("QUOTE_CACHE_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
