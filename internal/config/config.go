package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMySQL  = "mysql"
	StorageSQLite = "sqlite"
)

type Config struct {
	Env       string
	LogLevel  string
	LogFormat string

	HTTPAddr string
	GRPCAddr string

	Storage    string
	MySQLDSN   string
	SQLitePath string
	RedisAddr  string // empty disables the entitlement cache

	PaystackSecretKey string
	WeeklyPrice       int64 // minor units
	MonthlyPrice      int64 // minor units

	RetryAttempts    int
	RetryBackoff     time.Duration
	FreeHistoryDays  int
	EntitlementCache time.Duration
}

// Load reads configuration from the environment. A .env file is loaded if
// present but not required.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadStorage is Load for commands that only touch the store, such as
// migrate and seed. Webhook and pricing keys are not required.
func LoadStorage() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func read() (*Config, error) {
	_ = godotenv.Load()

	weekly, err := envInt64("SALESZY_WEEKLY_PRICE", 15000)
	if err != nil {
		return nil, err
	}
	monthly, err := envInt64("SALESZY_MONTHLY_PRICE", 50000)
	if err != nil {
		return nil, err
	}
	attempts, err := envInt("SALESZY_RETRY_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	backoff, err := envDuration("SALESZY_RETRY_BACKOFF", 10*time.Millisecond)
	if err != nil {
		return nil, err
	}
	historyDays, err := envInt("SALESZY_FREE_HISTORY_DAYS", 7)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := envDuration("SALESZY_ENTITLEMENT_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:               envOrDefault("SALESZY_ENV", "development"),
		LogLevel:          envOrDefault("SALESZY_LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("SALESZY_LOG_FORMAT", "auto"),
		HTTPAddr:          envOrDefault("SALESZY_HTTP_ADDR", ":8080"),
		GRPCAddr:          envOrDefault("SALESZY_GRPC_ADDR", ":50051"),
		Storage:           strings.ToLower(envOrDefault("SALESZY_STORAGE", StorageSQLite)),
		MySQLDSN:          strings.TrimSpace(os.Getenv("SALESZY_MYSQL_DSN")),
		SQLitePath:        envOrDefault("SALESZY_SQLITE_PATH", "saleszy.db"),
		RedisAddr:         strings.TrimSpace(os.Getenv("SALESZY_REDIS_ADDR")),
		PaystackSecretKey: strings.TrimSpace(os.Getenv("PAYSTACK_SECRET_KEY")),
		WeeklyPrice:       weekly,
		MonthlyPrice:      monthly,
		RetryAttempts:     attempts,
		RetryBackoff:      backoff,
		FreeHistoryDays:   historyDays,
		EntitlementCache:  cacheTTL,
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.PaystackSecretKey == "" {
		missing = append(missing, "PAYSTACK_SECRET_KEY")
	}
	if c.Storage == StorageMySQL && c.MySQLDSN == "" {
		missing = append(missing, "SALESZY_MYSQL_DSN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if c.WeeklyPrice <= 0 || c.MonthlyPrice <= 0 {
		return fmt.Errorf("tier prices must be greater than 0")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("SALESZY_RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	if c.FreeHistoryDays < 1 {
		return fmt.Errorf("SALESZY_FREE_HISTORY_DAYS must be at least 1, got %d", c.FreeHistoryDays)
	}
	return nil
}

func (c *Config) ValidateStorage() error {
	switch c.Storage {
	case StorageMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("missing required environment variables: SALESZY_MYSQL_DSN")
		}
	case StorageSQLite:
	default:
		return fmt.Errorf("SALESZY_STORAGE must be %q or %q, got %q", StorageMySQL, StorageSQLite, c.Storage)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
