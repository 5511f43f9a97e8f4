package cliparse

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Rate counter backends
const (
	RateStoreMemory = "memory"
	RateStoreSQL    = "sql"
)

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string

	// Secrets
	AdminKeySalt    string
	CorrelationSalt string
	EncryptionKey   string // 32 bytes, hex encoded
	AdminEmails     []string

	// Admission guard
	RateLimit      int
	RateWindow     time.Duration
	BurstThreshold int
	BurstWindow    time.Duration
	RateStore      string

	SweepInterval time.Duration

	LogLevel    string
	LogFile     string
	CORSOrigins []string

	// Peers whose X-Forwarded-For is believed, as addresses or CIDR ranges
	TrustedProxies []string
}

// ParseFlags validates flags and fills the rest from the environment.
// A .env file is loaded first if present; real environment variables win.
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	var envFile string

	fs := pflag.NewFlagSet("ballotbox", pflag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVarP(&cfg.Port, "port", "p", 3318, "Server port")
	fs.StringVarP(&cfg.DatabaseURL, "database-url", "d", "", "Database URL")
	fs.StringVarP(&cfg.DatabaseType, "database-type", "t", "sqlite", "Database type (sqlite or postgres)")
	fs.StringVar(&envFile, "env-file", "", "Load environment from this file")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.AdminKeySalt, "admin-salt", "", "Admin key salt (prefer env)")
	fs.StringVar(&cfg.CorrelationSalt, "correlation-salt", "", "Salt for hashing client origins (prefer env)")
	fs.StringVar(&cfg.EncryptionKey, "encryption-key", "", "Hex encoded 32-byte identity encryption key (prefer env)")
	fs.StringSliceVar(&cfg.AdminEmails, "admin-emails", nil, "Comma separated admin email allow-list")

	fs.IntVar(&cfg.RateLimit, "rate-limit", 8, "Vote attempts allowed per origin per rate window")
	fs.DurationVar(&cfg.RateWindow, "rate-window", 10*time.Minute, "Sliding window for the vote rate limit")
	fs.IntVar(&cfg.BurstThreshold, "burst-threshold", 3, "Requests per burst window that flag automation")
	fs.DurationVar(&cfg.BurstWindow, "burst-window", 500*time.Millisecond, "Window for the burst heuristic")
	fs.StringVar(&cfg.RateStore, "rate-store", RateStoreMemory, "Rate counter backend (memory or sql)")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", time.Minute, "Lifecycle sweep interval")

	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "Also write logs to this file, rotated")
	fs.StringSliceVar(&cfg.CORSOrigins, "cors-origins", nil, "Allowed CORS origins (default any)")
	fs.StringSliceVar(&cfg.TrustedProxies, "trusted-proxies", nil, "Proxy addresses or CIDRs allowed to set X-Forwarded-For")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(envFile); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables for anything not set on the command line
	e := envReader{fs: fs}
	e.int("port", "PORT", &cfg.Port)
	e.string("database-url", "DATABASE_URL", &cfg.DatabaseURL)
	e.string("database-type", "DATABASE_TYPE", &cfg.DatabaseType)
	e.string("admin-salt", "ADMIN_KEY_SALT", &cfg.AdminKeySalt)
	e.string("correlation-salt", "CORRELATION_SALT", &cfg.CorrelationSalt)
	e.string("encryption-key", "ENCRYPTION_KEY", &cfg.EncryptionKey)
	e.list("admin-emails", "ADMIN_EMAILS", &cfg.AdminEmails)
	e.int("rate-limit", "RATE_LIMIT", &cfg.RateLimit)
	e.duration("rate-window", "RATE_WINDOW", &cfg.RateWindow)
	e.int("burst-threshold", "BURST_THRESHOLD", &cfg.BurstThreshold)
	e.duration("burst-window", "BURST_WINDOW", &cfg.BurstWindow)
	e.string("rate-store", "RATE_STORE", &cfg.RateStore)
	e.duration("sweep-interval", "SWEEP_INTERVAL", &cfg.SweepInterval)
	e.string("log-level", "LOG_LEVEL", &cfg.LogLevel)
	e.string("log-file", "LOG_FILE", &cfg.LogFile)
	e.list("cors-origins", "CORS_ORIGINS", &cfg.CORSOrigins)
	e.list("trusted-proxies", "TRUSTED_PROXIES", &cfg.TrustedProxies)
	if e.err != nil {
		return Config{}, e.err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.DatabaseURL == "" {
		return errors.New("database URL required (use -d or DATABASE_URL env)")
	}
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return fmt.Errorf("unsupported database type %q", cfg.DatabaseType)
	}

	// Secrets - MUST be provided
	if cfg.AdminKeySalt == "" {
		return errors.New("ADMIN_KEY_SALT required")
	}
	if cfg.CorrelationSalt == "" {
		return errors.New("CORRELATION_SALT required")
	}
	if cfg.EncryptionKey == "" {
		return errors.New("ENCRYPTION_KEY required")
	}
	if key, err := hex.DecodeString(cfg.EncryptionKey); err != nil || len(key) != 32 {
		return errors.New("ENCRYPTION_KEY must be 64 hex characters")
	}

	if cfg.RateLimit < 1 || cfg.RateWindow <= 0 {
		return errors.New("rate limit and window must be positive")
	}
	if cfg.BurstThreshold < 1 || cfg.BurstWindow <= 0 {
		return errors.New("burst threshold and window must be positive")
	}
	if cfg.RateStore != RateStoreMemory && cfg.RateStore != RateStoreSQL {
		return fmt.Errorf("unsupported rate store %q", cfg.RateStore)
	}
	if cfg.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	for _, proxy := range cfg.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("invalid trusted proxy %q", proxy)
		}
	}
	return nil
}

func validProxy(proxy string) bool {
	if strings.Contains(proxy, "/") {
		_, err := netip.ParsePrefix(proxy)
		return err == nil
	}
	_, err := netip.ParseAddr(proxy)
	return err == nil
}

func loadDotEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		// Load never overrides variables that are already set
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}
	return nil
}

// envReader copies environment values into flags the user did not set.
// The first parse failure is kept in err.
type envReader struct {
	fs  *pflag.FlagSet
	err error
}

func (e *envReader) lookup(flag, env string) (string, bool) {
	if e.err != nil || e.fs.Changed(flag) {
		return "", false
	}
	v := os.Getenv(env)
	return v, v != ""
}

func (e *envReader) string(flag, env string, dst *string) {
	if v, ok := e.lookup(flag, env); ok {
		*dst = v
	}
}

func (e *envReader) int(flag, env string, dst *int) {
	if v, ok := e.lookup(flag, env); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.err = fmt.Errorf("invalid %s env variable", env)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(flag, env string, dst *time.Duration) {
	if v, ok := e.lookup(flag, env); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.err = fmt.Errorf("invalid %s env variable", env)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(flag, env string, dst *[]string) {
	if v, ok := e.lookup(flag, env); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}
