// Package config loads process settings from an optional .env file, the
// CLASSVOTE_* environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "CLASSVOTE_"

// Config is everything the binaries need to start.
type Config struct {
	Environment string

	HTTPAddr string
	GRPCAddr string
	BaseURL  string

	PGDSN string

	JWTSecret     string
	TokenTTL      time.Duration
	CollegeDomain string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResultsTTL    time.Duration

	BackupDir string

	// Requests per second and burst for login, register and public vote routes.
	RateLimit float64
	RateBurst int
}

// Production reports whether error details must be hidden from clients.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// SMTPEnabled reports whether outbound email goes to a real relay.
func (c Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func defaults() Config {
	return Config{
		Environment: "development",
		HTTPAddr:    ":8080",
		GRPCAddr:    ":9090",
		BaseURL:     "http://localhost:8080",
		TokenTTL:    24 * time.Hour,
		SMTPPort:    587,
		SMTPFrom:    "ClassVote <no-reply@localhost>",
		ResultsTTL:  10 * time.Minute,
		BackupDir:   "backups",
		RateLimit:   5,
		RateBurst:   10,
	}
}

// Load reads .env (when present), then the environment, then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read .env: %w", err)
	}
	return Parse(args, os.LookupEnv)
}

// Parse applies lookup and then args on top of the defaults.
func Parse(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()
	if err := cfg.fromEnv(lookup); err != nil {
		return Config{}, err
	}

	fset := flag.NewFlagSet("classvote", flag.ContinueOnError)
	fset.StringVar(&cfg.Environment, "env", cfg.Environment, "environment (production|development)")
	fset.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP listen address")
	fset.StringVar(&cfg.GRPCAddr, "grpc", cfg.GRPCAddr, "gRPC health listen address")
	fset.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "public base URL used in links")
	fset.StringVar(&cfg.PGDSN, "dsn", cfg.PGDSN, "PostgreSQL DSN (empty keeps state in memory)")
	fset.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "session signing secret (prefer env)")
	fset.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "session lifetime")
	fset.StringVar(&cfg.CollegeDomain, "college-domain", cfg.CollegeDomain, "required email domain for registration")
	fset.StringVar(&cfg.SMTPHost, "smtp-host", cfg.SMTPHost, "SMTP relay host (empty logs emails)")
	fset.IntVar(&cfg.SMTPPort, "smtp-port", cfg.SMTPPort, "SMTP relay port")
	fset.StringVar(&cfg.SMTPUsername, "smtp-user", cfg.SMTPUsername, "SMTP username")
	fset.StringVar(&cfg.SMTPPassword, "smtp-pass", cfg.SMTPPassword, "SMTP password (prefer env)")
	fset.StringVar(&cfg.SMTPFrom, "smtp-from", cfg.SMTPFrom, "From header")
	fset.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the results cache")
	fset.StringVar(&cfg.RedisPassword, "redis-pass", cfg.RedisPassword, "Redis password")
	fset.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database")
	fset.DurationVar(&cfg.ResultsTTL, "results-ttl", cfg.ResultsTTL, "cached results lifetime")
	fset.StringVar(&cfg.BackupDir, "backup-dir", cfg.BackupDir, "directory for XLSX backups")
	fset.Float64Var(&cfg.RateLimit, "rate", cfg.RateLimit, "requests per second on public routes")
	fset.IntVar(&cfg.RateBurst, "burst", cfg.RateBurst, "burst on public routes")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fromEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: invalid %s%s", envPrefix, name))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: invalid %s%s", envPrefix, name))
				return
			}
			*dst = d
		}
	}

	str("ENV", &c.Environment)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("BASE_URL", &c.BaseURL)
	str("PG_DSN", &c.PGDSN)
	str("JWT_SECRET", &c.JWTSecret)
	duration("TOKEN_TTL", &c.TokenTTL)
	str("COLLEGE_DOMAIN", &c.CollegeDomain)
	str("SMTP_HOST", &c.SMTPHost)
	integer("SMTP_PORT", &c.SMTPPort)
	str("SMTP_USER", &c.SMTPUsername)
	str("SMTP_PASS", &c.SMTPPassword)
	str("SMTP_FROM", &c.SMTPFrom)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_PASSWORD", &c.RedisPassword)
	integer("REDIS_DB", &c.RedisDB)
	duration("RESULTS_TTL", &c.ResultsTTL)
	str("BACKUP_DIR", &c.BackupDir)
	integer("RATE_BURST", &c.RateBurst)
	if v, ok := lookup(envPrefix + "RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: invalid %sRATE_LIMIT", envPrefix))
		} else {
			c.RateLimit = f
		}
	}
	return errors.Join(errs...)
}

func (c Config) validate() error {
	if c.Production() && len(c.JWTSecret) < 32 {
		return errors.New("config: JWT secret of at least 32 bytes required in production")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT secret required (CLASSVOTE_JWT_SECRET or -jwt-secret)")
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: token TTL must be positive")
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return errors.New("config: rate limit and burst must be positive")
	}
	return nil
}
