package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port                string        `env:"PORT,default=8080"`
	Host                string        `env:"HOST,default=0.0.0.0"`
	Env                 string        `env:"APP_ENV,default=development"`
	LogLevel            string        `env:"LOG_LEVEL,default=info"`
	StoreDriver         string        `env:"STORE_DRIVER,default=postgres"`
	DatabaseURL         string        `env:"DATABASE_URL"`
	BadgerPath          string        `env:"BADGER_PATH,default=data/badger"`
	SQLitePath          string        `env:"SQLITE_PATH,default=data/chat.db"`
	UploadDir           string        `env:"UPLOAD_DIR,default=uploads"`
	PublicBaseURL       string        `env:"PUBLIC_BASE_URL"`
	AllowedOrigins      string        `env:"ALLOWED_ORIGINS,default=*"`
	TrustProxy          bool          `env:"TRUST_PROXY,default=false"`
	UploadMaxBytes      int64         `env:"UPLOAD_MAX_BYTES,default=33554432"`
	UploadPartTTL       time.Duration `env:"UPLOAD_PART_TTL,default=1h"`
	UploadSweepSchedule string        `env:"UPLOAD_SWEEP_SCHEDULE,default=@every 1h"`
	SendBuffer          int           `env:"SEND_BUFFER,default=256"`
	StoreTimeout        time.Duration `env:"STORE_TIMEOUT,default=5s"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads envFile (".env" when empty) if it exists, then the process
// environment.
func Load(envFile string, log zerolog.Logger) (*Config, error) {
	log = log.With().Str("component", "config").Logger()

	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
		log.Debug().Str("file", envFile).Msg("no env file found, relying on system environment")
	} else {
		log.Debug().Str("file", envFile).Msg("env file loaded")
	}

	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg, err := Parse(es)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("env", cfg.Env).
		Str("address", cfg.Address()).
		Str("store", cfg.StoreDriver).
		Str("database", maskDBSource(cfg.DatabaseURL)).
		Msg("configuration loaded")

	return cfg, nil
}

// Parse builds a validated Config from an environment set.
func Parse(es env.EnvSet) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverBadger:
		if c.BadgerPath == "" {
			errs = append(errs, errors.New("BADGER_PATH is required for the badger store"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.UploadDir == "" {
		errs = append(errs, errors.New("UPLOAD_DIR must not be empty"))
	}
	if c.UploadMaxBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_BYTES must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("SEND_BUFFER must be positive"))
	}
	if c.PublicBaseURL != "" {
		if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL %q is not an absolute URL", c.PublicBaseURL))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) Origins() []string {
	return strings.Split(c.AllowedOrigins, ",")
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func maskDBSource(dsn string) string {
	if dsn == "" {
		return ""
	}
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[len(parts)-1]
}
