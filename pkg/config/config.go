package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Stock        StockConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CLINICPOS_APP_ENV" required:"true"`
	Port         string `envconfig:"CLINICPOS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CLINICPOS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CLINICPOS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"CLINICPOS_DB_DSN"`

	LegacyHost     string `envconfig:"CLINICPOS_DB_HOST"`
	LegacyPort     int    `envconfig:"CLINICPOS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CLINICPOS_DB_USER"`
	LegacyPassword string `envconfig:"CLINICPOS_DB_PASSWORD"`
	LegacyName     string `envconfig:"CLINICPOS_DB_NAME"`
	LegacySSLMode  string `envconfig:"CLINICPOS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CLINICPOS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CLINICPOS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CLINICPOS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CLINICPOS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.LegacyHost == "" || d.LegacyUser == "" || d.LegacyName == "" {
		return fmt.Errorf("either CLINICPOS_DB_DSN or CLINICPOS_DB_HOST/USER/NAME must be set")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.LegacyUser, d.LegacyPassword),
		Host:   fmt.Sprintf("%s:%d", d.LegacyHost, d.LegacyPort),
		Path:   d.LegacyName,
	}
	q := u.Query()
	q.Set("sslmode", d.LegacySSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

// StockConfig carries the ledger-level defaults.
type StockConfig struct {
	// DefaultLocation is the stock location code used when a sale
	// consumption request does not name one.
	DefaultLocation string `envconfig:"CLINICPOS_STOCK_DEFAULT_LOCATION" default:"main"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CLINICPOS_AUTO_MIGRATE" default:"false"`
}
