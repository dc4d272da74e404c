package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"adspend-etl/internal/logging"
	"adspend-etl/internal/util"
)

// dotenvFiles are loaded (if present) before environment overrides are applied.
// Variables already set in the process environment win over .env values.
var dotenvFiles = []string{".env"}

// Override adjusts a loaded configuration before defaults and validation run.
type Override func(*Config)

// WithDSN replaces the database connection string when dsn is non-empty.
func WithDSN(dsn string) Override {
	return func(cfg *Config) {
		if dsn != "" {
			cfg.Database.DSN = dsn
		}
	}
}

// LoadConfig reads the YAML file (when filename is non-empty), overlays .env and
// process environment values and then overrides, applies defaults, and validates the result.
func LoadConfig(filename string, overrides ...Override) (*Config, error) {
	var cfg Config

	if filename != "" {
		fileBytes, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
		}
		if err := yaml.Unmarshal(fileBytes, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML in '%s': %w", filename, err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}

	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() error {
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to stat env file '%s': %w", f, err)
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file '%s': %w", f, err)
		}
		logging.Logf(logging.Debug, "Loaded environment from %s", f)
	}
	return nil
}

// applyDefaults sets default values for every unset option.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDriver
	}
	cfg.Database.DSN = util.ExpandEnvUniversal(cfg.Database.DSN)
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = DefaultMaxConns
	}
	if cfg.Database.Timeout <= 0 {
		cfg.Database.Timeout = DefaultDBTimeout
	}

	cfg.Data.InputDir = util.ExpandEnvUniversal(cfg.Data.InputDir)
	cfg.Data.RejectDir = util.ExpandEnvUniversal(cfg.Data.RejectDir)

	if cfg.Validation.MaxSpend == "" {
		cfg.Validation.MaxSpend = DefaultMaxSpend
	}
	if cfg.Validation.MaxClickRate == "" {
		cfg.Validation.MaxClickRate = DefaultMaxClickRate
	}
	if cfg.Validation.MaxConversionRate == "" {
		cfg.Validation.MaxConversionRate = DefaultMaxConversionRate
	}

	if cfg.Pipeline.ValidationThreshold == 0 {
		cfg.Pipeline.ValidationThreshold = DefaultValidationThreshold
	}
	if cfg.Pipeline.SkipIfExists == nil {
		trueVal := true
		cfg.Pipeline.SkipIfExists = &trueVal
	}
	if cfg.Pipeline.RevenuePerConversion == "" {
		cfg.Pipeline.RevenuePerConversion = DefaultRevenuePerConversion
	}

	cfg.Metrics.Textfile = util.ExpandEnvUniversal(cfg.Metrics.Textfile)
}
