package config

import "time"

// Define constants for configuration keys, drivers, and defaults.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	DefaultConfigFile           = "config/adspend.yaml"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "console"
	DefaultDriver               = DriverPostgres
	DefaultMaxConns             = 4
	DefaultDBTimeout            = 30 * time.Second
	DefaultRejectDir            = ""
	DefaultMaxSpend             = "1000000"
	DefaultMaxClickRate         = "0.5"
	DefaultMaxConversionRate    = "0.5"
	DefaultValidationThreshold  = 95.0
	DefaultRevenuePerConversion = "100"
)

// Config defines the overall structure of the YAML configuration file.
// Every leaf can also be set through the environment variable named in its envconfig tag.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Data       DataConfig       `yaml:"data"`
	Validation ValidationConfig `yaml:"validation"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LoggingConfig controls verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"ADSPEND_LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"ADSPEND_LOG_FORMAT"`
}

// DatabaseConfig selects and configures the analytical store.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory store does not persist across runs.
	Driver   string        `yaml:"driver" envconfig:"ADSPEND_DB_DRIVER"`
	DSN      string        `yaml:"dsn" envconfig:"ADSPEND_DB_DSN"`
	MaxConns int32         `yaml:"max_conns" envconfig:"ADSPEND_DB_MAX_CONNS"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"ADSPEND_DB_TIMEOUT"`
}

// DataConfig holds file locations used by the ingest commands.
type DataConfig struct {
	// InputDir is prepended to relative input paths.
	InputDir string `yaml:"input_dir" envconfig:"ADSPEND_DATA_INPUT_DIR"`
	// RejectDir receives one CSV of rejected rows per batch when set.
	RejectDir string `yaml:"reject_dir" envconfig:"ADSPEND_DATA_REJECT_DIR"`
	// XLSXSheet selects the sheet of spreadsheet inputs (default: active sheet).
	XLSXSheet string `yaml:"xlsx_sheet" envconfig:"ADSPEND_DATA_XLSX_SHEET"`
}

// RuleConfig is one govaluate business rule applied after the built-in checks.
type RuleConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Message    string `yaml:"message"`
}

// ValidationConfig holds the business-rule policy thresholds.
type ValidationConfig struct {
	MaxSpend          string   `yaml:"max_spend" envconfig:"ADSPEND_VALIDATION_MAX_SPEND"`
	MaxClickRate      string   `yaml:"max_click_rate" envconfig:"ADSPEND_VALIDATION_MAX_CLICK_RATE"`
	MaxConversionRate string   `yaml:"max_conversion_rate" envconfig:"ADSPEND_VALIDATION_MAX_CONVERSION_RATE"`
	AllowedPlatforms  []string `yaml:"allowed_platforms" envconfig:"ADSPEND_VALIDATION_ALLOWED_PLATFORMS"`
	AllowedDevices    []string `yaml:"allowed_devices" envconfig:"ADSPEND_VALIDATION_ALLOWED_DEVICES"`
	AllowedCountries  []string `yaml:"allowed_countries" envconfig:"ADSPEND_VALIDATION_ALLOWED_COUNTRIES"`
	// Filter is an optional govaluate expression; rows for which it is false are skipped.
	// Example: "platform == 'Meta' && spend > 0"
	Filter string       `yaml:"filter" envconfig:"ADSPEND_VALIDATION_FILTER"`
	Rules  []RuleConfig `yaml:"rules" ignored:"true"`
}

// PipelineConfig holds orchestrator defaults.
type PipelineConfig struct {
	ValidationThreshold  float64 `yaml:"validation_threshold" envconfig:"ADSPEND_PIPELINE_VALIDATION_THRESHOLD"`
	SkipIfExists         *bool   `yaml:"skip_if_exists" envconfig:"ADSPEND_PIPELINE_SKIP_IF_EXISTS"`
	ComputeKPIs          bool    `yaml:"compute_kpis" envconfig:"ADSPEND_PIPELINE_COMPUTE_KPIS"`
	RevenuePerConversion string  `yaml:"revenue_per_conversion" envconfig:"ADSPEND_PIPELINE_REVENUE_PER_CONVERSION"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written after each command when non-empty.
	Textfile string `yaml:"textfile" envconfig:"ADSPEND_METRICS_TEXTFILE"`
}
