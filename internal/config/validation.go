package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"adspend-etl/internal/model"
)

// Define known valid enum values for configuration fields.
var (
	knownLogLevels  = []string{"none", "error", "warn", "warning", "info", "debug"}
	knownLogFormats = []string{"console", "json"}
	knownDrivers    = []string{DriverPostgres, DriverMemory}
)

// isValidEnumValue checks if a value is present in a list of allowed string values (case-insensitive).
func isValidEnumValue(value string, allowedValues []string) bool {
	lowerValue := strings.ToLower(value)
	for _, allowed := range allowedValues {
		if lowerValue == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func fieldError(field, format string, args ...interface{}) error {
	return fmt.Errorf("- %s: %s", field, fmt.Sprintf(format, args...))
}

// ValidateConfig checks the whole configuration and reports every problem at once.
func ValidateConfig(cfg *Config) error {
	var errs error

	if !isValidEnumValue(cfg.Logging.Level, knownLogLevels) {
		errs = multierr.Append(errs, fieldError("Config.Logging.Level", "invalid log level '%s', must be one of %v", cfg.Logging.Level, knownLogLevels))
	}
	if !isValidEnumValue(cfg.Logging.Format, knownLogFormats) {
		errs = multierr.Append(errs, fieldError("Config.Logging.Format", "invalid log format '%s', must be one of %v", cfg.Logging.Format, knownLogFormats))
	}

	errs = multierr.Append(errs, validateDatabaseConfig("Config.Database", &cfg.Database))
	errs = multierr.Append(errs, validateValidationConfig("Config.Validation", &cfg.Validation))
	errs = multierr.Append(errs, validatePipelineConfig("Config.Pipeline", &cfg.Pipeline))

	if errs == nil {
		return nil
	}
	lines := make([]string, 0, len(multierr.Errors(errs)))
	for _, e := range multierr.Errors(errs) {
		lines = append(lines, e.Error())
	}
	return errors.New("configuration validation failed:\n" + strings.Join(lines, "\n"))
}

func validateDatabaseConfig(prefix string, db *DatabaseConfig) error {
	var errs error
	if !isValidEnumValue(db.Driver, knownDrivers) {
		errs = multierr.Append(errs, fieldError(prefix+".Driver", "invalid driver '%s', must be one of %v", db.Driver, knownDrivers))
	}
	if strings.EqualFold(db.Driver, DriverPostgres) && strings.TrimSpace(db.DSN) == "" {
		errs = multierr.Append(errs, fieldError(prefix+".DSN", "is required when driver is '%s' (set ADSPEND_DB_DSN or -db)", DriverPostgres))
	}
	return errs
}

func validateValidationConfig(prefix string, v *ValidationConfig) error {
	var errs error

	positive := func(field, value string) {
		d, err := decimal.NewFromString(value)
		if err != nil {
			errs = multierr.Append(errs, fieldError(prefix+"."+field, "'%s' is not a number", value))
			return
		}
		if !d.IsPositive() {
			errs = multierr.Append(errs, fieldError(prefix+"."+field, "must be greater than 0, got %s", value))
		}
	}
	positive("MaxSpend", v.MaxSpend)
	positive("MaxClickRate", v.MaxClickRate)
	positive("MaxConversionRate", v.MaxConversionRate)

	enumSubset := func(field string, values, known []string) {
		for _, value := range values {
			if !containsExact(known, value) {
				errs = multierr.Append(errs, fieldError(prefix+"."+field, "unknown value '%s', must be one of %v", value, known))
			}
		}
	}
	enumSubset("AllowedPlatforms", v.AllowedPlatforms, []string{model.PlatformMeta, model.PlatformGoogle})
	enumSubset("AllowedDevices", v.AllowedDevices, []string{model.DeviceDesktop, model.DeviceMobile})
	enumSubset("AllowedCountries", v.AllowedCountries, []string{model.CountryUS, model.CountryCA, model.CountryBR, model.CountryMX})

	if v.Filter != "" {
		if _, err := govaluate.NewEvaluableExpression(v.Filter); err != nil {
			errs = multierr.Append(errs, fieldError(prefix+".Filter", "invalid expression syntax: %v", err))
		}
	}

	names := make(map[string]bool, len(v.Rules))
	for i, rule := range v.Rules {
		rulePrefix := fmt.Sprintf("%s.Rules[%d]", prefix, i)
		if strings.TrimSpace(rule.Name) == "" {
			errs = multierr.Append(errs, fieldError(rulePrefix+".Name", "is required"))
		} else if names[rule.Name] {
			errs = multierr.Append(errs, fieldError(rulePrefix+".Name", "duplicate rule name '%s'", rule.Name))
		}
		names[rule.Name] = true
		if strings.TrimSpace(rule.Expression) == "" {
			errs = multierr.Append(errs, fieldError(rulePrefix+".Expression", "is required"))
		} else if _, err := govaluate.NewEvaluableExpression(rule.Expression); err != nil {
			errs = multierr.Append(errs, fieldError(rulePrefix+".Expression", "invalid expression syntax: %v", err))
		}
	}
	return errs
}

func validatePipelineConfig(prefix string, p *PipelineConfig) error {
	var errs error
	if p.ValidationThreshold < 0 || p.ValidationThreshold > 100 {
		errs = multierr.Append(errs, fieldError(prefix+".ValidationThreshold", "must be between 0 and 100, got %g", p.ValidationThreshold))
	}
	rate, err := decimal.NewFromString(p.RevenuePerConversion)
	if err != nil {
		errs = multierr.Append(errs, fieldError(prefix+".RevenuePerConversion", "'%s' is not a number", p.RevenuePerConversion))
	} else if rate.IsNegative() {
		errs = multierr.Append(errs, fieldError(prefix+".RevenuePerConversion", "must not be negative, got %s", p.RevenuePerConversion))
	}
	return errs
}

func containsExact(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
