package validation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"adspend-etl/internal/config"
	"adspend-etl/internal/model"
)

// Rules holds the business-rule policy applied after schema validation.
// Rates are fractions: 0.5 means 50%.
type Rules struct {
	MaxSpend          decimal.Decimal
	MaxClickRate      decimal.Decimal
	MaxConversionRate decimal.Decimal

	Platforms []string
	Devices   []string
	Countries []string

	// Custom rules run after the built-in checks, in order.
	Custom []*CustomRule

	// Now supplies the reference time for the future-date check.
	Now func() time.Time
}

// DefaultRules returns the built-in policy with no custom rules.
func DefaultRules() Rules {
	return Rules{
		MaxSpend:          decimal.RequireFromString(config.DefaultMaxSpend),
		MaxClickRate:      decimal.RequireFromString(config.DefaultMaxClickRate),
		MaxConversionRate: decimal.RequireFromString(config.DefaultMaxConversionRate),
		Platforms:         []string{model.PlatformMeta, model.PlatformGoogle},
		Devices:           []string{model.DeviceDesktop, model.DeviceMobile},
		Countries:         []string{model.CountryUS, model.CountryCA, model.CountryBR, model.CountryMX},
		Now:               time.Now,
	}
}

// RulesFromConfig builds Rules from the validation section of the configuration.
// Empty fields keep their defaults.
func RulesFromConfig(cfg config.ValidationConfig) (Rules, error) {
	rules := DefaultRules()

	for _, t := range []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"max_spend", cfg.MaxSpend, &rules.MaxSpend},
		{"max_click_rate", cfg.MaxClickRate, &rules.MaxClickRate},
		{"max_conversion_rate", cfg.MaxConversionRate, &rules.MaxConversionRate},
	} {
		if t.value == "" {
			continue
		}
		d, err := decimal.NewFromString(t.value)
		if err != nil {
			return Rules{}, fmt.Errorf("invalid %s '%s': %w", t.name, t.value, err)
		}
		*t.dst = d
	}

	if len(cfg.AllowedPlatforms) > 0 {
		rules.Platforms = append([]string(nil), cfg.AllowedPlatforms...)
	}
	if len(cfg.AllowedDevices) > 0 {
		rules.Devices = append([]string(nil), cfg.AllowedDevices...)
	}
	if len(cfg.AllowedCountries) > 0 {
		rules.Countries = append([]string(nil), cfg.AllowedCountries...)
	}

	custom, err := CompileRules(cfg.Rules)
	if err != nil {
		return Rules{}, err
	}
	rules.Custom = custom
	return rules, nil
}

func (r Rules) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
