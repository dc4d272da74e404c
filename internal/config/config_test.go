package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func createTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adspend.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

// isolateEnv clears the variables the tests rely on and disables .env loading.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ADSPEND_DB_DRIVER", "ADSPEND_DB_DSN", "ADSPEND_LOG_LEVEL", "ADSPEND_DB_TIMEOUT",
		"ADSPEND_VALIDATION_ALLOWED_COUNTRIES", "ADSPEND_PIPELINE_SKIP_IF_EXISTS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	orig := dotenvFiles
	dotenvFiles = nil
	t.Cleanup(func() { dotenvFiles = orig })
}

func TestLoadConfigDefaults(t *testing.T) {
	isolateEnv(t)
	path := createTempYAML(t, "database:\n  driver: memory\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}

	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Database.MaxConns != DefaultMaxConns || cfg.Database.Timeout != DefaultDBTimeout {
		t.Errorf("database defaults = %+v", cfg.Database)
	}
	if cfg.Validation.MaxSpend != DefaultMaxSpend || cfg.Validation.MaxClickRate != "0.5" {
		t.Errorf("validation defaults = %+v", cfg.Validation)
	}
	if cfg.Pipeline.ValidationThreshold != 95 {
		t.Errorf("ValidationThreshold = %v, want 95", cfg.Pipeline.ValidationThreshold)
	}
	if cfg.Pipeline.SkipIfExists == nil || !*cfg.Pipeline.SkipIfExists {
		t.Errorf("SkipIfExists default should be true")
	}
	if cfg.Pipeline.RevenuePerConversion != "100" {
		t.Errorf("RevenuePerConversion = %q, want 100", cfg.Pipeline.RevenuePerConversion)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	isolateEnv(t)
	path := createTempYAML(t, `
logging:
  level: warn
database:
  driver: memory
validation:
  allowed_countries: [US]
pipeline:
  skip_if_exists: true
`)
	t.Setenv("ADSPEND_LOG_LEVEL", "debug")
	t.Setenv("ADSPEND_DB_TIMEOUT", "5s")
	t.Setenv("ADSPEND_VALIDATION_ALLOWED_COUNTRIES", "US,CA")
	t.Setenv("ADSPEND_PIPELINE_SKIP_IF_EXISTS", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want env override 'debug'", cfg.Logging.Level)
	}
	if cfg.Database.Timeout != 5*time.Second {
		t.Errorf("Database.Timeout = %v, want 5s", cfg.Database.Timeout)
	}
	if got := strings.Join(cfg.Validation.AllowedCountries, ","); got != "US,CA" {
		t.Errorf("AllowedCountries = %q, want US,CA", got)
	}
	if *cfg.Pipeline.SkipIfExists {
		t.Errorf("SkipIfExists should be overridden to false")
	}
}

func TestLoadConfigDotEnv(t *testing.T) {
	isolateEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("ADSPEND_DB_DSN=postgres://etl:pw@localhost/ads\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	dotenvFiles = []string{envFile}
	t.Cleanup(func() { os.Unsetenv("ADSPEND_DB_DSN") })

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("Driver = %q, want default postgres", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "postgres://etl:pw@localhost/ads" {
		t.Errorf("DSN = %q, want value from .env", cfg.Database.DSN)
	}
}

func TestLoadConfigValidationErrors(t *testing.T) {
	isolateEnv(t)
	path := createTempYAML(t, `
logging:
  level: loud
database:
  driver: postgres
validation:
  max_spend: "-1"
  max_click_rate: abc
  allowed_platforms: [Meta, TikTok]
  filter: "spend >"
  rules:
    - name: cap
      expression: "spend < 500"
    - name: cap
      expression: ""
pipeline:
  validation_threshold: 120
  revenue_per_conversion: "-5"
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() expected validation error, got nil")
	}
	msg := err.Error()
	wantParts := []string{
		"configuration validation failed:",
		"- Config.Logging.Level: invalid log level 'loud'",
		"- Config.Database.DSN: is required",
		"- Config.Validation.MaxSpend: must be greater than 0",
		"- Config.Validation.MaxClickRate: 'abc' is not a number",
		"- Config.Validation.AllowedPlatforms: unknown value 'TikTok'",
		"- Config.Validation.Filter: invalid expression syntax",
		"- Config.Validation.Rules[1].Name: duplicate rule name 'cap'",
		"- Config.Validation.Rules[1].Expression: is required",
		"- Config.Pipeline.ValidationThreshold: must be between 0 and 100",
		"- Config.Pipeline.RevenuePerConversion: must not be negative",
	}
	for _, part := range wantParts {
		if !strings.Contains(msg, part) {
			t.Errorf("error message missing %q\nfull message:\n%s", part, msg)
		}
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	isolateEnv(t)
	testCases := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			wantErr: "failed to read config file",
		},
		{
			name:    "malformed yaml",
			path:    func(t *testing.T) string { return createTempYAML(t, "database: [driver") },
			wantErr: "failed to parse YAML",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(tc.path(t))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("LoadConfig() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}
