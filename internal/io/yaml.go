package io

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"adspend-etl/internal/logging"
)

// YAMLWriter implements the OutputWriter interface for YAML files.
type YAMLWriter struct{}

// Write saves the records as a YAML sequence of maps. An empty slice is written as [].
func (yw *YAMLWriter) Write(records []map[string]interface{}, filePath string) error {
	if err := ensureDir(filePath); err != nil {
		return fmt.Errorf("YAMLWriter failed to create directory for '%s': %w", filePath, err)
	}
	if records == nil {
		records = []map[string]interface{}{}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("YAMLWriter failed to marshal records to YAML: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("YAMLWriter failed to finish YAML document: %w", err)
	}

	if err := os.WriteFile(filePath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("YAMLWriter failed to write file '%s': %w", filePath, err)
	}
	logging.Logf(logging.Debug, "YAMLWriter wrote %d records to %s", len(records), filePath)
	return nil
}

// Close implements the OutputWriter interface.
func (yw *YAMLWriter) Close() error {
	return nil
}
