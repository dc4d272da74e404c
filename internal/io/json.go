package io

import (
	"encoding/json"
	"fmt"
	"os"

	"adspend-etl/internal/logging"
)

// JSONWriter implements the OutputWriter interface for JSON files.
// The Write operation is self-contained and does not require a separate Close call.
type JSONWriter struct{}

// Write saves the records as an indented JSON array. An empty slice is written as [].
func (jw *JSONWriter) Write(records []map[string]interface{}, filePath string) error {
	if err := ensureDir(filePath); err != nil {
		return fmt.Errorf("JSONWriter failed to create directory for '%s': %w", filePath, err)
	}
	if records == nil {
		records = []map[string]interface{}{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("JSONWriter failed to marshal records to JSON: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("JSONWriter failed to write file '%s': %w", filePath, err)
	}
	logging.Logf(logging.Debug, "JSONWriter wrote %d records to %s", len(records), filePath)
	return nil
}

// Close implements the OutputWriter interface.
func (jw *JSONWriter) Close() error {
	return nil
}
