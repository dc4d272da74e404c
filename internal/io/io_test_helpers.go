package io

import (
	"errors"
	goio "io"
	"os"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3" // Use yaml for readable diffs
)

// createTempFile writes content to a new file in the test's temp dir.
func createTempFile(t *testing.T, content string, pattern string) string {
	t.Helper()
	tempFile, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("Failed to create temp file (pattern: %s): %v", pattern, err)
	}
	filePath := tempFile.Name()
	if _, err := tempFile.WriteString(content); err != nil {
		_ = tempFile.Close()
		t.Fatalf("Failed to write to temp file %s: %v", filePath, err)
	}
	if err := tempFile.Close(); err != nil {
		t.Fatalf("Failed to close temp file %s: %v", filePath, err)
	}
	return filePath
}

type numberedRow struct {
	Num int
	Row map[string]interface{}
}

// readAllRows drains a RowReader, failing the test on any non-EOF error.
func readAllRows(t *testing.T, r RowReader) []numberedRow {
	t.Helper()
	var out []numberedRow
	for {
		n, row, err := r.Next()
		if errors.Is(err, goio.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next() unexpected error: %v", err)
		}
		out = append(out, numberedRow{Num: n, Row: row})
	}
}

// compareRecordsDeep compares slices of maps, printing YAML on mismatch. Order matters.
func compareRecordsDeep(t *testing.T, got, want []map[string]interface{}) bool {
	t.Helper()
	if reflect.DeepEqual(got, want) {
		return true
	}
	gotYAML, _ := yaml.Marshal(got)
	wantYAML, _ := yaml.Marshal(want)
	t.Errorf("Record mismatch (order matters):\n--- GOT ---\n%s\n--- WANT ---\n%s", string(gotYAML), string(wantYAML))
	return false
}
