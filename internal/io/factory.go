package io

import (
	"fmt"
	"path/filepath"
	"strings"

	"adspend-etl/internal/logging"
)

// Supported file formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ReaderOptions tunes how input files are opened.
type ReaderOptions struct {
	// Delimiter forces a CSV delimiter; empty means sniff it from the file.
	Delimiter string
	// SheetName selects the XLSX sheet; empty means the active sheet.
	SheetName string
}

// FormatFromPath derives the file format from the path's extension.
// Unknown extensions (including .txt and .tsv) are treated as delimited text.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatCSV
	}
}

// OpenRowReader opens a streaming reader for a spend file based on its extension.
func OpenRowReader(path string, opts ReaderOptions) (RowReader, error) {
	format := FormatFromPath(path)
	logging.Logf(logging.Debug, "Opening %s row reader for %s", format, path)

	switch format {
	case FormatXLSX:
		return OpenXLSXReader(path, opts.SheetName)
	case FormatCSV:
		return OpenCSVReader(path, opts.Delimiter)
	default:
		return nil, fmt.Errorf("unsupported input format '%s' for '%s'", format, path)
	}
}

// NewOutputWriter creates a writer for the given format. Columns fixes the
// output column order for tabular formats; nil means sorted keys.
func NewOutputWriter(format string, columns []string) (OutputWriter, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	logging.Logf(logging.Debug, "Creating output writer for format: %s", f)

	switch f {
	case FormatCSV:
		return NewCSVWriter(",", columns)
	case FormatXLSX:
		return NewXLSXWriter("", columns), nil
	case FormatJSON:
		return &JSONWriter{}, nil
	case FormatYAML, "yml":
		return &YAMLWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format '%s'", format)
	}
}
