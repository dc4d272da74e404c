package io

import (
	"fmt"
	goio "io"

	"github.com/xuri/excelize/v2"

	"adspend-etl/internal/logging"
)

// DefaultSheetName is the sheet written by XLSXWriter when none is configured.
const DefaultSheetName = "KPIs"

// XLSXReader streams rows from one sheet of an Excel workbook.
// Cell values are read as displayed, so date columns should use a yyyy-mm-dd number format.
type XLSXReader struct {
	path    string
	sheet   string
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	rowNum  int
}

// OpenXLSXReader opens the workbook and reads the header row of sheetName
// (or of the active sheet when sheetName is empty).
func OpenXLSXReader(path, sheetName string) (*XLSXReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to open file '%s': %w", path, err)
	}

	sheet, err := resolveSheet(f, sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("XLSXReader: %w in '%s'", err, path)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("XLSXReader failed to iterate sheet '%s' in '%s': %w", sheet, path, err)
	}

	xr := &XLSXReader{path: path, sheet: sheet, file: f, rows: rows, rowNum: 1}
	if !rows.Next() {
		xr.Close()
		return nil, fmt.Errorf("XLSXReader: sheet '%s' in '%s' is empty", sheet, path)
	}
	header, err := rows.Columns()
	if err != nil {
		xr.Close()
		return nil, fmt.Errorf("XLSXReader failed to read header of sheet '%s' in '%s': %w", sheet, path, err)
	}
	xr.headers = normalizeHeaders(header, path)
	logging.Logf(logging.Debug, "XLSXReader using sheet '%s' of %s with headers %v", sheet, path, xr.headers)
	return xr, nil
}

func resolveSheet(f *excelize.File, sheetName string) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook contains no sheets")
	}
	if sheetName != "" {
		for _, name := range sheets {
			if name == sheetName {
				return name, nil
			}
		}
		return "", fmt.Errorf("sheet '%s' not found", sheetName)
	}
	if active := f.GetSheetName(f.GetActiveSheetIndex()); active != "" {
		return active, nil
	}
	return sheets[0], nil
}

// Header returns the normalized header names.
func (xr *XLSXReader) Header() []string {
	return xr.headers
}

// Next returns the next sheet row, or io.EOF after the last one.
func (xr *XLSXReader) Next() (int, map[string]interface{}, error) {
	if !xr.rows.Next() {
		if err := xr.rows.Error(); err != nil {
			return 0, nil, fmt.Errorf("XLSXReader failed reading sheet '%s' in '%s': %w", xr.sheet, xr.path, err)
		}
		return 0, nil, goio.EOF
	}
	xr.rowNum++
	cols, err := xr.rows.Columns()
	if err != nil {
		return xr.rowNum, nil, fmt.Errorf("XLSXReader failed to read row %d of sheet '%s': %w", xr.rowNum, xr.sheet, err)
	}
	return xr.rowNum, rowMap(xr.headers, cols), nil
}

// Close releases the row iterator and the workbook.
func (xr *XLSXReader) Close() error {
	if xr.file == nil {
		return nil
	}
	var firstErr error
	if xr.rows != nil {
		firstErr = xr.rows.Close()
	}
	if err := xr.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	xr.file, xr.rows = nil, nil
	return firstErr
}

// XLSXWriter implements the OutputWriter interface for Excel (.xlsx) files.
type XLSXWriter struct {
	sheetName string
	columns   []string
}

// NewXLSXWriter creates a new XLSXWriter.
func NewXLSXWriter(sheetName string, columns []string) *XLSXWriter {
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	return &XLSXWriter{sheetName: sheetName, columns: columns}
}

// Write saves the records to a single-sheet workbook, replacing any existing file.
func (xw *XLSXWriter) Write(records []map[string]interface{}, filePath string) error {
	if err := ensureDir(filePath); err != nil {
		return fmt.Errorf("XLSXWriter failed to create directory for '%s': %w", filePath, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// New workbooks start with "Sheet1".
	if err := f.SetSheetName("Sheet1", xw.sheetName); err != nil {
		return fmt.Errorf("XLSXWriter failed to name sheet '%s': %w", xw.sheetName, err)
	}

	headers := resolveColumns(xw.columns, records)
	if len(headers) > 0 {
		headerRow := make([]interface{}, len(headers))
		for i, h := range headers {
			headerRow[i] = h
		}
		if err := f.SetSheetRow(xw.sheetName, "A1", &headerRow); err != nil {
			return fmt.Errorf("XLSXWriter failed to write header row to sheet '%s': %w", xw.sheetName, err)
		}
	}

	for i, rec := range records {
		rowData := make([]interface{}, len(headers))
		for j, h := range headers {
			rowData[j] = rec[h]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("XLSXWriter failed to calculate cell coordinates for row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(xw.sheetName, cell, &rowData); err != nil {
			return fmt.Errorf("XLSXWriter failed to write data row %d to sheet '%s': %w", i+1, xw.sheetName, err)
		}
	}

	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("XLSXWriter failed to save file '%s': %w", filePath, err)
	}
	logging.Logf(logging.Info, "XLSXWriter wrote %d rows to sheet '%s' in %s", len(records), xw.sheetName, filePath)
	return nil
}

// Close implements the OutputWriter interface.
func (xw *XLSXWriter) Close() error {
	return nil
}
