package io

import "fmt"

// RowReader streams data rows from a tabular source.
type RowReader interface {
	// Header returns the trimmed column names of the first row.
	Header() []string

	// Next returns the next data row keyed by header name, along with its
	// 1-based row number (the header is row 1, so data starts at 2).
	// It returns io.EOF when the source is exhausted.
	Next() (rowNum int, row map[string]interface{}, err error)

	// Close releases the underlying file.
	Close() error
}

// RowError reports a single malformed row. The reader stays usable and the
// next call to Next continues with the following row.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("malformed row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// OutputWriter defines the interface for writing result tables to files.
type OutputWriter interface {
	// Write sends the records to the output file path.
	Write(records []map[string]interface{}, path string) error

	// Close flushes buffers and releases file handles. Safe to call multiple times.
	Close() error
}

// ErrorWriter defines the interface for writing rows that were rejected.
type ErrorWriter interface {
	// Write records the rejected input row along with the reason it was rejected.
	Write(record map[string]interface{}, processError error) error

	// Close ensures any buffered data is flushed and the file is released.
	Close() error
}
