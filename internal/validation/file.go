package validation

import (
	"context"
	"errors"
	"fmt"
	goio "io"
	"math"
	"os"
	"strings"
	"time"

	etlio "adspend-etl/internal/io"
	"adspend-etl/internal/logging"
	"adspend-etl/internal/model"
)

// maxSummaryErrors bounds the errors echoed in summaries and logs.
const maxSummaryErrors = 5

// InvalidRow is a rejected input row and the reason it was rejected.
type InvalidRow struct {
	Row       int                    `json:"row"`
	Data      map[string]interface{} `json:"data"`
	Error     string                 `json:"error"`
	Timestamp time.Time              `json:"timestamp"`
}

// Result aggregates one file validation run.
type Result struct {
	ValidRecords   []model.SpendRecord
	InvalidRecords []InvalidRow
	Errors         []string
	Warnings       []string
	// FileErrors holds problems with the file itself (missing, unreadable,
	// missing columns, cancelled). Any entry means the rows are incomplete.
	FileErrors     []string
	// TotalProcessed counts every row that reached record validation,
	// malformed rows included. Blank rows and rows excluded by the filter are not counted.
	TotalProcessed int
	Skipped        int
}

// Summary is the reportable view of a Result.
type Summary struct {
	TotalProcessed int      `json:"total_processed"`
	ValidRecords   int      `json:"valid_records"`
	InvalidRecords int      `json:"invalid_records"`
	Skipped        int      `json:"skipped"`
	SuccessRate    float64  `json:"success_rate"`
	ErrorCount     int      `json:"error_count"`
	WarningCount   int      `json:"warning_count"`
	IsValid        bool     `json:"is_valid"`
	FirstErrors    []string `json:"first_errors,omitempty"`
}

// IsValid reports whether no errors were recorded.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// SuccessRate is valid/total*100, or 0 when nothing was processed.
func (r *Result) SuccessRate() float64 {
	if r.TotalProcessed == 0 {
		return 0
	}
	return float64(len(r.ValidRecords)) / float64(r.TotalProcessed) * 100
}

// AddError records an error; row data (when given) is kept as an invalid row.
func (r *Result) AddError(msg string, rowNum int, data map[string]interface{}) {
	r.Errors = append(r.Errors, msg)
	if data != nil {
		r.InvalidRecords = append(r.InvalidRecords, InvalidRow{Row: rowNum, Data: data, Error: msg, Timestamp: time.Now()})
	}
}

// AddFileError records a problem with the file as a whole.
func (r *Result) AddFileError(msg string) {
	r.FileErrors = append(r.FileErrors, msg)
	r.Errors = append(r.Errors, msg)
}

// FileError returns the first file-level problem, or "".
func (r *Result) FileError() string {
	if len(r.FileErrors) == 0 {
		return ""
	}
	return r.FileErrors[0]
}

// AddWarning records a non-fatal note.
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Summary returns counts, the rounded success rate, and the first few errors.
func (r *Result) Summary() Summary {
	first := r.Errors
	if len(first) > maxSummaryErrors {
		first = first[:maxSummaryErrors]
	}
	return Summary{
		TotalProcessed: r.TotalProcessed,
		ValidRecords:   len(r.ValidRecords),
		InvalidRecords: len(r.InvalidRecords),
		Skipped:        r.Skipped,
		SuccessRate:    math.Round(r.SuccessRate()*100) / 100,
		ErrorCount:     len(r.Errors),
		WarningCount:   len(r.Warnings),
		IsValid:        r.IsValid(),
		FirstErrors:    append([]string(nil), first...),
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d processed, %d valid, %d invalid, %d skipped (%.2f%% success)",
		s.TotalProcessed, s.ValidRecords, s.InvalidRecords, s.Skipped, s.SuccessRate)
}

// FileValidator drives a RecordValidator over an entire file.
type FileValidator struct {
	records *RecordValidator
	filter  *Expression
	opts    etlio.ReaderOptions
	rejects etlio.ErrorWriter
}

// FileOption configures a FileValidator.
type FileOption func(*FileValidator)

// WithFilter skips rows for which expr evaluates to false.
func WithFilter(expr *Expression) FileOption {
	return func(fv *FileValidator) { fv.filter = expr }
}

// WithReaderOptions sets the delimiter or sheet used to open files.
func WithReaderOptions(opts etlio.ReaderOptions) FileOption {
	return func(fv *FileValidator) { fv.opts = opts }
}

// WithRejectWriter sends every invalid row to w.
func WithRejectWriter(w etlio.ErrorWriter) FileOption {
	return func(fv *FileValidator) { fv.rejects = w }
}

// NewFileValidator creates a FileValidator around records.
func NewFileValidator(records *RecordValidator, opts ...FileOption) *FileValidator {
	fv := &FileValidator{records: records}
	for _, opt := range opts {
		opt(fv)
	}
	return fv
}

// ReaderOptions returns the options used to open files.
func (fv *FileValidator) ReaderOptions() etlio.ReaderOptions {
	return fv.opts
}

// ValidateFile validates every row of the file at path. Problems with the file
// itself (missing, unreadable, missing columns) are reported on the result, not returned.
func (fv *FileValidator) ValidateFile(ctx context.Context, path string) *Result {
	result := &Result{}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.AddFileError("File not found: " + path)
		} else {
			result.AddFileError(fmt.Sprintf("Error reading file: %v", err))
		}
		return result
	}

	reader, err := etlio.OpenRowReader(path, fv.opts)
	if err != nil {
		result.AddFileError(fmt.Sprintf("Error reading file: %v", err))
		return result
	}
	defer reader.Close()

	if missing := missingColumns(reader.Header()); len(missing) > 0 {
		result.AddFileError("Missing required columns: " + strings.Join(missing, ", "))
		return result
	}

	for {
		if err := ctx.Err(); err != nil {
			result.AddFileError(fmt.Sprintf("Validation cancelled: %v", err))
			break
		}
		rowNum, row, err := reader.Next()
		if errors.Is(err, goio.EOF) {
			break
		}
		var rowErr *etlio.RowError
		if errors.As(err, &rowErr) {
			result.TotalProcessed++
			fv.reject(result, rowNum, row, fmt.Sprintf("Row %d: Malformed row: %v", rowNum, rowErr.Err))
			continue
		}
		if err != nil {
			result.AddFileError(fmt.Sprintf("Error reading file: %v", err))
			break
		}

		if etlio.IsBlankRow(row) {
			result.AddWarning(fmt.Sprintf("Row %d: Empty row skipped", rowNum))
			continue
		}
		if fv.filter != nil {
			keep, ferr := fv.filter.Matches(RowParams(row))
			if ferr != nil {
				fv.reject(result, rowNum, row, fmt.Sprintf("Row %d: Filter evaluation failed: %v", rowNum, ferr))
				result.TotalProcessed++
				continue
			}
			if !keep {
				result.Skipped++
				result.AddWarning(fmt.Sprintf("Row %d: Skipped by filter", rowNum))
				continue
			}
		}

		result.TotalProcessed++
		rec, verr := fv.records.Validate(row)
		if verr != nil {
			fv.reject(result, rowNum, row, fmt.Sprintf("Row %d: %v", rowNum, verr))
			continue
		}
		result.ValidRecords = append(result.ValidRecords, *rec)
	}

	summary := result.Summary()
	logging.Logf(logging.Info, "Validation completed for %s: %s", path, summary)
	for _, e := range summary.FirstErrors {
		logging.Logf(logging.Debug, "Validation error: %s", e)
	}
	return result
}

func (fv *FileValidator) reject(result *Result, rowNum int, row map[string]interface{}, msg string) {
	result.AddError(msg, rowNum, row)
	if fv.rejects == nil {
		return
	}
	if err := fv.rejects.Write(row, errors.New(msg)); err != nil {
		logging.Logf(logging.Error, "Failed to write rejected row %d: %v", rowNum, err)
	}
}

// missingColumns returns the required columns absent from header, in canonical order.
func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, col := range model.RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing
}
