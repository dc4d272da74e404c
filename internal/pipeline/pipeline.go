// Package pipeline runs the validate -> transform -> load sequence for one input file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	etlio "adspend-etl/internal/io"
	"adspend-etl/internal/kpi"
	"adspend-etl/internal/loader"
	"adspend-etl/internal/logging"
	"adspend-etl/internal/metrics"
	"adspend-etl/internal/model"
	"adspend-etl/internal/store"
	"adspend-etl/internal/transform"
	"adspend-etl/internal/validation"
)

// DefaultValidationThreshold is the minimum validation success rate, in percent.
const DefaultValidationThreshold = 95.0

// State is a stage reached by a run.
type State int

const (
	NotStarted State = iota
	PrerequisitesChecked
	SkippedExisting
	Validated
	Transformed
	Loaded
	Success
	PartialSuccess
	Failed
)

var stateNames = map[State]string{
	NotStarted:           "not_started",
	PrerequisitesChecked: "prerequisites_checked",
	SkippedExisting:      "skipped_existing",
	Validated:            "validated",
	Transformed:          "transformed",
	Loaded:               "loaded",
	Success:              "success",
	PartialSuccess:       "partial_success",
	Failed:               "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options controls one Run.
type Options struct {
	// BatchID is generated when empty.
	BatchID string
	// SkipIfExists turns a run for an already loaded batch into a successful no-op.
	SkipIfExists bool
	// ValidationThreshold is the minimum success rate in percent. With 0 only a
	// file without any valid record fails validation.
	ValidationThreshold float64
	// ComputeKPIs recomputes KPI rows for the loaded date span after a successful load.
	ComputeKPIs bool
}

// DefaultOptions returns the options used when the caller sets nothing.
func DefaultOptions() Options {
	return Options{SkipIfExists: true, ValidationThreshold: DefaultValidationThreshold}
}

// Result is the report of one Run.
type Result struct {
	BatchID          string        `json:"batch_id"`
	SourceFile       string        `json:"source_file"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	TotalRecordsRead int           `json:"total_records_read"`
	ValidRecords     int           `json:"valid_records"`
	InvalidRecords   int           `json:"invalid_records"`
	SkippedRows      int           `json:"skipped_rows"`
	RecordsInserted  int           `json:"records_inserted"`
	RecordsFailed    int           `json:"records_failed"`
	KPIRowsStored    int           `json:"kpi_rows_stored"`
	ValidationErrors []string      `json:"validation_errors,omitempty"`
	InsertionErrors  []string      `json:"insertion_errors,omitempty"`
	Success          bool          `json:"success"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	KPIError         string        `json:"kpi_error,omitempty"`
	State            State         `json:"-"`
	History          []State       `json:"-"`
	Duration         time.Duration `json:"-"`
}

func (r *Result) transition(s State) {
	r.State = s
	r.History = append(r.History, s)
	logging.Logf(logging.Debug, "Batch %s entered state %s", r.BatchID, s)
}

// ValidationSuccessRate is valid/read*100, or 0 when nothing was read.
func (r *Result) ValidationSuccessRate() float64 {
	if r.TotalRecordsRead == 0 {
		return 0
	}
	return float64(r.ValidRecords) / float64(r.TotalRecordsRead) * 100
}

// InsertionSuccessRate is inserted/valid*100, or 0 when nothing was valid.
func (r *Result) InsertionSuccessRate() float64 {
	if r.ValidRecords == 0 {
		return 0
	}
	return float64(r.RecordsInserted) / float64(r.ValidRecords) * 100
}

// Summary is the reportable view of a Result.
type Summary struct {
	BatchID               string  `json:"batch_id"`
	SourceFile            string  `json:"source_file"`
	State                 string  `json:"state"`
	Success               bool    `json:"success"`
	DurationSeconds       float64 `json:"duration_seconds"`
	TotalRecordsRead      int     `json:"total_records_read"`
	ValidRecords          int     `json:"valid_records"`
	InvalidRecords        int     `json:"invalid_records"`
	SkippedRows           int     `json:"skipped_rows"`
	RecordsInserted       int     `json:"records_inserted"`
	RecordsFailed         int     `json:"records_failed"`
	KPIRowsStored         int     `json:"kpi_rows_stored"`
	ValidationSuccessRate float64 `json:"validation_success_rate"`
	InsertionSuccessRate  float64 `json:"insertion_success_rate"`
	ErrorMessage          string  `json:"error_message,omitempty"`
	ValidationErrorCount  int     `json:"validation_error_count"`
	InsertionErrorCount   int     `json:"insertion_error_count"`
}

// Summary returns counts, rates rounded to two decimals, and the final state.
func (r *Result) Summary() Summary {
	return Summary{
		BatchID:               r.BatchID,
		SourceFile:            r.SourceFile,
		State:                 r.State.String(),
		Success:               r.Success,
		DurationSeconds:       round2(r.Duration.Seconds()),
		TotalRecordsRead:      r.TotalRecordsRead,
		ValidRecords:          r.ValidRecords,
		InvalidRecords:        r.InvalidRecords,
		SkippedRows:           r.SkippedRows,
		RecordsInserted:       r.RecordsInserted,
		RecordsFailed:         r.RecordsFailed,
		KPIRowsStored:         r.KPIRowsStored,
		ValidationSuccessRate: round2(r.ValidationSuccessRate()),
		InsertionSuccessRate:  round2(r.InsertionSuccessRate()),
		ErrorMessage:          r.ErrorMessage,
		ValidationErrorCount:  len(r.ValidationErrors),
		InsertionErrorCount:   len(r.InsertionErrors),
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Pipeline wires validation, transformation, loading, and optional KPI refresh over one Store.
type Pipeline struct {
	loader    *loader.Loader
	records   *validation.RecordValidator
	fileOpts  []validation.FileOption
	engine    *kpi.Engine
	metrics   *metrics.Pipeline
	rejectDir string
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecordValidator replaces the default record validator.
func WithRecordValidator(v *validation.RecordValidator) Option {
	return func(p *Pipeline) { p.records = v }
}

// WithFileOptions passes reader options or a filter to every file validation.
func WithFileOptions(opts ...validation.FileOption) Option {
	return func(p *Pipeline) { p.fileOpts = append(p.fileOpts, opts...) }
}

// WithKPIEngine sets the engine used when Options.ComputeKPIs is true.
func WithKPIEngine(e *kpi.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithRejectDir writes each run's rejected rows to <dir>/<batch id>_rejects.csv.
func WithRejectDir(dir string) Option {
	return func(p *Pipeline) { p.rejectDir = dir }
}

// WithClock sets the source of start times and load timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline over s.
func New(s store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		loader:  loader.New(s),
		records: validation.NewRecordValidator(validation.DefaultRules()),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.engine == nil {
		p.engine = kpi.NewEngine(s, kpi.WithMetrics(p.metrics))
	}
	return p
}

// checkPrerequisites verifies that path is an existing, non-empty regular file.
func checkPrerequisites(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("CSV file not found: %s", path)
		}
		return fmt.Errorf("Cannot access CSV file %s: %v", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("Path is not a file: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("CSV file is empty: %s", path)
	}
	return nil
}

// Run processes the file at path. Failures are reported on the returned Result;
// Run never returns nil.
func (p *Pipeline) Run(ctx context.Context, path string, opts Options) *Result {
	now := p.now()
	batchID := opts.BatchID
	if batchID == "" {
		batchID = transform.GenerateBatchID(now)
	}
	result := &Result{BatchID: batchID, SourceFile: path, StartTime: now}
	result.transition(NotStarted)
	logging.Logf(logging.Info, "Starting ETL run for %s (batch %s)", path, batchID)
	defer p.finish(result)

	if err := checkPrerequisites(path); err != nil {
		p.fail(result, err.Error())
		return result
	}
	result.transition(PrerequisitesChecked)

	if opts.SkipIfExists {
		exists, err := p.loader.CheckBatchExists(ctx, batchID)
		if err != nil {
			p.fail(result, fmt.Sprintf("Failed to check batch existence: %v", err))
			return result
		}
		if exists {
			logging.Logf(logging.Warning, "Batch %s already exists, skipping", batchID)
			result.transition(SkippedExisting)
			result.Success = true
			result.ErrorMessage = "Batch already exists, processing skipped"
			result.transition(Success)
			return result
		}
	}

	valid, ok := p.validate(ctx, result, path, opts.ValidationThreshold)
	if !ok {
		return result
	}

	tagged, err := transform.New(batchID, path, now).Transform(valid)
	if err != nil {
		p.fail(result, fmt.Sprintf("Transformation failed: %v", err))
		return result
	}
	result.transition(Transformed)

	lr, err := p.loader.Load(ctx, tagged)
	if err != nil {
		p.fail(result, fmt.Sprintf("Load failed: %v", err))
		return result
	}
	result.RecordsInserted = lr.Inserted
	result.RecordsFailed = lr.Failed
	result.InsertionErrors = lr.Errors
	result.transition(Loaded)

	switch {
	case lr.Inserted > 0 && lr.Failed == 0:
		result.Success = true
		result.transition(Success)
	case lr.Inserted > 0:
		result.Success = true
		result.ErrorMessage = fmt.Sprintf("Completed with %d insertion failures", lr.Failed)
		result.transition(PartialSuccess)
	default:
		p.fail(result, "No records were successfully inserted")
		return result
	}

	if opts.ComputeKPIs {
		p.refreshKPIs(ctx, result, tagged)
	}
	return result
}

func (p *Pipeline) validate(ctx context.Context, result *Result, path string, threshold float64) ([]model.SpendRecord, bool) {
	fileOpts := p.fileOpts
	var rejects *etlio.CSVErrorWriter
	if p.rejectDir != "" {
		w, err := etlio.NewCSVErrorWriter(filepath.Join(p.rejectDir, result.BatchID+"_rejects.csv"), nil)
		if err != nil {
			logging.Logf(logging.Warning, "Rejected rows will not be written: %v", err)
		} else {
			rejects = w
			fileOpts = append(append([]validation.FileOption(nil), fileOpts...), validation.WithRejectWriter(w))
		}
	}

	vr := validation.NewFileValidator(p.records, fileOpts...).ValidateFile(ctx, path)
	if rejects != nil {
		if err := rejects.Close(); err != nil {
			logging.Logf(logging.Warning, "Failed to close reject file: %v", err)
		} else if rejects.Count() > 0 {
			logging.Logf(logging.Info, "Wrote %d rejected rows to %s", rejects.Count(), rejects.Path())
		}
	}

	result.TotalRecordsRead = vr.TotalProcessed
	result.ValidRecords = len(vr.ValidRecords)
	result.InvalidRecords = len(vr.InvalidRecords)
	result.SkippedRows = vr.Skipped
	result.ValidationErrors = vr.Errors

	if msg := vr.FileError(); msg != "" {
		p.fail(result, msg)
		return nil, false
	}
	rate := vr.SuccessRate()
	if rate < threshold {
		p.fail(result, fmt.Sprintf("Validation success rate %.1f%% is below threshold %.1f%%", rate, threshold))
		return nil, false
	}
	if len(vr.ValidRecords) == 0 {
		p.fail(result, "No valid records found in CSV file")
		return nil, false
	}
	result.transition(Validated)
	return vr.ValidRecords, true
}

// refreshKPIs recomputes every KPI row in the loaded date span. A failure is
// recorded on the result without changing its success.
func (p *Pipeline) refreshKPIs(ctx context.Context, result *Result, records []model.TaggedRecord) {
	start, end := dateSpan(records)
	n, err := p.engine.ComputeAndStore(ctx, kpi.AggregateOptions{Start: &start, End: &end})
	if err != nil {
		result.KPIError = fmt.Sprintf("KPI computation failed: %v", err)
		logging.Logf(logging.Error, "%s", result.KPIError)
		return
	}
	result.KPIRowsStored = n
}

func dateSpan(records []model.TaggedRecord) (time.Time, time.Time) {
	start, end := records[0].Date, records[0].Date
	for _, r := range records[1:] {
		if r.Date.Before(start) {
			start = r.Date
		}
		if r.Date.After(end) {
			end = r.Date
		}
	}
	return start, end
}

func (p *Pipeline) fail(result *Result, msg string) {
	result.Success = false
	result.ErrorMessage = msg
	result.transition(Failed)
	logging.Logf(logging.Error, "ETL run for batch %s failed: %s", result.BatchID, msg)
}

func (p *Pipeline) finish(result *Result) {
	result.EndTime = p.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	p.metrics.ObserveValidation(result.ValidRecords, result.InvalidRecords, result.SkippedRows)
	p.metrics.ObserveLoad(result.RecordsInserted, result.RecordsFailed)
	p.metrics.ObserveRun(result.State.String(), result.Duration)

	s := result.Summary()
	logging.Logf(logging.Info, "ETL run for batch %s finished in state %s: read=%d valid=%d invalid=%d inserted=%d failed=%d",
		s.BatchID, s.State, s.TotalRecordsRead, s.ValidRecords, s.InvalidRecords, s.RecordsInserted, s.RecordsFailed)
}
