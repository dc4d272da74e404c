package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	etlio "adspend-etl/internal/io"
	"adspend-etl/internal/kpi"
	"adspend-etl/internal/loader"
	"adspend-etl/internal/logging"
	"adspend-etl/internal/model"
	"adspend-etl/internal/pipeline"
	"adspend-etl/internal/store"
	"adspend-etl/internal/validation"
)

func newCommandFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseCommandFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUsage, fs.Name(), err)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(model.DateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("%w: -%s must be YYYY-MM-DD, got '%s'", ErrUsage, name, value)
	}
	return &t, nil
}

func (env *runEnv) newEngine() (*kpi.Engine, error) {
	rate, err := decimal.NewFromString(env.cfg.Pipeline.RevenuePerConversion)
	if err != nil {
		return nil, fmt.Errorf("invalid revenue_per_conversion '%s': %w", env.cfg.Pipeline.RevenuePerConversion, err)
	}
	return kpi.NewEngine(env.store, kpi.WithRevenuePerConversion(rate), kpi.WithMetrics(env.metrics)), nil
}

// newPipeline builds an orchestrator from the validation, data, and pipeline sections.
func (env *runEnv) newPipeline() (*pipeline.Pipeline, error) {
	rules, err := validation.RulesFromConfig(env.cfg.Validation)
	if err != nil {
		return nil, err
	}
	fileOpts := []validation.FileOption{
		validation.WithReaderOptions(etlio.ReaderOptions{SheetName: env.cfg.Data.XLSXSheet}),
	}
	if env.cfg.Validation.Filter != "" {
		filter, err := validation.CompileExpression(env.cfg.Validation.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter expression '%s': %w", env.cfg.Validation.Filter, err)
		}
		fileOpts = append(fileOpts, validation.WithFilter(filter))
	}
	engine, err := env.newEngine()
	if err != nil {
		return nil, err
	}
	return pipeline.New(env.store,
		pipeline.WithRecordValidator(validation.NewRecordValidator(rules)),
		pipeline.WithFileOptions(fileOpts...),
		pipeline.WithKPIEngine(engine),
		pipeline.WithMetrics(env.metrics),
		pipeline.WithRejectDir(env.cfg.Data.RejectDir),
	), nil
}

// inputPath resolves a relative input against data.input_dir.
func (env *runEnv) inputPath(p string) string {
	if env.cfg.Data.InputDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(env.cfg.Data.InputDir, p)
}

func runIngest(ctx context.Context, env *runEnv, args []string) error {
	fs := newCommandFlags("ingest")
	batchID := fs.String("batch-id", "", "Batch identifier")
	force := fs.Bool("force", false, "Load even if the batch exists")
	threshold := fs.Float64("threshold", env.cfg.Pipeline.ValidationThreshold, "Minimum validation success rate")
	computeKPIs := fs.Bool("compute-kpis", env.cfg.Pipeline.ComputeKPIs, "Recompute KPIs after loading")
	if err := parseCommandFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: ingest requires exactly one file", ErrMissingArgs)
	}

	p, err := env.newPipeline()
	if err != nil {
		return err
	}
	opts := pipeline.Options{
		BatchID:             *batchID,
		SkipIfExists:        *env.cfg.Pipeline.SkipIfExists && !*force,
		ValidationThreshold: *threshold,
		ComputeKPIs:         *computeKPIs,
	}
	res := p.Run(ctx, env.inputPath(fs.Arg(0)), opts)
	if err := printJSON(env.out, res.Summary()); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("ingest of batch %s failed: %s", res.BatchID, res.ErrorMessage)
	}
	return nil
}

func runDryRun(ctx context.Context, env *runEnv, args []string) error {
	fs := newCommandFlags("dry-run")
	batchID := fs.String("batch-id", "", "Batch identifier")
	if err := parseCommandFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: dry-run requires exactly one file", ErrMissingArgs)
	}
	p, err := env.newPipeline()
	if err != nil {
		return err
	}
	res := p.DryRun(ctx, env.inputPath(fs.Arg(0)), *batchID)
	if err := printJSON(env.out, res); err != nil {
		return err
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return nil
}

type statusReport struct {
	Table   *store.TableStats  `json:"table"`
	Batches []store.QualityRow `json:"batches"`
}

func runStatus(ctx context.Context, env *runEnv, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: status takes no arguments", ErrUsage)
	}
	l := loader.New(env.store)
	stats, err := l.GetTableStats(ctx)
	if err != nil {
		return err
	}
	quality, err := l.DataQuality(ctx)
	if err != nil {
		return err
	}
	return printJSON(env.out, statusReport{Table: stats, Batches: quality})
}

func runBatchInfo(ctx context.Context, env *runEnv, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: batch-info requires a batch id", ErrMissingArgs)
	}
	info, err := loader.New(env.store).GetBatchInfo(ctx, args[0])
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("batch %s not found", args[0])
	}
	return printJSON(env.out, info)
}

func runDeleteBatch(ctx context.Context, env *runEnv, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete-batch requires a batch id", ErrMissingArgs)
	}
	n, err := loader.New(env.store).DeleteBatch(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "Deleted %d records for batch %s\n", n, args[0])
	return nil
}

func runComputeKPIs(ctx context.Context, env *runEnv, args []string) error {
	fs := newCommandFlags("compute-kpis")
	startStr := fs.String("start", "", "Start date")
	endStr := fs.String("end", "", "End date")
	dimsStr := fs.String("dimensions", "", "Comma-separated grouping")
	if err := parseCommandFlags(fs, args); err != nil {
		return err
	}
	start, err := parseDateFlag("start", *startStr)
	if err != nil {
		return err
	}
	end, err := parseDateFlag("end", *endStr)
	if err != nil {
		return err
	}
	var names []string
	if *dimsStr != "" {
		names = strings.Split(*dimsStr, ",")
	}
	dims, err := model.ParseDimensions(names)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	engine, err := env.newEngine()
	if err != nil {
		return err
	}
	n, err := engine.ComputeAndStore(ctx, kpi.AggregateOptions{Start: start, End: end, Dimensions: dims})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "Stored %d KPI rows\n", n)
	return nil
}

func runListKPIs(ctx context.Context, env *runEnv, args []string) error {
	fs := newCommandFlags("kpis")
	startStr := fs.String("start", "", "Start date")
	endStr := fs.String("end", "", "End date")
	platform := fs.String("platform", "", "Platform filter")
	account := fs.String("account", "", "Account filter")
	format := fs.String("format", "", "Output format")
	outPath := fs.String("out", "", "Output file")
	if err := parseCommandFlags(fs, args); err != nil {
		return err
	}
	start, err := parseDateFlag("start", *startStr)
	if err != nil {
		return err
	}
	end, err := parseDateFlag("end", *endStr)
	if err != nil {
		return err
	}

	engine, err := env.newEngine()
	if err != nil {
		return err
	}
	rows, err := engine.Get(ctx, store.KPIFilter{Start: start, End: end, Platform: *platform, Account: *account})
	if err != nil {
		return err
	}
	records := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		records[i] = r.Map()
	}
	return env.export(records, model.KPIColumns, *format, *outPath, "KPI")
}

// export prints records as JSON, or writes them to outPath in format (default from the extension).
func (env *runEnv) export(records []map[string]interface{}, columns []string, format, outPath, what string) error {
	if outPath == "" {
		return printJSON(env.out, records)
	}
	if format == "" {
		format = etlio.FormatFromPath(outPath)
	}
	w, err := newOutputWriterFunc(format, columns)
	if err != nil {
		return err
	}
	if err := w.Write(records, outPath); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s export: %w", what, err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "Wrote %d %s rows to %s\n", len(records), what, outPath)
	return nil
}

func runReport(ctx context.Context, env *runEnv, args []string) error {
	fs := newCommandFlags("report")
	startStr := fs.String("start", "", "Start date")
	endStr := fs.String("end", "", "End date")
	format := fs.String("format", "", "Output format")
	outPath := fs.String("out", "", "Output file")
	if err := parseCommandFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: report requires a report name", ErrMissingArgs)
	}
	report, err := kpi.ParseReport(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	start, err := parseDateFlag("start", *startStr)
	if err != nil {
		return err
	}
	end, err := parseDateFlag("end", *endStr)
	if err != nil {
		return err
	}

	engine, err := env.newEngine()
	if err != nil {
		return err
	}
	rows, err := engine.Report(ctx, report, start, end)
	if err != nil {
		return err
	}
	columns := report.Columns()
	records := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		full := r.Map()
		rec := make(map[string]interface{}, len(columns))
		for _, c := range columns {
			rec[c] = full[c]
		}
		records[i] = rec
	}
	return env.export(records, columns, *format, *outPath, string(report))
}

func runValidateKPIs(ctx context.Context, env *runEnv, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: validate-kpis takes no arguments", ErrUsage)
	}
	engine, err := env.newEngine()
	if err != nil {
		return err
	}
	report, err := engine.Validate(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(env.out, report); err != nil {
		return err
	}
	if report.Mismatches > 0 {
		return fmt.Errorf("%d of %d KPI rows do not match the raw data", report.Mismatches, report.TotalComparisons)
	}
	return nil
}

type trendsReport struct {
	Summary    string                `json:"summary"`
	Comparison *kpi.PeriodComparison `json:"comparison"`
	Daily      []kpi.DailyPoint      `json:"daily"`
}

func runTrends(ctx context.Context, env *runEnv, args []string) error {
	fs := newCommandFlags("trends")
	days := fs.Int("days", 7, "Period length in days")
	if err := parseCommandFlags(fs, args); err != nil {
		return err
	}
	if *days <= 0 {
		return fmt.Errorf("%w: -days must be positive", ErrUsage)
	}
	engine, err := env.newEngine()
	if err != nil {
		return err
	}
	cmp, err := engine.LastNDays(ctx, *days)
	if errors.Is(err, kpi.ErrNoData) {
		fmt.Fprintln(env.out, "No data available for comparison")
		return nil
	}
	if err != nil {
		return err
	}
	daily, err := engine.DailyTrend(ctx, *days)
	if err != nil {
		return err
	}
	return printJSON(env.out, trendsReport{Summary: cmp.Summary(), Comparison: cmp, Daily: daily})
}

// migrator is implemented by stores with a versioned schema.
type migrator interface {
	Migrate(ctx context.Context, command string, args ...string) error
}

func runMigrate(ctx context.Context, env *runEnv, args []string) error {
	m, ok := env.store.(migrator)
	if !ok {
		return errors.New("migrate requires the postgres driver")
	}
	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	logging.Logf(logging.Info, "Running migration command '%s'", command)
	return m.Migrate(ctx, command, args...)
}
