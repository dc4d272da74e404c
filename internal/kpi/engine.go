package kpi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"adspend-etl/internal/logging"
	"adspend-etl/internal/metrics"
	"adspend-etl/internal/model"
	"adspend-etl/internal/store"
)

// Mismatch thresholds used by Validate.
var (
	spendTolerance   = decimal.RequireFromString("0.01")
	ratioTolerance   = decimal.RequireFromString("0.0001")
	revenueTolerance = decimal.RequireFromString("0.01")
)

// Engine aggregates raw spend into KPI rows and keeps them in a Store.
type Engine struct {
	store   store.Store
	rate    decimal.Decimal
	now     func() time.Time
	metrics *metrics.Pipeline
}

// Option configures an Engine.
type Option func(*Engine)

// WithRevenuePerConversion overrides DefaultRevenuePerConversion.
func WithRevenuePerConversion(rate decimal.Decimal) Option {
	return func(e *Engine) { e.rate = rate }
}

// WithClock sets the source of created_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records stored row counts on m.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine over s.
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{store: s, rate: DefaultRevenuePerConversion, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RevenuePerConversion returns the rate used for revenue.
func (e *Engine) RevenuePerConversion() decimal.Decimal {
	return e.rate
}

// AggregateOptions selects the grouping and the inclusive raw date range.
type AggregateOptions struct {
	Start      *time.Time
	End        *time.Time
	Dimensions []model.Dimension // empty means all six
}

func dimensionSet(dims []model.Dimension) (model.DimensionSet, error) {
	if len(dims) == 0 {
		return model.NewDimensionSet(model.AllDimensions), nil
	}
	var set model.DimensionSet
	for _, d := range dims {
		if !d.Valid() {
			return 0, fmt.Errorf("invalid dimension %s", d)
		}
		if set.Has(d) {
			return 0, fmt.Errorf("dimension '%s' listed more than once", d)
		}
		set |= model.NewDimensionSet([]model.Dimension{d})
	}
	return set, nil
}

// Aggregate sums raw rows per key and computes the metrics of each group.
// Dimensions outside the grouping are collapsed to ALL.
func (e *Engine) Aggregate(ctx context.Context, opts AggregateOptions) ([]model.KPIRecord, error) {
	set, err := dimensionSet(opts.Dimensions)
	if err != nil {
		return nil, err
	}
	if opts.Start != nil && opts.End != nil && opts.End.Before(*opts.Start) {
		return nil, fmt.Errorf("end date %s is before start date %s", opts.End.Format(model.DateLayout), opts.Start.Format(model.DateLayout))
	}

	groups, err := e.store.AggregateRaw(ctx, set, store.RawFilter{Start: opts.Start, End: opts.End})
	if err != nil {
		logging.Logf(logging.Error, "Error aggregating raw data to KPIs: %v", err)
		return nil, err
	}

	now := e.now().UTC()
	out := make([]model.KPIRecord, 0, len(groups))
	for _, g := range groups {
		c := Compute(g.Spend, g.Conversions, e.rate, now)
		out = append(out, model.KPIRecord{
			DimensionKey:     g.Key,
			TotalSpend:       c.TotalSpend,
			TotalConversions: c.TotalConversions,
			TotalClicks:      g.Clicks,
			TotalImpressions: g.Impressions,
			CAC:              c.CAC,
			ROAS:             c.ROAS,
			Revenue:          c.Revenue,
			CreatedAt:        now,
		})
	}
	logging.Logf(logging.Info, "Computed KPIs for %d aggregated records", len(out))
	return out, nil
}

// CheckRecord returns the consistency problems of a KPI row, or nil.
func (e *Engine) CheckRecord(r model.KPIRecord) []string {
	var problems []string
	if r.CAC.Valid && r.CAC.Decimal.IsNegative() {
		problems = append(problems, "CAC cannot be negative")
	}
	if r.ROAS.Valid && r.ROAS.Decimal.IsNegative() {
		problems = append(problems, "ROAS cannot be negative")
	}
	expected := Revenue(r.TotalConversions, e.rate)
	if expected.Sub(r.Revenue).Abs().GreaterThan(revenueTolerance) {
		problems = append(problems, fmt.Sprintf("Revenue calculation inconsistent: expected %s, got %s",
			expected.StringFixed(2), r.Revenue.StringFixed(2)))
	}
	return problems
}

func describeKey(k model.DimensionKey) string {
	return strings.Join([]string{k.DateLabel(), k.Platform, k.Account, k.Campaign, k.Country, k.Device}, "/")
}

// Store checks and upserts rows. Rows sharing a key replace earlier values.
// An empty input stores nothing.
func (e *Engine) Store(ctx context.Context, rows []model.KPIRecord) (int, error) {
	if len(rows) == 0 {
		logging.Logf(logging.Warning, "No KPI metrics to store")
		return 0, nil
	}
	for i, r := range rows {
		if problems := e.CheckRecord(r); len(problems) > 0 {
			return 0, fmt.Errorf("kpi row %d (%s): %s", i+1, describeKey(r.DimensionKey), strings.Join(problems, "; "))
		}
	}
	if err := e.store.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	n, err := e.store.UpsertKPIs(ctx, rows)
	if err != nil {
		logging.Logf(logging.Error, "Error storing KPI metrics: %v", err)
		return 0, err
	}
	e.metrics.AddKPIRows(n)
	logging.Logf(logging.Info, "Successfully stored %d KPI metrics", n)
	return n, nil
}

// ComputeAndStore aggregates and stores in one step, returning the rows stored.
func (e *Engine) ComputeAndStore(ctx context.Context, opts AggregateOptions) (int, error) {
	logging.Logf(logging.Info, "Computing KPIs for period %s to %s", dateOrOpen(opts.Start), dateOrOpen(opts.End))
	rows, err := e.Aggregate(ctx, opts)
	if err != nil {
		return 0, err
	}
	n, err := e.Store(ctx, rows)
	if err != nil {
		return 0, err
	}
	logging.Logf(logging.Info, "KPI computation complete: %d records stored", n)
	return n, nil
}

func dateOrOpen(t *time.Time) string {
	if t == nil {
		return "(open)"
	}
	return t.Format(model.DateLayout)
}

// Get returns stored rows ordered by date DESC, platform, account.
func (e *Engine) Get(ctx context.Context, filter store.KPIFilter) ([]model.KPIRecord, error) {
	rows, err := e.store.ListKPIs(ctx, filter)
	if err != nil {
		logging.Logf(logging.Error, "Error retrieving KPI metrics: %v", err)
		return nil, err
	}
	logging.Logf(logging.Info, "Retrieved %d KPI metrics", len(rows))
	return rows, nil
}

// Mismatch compares one stored row with a fresh aggregation of raw data.
type Mismatch struct {
	Key               model.DimensionKey  `json:"key"`
	StoredSpend       decimal.Decimal     `json:"stored_spend"`
	RawSpend          decimal.Decimal     `json:"raw_spend"`
	StoredConversions int64               `json:"stored_conversions"`
	RawConversions    int64               `json:"raw_conversions"`
	StoredCAC         decimal.NullDecimal `json:"stored_cac"`
	RawCAC            decimal.NullDecimal `json:"raw_cac"`
	StoredROAS        decimal.NullDecimal `json:"stored_roas"`
	RawROAS           decimal.NullDecimal `json:"raw_roas"`
	Reasons           []string            `json:"reasons"`
}

// ValidationReport is the outcome of Validate.
type ValidationReport struct {
	TotalComparisons int        `json:"total_comparisons"`
	Mismatches       int        `json:"mismatches"`
	Details          []Mismatch `json:"details"`
}

// Validate re-aggregates raw data for every stored row on that row's own
// dimensional key and reports rows whose spend, conversions, CAC or ROAS drifted.
func (e *Engine) Validate(ctx context.Context) (*ValidationReport, error) {
	stored, err := e.store.ListKPIs(ctx, store.KPIFilter{})
	if err != nil {
		return nil, fmt.Errorf("validate kpis: %w", err)
	}

	bySignature := make(map[model.DimensionSet][]model.KPIRecord)
	var order []model.DimensionSet
	for _, r := range stored {
		sig := r.Signature()
		if _, ok := bySignature[sig]; !ok {
			order = append(order, sig)
		}
		bySignature[sig] = append(bySignature[sig], r)
	}

	report := &ValidationReport{Details: []Mismatch{}}
	for _, sig := range order {
		groups, err := e.store.AggregateRaw(ctx, sig, store.RawFilter{})
		if err != nil {
			return nil, fmt.Errorf("validate kpis: %w", err)
		}
		raw := make(map[string]store.AggregateRow, len(groups))
		for _, g := range groups {
			raw[describeKey(g.Key)] = g
		}
		for _, r := range bySignature[sig] {
			report.TotalComparisons++
			g, ok := raw[describeKey(r.DimensionKey)]
			if !ok {
				g = store.AggregateRow{Key: r.DimensionKey, Spend: decimal.Zero}
			}
			if m, bad := e.compare(r, g); bad {
				report.Mismatches++
				report.Details = append(report.Details, m)
			}
		}
	}
	logging.Logf(logging.Info, "KPI validation complete: %d mismatches found", report.Mismatches)
	return report, nil
}

func (e *Engine) compare(r model.KPIRecord, g store.AggregateRow) (Mismatch, bool) {
	m := Mismatch{
		Key:               r.DimensionKey,
		StoredSpend:       r.TotalSpend,
		RawSpend:          g.Spend,
		StoredConversions: r.TotalConversions,
		RawConversions:    g.Conversions,
		StoredCAC:         r.CAC,
		RawCAC:            CAC(g.Spend, g.Conversions),
		StoredROAS:        r.ROAS,
		RawROAS:           ROAS(Revenue(g.Conversions, e.rate), g.Spend),
	}
	if d := r.TotalSpend.Sub(g.Spend).Abs(); d.GreaterThan(spendTolerance) {
		m.Reasons = append(m.Reasons, "spend differs by "+d.String())
	}
	if r.TotalConversions != g.Conversions {
		m.Reasons = append(m.Reasons, fmt.Sprintf("conversions differ by %d", abs(r.TotalConversions-g.Conversions)))
	}
	if reason := ratioDiff("cac", m.StoredCAC, m.RawCAC); reason != "" {
		m.Reasons = append(m.Reasons, reason)
	}
	if reason := ratioDiff("roas", m.StoredROAS, m.RawROAS); reason != "" {
		m.Reasons = append(m.Reasons, reason)
	}
	return m, len(m.Reasons) > 0
}

func ratioDiff(name string, stored, raw decimal.NullDecimal) string {
	switch {
	case !stored.Valid && !raw.Valid:
		return ""
	case stored.Valid != raw.Valid:
		return name + " null mismatch"
	}
	if d := stored.Decimal.Sub(raw.Decimal).Abs(); d.GreaterThan(ratioTolerance) {
		return name + " differs by " + d.String()
	}
	return ""
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
