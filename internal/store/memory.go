package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"adspend-etl/internal/model"
)

// ConstraintError reports a row rejected by a table constraint.
type ConstraintError struct {
	Table      string
	Constraint string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("new row for relation %q violates check constraint %q", e.Table, e.Constraint)
}

// Memory is an in-process Store. It enforces the same constraints as the
// Postgres schema but keeps nothing across process restarts.
type Memory struct {
	mu   sync.RWMutex
	raw  []model.TaggedRecord
	kpis map[kpiKey]model.KPIRecord
}

type kpiKey struct {
	date     string
	platform string
	account  string
	campaign string
	country  string
	device   string
}

func keyOf(k model.DimensionKey) kpiKey {
	return kpiKey{
		date: k.DateLabel(), platform: k.Platform, account: k.Account,
		campaign: k.Campaign, country: k.Country, device: k.Device,
	}
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{kpis: make(map[kpiKey]model.KPIRecord)}
}

func (m *Memory) EnsureSchema(context.Context) error { return nil }

func checkLen(table, col, v string, max int) error {
	if utf8.RuneCountInString(v) > max {
		return fmt.Errorf("value too long for column %q of relation %q (max %d)", col, table, max)
	}
	return nil
}

func checkRaw(r model.TaggedRecord) error {
	for _, c := range []struct {
		col string
		v   string
		max int
	}{
		{"platform", r.Platform, 20}, {"account", r.Account, 50}, {"campaign", r.Campaign, 100},
		{"country", r.Country, 3}, {"device", r.Device, 20},
		{"source_file_name", r.SourceFileName, 255}, {"batch_id", r.BatchID, 100},
	} {
		if err := checkLen(RawTable, c.col, c.v, c.max); err != nil {
			return err
		}
	}
	violated := func(name string) error { return &ConstraintError{Table: RawTable, Constraint: name} }
	switch {
	case r.Spend.IsNegative():
		return violated("raw_ads_spend_spend_check")
	case r.Clicks < 0:
		return violated("raw_ads_spend_clicks_check")
	case r.Impressions < 0:
		return violated("raw_ads_spend_impressions_check")
	case r.Conversions < 0:
		return violated("raw_ads_spend_conversions_check")
	case r.Clicks > r.Impressions:
		return violated("raw_ads_spend_clicks_le_impressions")
	case !oneOf(r.Platform, model.PlatformMeta, model.PlatformGoogle):
		return violated("raw_ads_spend_platform_check")
	case !oneOf(r.Device, model.DeviceDesktop, model.DeviceMobile):
		return violated("raw_ads_spend_device_check")
	case !oneOf(r.Country, model.CountryUS, model.CountryCA, model.CountryBR, model.CountryMX):
		return violated("raw_ads_spend_country_check")
	}
	return nil
}

func checkKPI(r model.KPIRecord) error {
	for _, c := range []struct {
		col string
		v   string
		max int
	}{
		{"platform", r.Platform, 20}, {"account", r.Account, 50}, {"campaign", r.Campaign, 100},
		{"country", r.Country, 3}, {"device", r.Device, 20},
	} {
		if err := checkLen(KPITable, c.col, c.v, c.max); err != nil {
			return err
		}
	}
	violated := func(name string) error { return &ConstraintError{Table: KPITable, Constraint: name} }
	switch {
	case r.TotalSpend.IsNegative():
		return violated("kpi_metrics_total_spend_check")
	case r.TotalConversions < 0:
		return violated("kpi_metrics_total_conversions_check")
	case r.TotalClicks < 0:
		return violated("kpi_metrics_total_clicks_check")
	case r.TotalImpressions < 0:
		return violated("kpi_metrics_total_impressions_check")
	case r.CAC.Valid && r.CAC.Decimal.IsNegative():
		return violated("kpi_metrics_cac_check")
	case r.ROAS.Valid && r.ROAS.Decimal.IsNegative():
		return violated("kpi_metrics_roas_check")
	case r.Revenue.IsNegative():
		return violated("kpi_metrics_revenue_check")
	case !oneOf(r.Platform, model.PlatformMeta, model.PlatformGoogle, model.AllValue):
		return violated("kpi_metrics_platform_check")
	case !oneOf(r.Device, model.DeviceDesktop, model.DeviceMobile, model.AllValue):
		return violated("kpi_metrics_device_check")
	case !oneOf(r.Country, model.CountryUS, model.CountryCA, model.CountryBR, model.CountryMX, model.AllValue):
		return violated("kpi_metrics_country_check")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func normalizeRaw(r model.TaggedRecord) model.TaggedRecord {
	r.Date = model.Day(r.Date)
	return r
}

// InsertRaw stores all records or, when any violates a constraint, none.
func (m *Memory) InsertRaw(ctx context.Context, records []model.TaggedRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for i, r := range records {
		if err := checkRaw(r); err != nil {
			return 0, fmt.Errorf("batch insert failed at record %d: %w", i+1, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.raw = append(m.raw, normalizeRaw(r))
	}
	return len(records), nil
}

func (m *Memory) InsertRawOne(ctx context.Context, record model.TaggedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRaw(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = append(m.raw, normalizeRaw(record))
	return nil
}

func (m *Memory) BatchExists(ctx context.Context, batchID string) (bool, error) {
	info, err := m.BatchInfo(ctx, batchID)
	return info != nil, err
}

func (m *Memory) BatchInfo(ctx context.Context, batchID string) (*BatchInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var info *BatchInfo
	for _, r := range m.raw {
		if r.BatchID != batchID {
			continue
		}
		if info == nil {
			info = &BatchInfo{
				BatchID: batchID, SourceFileName: r.SourceFileName,
				FirstLoad: r.LoadTimestamp, LastLoad: r.LoadTimestamp,
				EarliestDate: r.Date, LatestDate: r.Date,
			}
		}
		info.RecordCount++
		if r.SourceFileName < info.SourceFileName {
			info.SourceFileName = r.SourceFileName
		}
		info.FirstLoad = minTime(info.FirstLoad, r.LoadTimestamp)
		info.LastLoad = maxTime(info.LastLoad, r.LoadTimestamp)
		info.EarliestDate = minTime(info.EarliestDate, r.Date)
		info.LatestDate = maxTime(info.LatestDate, r.Date)
	}
	return info, nil
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func (m *Memory) DeleteBatch(ctx context.Context, batchID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.raw[:0]
	var deleted int64
	for _, r := range m.raw {
		if r.BatchID == batchID {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.raw = kept
	return deleted, nil
}

func (m *Memory) TableStats(ctx context.Context) (*TableStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &TableStats{TotalRecords: int64(len(m.raw))}
	batches := make(map[string]bool)
	files := make(map[string]bool)
	for i, r := range m.raw {
		batches[r.BatchID] = true
		files[r.SourceFileName] = true
		if i == 0 {
			stats.EarliestDate, stats.LatestDate = r.Date, r.Date
			stats.FirstLoad, stats.LastLoad = r.LoadTimestamp, r.LoadTimestamp
			continue
		}
		stats.EarliestDate = minTime(stats.EarliestDate, r.Date)
		stats.LatestDate = maxTime(stats.LatestDate, r.Date)
		stats.FirstLoad = minTime(stats.FirstLoad, r.LoadTimestamp)
		stats.LastLoad = maxTime(stats.LastLoad, r.LoadTimestamp)
	}
	stats.TotalBatches = int64(len(batches))
	stats.TotalSourceFiles = int64(len(files))
	return stats, nil
}

func (m *Memory) DataQuality(ctx context.Context) ([]QualityRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	byBatch := make(map[string]*QualityRow)
	var order []string
	for _, r := range m.raw {
		q, ok := byBatch[r.BatchID]
		if !ok {
			q = &QualityRow{
				BatchID: r.BatchID, SourceFileName: r.SourceFileName, LoadDate: r.LoadTimestamp,
				EarliestDate: r.Date, LatestDate: r.Date,
			}
			byBatch[r.BatchID] = q
			order = append(order, r.BatchID)
		}
		q.RecordCount++
		if r.Spend.IsZero() {
			q.ZeroSpendRecords++
		}
		if r.Conversions == 0 {
			q.ZeroConversionRecords++
		}
		if r.Clicks > r.Impressions {
			q.InvalidClickRecords++
		}
		if r.SourceFileName < q.SourceFileName {
			q.SourceFileName = r.SourceFileName
		}
		q.LoadDate = minTime(q.LoadDate, r.LoadTimestamp)
		q.EarliestDate = minTime(q.EarliestDate, r.Date)
		q.LatestDate = maxTime(q.LatestDate, r.Date)
	}

	out := make([]QualityRow, 0, len(order))
	for _, id := range order {
		out = append(out, *byBatch[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LoadDate.Equal(out[j].LoadDate) {
			return out[i].LoadDate.After(out[j].LoadDate)
		}
		return out[i].BatchID < out[j].BatchID
	})
	return out, nil
}

func (m *Memory) AggregateRaw(ctx context.Context, dims model.DimensionSet, filter RawFilter) ([]AggregateRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type distinct struct {
		days      map[time.Time]bool
		campaigns map[string]bool
		platforms map[string]bool
	}
	groups := make(map[kpiKey]*AggregateRow)
	seen := make(map[kpiKey]*distinct)
	for _, r := range m.raw {
		if !inRange(r.Date, filter.Start, filter.End) {
			continue
		}
		key := r.Project(dims)
		k := keyOf(key)
		g, ok := groups[k]
		if !ok {
			g = &AggregateRow{Key: key, Spend: decimal.Zero}
			groups[k] = g
			seen[k] = &distinct{days: map[time.Time]bool{}, campaigns: map[string]bool{}, platforms: map[string]bool{}}
		}
		g.Spend = g.Spend.Add(r.Spend)
		g.Conversions += r.Conversions
		g.Clicks += r.Clicks
		g.Impressions += r.Impressions
		d := seen[k]
		d.days[r.Date] = true
		d.campaigns[r.Campaign] = true
		d.platforms[r.Platform] = true
	}

	out := make([]AggregateRow, 0, len(groups))
	for k, g := range groups {
		d := seen[k]
		g.Days, g.Campaigns, g.Platforms = int64(len(d.days)), int64(len(d.campaigns)), int64(len(d.platforms))
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].Key, out[j].Key) })
	return out, nil
}

// keyLess orders keys ascending over all six columns.
func keyLess(a, b model.DimensionKey) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	for _, pair := range [][2]string{
		{a.Platform, b.Platform}, {a.Account, b.Account}, {a.Campaign, b.Campaign},
		{a.Country, b.Country}, {a.Device, b.Device},
	} {
		if pair[0] != pair[1] {
			return pair[0] < pair[1]
		}
	}
	return false
}

// UpsertKPIs checks every row before writing any, matching one transaction.
func (m *Memory) UpsertKPIs(ctx context.Context, rows []model.KPIRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for i, r := range rows {
		if err := checkKPI(r); err != nil {
			return 0, fmt.Errorf("kpi upsert failed at row %d: %w", i+1, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if !r.Date.IsZero() {
			r.Date = model.Day(r.Date)
		}
		m.kpis[keyOf(r.DimensionKey)] = r
	}
	return len(rows), nil
}

func (m *Memory) ListKPIs(ctx context.Context, filter KPIFilter) ([]model.KPIRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.KPIRecord, 0, len(m.kpis))
	for _, r := range m.kpis {
		if filter.HasDateRange() && (r.Date.IsZero() || !inRange(r.Date, filter.Start, filter.End)) {
			continue
		}
		if filter.Platform != "" && r.Platform != filter.Platform {
			continue
		}
		if filter.Account != "" && r.Account != filter.Account {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DimensionKey, out[j].DimensionKey
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		b.Date = a.Date
		return keyLess(a, b)
	})
	return out, nil
}

func (m *Memory) Close() error { return nil }
