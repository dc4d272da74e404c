// Package store persists raw spend rows and computed KPI rows.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"adspend-etl/internal/model"
)

// Table names shared by every implementation.
const (
	RawTable = "raw_ads_spend"
	KPITable = "kpi_metrics"
)

// Store is the analytical store the loader and KPI engine work against.
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureSchema creates tables, indexes and views when absent. It is idempotent.
	EnsureSchema(ctx context.Context) error

	// InsertRaw writes all records atomically: either every record is stored or none is.
	InsertRaw(ctx context.Context, records []model.TaggedRecord) (int, error)
	// InsertRawOne writes a single record in its own statement.
	InsertRawOne(ctx context.Context, record model.TaggedRecord) error

	BatchExists(ctx context.Context, batchID string) (bool, error)
	// BatchInfo returns nil without error when the batch has no rows.
	BatchInfo(ctx context.Context, batchID string) (*BatchInfo, error)
	DeleteBatch(ctx context.Context, batchID string) (int64, error)
	TableStats(ctx context.Context) (*TableStats, error)
	DataQuality(ctx context.Context) ([]QualityRow, error)

	// AggregateRaw sums raw rows grouped by dims. Dimensions outside dims are
	// collapsed to model.AllValue (zero time for the date).
	AggregateRaw(ctx context.Context, dims model.DimensionSet, filter RawFilter) ([]AggregateRow, error)

	// UpsertKPIs replaces rows sharing a dimension key. It runs in one transaction.
	UpsertKPIs(ctx context.Context, rows []model.KPIRecord) (int, error)
	// ListKPIs returns rows ordered by date DESC, platform, account.
	ListKPIs(ctx context.Context, filter KPIFilter) ([]model.KPIRecord, error)

	Close() error
}

// RawFilter narrows raw rows by inclusive data date.
type RawFilter struct {
	Start *time.Time
	End   *time.Time
}

// KPIFilter narrows stored KPI rows. A date bound excludes rows whose date is collapsed.
type KPIFilter struct {
	Start    *time.Time
	End      *time.Time
	Platform string
	Account  string
}

// HasDateRange reports whether either date bound is set.
func (f KPIFilter) HasDateRange() bool {
	return f.Start != nil || f.End != nil
}

// AggregateRow is one group of summed raw measures and distinct counts.
type AggregateRow struct {
	Key         model.DimensionKey
	Spend       decimal.Decimal
	Conversions int64
	Clicks      int64
	Impressions int64
	Days        int64 // distinct data dates in the group
	Campaigns   int64
	Platforms   int64
}

// BatchInfo summarizes the rows of one ingestion batch.
type BatchInfo struct {
	BatchID        string    `json:"batch_id"`
	SourceFileName string    `json:"source_file_name"`
	FirstLoad      time.Time `json:"first_load"`
	LastLoad       time.Time `json:"last_load"`
	RecordCount    int64     `json:"record_count"`
	EarliestDate   time.Time `json:"earliest_date"`
	LatestDate     time.Time `json:"latest_date"`
}

// TableStats summarizes the raw table across all batches. Times are zero when the table is empty.
type TableStats struct {
	TotalRecords     int64     `json:"total_records"`
	TotalBatches     int64     `json:"total_batches"`
	TotalSourceFiles int64     `json:"total_source_files"`
	EarliestDate     time.Time `json:"earliest_date"`
	LatestDate       time.Time `json:"latest_date"`
	FirstLoad        time.Time `json:"first_load"`
	LastLoad         time.Time `json:"last_load"`
}

// QualityRow is the per-batch data quality summary.
type QualityRow struct {
	BatchID               string    `json:"batch_id"`
	SourceFileName        string    `json:"source_file_name"`
	LoadDate              time.Time `json:"load_date"`
	RecordCount           int64     `json:"record_count"`
	ZeroSpendRecords      int64     `json:"zero_spend_records"`
	ZeroConversionRecords int64     `json:"zero_conversion_records"`
	InvalidClickRecords   int64     `json:"invalid_click_records"`
	EarliestDate          time.Time `json:"earliest_date"`
	LatestDate            time.Time `json:"latest_date"`
}

// inRange reports whether d lies within the inclusive bounds.
func inRange(d time.Time, start, end *time.Time) bool {
	if start != nil && d.Before(model.Day(*start)) {
		return false
	}
	if end != nil && d.After(model.Day(*end)) {
		return false
	}
	return true
}
